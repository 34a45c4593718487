// Package watch turns a directory into a manuscript drop folder: new
// .txt files are read once their writes settle and handed to an
// importer. The folder is a submission queue, not a library; every
// settled change submits the file again.
package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var (
	// ErrNotDirectory indicates the watch path is missing or not a
	// directory.
	ErrNotDirectory = errors.New("watch path is not a directory")

	// ErrWatcherFailed indicates the filesystem watcher failed to
	// initialize.
	ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")
)

// DefaultSettle is how long a file must stay unchanged before it is
// submitted. Copies into the folder arrive as bursts of writes.
const DefaultSettle = 2 * time.Second

// Importer ingests one dropped manuscript.
type Importer interface {
	ImportManuscript(ctx context.Context, path string, content []byte) error
}

// ImporterFunc adapts a function to the Importer interface.
type ImporterFunc func(ctx context.Context, path string, content []byte) error

// ImportManuscript calls f.
func (f ImporterFunc) ImportManuscript(ctx context.Context, path string, content []byte) error {
	return f(ctx, path, content)
}

// Result reports one submission attempt.
type Result struct {
	Path      string
	Err       error
	Timestamp time.Time
}

// Options tune the watcher. Zero values take the defaults.
type Options struct {
	// Settle overrides DefaultSettle.
	Settle time.Duration
}

// Watcher watches a drop folder and submits settled .txt manuscripts.
type Watcher struct {
	dir      string
	importer Importer
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	settle   time.Duration
	results  chan Result
	stop     chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher over dir. Files already present when Start is
// called are not submitted; only drops after that point count.
func New(dir string, importer Importer, logger *zap.Logger, opts Options) (*Watcher, error) {
	if importer == nil {
		return nil, fmt.Errorf("importer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
		}
		return nil, fmt.Errorf("stat watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	settle := opts.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}

	return &Watcher{
		dir:      dir,
		importer: importer,
		logger:   logger,
		watcher:  watcher,
		settle:   settle,
		results:  make(chan Result, 16),
		stop:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. Events are processed in a background
// goroutine until Stop is called or ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.logger.Info("watching drop folder",
		zap.String("dir", w.dir),
		zap.Duration("settle", w.settle))

	go w.processEvents(ctx)

	return nil
}

// Stop stops the watcher and cancels pending submissions.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()

		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
	}
}

// Results returns the channel of submission outcomes.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !eligible(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, event.Name)
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.cancelPending(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// schedule arms the settle timer for path, resetting it when the file
// is still being written.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.submit(ctx, path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// submit reads the settled file and hands it to the importer. Files
// removed before settling and empty placeholders are skipped.
func (w *Watcher) submit(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	select {
	case <-w.stop:
		return
	case <-ctx.Done():
		return
	default:
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		w.report(Result{Path: path, Err: err, Timestamp: time.Now()})
		return
	}
	if len(bytes.TrimSpace(content)) == 0 {
		w.logger.Debug("skipping empty manuscript", zap.String("path", path))
		return
	}

	err = w.importer.ImportManuscript(ctx, path, content)
	if err != nil {
		w.logger.Warn("manuscript import failed",
			zap.String("path", path),
			zap.Error(err))
	} else {
		w.logger.Info("manuscript submitted",
			zap.String("path", path),
			zap.Int("bytes", len(content)))
	}
	w.report(Result{Path: path, Err: err, Timestamp: time.Now()})
}

// report sends without blocking; a slow consumer drops outcomes, not
// submissions.
func (w *Watcher) report(r Result) {
	select {
	case w.results <- r:
	default:
	}
}

// eligible accepts visible .txt files.
func eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".txt")
}
