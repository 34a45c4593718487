package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingImporter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingImporter) ImportManuscript(_ context.Context, path string, content []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, path+":"+string(content))
	return r.err
}

func (r *recordingImporter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func startWatcher(t *testing.T, dir string, imp Importer) *Watcher {
	t.Helper()

	w, err := New(dir, imp, zap.NewNop(), Options{Settle: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))

	// Give the watcher time to register with the kernel.
	time.Sleep(50 * time.Millisecond)
	return w
}

func waitResult(t *testing.T, w *Watcher) Result {
	t.Helper()

	select {
	case r := <-w.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for submission result")
		return Result{}
	}
}

func TestNew(t *testing.T) {
	t.Run("rejects missing directory", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "ghost"), &recordingImporter{}, zap.NewNop(), Options{})
		assert.ErrorIs(t, err, ErrNotDirectory)
	})

	t.Run("rejects a file path", func(t *testing.T) {
		tmpDir := t.TempDir()
		file := filepath.Join(tmpDir, "novel.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

		_, err := New(file, &recordingImporter{}, zap.NewNop(), Options{})
		assert.ErrorIs(t, err, ErrNotDirectory)
	})

	t.Run("requires an importer", func(t *testing.T) {
		_, err := New(t.TempDir(), nil, zap.NewNop(), Options{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "importer cannot be nil")
	})
}

func TestWatcherSubmitsDroppedManuscript(t *testing.T) {
	tmpDir := t.TempDir()
	imp := &recordingImporter{}
	w := startWatcher(t, tmpDir, imp)

	path := filepath.Join(tmpDir, "novel.txt")
	require.NoError(t, os.WriteFile(path, []byte("第一章 雪夜"), 0644))

	result := waitResult(t, w)
	assert.Equal(t, path, result.Path)
	assert.NoError(t, result.Err)

	calls := imp.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, path+":第一章 雪夜", calls[0])
}

func TestWatcherCoalescesWriteBursts(t *testing.T) {
	tmpDir := t.TempDir()
	imp := &recordingImporter{}
	w := startWatcher(t, tmpDir, imp)

	path := filepath.Join(tmpDir, "novel.txt")
	require.NoError(t, os.WriteFile(path, []byte("第一段"), 0644))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("第一段第二段"), 0644))

	waitResult(t, w)

	// A settled burst is one submission carrying the final content.
	time.Sleep(150 * time.Millisecond)
	calls := imp.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, path+":第一段第二段", calls[0])
}

func TestWatcherIgnoresNonManuscripts(t *testing.T) {
	tmpDir := t.TempDir()
	imp := &recordingImporter{}
	w := startWatcher(t, tmpDir, imp)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "notes.md"), []byte("笔记"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".hidden.txt"), []byte("隐藏"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "empty.txt"), []byte("   "), 0644))

	// A real manuscript afterwards proves the loop stayed alive and the
	// earlier files were skipped rather than queued.
	path := filepath.Join(tmpDir, "real.txt")
	require.NoError(t, os.WriteFile(path, []byte("正文"), 0644))

	result := waitResult(t, w)
	assert.Equal(t, path, result.Path)
	assert.Len(t, imp.snapshot(), 1)
}

func TestWatcherReportsImportFailure(t *testing.T) {
	tmpDir := t.TempDir()
	imp := &recordingImporter{err: fmt.Errorf("daemon unreachable")}
	w := startWatcher(t, tmpDir, imp)

	path := filepath.Join(tmpDir, "novel.txt")
	require.NoError(t, os.WriteFile(path, []byte("正文"), 0644))

	result := waitResult(t, w)
	assert.Equal(t, path, result.Path)
	assert.ErrorContains(t, result.Err, "daemon unreachable")
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), &recordingImporter{}, zap.NewNop(), Options{})
	require.NoError(t, err)

	w.Stop()
	w.Stop()
}

func TestEligible(t *testing.T) {
	assert.True(t, eligible("/drop/novel.txt"))
	assert.True(t, eligible("/drop/NOVEL.TXT"))
	assert.False(t, eligible("/drop/.novel.txt"))
	assert.False(t, eligible("/drop/notes.md"))
	assert.False(t, eligible("/drop/novel"))
}
