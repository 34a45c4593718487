// Storyd is a semantic narrative-memory daemon for long-form fiction.
//
// The daemon embeds story memories into per-project vector collections,
// serves semantic recall, manuscript segmentation and import, and
// assembles chapter generation context from a relational story library.
//
// Configuration is loaded from a YAML file and STORYD_-prefixed
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	storyd
//
//	# Point at a config file, or configure via environment
//	storyd -config /etc/storyd/config.yaml
//	STORYD_SERVER__PORT=9700 storyd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fablesmith/storyd/internal/assembler"
	"github.com/fablesmith/storyd/internal/config"
	"github.com/fablesmith/storyd/internal/embedding"
	"github.com/fablesmith/storyd/internal/logging"
	"github.com/fablesmith/storyd/internal/memory"
	"github.com/fablesmith/storyd/internal/relational"
	"github.com/fablesmith/storyd/internal/server"
	"github.com/fablesmith/storyd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  storyd           Start the storyd daemon\n")
			fmt.Fprintf(os.Stderr, "  storyd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("storyd by Fablesmith\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the storyd server and blocks until the context is
// cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize the logger
//  3. Open the story library and the vector store backend
//  4. Build the embedding producer and resolver
//  5. Wire the memory service and context assembler
//  6. Start the HTTP server, shut down gracefully on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting storyd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("embedding_mode", cfg.Embedding.Mode),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("dependencies initialized",
		zap.String("library_path", cfg.Library.Path),
		zap.String("store_backend", cfg.Store.Backend))

	srv, err := server.New(server.Dependencies{
		Memories:  deps.memories,
		Assembler: deps.assembler,
		Library:   deps.library,
	}, logger.Named("http"), &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout.Duration(),
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// dependencies holds the wired services behind the HTTP surface.
type dependencies struct {
	library   *relational.Store
	store     vectorstore.Store
	producer  *embedding.Producer
	memories  *memory.Service
	assembler *assembler.Assembler
}

// Close releases infrastructure resources in reverse construction
// order.
func (d *dependencies) Close() {
	if d.producer != nil {
		_ = d.producer.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.library != nil {
		_ = d.library.Close()
	}
}

// initDependencies opens the stores and wires the services.
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	library, err := relational.Open(cfg.Library.Path, logger.Named("library"))
	if err != nil {
		return nil, fmt.Errorf("opening story library: %w", err)
	}

	store, err := initVectorStore(cfg, logger)
	if err != nil {
		_ = library.Close()
		return nil, err
	}

	producer := embedding.NewProducer(embedding.ProducerConfig{
		Local: embedding.LocalConfig{
			Model:         cfg.Embedding.LocalModel,
			FallbackModel: cfg.Embedding.FallbackModel,
			CacheDir:      cfg.Embedding.CacheDir,
		},
		RequestTimeout: cfg.Embedding.RequestTimeout.Duration(),
		RateLimit:      cfg.Embedding.RateLimit,
	}, logger.Named("embedding"))

	resolver := embedding.NewResolver(embedding.Defaults{
		Mode:       cfg.Embedding.Mode,
		LocalModel: cfg.Embedding.LocalModel,
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey.Value(),
	})

	memories, err := memory.New(memory.Config{
		Store:    store,
		Producer: producer,
		Resolver: resolver,
		Settings: library,
		Logger:   logger.Named("memory"),
	})
	if err != nil {
		_ = store.Close()
		_ = library.Close()
		return nil, fmt.Errorf("creating memory service: %w", err)
	}

	asm, err := assembler.New(assembler.Config{
		Chapters:    library,
		Characters:  library,
		Foreshadows: library,
		Memories:    memories,
		Logger:      logger.Named("assembler"),
	})
	if err != nil {
		_ = store.Close()
		_ = library.Close()
		return nil, fmt.Errorf("creating context assembler: %w", err)
	}

	return &dependencies{
		library:   library,
		store:     store,
		producer:  producer,
		memories:  memories,
		assembler: asm,
	}, nil
}

// initVectorStore selects the configured vector store backend.
func initVectorStore(cfg *config.Config, logger *zap.Logger) (vectorstore.Store, error) {
	switch cfg.Store.Backend {
	case "qdrant":
		store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:   cfg.Store.Qdrant.Host,
			Port:   cfg.Store.Qdrant.Port,
			UseTLS: cfg.Store.Qdrant.UseTLS,
			APIKey: cfg.Store.Qdrant.APIKey.Value(),
		}, logger.Named("qdrant"))
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		return store, nil
	default:
		store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:     cfg.Store.Chromem.Path,
			Compress: cfg.Store.Chromem.Compress,
		}, logger.Named("chromem"))
		if err != nil {
			return nil, fmt.Errorf("opening chromem store: %w", err)
		}
		return store, nil
	}
}
