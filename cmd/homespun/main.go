// Package main is the entry point for the Homespun session engine. It
// wires the stores, lifecycle manager, streaming hub, and HTTP API
// together and serves until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/config"
	"github.com/nick-boey/homespun/internal/common/logger"
	"github.com/nick-boey/homespun/internal/common/tracing"
	"github.com/nick-boey/homespun/internal/events"
	"github.com/nick-boey/homespun/internal/session"
	"github.com/nick-boey/homespun/internal/session/api"
	"github.com/nick-boey/homespun/internal/session/askuser"
	"github.com/nick-boey/homespun/internal/session/lifecycle"
	"github.com/nick-boey/homespun/internal/session/metadata"
	"github.com/nick-boey/homespun/internal/session/streaming"
	"github.com/nick-boey/homespun/internal/session/transcripts"
	"github.com/nick-boey/homespun/internal/worker"
	"github.com/nick-boey/homespun/pkg/claudecode"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Homespun session engine...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		if err := tracing.Init(ctx, cfg.Tracing); err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background())
		}
	}

	// Discover the CLI once, eagerly, so a missing executable fails
	// the process at startup rather than the first session.
	cliPath := cfg.Claude.CLIPath
	if !cfg.Worker.Enabled {
		discovered, err := claudecode.FindCLI(cliPath)
		if err != nil {
			log.Fatal("claude CLI not found", zap.Error(err))
		}
		cliPath = discovered
		log.Info("claude CLI discovered", zap.String("path", cliPath))
	}

	metadataPath := cfg.Sessions.MetadataPath
	if metadataPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal("cannot resolve home directory", zap.Error(err))
		}
		metadataPath = filepath.Join(home, ".homespun", "sessions.json")
	}

	store := session.NewStore()
	metadataStore := metadata.NewStore(metadataPath, log)
	discovery := transcripts.NewDiscovery(cfg.Claude.TranscriptsRoot, log)
	startup := session.NewStartupTracker(func(entityID string, status session.StartupStatus, err error) {
		log.Debug("startup state changed",
			zap.String("entity_id", entityID),
			zap.String("status", string(status)),
			zap.Error(err))
	})

	sink := streaming.NewChannelSink(1024, log)
	aggregator := streaming.NewAggregator(sink, log)

	publisher, err := events.Connect(cfg.NATS, log)
	if err != nil {
		log.Warn("event publishing disabled", zap.Error(err))
	}
	defer publisher.Close()

	streams := api.NewStreams(log)
	go streams.Pump(sink.Updates(), publisher.Publish)

	askServer := askuser.NewServer(consoleAskUser(log), log)
	if err := askServer.Start(ctx); err != nil {
		log.Fatal("failed to start askuser server", zap.Error(err))
	}
	defer askServer.Stop(context.Background())

	workerBaseURL := cfg.Worker.BaseURL
	if cfg.Worker.Enabled && workerBaseURL == "" {
		if cfg.Worker.Image == "" {
			log.Fatal("worker mode requires either a base URL or an image")
		}
		runner, err := worker.NewRunner(cfg.Worker, log)
		if err != nil {
			log.Fatal("failed to create worker runner", zap.Error(err))
		}
		defer runner.Close()

		containerID, baseURL, err := runner.Launch(ctx, cfg.Worker.DataVolumePath)
		if err != nil {
			log.Fatal("failed to launch worker container", zap.Error(err))
		}
		defer func() {
			if err := runner.Teardown(context.Background(), containerID); err != nil {
				log.Error("failed to tear down worker container", zap.Error(err))
			}
		}()
		workerBaseURL = baseURL
	}

	clients := buildClientFactory(cfg, cliPath, workerBaseURL, log)

	manager := lifecycle.NewManager(lifecycle.Options{
		Factory:        session.NewOptionsFactory(cliPath, log),
		Clients:        clients,
		Store:          store,
		Metadata:       metadataStore,
		Startup:        startup,
		Aggregator:     aggregator,
		AskUser:        askServer,
		RequestTimeout: cfg.Sessions.RequestTimeoutDuration(),
	}, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	handler := api.NewHandler(manager, streams, discovery, log)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	manager.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	log.Info("Shutdown complete")
}

// buildClientFactory picks the local subprocess transport or the remote
// worker wire depending on configuration.
func buildClientFactory(cfg *config.Config, cliPath, workerBaseURL string, log *logger.Logger) lifecycle.ClientFactory {
	if cfg.Worker.Enabled && workerBaseURL != "" {
		factory := worker.NewFactory(workerBaseURL, cfg.Worker.RequestTimeoutDuration(), log)
		return func(opts claudecode.Options) lifecycle.Client {
			return factory.NewSession(opts)
		}
	}
	return func(opts claudecode.Options) lifecycle.Client {
		opts.CLIPath = cliPath
		return claudecode.NewClient(opts, log)
	}
}

// consoleAskUser answers assistant questions on the process stdin.
// Deployments embedding the engine replace this with their own UI.
func consoleAskUser(log *logger.Logger) askuser.AskFunc {
	return func(ctx context.Context, question string, options []string) (string, error) {
		fmt.Println()
		fmt.Println("Question from assistant:")
		fmt.Println("  " + question)
		for i, opt := range options {
			fmt.Printf("  %d) %s\n", i+1, opt)
		}
		fmt.Print("> ")

		answer := make(chan string, 1)
		go func() {
			var line string
			fmt.Scanln(&line)
			answer <- line
		}()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line := <-answer:
			return line, nil
		}
	}
}
