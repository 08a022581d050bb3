package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platewatch-systems/platewatch-relay/internal/config"
	"github.com/platewatch-systems/platewatch-relay/internal/dedup"
	"github.com/platewatch-systems/platewatch-relay/internal/detect"
	"github.com/platewatch-systems/platewatch-relay/internal/dlq"
	"github.com/platewatch-systems/platewatch-relay/internal/forward"
	"github.com/platewatch-systems/platewatch-relay/internal/logging"
	"github.com/platewatch-systems/platewatch-relay/internal/media"
	"github.com/platewatch-systems/platewatch-relay/internal/mqtt"
	"github.com/platewatch-systems/platewatch-relay/internal/pipeline"
	"github.com/platewatch-systems/platewatch-relay/internal/server"
	"github.com/platewatch-systems/platewatch-relay/internal/snapshot"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("relay"))
	logging.SetDefault(logger)

	slog.Info("Starting platewatch relay",
		slog.String("broker", cfg.Broker.URL),
		slog.String("topic", cfg.Broker.Topic),
		slog.String("forward_url", cfg.Forward.URL),
		slog.Int("workers", cfg.Pipeline.Workers),
		slog.String("log_level", cfg.Logging.Level),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	// Initialize duplicate suppression
	var suppressor dedup.Suppressor
	if cfg.Dedup.Enabled {
		s, err := dedup.NewRedisSuppressor(cfg.Dedup.RedisURL, cfg.Dedup.TTL)
		if err != nil {
			log.Printf("WARNING: Failed to initialize Redis dedup: %v", err)
			log.Println("Continuing without duplicate suppression")
			suppressor = dedup.NoOpSuppressor{}
		} else {
			suppressor = s
			log.Printf("Duplicate suppression enabled (ttl: %s)", cfg.Dedup.TTL)
		}
	} else {
		suppressor = dedup.NoOpSuppressor{}
		log.Println("Duplicate suppression disabled")
	}
	defer suppressor.Close()

	// Initialize Dead Letter Queue
	pipelineOpts := []pipeline.Option{pipeline.WithDedup(suppressor)}
	var deadLetters server.DeadLetters
	if cfg.DLQ.Enabled {
		dlqCtx, dlqCancel := context.WithTimeout(context.Background(), 30*time.Second)
		queue, err := dlq.NewJetStreamQueue(dlqCtx, cfg.DLQ.NatsURL)
		dlqCancel()
		if err != nil {
			log.Fatalf("Failed to initialize JetStream DLQ: %v", err)
		}
		defer queue.Close()
		pipelineOpts = append(pipelineOpts, pipeline.WithDLQ(queue))
		deadLetters = queue
		log.Printf("Dead Letter Queue enabled (nats: %s)", cfg.DLQ.NatsURL)
	} else {
		log.Println("Dead Letter Queue disabled")
	}

	// Initialize media archive
	if cfg.Media.Path != "" {
		store, err := media.NewStore(cfg.Media.Path)
		if err != nil {
			log.Fatalf("Failed to initialize media store: %v", err)
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithMediaStore(store))
		log.Printf("Snapshot archive enabled (path: %s)", cfg.Media.Path)
	}

	// Snapshot fetcher for events that reference rather than embed an image
	fetcher := snapshot.New(cfg.Pipeline.SnapshotBaseURL, cfg.Pipeline.SnapshotTimeout)
	pipelineOpts = append(pipelineOpts, pipeline.WithSnapshotFetcher(fetcher))

	// Initialize pipeline stages
	detector := detect.New(cfg.Detector.URL, cfg.Detector.Timeout, cfg.Detector.MaxRetries, cfg.Detector.RetryBackoff)
	forwarder := forward.New(cfg.Forward.URL, cfg.Forward.Timeout, cfg.Forward.MaxRetries, cfg.Forward.RetryBackoff)
	pipe := pipeline.New(cfg.Pipeline, detector, forwarder, pipelineOpts...)

	// Connect to the broker
	source := mqtt.NewSource(cfg.Broker, cfg.Pipeline.QueueSize)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Broker.ConnectTimeout)
	err = source.Connect(connectCtx)
	connectCancel()
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}

	// Operational HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(server.NewHandler(source, pipe, deadLetters)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Operational server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Run the pipeline until a shutdown signal arrives
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down...")
		cancel()
	}()

	pipe.Run(ctx, source.Messages())

	// Pipeline drained; release the broker and the operational server.
	source.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Relay stopped")
}
