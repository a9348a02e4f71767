package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/leafline/voicecapture/internal/audio"
	"github.com/leafline/voicecapture/internal/config"
	"github.com/leafline/voicecapture/internal/connection"
	"github.com/leafline/voicecapture/internal/gateway"
	"github.com/leafline/voicecapture/internal/session"
	"github.com/leafline/voicecapture/internal/storage/sqlite"
	"github.com/leafline/voicecapture/internal/transport"
	"github.com/leafline/voicecapture/internal/websocket"
	"github.com/leafline/voicecapture/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting voiced",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Generate today's database filename
	today := time.Now().Format("2006-01-02")
	dbFilename := fmt.Sprintf("voiced-%s.db", today)
	dbPath := filepath.Join(cfg.Storage.SQLiteBasePath, dbFilename)

	if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", cfg.Storage.SQLiteBasePath))
		os.Exit(1)
	}
	log.Info("Using daily database", logger.String("path", dbPath))

	store, err := sqlite.NewStore(dbPath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	utteranceStorage, err := sqlite.NewUtteranceStorage(store.DB(), log)
	if err != nil {
		log.Error("Failed to create utterance storage", logger.Error(err))
		os.Exit(1)
	}

	// Create WebSocket server for the dashboard event feed
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Connection monitor shared by the streaming client and status API
	monitor := connection.NewMonitor(connection.Config{
		BackoffBase:    time.Duration(cfg.Connection.BackoffBaseMs) * time.Millisecond,
		BackoffCap:     time.Duration(cfg.Connection.BackoffCapMs) * time.Millisecond,
		JitterFraction: cfg.Connection.JitterFraction,
		MaxRetries:     cfg.Connection.MaxRetries,
		FailureFloor:   cfg.Connection.FailureFloor,
		ExcellentMax:   time.Duration(cfg.Connection.ExcellentMaxMs) * time.Millisecond,
		GoodMax:        time.Duration(cfg.Connection.GoodMaxMs) * time.Millisecond,
		FairMax:        time.Duration(cfg.Connection.FairMaxMs) * time.Millisecond,
		PoorMax:        time.Duration(cfg.Connection.PoorMaxMs) * time.Millisecond,
	})

	// Transcription transports
	transportCfg := transport.Config{
		BaseURL:  cfg.Transport.BaseURL,
		APIKey:   cfg.Transport.APIKey,
		Language: cfg.Engine.Language,
		Timeout:  time.Duration(cfg.Transport.TimeoutSeconds) * time.Second,
	}
	batchClient := transport.NewBatchClient(transportCfg, log)
	streamClient := transport.NewStreamClient(transportCfg, monitor, log)
	dialer := session.StreamDialerFunc(func(ctx context.Context, sessionID string) (session.Streamer, error) {
		return streamClient.Dial(ctx, sessionID)
	})

	// Microphone source and session engine
	source := audio.NewFFmpegSource(cfg.Audio.FFmpegPath, cfg.Audio.InputDevice, nil, log)
	bridge := websocket.NewEventBridge(wsServer, utteranceStorage, monitor, cfg.Engine.Mode, cfg.Engine.Language, log)

	engine := session.NewEngine(session.Config{
		Mode:             session.Mode(cfg.Engine.Mode),
		SampleRate:       cfg.Audio.SampleRate,
		Channels:         cfg.Audio.Channels,
		ChunkMs:          cfg.Audio.ChunkMs,
		LevelIntervalMs:  cfg.Audio.LevelIntervalMs,
		EnergyThreshold:  cfg.VAD.EnergyThreshold,
		MaxDuration:      time.Duration(cfg.Engine.MaxDurationMs) * time.Millisecond,
		AutoStop:         cfg.Engine.AutoStop,
		SilenceThreshold: time.Duration(cfg.Engine.SilenceThresholdMs) * time.Millisecond,
		SilenceConfirm:   time.Duration(cfg.Engine.SilenceConfirmMs) * time.Millisecond,
		MinAudioBytes:    cfg.Engine.MinAudioBytes,
	}, source, batchClient, dialer, monitor, bridge, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	// Gateway API
	recognizer := gateway.NewEnergyRecognizer(
		cfg.Recognizer.EnergyThreshold,
		time.Duration(cfg.Recognizer.UtteranceSilenceMs)*time.Millisecond,
	)
	handler := gateway.NewHandler(engine, recognizer, utteranceStorage, wsServer, log)
	router := gateway.NewRouter(handler, log)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}
	if len(cfg.Server.AdditionalPorts) > 0 {
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      router.Routes(), // All servers use the same main router
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")

	// Abandon any in-flight recording before tearing the engine down.
	cancelCtx, cancelDone := context.WithTimeout(context.Background(), 2*time.Second)
	if err := engine.Cancel(cancelCtx); err != nil {
		log.Error("Error cancelling active session", logger.Error(err))
	}
	cancelDone()

	// Cancel the main context
	cancel()

	// Shutdown all HTTP servers
	log.Info("Shutting down HTTP servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	log.Info("Server fully stopped")
}
