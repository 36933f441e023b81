package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/codebuildervaibhav/voice-memos/internal/auth"
	"github.com/codebuildervaibhav/voice-memos/internal/capture"
	"github.com/codebuildervaibhav/voice-memos/internal/cleanup"
	"github.com/codebuildervaibhav/voice-memos/internal/config"
	"github.com/codebuildervaibhav/voice-memos/internal/duration"
	"github.com/codebuildervaibhav/voice-memos/internal/handlers"
	"github.com/codebuildervaibhav/voice-memos/internal/memo"
	"github.com/codebuildervaibhav/voice-memos/internal/metrics"
	"github.com/codebuildervaibhav/voice-memos/internal/queue"
	"github.com/codebuildervaibhav/voice-memos/internal/storage"
	"github.com/codebuildervaibhav/voice-memos/internal/transcription"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	issueFor := flag.String("issue-token", "", "print a bearer token for this user id and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	authCfg := auth.Config{
		Secret: []byte(cfg.Auth.Secret),
		Issuer: cfg.Auth.Issuer,
		TTL:    time.Duration(cfg.Auth.TTLHours) * time.Hour,
	}
	if *issueFor != "" {
		token, err := auth.IssueToken(authCfg, *issueFor)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	// Ensure directories exist
	if err := cleanup.EnsureTempDirExists(cfg.Storage.TempDir); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Storage.OutputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Custom logger setup
	logBuffer := NewLogBuffer(1000)
	writers := []io.Writer{os.Stdout, logBuffer}
	if cfg.Logging.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   true,
		})
	}
	log.SetOutput(io.MultiWriter(writers...))

	log.Println("Initializing components...")
	m := metrics.NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Document store
	store, err := storage.NewMemoStore(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Blob stores. References issued by any of them stay readable.
	localStorage := storage.NewLocalStorage(cfg.Storage.OutputDir)
	inline := storage.InlineStore{}

	// Google Drive client (optional - may fail if credentials not set up)
	var driveClient *storage.DriveClient
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		driveClient, err = storage.NewDriveClient(ctx,
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
			driveClient = nil
		} else {
			log.Println("Google Drive integration enabled")
		}
	} else {
		log.Println("Google Drive credentials not found - shared links only")
	}

	var blobs *storage.Blobs
	switch cfg.Storage.Blob {
	case "local":
		blobs = storage.NewBlobs(localStorage, inline)
	case "gdrive":
		if driveClient == nil {
			log.Fatalf("storage.blob is gdrive but Google Drive is not configured")
		}
		blobs = storage.NewBlobs(driveClient, inline, localStorage)
	default:
		others := []storage.BlobStore{localStorage}
		if driveClient != nil {
			others = append(others, driveClient)
		}
		blobs = storage.NewBlobs(inline, others...)
	}
	log.Printf("Audio blobs stored %s (max %d bytes)", cfg.Storage.Blob, cfg.Storage.MaxPayloadBytes)

	// Transcription providers
	orchestrator, err := buildTranscriber(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize transcription: %v", err)
	}
	orchestrator.SetObserver(m)

	pipeline := memo.NewPipeline(store, blobs, orchestrator,
		duration.NewResolver(duration.WAVMetadata{}, duration.DefaultTimeout),
		cfg.Storage.MaxPayloadBytes)
	pipeline.SetObserver(m)

	// Worker pool
	workerPool := queue.NewWorkerPool(cfg.Workers.Count, cfg.Workers.QueueSize)
	workerPool.SetObserver(m)
	workerPool.Start(ctx)

	// Cleanup scheduler
	cleanupScheduler := cleanup.NewScheduler(cleanup.Options{
		TempDir:      cfg.Storage.TempDir,
		Interval:     time.Duration(cfg.Cleanup.IntervalMinutes) * time.Minute,
		MaxFileAge:   time.Duration(cfg.Cleanup.MaxAgeHours) * time.Hour,
		JobRetention: time.Duration(cfg.Cleanup.JobRetentionHours) * time.Hour,
		StaleAfter:   time.Duration(cfg.Cleanup.StaleAfterMinutes) * time.Minute,
	}, store, workerPool)
	cleanupScheduler.Start()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
	}))

	// Public routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})
	app.Get("/metrics", m.Handler())

	if !authCfg.Enabled() {
		log.Printf("WARNING: %s not set - trusting X-User-ID (default user %q)", config.EnvJWTSecret, cfg.Auth.DevUser)
	}
	app.Use(auth.Middleware(authCfg, cfg.Auth.DevUser))

	// Initialize handlers
	dispatch := handlers.NewDispatcher(workerPool, pipeline)
	uploadHandler := handlers.NewUploadHandler(dispatch, cfg.Limits.MaxFileSizeMB)
	memoHandler := handlers.NewMemoHandler(store, blobs, dispatch)
	jobHandler := handlers.NewJobHandler(workerPool)

	var fetcher handlers.DriveFetcher = handlers.SharedLinkFetcher{}
	if driveClient != nil {
		fetcher = handlers.DriveAPIFetcher{Drive: driveClient}
	}
	gdriveHandler := handlers.NewGDriveHandler(dispatch, fetcher)

	ffmpeg := cfg.Capture.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = capture.DetectFFmpeg()
	}
	streamHandler := handlers.NewStreamHandler(dispatch, handlers.StreamConfig{
		Capture:            captureConfig(cfg),
		FFmpegPath:         ffmpeg,
		MaxDurationSeconds: cfg.Capture.MaxDurationSeconds,
	})
	streamHandler.SetObserver(m)

	// Routes
	app.Post("/memos", uploadHandler.Handle)
	app.Post("/memos/import", gdriveHandler.Handle)
	app.Get("/memos", memoHandler.List)
	app.Get("/memos/:id", memoHandler.Get)
	app.Get("/memos/:id/audio", memoHandler.Audio)
	app.Delete("/memos/:id", memoHandler.Delete)
	app.Post("/memos/:id/retry", memoHandler.Retry)
	app.Get("/jobs/:id", jobHandler.Get)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/record", websocket.New(streamHandler.Handle))
	app.Get("/ws/jobs/:id", websocket.New(jobHandler.Stream))
	app.Get("/ws/memos", websocket.New(memoHandler.Subscribe))

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST   /memos               - Upload an audio memo")
	log.Println("   POST   /memos/import        - Import a Google Drive link")
	log.Println("   GET    /memos               - List memos")
	log.Println("   GET    /memos/:id           - Get a memo")
	log.Println("   GET    /memos/:id/audio     - Download memo audio")
	log.Println("   DELETE /memos/:id           - Delete a memo")
	log.Println("   POST   /memos/:id/retry     - Retry transcription")
	log.Println("   GET    /jobs/:id            - Job progress")
	log.Println("   GET    /ws/jobs/:id         - Job progress stream")
	log.Println("   GET    /ws/memos            - Live memo list")
	log.Println("   GET    /ws/record           - Record over WebSocket")
	log.Println("   GET    /logs, /metrics, /health")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	// Running jobs finish before the store closes.
	cancel()
	workerPool.Wait()
	cleanupScheduler.Stop()
	log.Println("Server stopped")
}

// buildTranscriber assembles the primary provider and the configured fallback.
func buildTranscriber(cfg *config.Config) (*transcription.Orchestrator, error) {
	var fallback transcription.Provider
	switch cfg.Transcription.Fallback {
	case "whisper":
		fallback = transcription.NewSpeechFallback(
			transcription.NewWhisperCLIRecognizer(cfg.Transcription.WhisperModel, cfg.Storage.TempDir),
			cfg.Grace())
	case "chrome":
		fallback = transcription.NewSpeechFallback(
			transcription.NewChromeRecognizer(cfg.Storage.TempDir, cfg.Transcription.ChromePath),
			cfg.Grace())
	}

	if cfg.Transcription.APIKey == "" {
		if fallback == nil {
			return nil, fmt.Errorf("%s is not set and transcription.fallback is none", config.EnvOpenAIKey)
		}
		log.Printf("WARNING: %s not set - transcribing with %s only", config.EnvOpenAIKey, fallback.Name())
		orch := transcription.NewOrchestrator(nil, fallback, cfg.TranscriptionTimeout())
		orch.SetFallbackMargin(cfg.FallbackMargin())
		return orch, nil
	}

	primary, err := transcription.NewOpenAIProvider(transcription.OpenAIConfig{
		BaseURL: cfg.Transcription.BaseURL,
		APIKey:  cfg.Transcription.APIKey,
		Model:   cfg.Transcription.Model,
		Timeout: cfg.TranscriptionTimeout(),
	}, nil)
	if err != nil {
		return nil, err
	}
	if fallback != nil {
		log.Printf("Transcription: %s with %s fallback", primary.Name(), fallback.Name())
	} else {
		log.Printf("Transcription: %s without fallback", primary.Name())
	}
	orch := transcription.NewOrchestrator(primary, fallback, cfg.TranscriptionTimeout())
	orch.SetFallbackMargin(cfg.FallbackMargin())
	return orch, nil
}

func captureConfig(cfg *config.Config) capture.Config {
	return capture.Config{
		Format: capture.Format{
			SampleRate: cfg.Capture.SampleRate,
			Channels:   cfg.Capture.Channels,
		},
		ChunkSeconds: cfg.Capture.ChunkSeconds,
		FFTSize:      cfg.Capture.FFTSize,
		BarCount:     cfg.Capture.BarCount,
		Preferences:  cfg.Capture.Preferences,
	}
}
