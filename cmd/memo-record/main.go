package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/codebuildervaibhav/voice-memos/internal/capture"
	"github.com/codebuildervaibhav/voice-memos/internal/client"
	"github.com/codebuildervaibhav/voice-memos/internal/config"
	"github.com/codebuildervaibhav/voice-memos/internal/recorder"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	server := flag.String("server", "http://localhost:8080", "voice memo service URL")
	token := flag.String("token", "", "bearer token (default $MEMO_TOKEN)")
	user := flag.String("user", "", "user id sent when the server runs without auth")
	title := flag.String("title", "", "memo title (derived from the transcript when empty)")
	language := flag.String("language", "", "language hint, e.g. ja or en-US")
	maxSeconds := flag.Float64("max", 0, "auto-stop after this many seconds (default from config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI; logs go to a file or nowhere.
	if cfg.Logging.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
		})
	} else {
		log.SetOutput(io.Discard)
	}

	if *token == "" {
		*token = os.Getenv("MEMO_TOKEN")
	}
	api, err := client.New(client.Options{BaseURL: *server, Token: *token, UserID: *user})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid server: %v\n", err)
		os.Exit(1)
	}

	maxDuration := cfg.Capture.MaxDurationSeconds
	if *maxSeconds > 0 {
		maxDuration = *maxSeconds
	}

	format := capture.Format{SampleRate: cfg.Capture.SampleRate, Channels: cfg.Capture.Channels}
	ffmpeg := cfg.Capture.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = capture.DetectFFmpeg()
	}

	bridge := recorder.NewBridge()
	engine := capture.NewEngine(&capture.PortAudioMicrophone{}, capture.NewProbe(format, ffmpeg), capture.Config{
		Format:       format,
		ChunkSeconds: cfg.Capture.ChunkSeconds,
		FFTSize:      cfg.Capture.FFTSize,
		BarCount:     cfg.Capture.BarCount,
		Preferences:  cfg.Capture.Preferences,
	}, bridge.Handlers())
	defer engine.Close()

	model := recorder.New(engine, api, bridge, recorder.Config{
		MaxDurationSeconds: maxDuration,
		Title:              *title,
		Language:           *language,
	})

	if _, err := tea.NewProgram(model).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Recorder failed: %v\n", err)
		os.Exit(1)
	}
}
