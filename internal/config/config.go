package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Storage struct {
		TempDir         string `yaml:"temp_dir"`
		OutputDir       string `yaml:"output_dir"`
		Database        string `yaml:"database"`
		Blob            string `yaml:"blob"` // inline, local or gdrive
		MaxPayloadBytes int    `yaml:"max_payload_bytes"`
	} `yaml:"storage"`

	Capture struct {
		SampleRate         int      `yaml:"sample_rate"`
		Channels           int      `yaml:"channels"`
		ChunkSeconds       float64  `yaml:"chunk_seconds"`
		FFTSize            int      `yaml:"fft_size"`
		BarCount           int      `yaml:"bar_count"`
		MaxDurationSeconds float64  `yaml:"max_duration_seconds"`
		Preferences        []string `yaml:"preferences"`
		FFmpegPath         string   `yaml:"ffmpeg_path"`
	} `yaml:"capture"`

	Transcription struct {
		BaseURL        string `yaml:"base_url"`
		Model          string `yaml:"model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		Fallback       string `yaml:"fallback"` // whisper, chrome or none
		WhisperModel   string `yaml:"whisper_model"`
		ChromePath     string `yaml:"chrome_path"`
		GraceMillis    int    `yaml:"grace_millis"`
		FallbackMargin int    `yaml:"fallback_margin_seconds"` // beyond playback length
		APIKey         string `yaml:"-"`
	} `yaml:"transcription"`

	Workers struct {
		Count     int `yaml:"count"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"workers"`

	Cleanup struct {
		IntervalMinutes   int `yaml:"interval_minutes"`
		MaxAgeHours       int `yaml:"max_age_hours"`
		JobRetentionHours int `yaml:"job_retention_hours"`
		StaleAfterMinutes int `yaml:"stale_after_minutes"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	Auth struct {
		Issuer   string `yaml:"issuer"`
		TTLHours int    `yaml:"ttl_hours"`
		DevUser  string `yaml:"dev_user"`
		Secret   string `yaml:"-"`
	} `yaml:"auth"`

	Logging struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

// Secrets are read from the environment, never from the YAML file.
const (
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvJWTSecret = "MEMO_JWT_SECRET"
)

// Load reads the YAML file at path, loads .env files, applies defaults and
// validates the result. A missing file yields the defaults.
func Load(path string, envFiles ...string) (*Config, error) {
	var config Config

	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("Config file %s not found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	config.Transcription.APIKey = strings.TrimSpace(os.Getenv(EnvOpenAIKey))
	config.Auth.Secret = strings.TrimSpace(os.Getenv(EnvJWTSecret))

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadDotEnv loads the given files (default ".env") without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
		log.Printf("Loaded environment from %s", f)
	}
	return nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	setInt(&c.Server.Port, 8080)
	setString(&c.Server.Host, "0.0.0.0")

	setString(&c.Storage.TempDir, "temp")
	setString(&c.Storage.OutputDir, "outputs")
	setString(&c.Storage.Database, "memos.db")
	setString(&c.Storage.Blob, "inline")
	setInt(&c.Storage.MaxPayloadBytes, 1<<20)

	setInt(&c.Capture.SampleRate, 16000)
	setInt(&c.Capture.Channels, 1)
	if c.Capture.ChunkSeconds <= 0 {
		c.Capture.ChunkSeconds = 1
	}
	setInt(&c.Capture.FFTSize, 1024)
	setInt(&c.Capture.BarCount, 32)
	if c.Capture.MaxDurationSeconds <= 0 {
		c.Capture.MaxDurationSeconds = 300
	}

	setString(&c.Transcription.BaseURL, "https://api.openai.com/v1")
	setString(&c.Transcription.Model, "whisper-1")
	setInt(&c.Transcription.TimeoutSeconds, 60)
	setString(&c.Transcription.Fallback, "whisper")
	setString(&c.Transcription.WhisperModel, "small")
	setInt(&c.Transcription.GraceMillis, 500)
	setInt(&c.Transcription.FallbackMargin, 30)

	setInt(&c.Workers.Count, 2)
	setInt(&c.Workers.QueueSize, 100)

	setInt(&c.Cleanup.IntervalMinutes, 30)
	setInt(&c.Cleanup.MaxAgeHours, 24)
	setInt(&c.Cleanup.JobRetentionHours, 6)
	setInt(&c.Cleanup.StaleAfterMinutes, 30)

	setString(&c.GoogleDrive.CredentialsFile, "credentials.json")
	setString(&c.GoogleDrive.TokenFile, "token.json")
	setString(&c.GoogleDrive.FolderName, "Voice Memos")

	setString(&c.Auth.Issuer, "voice-memos")
	setInt(&c.Auth.TTLHours, 24)
	setString(&c.Auth.DevUser, "local")

	setInt(&c.Logging.MaxSizeMB, 50)
	setInt(&c.Logging.MaxBackups, 3)
	setInt(&c.Logging.MaxAgeDays, 28)

	setInt(&c.Limits.MaxFileSizeMB, 25)
}

// Validate rejects impossible combinations.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Blob {
	case "inline", "local", "gdrive":
	default:
		problems = append(problems, fmt.Sprintf("storage.blob %q must be inline, local or gdrive", c.Storage.Blob))
	}
	switch c.Transcription.Fallback {
	case "whisper", "chrome", "none":
	default:
		problems = append(problems, fmt.Sprintf("transcription.fallback %q must be whisper, chrome or none", c.Transcription.Fallback))
	}
	if c.Capture.Channels > 2 {
		problems = append(problems, "capture.channels must be 1 or 2")
	}
	if c.Capture.FFTSize&(c.Capture.FFTSize-1) != 0 {
		problems = append(problems, fmt.Sprintf("capture.fft_size %d must be a power of two", c.Capture.FFTSize))
	}
	if c.Storage.MaxPayloadBytes > c.Limits.MaxFileSizeMB<<20 {
		problems = append(problems, "storage.max_payload_bytes exceeds limits.max_file_size_mb")
	}
	if c.Auth.Secret != "" && len(c.Auth.Secret) < 32 {
		problems = append(problems, EnvJWTSecret+" must be at least 32 bytes")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// TranscriptionTimeout returns the primary provider timeout.
func (c *Config) TranscriptionTimeout() time.Duration {
	return time.Duration(c.Transcription.TimeoutSeconds) * time.Second
}

// FallbackMargin returns the time the fallback may take beyond playback.
func (c *Config) FallbackMargin() time.Duration {
	return time.Duration(c.Transcription.FallbackMargin) * time.Second
}

// Grace returns the fallback grace delay.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.Transcription.GraceMillis) * time.Millisecond
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		*v = def
	}
}
