package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/snarg/transcribe-api/internal/transcribe"
)

// subtitleFormats are the output formats the transcription service can write.
var subtitleFormats = map[string]bool{"srt": true, "vtt": true}

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":5000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken      string `env:"AUTH_TOKEN"`
	AuthTokensFile string `env:"AUTH_TOKENS_FILE"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"20"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"10m"`
	RedisURL          string        `env:"REDIS_URL"`

	UploadDir         string        `env:"UPLOAD_DIR"`
	ScratchMaxAge     time.Duration `env:"SCRATCH_MAX_AGE" envDefault:"1h"`
	MaxUploadBytes    int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	AllowedExtensions []string      `env:"ALLOWED_EXTENSIONS" envSeparator:"," envDefault:"mp3"`

	FFprobePath  string        `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	MaxDuration  time.Duration `env:"MAX_DURATION" envDefault:"60s"`
	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT" envDefault:"15s"`

	AWS        AWSConfig
	S3         S3Config
	Transcribe TranscribeConfig

	DatabaseURL string `env:"DATABASE_URL"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"transcribe-api"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"transcribe-api"`

	UmamiWebsiteID string `env:"UMAMI_WEBSITE_ID"`
	UmamiHostURL   string `env:"UMAMI_HOST_URL" envDefault:"https://cloud.umami.is"`

	SentryDSN string `env:"SENTRY_DSN"`

	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv         string   `env:"APP_ENV" envDefault:"development"`
	MetricsEnabled bool     `env:"METRICS_ENABLED" envDefault:"true"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:","`
}

// AWSConfig holds credentials shared by the S3 and Transcribe clients.
// Empty keys fall back to the default AWS credential chain.
type AWSConfig struct {
	Region    string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"AWS_ACCESS_KEY_ID"`
	SecretKey string `env:"AWS_SECRET_ACCESS_KEY"`
}

type S3Config struct {
	Bucket        string        `env:"S3_BUCKET" envDefault:"312-transcriptions"`
	Prefix        string        `env:"S3_PREFIX" envDefault:"transcriptions"`
	Endpoint      string        `env:"S3_ENDPOINT"`
	PublicURL     string        `env:"S3_PUBLIC_URL"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"0s"`
}

type TranscribeConfig struct {
	LanguageCode   string `env:"TRANSCRIBE_LANGUAGE" envDefault:"en-US"`
	SubtitleFormat string `env:"TRANSCRIBE_SUBTITLE_FORMAT" envDefault:"srt"`
	JobPrefix      string `env:"TRANSCRIBE_JOB_PREFIX" envDefault:"transcription-job-"`
}

// Production reports whether internal error details should be hidden from clients.
func (c *Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	var errs []error
	if c.AuthToken == "" && c.AuthTokensFile == "" {
		errs = append(errs, errors.New("one of AUTH_TOKEN or AUTH_TOKENS_FILE is required"))
	}
	if c.S3.Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET must not be empty"))
	}
	if c.RateLimitRequests <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0, got %d", c.RateLimitRequests))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be > 0, got %s", c.RateLimitWindow))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be > 0, got %d", c.MaxUploadBytes))
	}
	if c.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("MAX_DURATION must be > 0, got %s", c.MaxDuration))
	}
	if len(c.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("ALLOWED_EXTENSIONS must list at least one extension"))
	}
	for _, ext := range c.AllowedExtensions {
		if transcribe.MediaFormatFor(ext) == "" {
			errs = append(errs, fmt.Errorf("ALLOWED_EXTENSIONS: %q is not a media format the transcription service accepts", ext))
		}
	}
	if !subtitleFormats[c.Transcribe.SubtitleFormat] {
		errs = append(errs, fmt.Errorf("TRANSCRIBE_SUBTITLE_FORMAT must be srt or vtt, got %q", c.Transcribe.SubtitleFormat))
	}
	return errors.Join(errs...)
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile        string
	HTTPAddr       string
	LogLevel       string
	UploadDir      string
	AuthTokensFile string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.UploadDir != "" {
		cfg.UploadDir = overrides.UploadDir
	}
	if overrides.AuthTokensFile != "" {
		cfg.AuthTokensFile = overrides.AuthTokensFile
	}

	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "transcribe_uploads")
	}
	for i, ext := range cfg.AllowedExtensions {
		cfg.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
	cfg.Transcribe.SubtitleFormat = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Transcribe.SubtitleFormat), "."))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
