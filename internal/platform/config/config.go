package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	Port     string `env:"PORT" default:"2323"`
	HTTPPort string `env:"HTTP_PORT" default:"8080"`

	MediaFile    string `env:"MEDIA_FILE"`
	MediaDecoder string `env:"MEDIA_DECODER" default:"auto"`
	FFmpegPath   string `env:"FFMPEG_PATH" default:"ffmpeg"`
	DecodeWidth  int    `env:"DECODE_WIDTH" default:"320"`
	DecodeHeight int    `env:"DECODE_HEIGHT" default:"240"`

	FrameRate     float64 `env:"FRAME_RATE" default:"18"`
	RenderRate    float64 `env:"RENDER_RATE" default:"18"`
	MaxRenderRate float64 `env:"MAX_RENDER_RATE" default:"30"`

	MaxClients      int64  `env:"MAX_CLIENTS" default:"20"`
	CapacityMessage string `env:"CAPACITY_MESSAGE" default:"Sorry, vidille is at capacity right now. Please try again later."`
	LimitMessage    string `env:"LIMIT_MESSAGE" default:"Too many connections from your address. Please try again later."`

	DefaultWidth       int           `env:"DEFAULT_WIDTH" default:"80"`
	DefaultHeight      int           `env:"DEFAULT_HEIGHT" default:"25"`
	MaxWidth           int           `env:"MAX_WIDTH" default:"400"`
	MaxHeight          int           `env:"MAX_HEIGHT" default:"200"`
	NegotiationTimeout time.Duration `env:"NEGOTIATION_TIMEOUT" default:"1s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	WSAllowedOrigins   string        `env:"WS_ALLOWED_ORIGINS"`

	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"5"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" default:"2"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"5"`

	RenderThreshold int  `env:"RENDER_THRESHOLD" default:"128"`
	RenderInvert    bool `env:"RENDER_INVERT" default:"false"`
	RenderDither    bool `env:"RENDER_DITHER" default:"false"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" default:"vidille:events"`
	MQTTBroker   string `env:"MQTT_BROKER"`
	MQTTTopic    string `env:"MQTT_TOPIC" default:"vidille/events"`
	MQTTEncoding string `env:"MQTT_ENCODING" default:"json"`
	HistoryDSN   string `env:"HISTORY_DSN" default:"memory"`
	HistorySize  int    `env:"HISTORY_SIZE" default:"50"`

	Console         bool          `env:"CONSOLE" default:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads configuration from the environment. Values from envFile (or ./.env when
// envFile is empty) are applied first without overriding variables already set.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.MediaFile == "" {
		return errors.New("MEDIA_FILE is required")
	}

	positive := []struct {
		name  string
		value float64
	}{
		{"FRAME_RATE", cfg.FrameRate},
		{"RENDER_RATE", cfg.RenderRate},
		{"MAX_RENDER_RATE", cfg.MaxRenderRate},
		{"DECODE_WIDTH", float64(cfg.DecodeWidth)},
		{"DECODE_HEIGHT", float64(cfg.DecodeHeight)},
		{"DEFAULT_WIDTH", float64(cfg.DefaultWidth)},
		{"DEFAULT_HEIGHT", float64(cfg.DefaultHeight)},
		{"HISTORY_SIZE", float64(cfg.HistorySize)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if cfg.MaxClients < 0 {
		return errors.New("MAX_CLIENTS must not be negative")
	}
	if cfg.RenderRate > cfg.MaxRenderRate {
		return fmt.Errorf("RENDER_RATE (%g) exceeds MAX_RENDER_RATE (%g)", cfg.RenderRate, cfg.MaxRenderRate)
	}
	if cfg.MaxWidth < cfg.DefaultWidth || cfg.MaxHeight < cfg.DefaultHeight {
		return errors.New("MAX_WIDTH/MAX_HEIGHT must not be smaller than the defaults")
	}
	if cfg.ConnectionRate > 0 && cfg.ConnectionBurst <= 0 {
		return errors.New("CONNECTION_BURST must be positive when CONNECTION_RATE is set")
	}
	if cfg.RenderThreshold < 0 || cfg.RenderThreshold > 255 {
		return errors.New("RENDER_THRESHOLD must be between 0 and 255")
	}

	switch cfg.MediaDecoder {
	case "auto", "gif", "ffmpeg", "gst":
	default:
		return fmt.Errorf("MEDIA_DECODER must be one of auto, gif, ffmpeg, gst, got %q", cfg.MediaDecoder)
	}
	switch cfg.MQTTEncoding {
	case "json", "msgpack":
	default:
		return fmt.Errorf("MQTT_ENCODING must be json or msgpack, got %q", cfg.MQTTEncoding)
	}
	if _, _, err := cfg.History(); err != nil {
		return err
	}

	return nil
}

// FrameInterval is the time between frame source ticks.
func (c *Config) FrameInterval() time.Duration {
	return rateInterval(c.FrameRate)
}

// RenderInterval is the default time between session renders.
func (c *Config) RenderInterval() time.Duration {
	return rateInterval(c.RenderRate)
}

// MinRenderInterval bounds per-connection cadence overrides.
func (c *Config) MinRenderInterval() time.Duration {
	return rateInterval(c.MaxRenderRate)
}

func rateInterval(perSecond float64) time.Duration {
	return time.Duration(float64(time.Second) / perSecond)
}

// History splits HISTORY_DSN into a store kind ("memory", "sqlite" or "postgres") and
// the DSN handed to that store.
func (c *Config) History() (kind, dsn string, err error) {
	switch {
	case c.HistoryDSN == "" || c.HistoryDSN == "memory":
		return "memory", "", nil
	case strings.HasPrefix(c.HistoryDSN, "sqlite://"):
		return "sqlite", strings.TrimPrefix(c.HistoryDSN, "sqlite://"), nil
	case strings.HasPrefix(c.HistoryDSN, "postgres://"), strings.HasPrefix(c.HistoryDSN, "postgresql://"):
		return "postgres", c.HistoryDSN, nil
	default:
		return "", "", fmt.Errorf("HISTORY_DSN must be memory, sqlite://path or postgres://..., got %q", c.HistoryDSN)
	}
}

// AllowedOrigins splits WS_ALLOWED_ORIGINS on commas. Empty means any origin.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.WSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
