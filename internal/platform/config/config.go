package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	StaticDir string `env:"STATIC_DIR" default:"public"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogFile   string `env:"LOG_FILE"`

	ReadyToken     string        `env:"READY_TOKEN" default:"DASHBOARD_READY"`
	PingInterval   time.Duration `env:"PING_INTERVAL" default:"30s"`
	PongTimeout    time.Duration `env:"PONG_TIMEOUT" default:"60s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	SendBufferSize int           `env:"SEND_BUFFER_SIZE" default:"16"`
	MaxMessageSize int64         `env:"MAX_MESSAGE_BYTES" default:"65536"`

	MaxConnections      int     `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"20"`
	ProducerMessageRate float64 `env:"PRODUCER_MESSAGE_RATE" default:"0"`

	AllowedOrigins string `env:"ALLOWED_ORIGINS" default:"*"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
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

// Origins returns the ALLOWED_ORIGINS list with blanks removed.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}

	if strings.TrimSpace(cfg.ReadyToken) == "" {
		return errors.New("READY_TOKEN must not be empty")
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"PING_INTERVAL", cfg.PingInterval},
		{"PONG_TIMEOUT", cfg.PongTimeout},
		{"WRITE_TIMEOUT", cfg.WriteTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		return fmt.Errorf("PONG_TIMEOUT (%v) must be greater than PING_INTERVAL (%v)", cfg.PongTimeout, cfg.PingInterval)
	}

	positives := []struct {
		name  string
		value int64
	}{
		{"SEND_BUFFER_SIZE", int64(cfg.SendBufferSize)},
		{"MAX_MESSAGE_BYTES", cfg.MaxMessageSize},
		{"MAX_CONNECTIONS", int64(cfg.MaxConnections)},
		{"MAX_CONNECTIONS_PER_IP", int64(cfg.MaxConnectionsPerIP)},
		{"CONNECTION_BURST", int64(cfg.ConnectionBurst)},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if cfg.ConnectionRate <= 0 {
		return errors.New("CONNECTION_RATE must be positive")
	}
	if cfg.ProducerMessageRate < 0 {
		return errors.New("PRODUCER_MESSAGE_RATE must not be negative")
	}

	return nil
}
