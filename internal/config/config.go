package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Settings struct {
	Port              int    `env:"PORT" envDefault:"8081"`
	MetricsPort       int    `env:"METRICS_PORT" envDefault:"9103"`
	VerifyToken       string `env:"KOFI_VERIFY_TOKEN"`
	LegacyForwardURL  string `env:"LEGACY_FORWARD_URL,required,notEmpty"`
	HeartbeatInterval int    `env:"HEARTBEAT_INTERVAL" envDefault:"25"`
	BodyLimit         string `env:"BODY_LIMIT" envDefault:"256K"`
	CorsEnable        bool   `env:"CORS_ENABLE" envDefault:"true"`
	RPSLimit          int    `env:"RPS_LIMIT" envDefault:"50"`
	ConnectionsLimit  int    `env:"CONNECTIONS_LIMIT" envDefault:"200"`
	WsEnable          bool   `env:"WS_ENABLE" envDefault:"true"`
	NatsURI           string `env:"NATS_URI"`
	NatsSubject       string `env:"NATS_SUBJECT" envDefault:"kofi.tips"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string `env:"LOG_FORMAT" envDefault:"text"`
	ShutdownTimeout   int    `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
}

// Heartbeat is the keep-alive period shared by SSE and WebSocket sessions.
func (s Settings) Heartbeat() time.Duration {
	return time.Duration(s.HeartbeatInterval) * time.Second
}

func (s Settings) Shutdown() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

var Config Settings

// Parse reads an optional .env file and then the process environment.
// Variables already present in the environment win over the file.
func Parse() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, err
	}
	if s.HeartbeatInterval <= 0 {
		return Settings{}, fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %d", s.HeartbeatInterval)
	}
	return s, nil
}

func LoadConfig() {
	s, err := Parse()
	if err != nil {
		log.Fatalf("config parsing failed: %v\n", err)
	}
	Config = s
}
