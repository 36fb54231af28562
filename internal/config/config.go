package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	DSN string
}

type LoggingConfig struct {
	Level string
}

type GoalConfig struct {
	DefaultTarget float64
	Message       string
	WebhookURL    string
}

type TransportConfig struct {
	OutboundQueue int
	InboundRate   float64
	InboundBurst  int
	IdleTimeout   time.Duration
}

type SchedulerConfig struct {
	SweepInterval time.Duration
}

type AppConfig struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Goal      GoalConfig
	Transport TransportConfig
	Scheduler SchedulerConfig
}

// Load reads configuration from the environment. envFiles are loaded first when
// present; a missing file is not an error.
func Load(envFiles ...string) (*AppConfig, error) {
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5000")
	v.SetDefault("DATABASE_DSN", "data/fleet.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GOAL_DEFAULT_TARGET", 500.0)
	v.SetDefault("GOAL_MESSAGE", "Goal achieved")
	v.SetDefault("GOAL_WEBHOOK_URL", "")
	v.SetDefault("WS_OUTBOUND_QUEUE", 256)
	v.SetDefault("WS_INBOUND_RATE", 20.0)
	v.SetDefault("WS_INBOUND_BURST", 40)
	v.SetDefault("WS_IDLE_TIMEOUT", "2m")
	v.SetDefault("SCHEDULER_SWEEP_INTERVAL", "30s")

	idleTimeout, err := time.ParseDuration(v.GetString("WS_IDLE_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid idle timeout: %w", err)
	}
	sweepInterval, err := time.ParseDuration(v.GetString("SCHEDULER_SWEEP_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("invalid sweep interval: %w", err)
	}

	cfg := &AppConfig{
		Server: ServerConfig{
			Port: v.GetString("SERVER_PORT"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("DATABASE_DSN"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Goal: GoalConfig{
			DefaultTarget: v.GetFloat64("GOAL_DEFAULT_TARGET"),
			Message:       v.GetString("GOAL_MESSAGE"),
			WebhookURL:    v.GetString("GOAL_WEBHOOK_URL"),
		},
		Transport: TransportConfig{
			OutboundQueue: v.GetInt("WS_OUTBOUND_QUEUE"),
			InboundRate:   v.GetFloat64("WS_INBOUND_RATE"),
			InboundBurst:  v.GetInt("WS_INBOUND_BURST"),
			IdleTimeout:   idleTimeout,
		},
		Scheduler: SchedulerConfig{
			SweepInterval: sweepInterval,
		},
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("DATABASE_DSN is required")
	}
	if cfg.Goal.DefaultTarget <= 0 {
		return nil, fmt.Errorf("GOAL_DEFAULT_TARGET must be positive")
	}
	if cfg.Transport.OutboundQueue <= 0 {
		return nil, fmt.Errorf("WS_OUTBOUND_QUEUE must be positive")
	}
	if cfg.Scheduler.SweepInterval <= 0 {
		return nil, fmt.Errorf("SCHEDULER_SWEEP_INTERVAL must be positive")
	}

	return cfg, nil
}
