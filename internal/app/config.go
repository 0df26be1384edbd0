package app

import (
	"time"

	"github.com/spriteforge/spriteforge-backend/internal/platform/envutil"
)

type Config struct {
	Port        string
	LogMode     string
	Environment string

	PresenceSweepInterval time.Duration
}

func LoadConfig() Config {
	return Config{
		Port:                  envutil.String("PORT", "8080"),
		LogMode:               envutil.String("LOG_MODE", "development"),
		Environment:           envutil.String("APP_ENV", "development"),
		PresenceSweepInterval: envutil.DurationSeconds("PRESENCE_SWEEP_SECONDS", time.Minute),
	}
}
