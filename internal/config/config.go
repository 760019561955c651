// Package config loads process configuration from the environment,
// grounded on louisbranch-fracturing.space's env:"..." envDefault:"..."
// struct-tag convention (caarlos0/env/v11) and the teacher's unused
// joho/godotenv, loaded first so a .env file in dev populates os.Environ
// before env.Parse runs.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config covers every item in spec §6 Configuration plus what's needed to
// run a cluster member at all.
type Config struct {
	NodeID   string `env:"NODE_ID,required"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	RoundDurationMS      int `env:"ROUND_DURATION_MS" envDefault:"30000"`
	CommandTimeoutMS     int `env:"COMMAND_TIMEOUT_MS" envDefault:"2000"`
	HandoffStashGraceMS  int `env:"HANDOFF_STASH_GRACE_MS" envDefault:"3000"`
	HandoffPickupRetryMS int `env:"HANDOFF_PICKUP_RETRY_MS" envDefault:"50"`
	HandoffPickupTotalMS int `env:"HANDOFF_PICKUP_TOTAL_MS" envDefault:"1000"`

	DSSPoolSize  int    `env:"DSS_POOL_SIZE" envDefault:"10"`
	DatabaseURL  string `env:"DATABASE_URL,required"`
	ClusterQuery string `env:"CLUSTER_QUERY" envDefault:""`
}

// RoundDuration is RoundDurationMS as a time.Duration.
func (c Config) RoundDuration() time.Duration { return time.Duration(c.RoundDurationMS) * time.Millisecond }

// CommandTimeout is CommandTimeoutMS as a time.Duration.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMS) * time.Millisecond
}

// HandoffStashGrace is HandoffStashGraceMS as a time.Duration.
func (c Config) HandoffStashGrace() time.Duration {
	return time.Duration(c.HandoffStashGraceMS) * time.Millisecond
}

// HandoffPickupRetry is HandoffPickupRetryMS as a time.Duration.
func (c Config) HandoffPickupRetry() time.Duration {
	return time.Duration(c.HandoffPickupRetryMS) * time.Millisecond
}

// HandoffPickupTotal is HandoffPickupTotalMS as a time.Duration.
func (c Config) HandoffPickupTotal() time.Duration {
	return time.Duration(c.HandoffPickupTotalMS) * time.Millisecond
}

// Load best-effort loads a .env file (missing file is not an error, since
// production deploys set real environment variables) then parses Config
// from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
