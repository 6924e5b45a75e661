package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultNATSURL, cfg.NATSURL)
	assert.Equal(t, DefaultAsset, cfg.Asset)
	assert.Equal(t, 50, cfg.PersistBatchSize)
	assert.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, int64(100_000), cfg.SnapshotInterval)
	assert.Equal(t, 1_000_000, cfg.IdempotencyLRUCapacity)
	assert.Equal(t, 30*time.Second, cfg.MaxClockSkew)
	assert.Empty(t, cfg.AdminToken, "admin surface is off unless a token is configured")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ESCROW_GRPC_ADDR", ":7000")
	t.Setenv("ESCROW_ASSET", "usdc")
	t.Setenv("ESCROW_PERSIST_FLUSH_TIMEOUT", "25ms")
	t.Setenv("ESCROW_SNAPSHOT_INTERVAL", "500")
	t.Setenv("ESCROW_LOG_LEVEL", "debug")
	t.Setenv("ESCROW_ADMIN_TOKEN", "ops-secret-0123456789")
	t.Setenv("ESCROW_MAX_CLOCK_SKEW", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.GRPCAddr)
	assert.Equal(t, "USDC", cfg.Asset)
	assert.Equal(t, 25*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, int64(500), cfg.SnapshotInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "ops-secret-0123456789", cfg.AdminToken)
	assert.Equal(t, 5*time.Second, cfg.MaxClockSkew)
}

func TestLoad_UnparsableNumbersFallBack(t *testing.T) {
	t.Setenv("ESCROW_PERSIST_BATCH_SIZE", "lots")
	t.Setenv("ESCROW_SNAPSHOT_CHECK_EVERY", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.PersistBatchSize)
	assert.Equal(t, 10*time.Second, cfg.SnapshotCheckEvery)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			PostgresURL:         DefaultPostgresURL,
			Asset:               "SOL",
			RequestChanSize:     1,
			PersistChanSize:     1,
			ProjectionChanSize:  1,
			IngestChanSize:      1,
			PublishChanSize:     1,
			PersistBatchSize:    1,
			PersistFlushTimeout: time.Millisecond,
			SnapshotInterval:    1,
			SnapshotCheckEvery:  time.Second,
			MaxClockSkew:        30 * time.Second,
			LogLevel:            "info",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown asset", func(c *Config) { c.Asset = "DOGE" }, "not a known asset"},
		{"zero batch", func(c *Config) { c.PersistBatchSize = 0 }, "ESCROW_PERSIST_BATCH_SIZE"},
		{"zero snapshot interval", func(c *Config) { c.SnapshotInterval = 0 }, "ESCROW_SNAPSHOT_INTERVAL"},
		{"zero snapshot check", func(c *Config) { c.SnapshotCheckEvery = 0 }, "ESCROW_SNAPSHOT_CHECK_EVERY"},
		{"zero publish buffer", func(c *Config) { c.PublishChanSize = 0 }, "ESCROW_PUBLISH_CHAN_SIZE"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "ESCROW_LOG_LEVEL"},
		{"no dsn", func(c *Config) { c.PostgresURL = "" }, "ESCROW_POSTGRES_DSN"},
		{"short admin token", func(c *Config) { c.AdminToken = "letmein" }, "ESCROW_ADMIN_TOKEN"},
		{"admin token set", func(c *Config) { c.AdminToken = "0123456789abcdef0123" }, ""},
		{"zero clock skew", func(c *Config) { c.MaxClockSkew = 0 }, "ESCROW_MAX_CLOCK_SKEW"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
