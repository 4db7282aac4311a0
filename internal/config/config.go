package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	kberrors "github.com/alexjbarnes/kbsync/internal/errors"
)

// NetworkClass names the connectivity class a sync pass runs under.
type NetworkClass string

const (
	// NetworkUnmetered is a regular unconstrained connection. Passes run
	// with parallel batches and the full per-document size cap.
	NetworkUnmetered NetworkClass = "unmetered"

	// NetworkMetered is a constrained connection (mobile data, hotspot).
	// Passes run sequentially in smaller batches with a reduced size cap,
	// or are refused entirely when SyncOnMetered is false.
	NetworkMetered NetworkClass = "metered"
)

// Config holds all environment-based configuration for kbsync.
type Config struct {
	// Knowledge base service credentials. Both required.
	Endpoint string `env:"KB_ENDPOINT"`
	APIKey   string `env:"KB_API_KEY"`

	// Directory containing the markdown corpus to sync. Required.
	NotesDir string `env:"KB_NOTES_DIR"`

	// Interval between automatic sync passes.
	SyncInterval time.Duration `env:"KB_SYNC_INTERVAL" envDefault:"5m"`

	// Batch sizing per network class.
	BatchSize        int `env:"KB_BATCH_SIZE" envDefault:"20"`
	MeteredBatchSize int `env:"KB_METERED_BATCH_SIZE" envDefault:"5"`

	// Maximum concurrent in-flight document reconciliations on an
	// unmetered network. Metered passes are always sequential.
	MaxParallel int `env:"KB_MAX_PARALLEL" envDefault:"4"`

	// Per-document byte caps. Documents over the cap for the current
	// network class are skipped for the pass.
	MaxFileBytes        int64 `env:"KB_MAX_FILE_BYTES" envDefault:"1048576"`
	MeteredMaxFileBytes int64 `env:"KB_METERED_MAX_FILE_BYTES" envDefault:"262144"`

	// Pause between batches on a metered network.
	MeteredBatchPause time.Duration `env:"KB_METERED_BATCH_PAUSE" envDefault:"2s"`

	// SyncOnMetered allows passes to run on metered networks at all.
	SyncOnMetered bool `env:"KB_SYNC_ON_METERED" envDefault:"true"`

	// MinBatteryPercent skips automatic passes below this charge level
	// when running on battery. 0 disables the check.
	MinBatteryPercent int `env:"KB_MIN_BATTERY_PERCENT" envDefault:"20"`

	// NetworkClassOverride pins the network class instead of probing.
	// Empty means probe; otherwise "metered" or "unmetered".
	NetworkClassOverride string `env:"KB_NETWORK_CLASS" envDefault:""`

	// WatchNotes enables the filesystem watcher that triggers a pass
	// shortly after local edits, in addition to the interval timer.
	WatchNotes bool `env:"KB_WATCH" envDefault:"true"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve NotesDir to an absolute path at startup. Document identities
	// are paths relative to this root, so it must be stable for the
	// lifetime of the process.
	absDir, err := filepath.Abs(cfg.NotesDir)
	if err != nil {
		return nil, fmt.Errorf("resolving notes dir to absolute path: %w", err)
	}

	cfg.NotesDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return kberrors.ErrMissingEndpoint
	}

	if c.APIKey == "" {
		return kberrors.ErrMissingAPIKey
	}

	if c.NotesDir == "" {
		return fmt.Errorf("KB_NOTES_DIR is required")
	}

	if c.BatchSize < 1 || c.MeteredBatchSize < 1 {
		return fmt.Errorf("batch sizes must be at least 1")
	}

	if c.MaxParallel < 1 {
		return fmt.Errorf("KB_MAX_PARALLEL must be at least 1")
	}

	if c.MinBatteryPercent < 0 || c.MinBatteryPercent > 100 {
		return fmt.Errorf("KB_MIN_BATTERY_PERCENT must be between 0 and 100")
	}

	switch NetworkClass(c.NetworkClassOverride) {
	case "", NetworkMetered, NetworkUnmetered:
	default:
		return fmt.Errorf("KB_NETWORK_CLASS must be %q or %q", NetworkMetered, NetworkUnmetered)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
