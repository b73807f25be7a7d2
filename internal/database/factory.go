package database

import (
	"fmt"
	"path/filepath"

	"vitalsync/internal/config"
	"vitalsync/internal/vital"
)

// edgeDBPath returns the location of the edge database for cfg.
func edgeDBPath(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return "", fmt.Errorf("data_dir required for sqlite database")
		}
		return filepath.Join(cfg.DataDir, "edge.db"), nil
	case "memory":
		return ":memory:", nil
	default:
		return "", fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func centralDBPath(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return "", fmt.Errorf("data_dir required for sqlite database")
		}
		return filepath.Join(cfg.DataDir, "central.db"), nil
	case "memory":
		return ":memory:", nil
	default:
		return "", fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// NewBufferFromConfig opens the edge sample buffer described by cfg.
func NewBufferFromConfig(cfg config.DatabaseConfig, clock vital.Clock) (*SQLiteBuffer, error) {
	path, err := edgeDBPath(cfg)
	if err != nil {
		return nil, err
	}
	return OpenBuffer(path, clock)
}

// NewCentralStoreFromConfig opens the central store described by cfg.
// In-memory stores are migrated on open; file stores must already be
// migrated (see MigrateCentral).
func NewCentralStoreFromConfig(cfg config.DatabaseConfig, opts CentralOptions) (*CentralStore, error) {
	path, err := centralDBPath(cfg)
	if err != nil {
		return nil, err
	}
	return OpenCentralStore(path, cfg.Type == "memory", opts)
}

// MigrateCentralFromConfig brings the central schema described by cfg up to date.
func MigrateCentralFromConfig(cfg config.DatabaseConfig) error {
	path, err := centralDBPath(cfg)
	if err != nil {
		return err
	}
	return MigrateCentral(path)
}
