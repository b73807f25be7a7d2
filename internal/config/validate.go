package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/gookit/validate"
)

func validateStruct(section string, v any) error {
	vd := validate.Struct(v)
	if !vd.Validate() {
		return fmt.Errorf("invalid %s config: %w", section, vd.Errors)
	}
	return nil
}

func nonNegative(name string, d Duration) error {
	if d.Duration < 0 {
		return fmt.Errorf("%s must not be negative, got %s", name, d.Duration)
	}
	return nil
}

func validateLogLevel(level string) error {
	switch level {
	case "", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", level)
}

func validateDatabase(section string, db DatabaseConfig) error {
	if err := validateStruct(section+".database", &db); err != nil {
		return err
	}
	if db.Type == "sqlite" && db.DataDir == "" {
		return fmt.Errorf("invalid %s.database config: sqlite requires data_dir", section)
	}
	return nil
}

// ValidateEdge checks the sections read by the edge commands.
func ValidateEdge(cfg *Config) error {
	if err := validateStruct("edge", &cfg.Edge); err != nil {
		return err
	}
	if err := validateDatabase("edge", cfg.Edge.Database); err != nil {
		return err
	}
	return errors.Join(
		validateLogLevel(cfg.LogLevel),
		nonNegative("edge.sync_interval", cfg.Edge.SyncInterval),
		nonNegative("edge.collect_interval", cfg.Edge.CollectInterval),
		nonNegative("edge.cleanup_interval", cfg.Edge.CleanupInterval),
		nonNegative("edge.request_timeout", cfg.Edge.RequestTimeout),
	)
}

// ValidateServer checks the sections read by the server commands.
func ValidateServer(cfg *Config) error {
	if err := validateStruct("server", &cfg.Server); err != nil {
		return err
	}
	if err := validateDatabase("server", cfg.Server.Database); err != nil {
		return err
	}
	if err := validateStruct("retention", &cfg.Retention); err != nil {
		return err
	}
	if err := validateVault(cfg.Vault); err != nil {
		return err
	}

	if hw := cfg.Retention.HotWindow.Duration; hw > 0 && hw < time.Hour {
		return fmt.Errorf("retention.hot_window must be at least 1h, got %s", hw)
	}
	return errors.Join(
		validateLogLevel(cfg.LogLevel),
		nonNegative("server.token_ttl", cfg.Server.TokenTTL),
		nonNegative("server.read_timeout", cfg.Server.ReadTimeout),
		nonNegative("server.shutdown_timeout", cfg.Server.ShutdownTimeout),
		nonNegative("retention.sweep_interval", cfg.Retention.SweepInterval),
	)
}

func validateVault(v VaultConfig) error {
	if err := validateStruct("vault", &v); err != nil {
		return err
	}
	switch v.Type {
	case "s3":
		if v.S3Bucket == "" {
			return fmt.Errorf("invalid vault config: s3 requires s3_bucket")
		}
	case "filesystem":
		if v.FSVaultRoot == "" {
			return fmt.Errorf("invalid vault config: filesystem requires fs_vault_root")
		}
	}
	return nil
}
