package vault

import (
	"context"
	"fmt"

	"vitalsync/internal/config"
	"vitalsync/internal/vital"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
// It returns a nil Vault for type "none" (or empty): archiving is disabled.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig) (vital.Vault, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryVault(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
		}
		return NewS3VaultFromConfig(ctx, cfg)
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		return NewFileSystemVault(cfg.FSVaultRoot)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
