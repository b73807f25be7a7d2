package testutil

import (
	"vitalsync/internal/encryption"
	"vitalsync/internal/vital"
)

// NewTestEncryptor returns the deterministic header-only encryptor.
func NewTestEncryptor() vital.Encryptor {
	return encryption.NewTestEncryptor()
}
