package retention

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"vitalsync/internal/chunk"
	"vitalsync/internal/database"
	"vitalsync/internal/vital"
)

// Archiver writes encrypted copies of compacted chunks to a vault.
type Archiver struct {
	vault     vital.Vault
	encryptor vital.Encryptor
	logger    vital.Logger
}

func NewArchiver(v vital.Vault, enc vital.Encryptor, logger vital.Logger) *Archiver {
	return &Archiver{vault: v, encryptor: enc, logger: logger}
}

// ArchiveKey returns the vault key of an envelope: its owner and the
// SHA-256 of its plaintext.
func ArchiveKey(userID int64, envelope []byte) string {
	sum := sha256.Sum256(envelope)
	return fmt.Sprintf("users/%d/%s", userID, hex.EncodeToString(sum[:]))
}

// Archive encrypts c and stores it. It returns the vault key.
func (a *Archiver) Archive(ctx context.Context, c *database.StoredChunk) (string, error) {
	if c.Payload == nil {
		return "", fmt.Errorf("chunk %d has no payload", c.ID)
	}

	plain, err := chunk.MarshalEnvelope(&chunk.Envelope{
		UserID:  c.UserID,
		Day:     c.Day,
		Count:   c.Count,
		Codec:   c.Codec,
		RawSize: c.RawSize,
		Payload: c.Payload,
	})
	if err != nil {
		return "", err
	}
	key := ArchiveKey(c.UserID, plain)

	var sealed bytes.Buffer
	if err := a.encryptor.Encrypt(bytes.NewReader(plain), &sealed); err != nil {
		return "", fmt.Errorf("encrypting chunk %d: %w", c.ID, err)
	}
	if err := a.vault.PutContent(ctx, key, bytes.NewReader(sealed.Bytes()), int64(sealed.Len())); err != nil {
		return "", fmt.Errorf("storing chunk %d: %w", c.ID, err)
	}

	a.logger.Debug("chunk archived", "chunk_id", c.ID, "user_id", c.UserID, "key", key, "size", sealed.Len())
	return key, nil
}

// Release deletes archive objects that no longer back stored data. It
// returns the keys that were deleted, even when others failed.
func (a *Archiver) Release(ctx context.Context, keys []string) ([]string, error) {
	var (
		released []string
		errs     []error
	)
	for _, key := range keys {
		if err := a.vault.DeleteContent(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("releasing %s: %w", key, err))
			continue
		}
		released = append(released, key)
		a.logger.Debug("archive released", "key", key)
	}
	return released, errors.Join(errs...)
}

// Fetch reads and decrypts an archived chunk.
func (a *Archiver) Fetch(ctx context.Context, key string, dec vital.DecryptionContext) (*chunk.Envelope, error) {
	var sealed bytes.Buffer
	if err := a.vault.GetContent(ctx, key, &sealed); err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	var plain bytes.Buffer
	if err := dec.Decrypt(&sealed, &plain); err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", key, err)
	}
	return chunk.UnmarshalEnvelope(plain.Bytes())
}
