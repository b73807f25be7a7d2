package vault

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by GetContent for a key the vault does not hold.
var ErrNotFound = errors.New("content not found")

// checkKey rejects keys that could escape a vault's namespace. Keys are
// slash-separated relative paths such as "users/7/<sha256>".
func checkKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty vault key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid vault key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid vault key %q", key)
		}
	}
	return nil
}
