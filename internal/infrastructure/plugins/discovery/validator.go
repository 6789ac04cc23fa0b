package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

// DefaultMaxSourceBytes bounds a plugin file.
const DefaultMaxSourceBytes = 4 * 1024 * 1024

// SourceValidator checks plugin files before they reach the host.
type SourceValidator struct {
	maxBytes int64
}

// NewSourceValidator creates a validator; maxBytes <= 0 selects the default.
func NewSourceValidator(maxBytes int64) *SourceValidator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSourceBytes
	}
	return &SourceValidator{maxBytes: maxBytes}
}

// Read returns the file's text after checking its size and encoding.
func (v *SourceValidator) Read(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("plugin file not accessible: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, v.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read plugin file: %w", err)
	}
	if int64(len(data)) > v.maxBytes {
		return "", fmt.Errorf("plugin file exceeds %d bytes", v.maxBytes)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("plugin file is empty")
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("plugin file is not valid UTF-8")
	}
	return string(data), nil
}

// Digest returns the hex SHA-256 of source.
func Digest(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
