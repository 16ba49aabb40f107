package common

import (
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// Ensure SHA256 is available for checksum calculation.
	_ "crypto/sha256"
)

var errHashUnavailable = errors.New("hash function unavailable")

const (
	// DefaultFileMode is used when producing artifacts for distribution.
	DefaultFileMode os.FileMode = 0o755

	// DefaultChecksumFunction is used to pin and verify release file hashes.
	DefaultChecksumFunction crypto.Hash = crypto.SHA256
)

// GetFileChecksum returns checksum bytes for a file using DefaultChecksumFunction.
func GetFileChecksum(path string) ([]byte, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	return GetChecksum(contents)
}

// GetChecksum returns checksum bytes for raw contents using DefaultChecksumFunction.
func GetChecksum(contents []byte) ([]byte, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := DefaultChecksumFunction.New()
	if _, err := hasher.Write(contents); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// EncodeChecksum renders checksum bytes in the hex form used by manifests.
func EncodeChecksum(sum []byte) string {
	return hex.EncodeToString(sum)
}

// DecodeChecksum parses a hex-encoded checksum back into bytes.
func DecodeChecksum(sum string) ([]byte, error) {
	decoded, err := hex.DecodeString(sum)
	if err != nil {
		return nil, fmt.Errorf("decode checksum: %w", err)
	}

	return decoded, nil
}
