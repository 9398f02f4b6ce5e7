// Package checksum hashes collection files for the checkpoint ledger.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// File returns the hex-encoded MD5 digest of the file at path. MD5 is an
// identity fingerprint here, not a security boundary; it matches the digest
// format recorded in existing ledgers.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %q for hashing: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
