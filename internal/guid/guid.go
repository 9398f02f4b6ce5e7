// Package guid derives stable note identifiers from field content.
//
// A note file may leave its guid blank, in which case the guid is a pure
// function of the field values: two notes with identical fields collide
// deterministically. This is the content-addressing property the diff engine
// relies on, not an accident.
package guid

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

const (
	alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	symbols       = "!#$%&()*+,-./:;<=>?@[]^_`{|}~"
	separator     = "__"
)

var table = []byte(alphanumerics + symbols)

// Derive hashes the joined field values and re-encodes the digest's leading
// 8 bytes in the 91-symbol alphabet, most-significant digit first.
func Derive(fields []string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, separator)))
	x := binary.BigEndian.Uint64(sum[:8])

	base := uint64(len(table))
	var digits []byte
	for x > 0 {
		digits = append(digits, table[x%base])
		x /= base
	}

	// Digits were produced least-significant first.
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
