// Package identity turns raw card UIDs into CardIdentity values.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// ValidUIDLen reports whether n is one of the ISO 14443 cascade lengths.
func ValidUIDLen(n int) bool {
	return n == 4 || n == 7 || n == 10
}

// Normalize hashes uid and renders the digest as 32 lowercase hex bytes.
// Equal UIDs always yield equal identities.
func Normalize(uid []byte) types.CardIdentity {
	sum := md5.Sum(uid)

	var id types.CardIdentity
	hex.Encode(id[:], sum[:])
	return id
}

// ParseUID reads a raw UID written as hex, with optional ':' '-' or space
// separators between bytes ("04:A2:2B:1C", "04a22b1c").
func ParseUID(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	uid, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("parse uid %q: %w", s, err)
	}
	if !ValidUIDLen(len(uid)) {
		return nil, fmt.Errorf("parse uid %q: length %d is not 4, 7 or 10", s, len(uid))
	}
	return uid, nil
}
