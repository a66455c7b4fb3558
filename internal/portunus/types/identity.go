package types

import (
	"bytes"
	"encoding/hex"
)

// IdentityLen is the width of a CardIdentity and of a credential store key.
const IdentityLen = 32

// CardIdentity is the fixed-width textual hash of a card UID. It is the key
// used by the credential store, the remote catalog and telemetry.
type CardIdentity [IdentityLen]byte

// IdentityFromBytes copies b into a CardIdentity. ok is false when b has the
// wrong length.
func IdentityFromBytes(b []byte) (id CardIdentity, ok bool) {
	if len(b) != IdentityLen {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

func (c CardIdentity) String() string { return string(c[:]) }

// Bytes returns a copy of the identity as a slice.
func (c CardIdentity) Bytes() []byte { return append([]byte(nil), c[:]...) }

// Compare orders identities bytewise, matching the store's key order.
func (c CardIdentity) Compare(o CardIdentity) int { return bytes.Compare(c[:], o[:]) }

// IsZero reports whether c was never assigned.
func (c CardIdentity) IsZero() bool { return c == CardIdentity{} }

// IsHex reports whether every byte of c is a lowercase hex digit, which is
// the form produced by the normalizer.
func (c CardIdentity) IsHex() bool {
	var raw [IdentityLen / 2]byte
	_, err := hex.Decode(raw[:], c[:])
	return err == nil && bytes.Equal(bytes.ToLower(c[:]), c[:])
}
