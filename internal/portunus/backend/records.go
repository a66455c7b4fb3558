package backend

import (
	"errors"
	"fmt"
	"io"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// RecordLen is the width of one catalog record: a key and one separator.
const RecordLen = types.IdentityLen + 1

const readChunk = 1024

// ReadRecords parses the catalog stream r, calling fn for every key in
// order. The stream has no length prefix and reads may end mid-record; the
// partial tail of each read is carried into the next one. A final record
// without its separator is accepted. It returns the number of keys read.
func ReadRecords(r io.Reader, fn func(types.CardIdentity) error) (int, error) {
	buf := make([]byte, readChunk)
	carry, count := 0, 0

	for {
		n, rerr := r.Read(buf[carry:])
		avail := carry + n

		off := 0
		for avail-off >= RecordLen {
			rec := buf[off : off+RecordLen]
			id, err := parseKey(rec[:types.IdentityLen], count)
			if err != nil {
				return count, err
			}
			if !isSeparator(rec[types.IdentityLen]) {
				return count, fmt.Errorf("%w: record %d has separator %q", ErrMalformedCatalog, count, rec[types.IdentityLen])
			}
			if err := fn(id); err != nil {
				return count, err
			}
			count++
			off += RecordLen
		}
		carry = copy(buf, buf[off:avail])

		if errors.Is(rerr, io.EOF) {
			switch carry {
			case 0:
				return count, nil
			case types.IdentityLen:
				id, err := parseKey(buf[:carry], count)
				if err != nil {
					return count, err
				}
				if err := fn(id); err != nil {
					return count, err
				}
				return count + 1, nil
			default:
				return count, fmt.Errorf("%w: truncated record of %d bytes", ErrMalformedCatalog, carry)
			}
		}
		if rerr != nil {
			return count, classify(rerr)
		}
	}
}

func parseKey(b []byte, index int) (types.CardIdentity, error) {
	for _, c := range b {
		if isSeparator(c) {
			return types.CardIdentity{}, fmt.Errorf("%w: record %d is misaligned", ErrMalformedCatalog, index)
		}
	}
	id, _ := types.IdentityFromBytes(b)
	return id, nil
}

func isSeparator(c byte) bool {
	switch c {
	case '\n', '\r', ' ', '\t', ',':
		return true
	}
	return false
}
