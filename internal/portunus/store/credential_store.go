package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// VersionKey names the reserved metadata record holding the catalog version.
const VersionKey = "DB_VERSION"

// SentinelVersion is written by a fresh format. It never matches a real
// catalog token, so the first successful sync always replaces the keys.
var SentinelVersion = []byte("0x00")

var (
	// ErrStorage wraps any failure of the underlying media.
	ErrStorage = errors.New("storage error")

	// ErrUnsortedBatch rejects a batch whose keys are not strictly ascending.
	ErrUnsortedBatch = errors.New("batch keys not in ascending order")

	// ErrFormat means the media could be neither mounted nor formatted.
	ErrFormat = errors.New("storage format failed")

	// ErrNoVersion means the store was mounted but holds no version record.
	ErrNoVersion = errors.New("no " + VersionKey + " record")
)

// CredentialStorage is the durable key space behind the credential store.
//
// The live generation answers Has/Version/Count. A replacement is built in a
// staging generation one sorted batch at a time and swapped in atomically by
// CommitReplace, so readers only ever see a complete generation.
type CredentialStorage interface {
	// Mount opens existing media. It fails if the media is uninitialised or
	// corrupt, or if the version record is missing.
	Mount(ctx context.Context) error

	// Format erases the media and writes version as the only record.
	Format(ctx context.Context, version []byte) error

	Has(ctx context.Context, key types.CardIdentity) (bool, error)
	Version(ctx context.Context) ([]byte, error)
	Count(ctx context.Context) (int, error)

	// BeginReplace discards any previous staging generation.
	BeginReplace(ctx context.Context) error

	// StageSortedBatch durably adds keys to the staging generation in one
	// transaction. keys must be strictly ascending.
	StageSortedBatch(ctx context.Context, keys []types.CardIdentity) error

	// CommitReplace makes the staging generation live, records version and
	// returns the number of live keys.
	CommitReplace(ctx context.Context, version []byte) (int, error)
}

// SortBatch sorts keys in place, drops duplicates and returns the result,
// ready for StageSortedBatch.
func SortBatch(keys []types.CardIdentity) []types.CardIdentity {
	slices.SortFunc(keys, types.CardIdentity.Compare)
	return slices.Compact(keys)
}

// CheckSorted returns ErrUnsortedBatch unless keys are strictly ascending.
func CheckSorted(keys []types.CardIdentity) error {
	for i := 1; i < len(keys); i++ {
		if keys[i-1].Compare(keys[i]) >= 0 {
			return fmt.Errorf("%w: index %d", ErrUnsortedBatch, i)
		}
	}
	return nil
}
