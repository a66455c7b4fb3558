package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	dbpkg "github.com/BrandonDHaskell/Portunus/controller/internal/db"
	sqlitestore "github.com/BrandonDHaskell/Portunus/controller/internal/portunus/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// newTestStore returns a formatted store backed by a file in a per-test
// temporary directory. The store is closed automatically when the test
// finishes.
func newTestStore(t *testing.T, version string) (*sqlitestore.CredentialStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credentials.db")
	s := sqlitestore.NewCredentialStore(dbpkg.Config{Path: path, Env: "dev"})
	if err := s.Format(context.Background(), []byte(version)); err != nil {
		t.Fatalf("newTestStore: format: %v", err)
	}

	t.Cleanup(func() { s.Close() })
	return s, path
}

func key(c byte) types.CardIdentity {
	var id types.CardIdentity
	for i := range id {
		id[i] = c
	}
	return id
}
