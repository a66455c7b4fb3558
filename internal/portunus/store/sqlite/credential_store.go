package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/controller/internal/db"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

// CredentialStore keeps the credential key space in a SQLite file. Reads go
// straight to the connection; every write goes through the single Worker.
type CredentialStore struct {
	cfg dbpkg.Config

	mu     sync.RWMutex // guards db/writer, which Format replaces
	db     *sql.DB
	writer *dbpkg.Worker
}

var _ store.CredentialStorage = (*CredentialStore)(nil)

func NewCredentialStore(cfg dbpkg.Config) *CredentialStore {
	return &CredentialStore{cfg: cfg}
}

func (s *CredentialStore) Mount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()

	conn, err := dbpkg.Open(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("%w: mount: %w", store.ErrStorage, err)
	}
	s.db = conn
	s.writer = dbpkg.NewWorker(conn)

	if _, err := readVersion(ctx, conn); err != nil {
		return err
	}
	return nil
}

func (s *CredentialStore) Format(ctx context.Context, version []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()

	if err := dbpkg.Remove(s.cfg.Path); err != nil {
		return fmt.Errorf("%w: erase: %w", store.ErrStorage, err)
	}

	conn, err := dbpkg.Open(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("%w: format: %w", store.ErrStorage, err)
	}
	s.db = conn
	s.writer = dbpkg.NewWorker(conn)

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return writeVersion(ctx, tx, version)
	})
}

// Close releases the database. The store may be mounted again afterwards.
func (s *CredentialStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *CredentialStore) closeLocked() error {
	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *CredentialStore) conn() (*sql.DB, *dbpkg.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, nil, fmt.Errorf("%w: not mounted", store.ErrStorage)
	}
	return s.db, s.writer, nil
}

func (s *CredentialStore) Has(ctx context.Context, key types.CardIdentity) (bool, error) {
	conn, _, err := s.conn()
	if err != nil {
		return false, err
	}

	var one int
	err = conn.QueryRowContext(ctx,
		`SELECT 1 FROM credentials WHERE card_hash = ?;`, key[:],
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: has: %w", store.ErrStorage, err)
	}
	return true, nil
}

func (s *CredentialStore) Version(ctx context.Context) ([]byte, error) {
	conn, _, err := s.conn()
	if err != nil {
		return nil, err
	}
	return readVersion(ctx, conn)
}

func (s *CredentialStore) Count(ctx context.Context) (int, error) {
	conn, _, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", store.ErrStorage, err)
	}
	return n, nil
}

func (s *CredentialStore) BeginReplace(ctx context.Context) error {
	_, w, err := s.conn()
	if err != nil {
		return err
	}
	return wrap("begin replace", w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM credentials_staging;`)
		return err
	}))
}

func (s *CredentialStore) StageSortedBatch(ctx context.Context, keys []types.CardIdentity) error {
	if err := store.CheckSorted(keys); err != nil {
		return err
	}
	_, w, err := s.conn()
	if err != nil {
		return err
	}

	return wrap("stage batch", w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO credentials_staging(card_hash) VALUES (?);`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, k := range keys {
			if _, err := stmt.ExecContext(ctx, k[:]); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *CredentialStore) CommitReplace(ctx context.Context, version []byte) (int, error) {
	_, w, err := s.conn()
	if err != nil {
		return 0, err
	}

	var n int
	err = w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM credentials;`,
			`INSERT INTO credentials(card_hash) SELECT card_hash FROM credentials_staging ORDER BY card_hash;`,
			`DELETE FROM credentials_staging;`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		if err := writeVersion(ctx, tx, version); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials;`).Scan(&n)
	})
	if err != nil {
		return 0, wrap("commit replace", err)
	}
	return n, nil
}

func readVersion(ctx context.Context, conn *sql.DB) ([]byte, error) {
	var v []byte
	err := conn.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?;`, store.VersionKey,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoVersion
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read version: %w", store.ErrStorage, err)
	}
	return v, nil
}

func writeVersion(ctx context.Context, tx *sql.Tx, version []byte) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO meta(key, value, updated_at_ms) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at_ms = excluded.updated_at_ms;
`, store.VersionKey, version, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("write %s: %w", store.VersionKey, err)
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", store.ErrStorage, op, err)
}
