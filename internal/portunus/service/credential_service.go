package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/controller/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/controller/internal/netcheck"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/backend"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/identity"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

var ErrNetworkUnavailable = errors.New("network unavailable")

// DefaultBatchSize is the number of keys staged per storage transaction.
const DefaultBatchSize = 32

// Sync results, as reported in SyncStatus and metrics.
const (
	SyncOK                 = "ok"
	SyncUnchanged          = "unchanged"
	SyncNetworkUnavailable = "network_unavailable"
	SyncError              = "error"
)

// Catalog is the remote side of synchronisation.
type Catalog interface {
	FetchVersion(ctx context.Context) ([]byte, error)
	OpenCatalog(ctx context.Context) (io.ReadCloser, error)
}

type CredentialConfig struct {
	// VersionTimeout bounds the version-only request. Defaults to 10s.
	VersionTimeout time.Duration

	// CatalogTimeout bounds the full catalog download. Defaults to 2m.
	CatalogTimeout time.Duration

	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
}

type CredentialDeps struct {
	Storage store.CredentialStorage
	Catalog Catalog
	Probe   netcheck.Probe
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// SyncStatus describes the most recent synchronisation attempt.
type SyncStatus struct {
	LastAttempt time.Time
	LastSuccess time.Time
	LastResult  string
	LastError   string
	Version     []byte
	Count       int
}

// CredentialService is the only owner of the credential storage. Lookups
// always answer from the last complete generation, including while a sync
// is staging the next one.
type CredentialService struct {
	storage store.CredentialStorage
	catalog Catalog
	probe   netcheck.Probe
	cfg     CredentialConfig
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	syncMu sync.Mutex

	mu     sync.RWMutex
	status SyncStatus
}

func NewCredentialService(cfg CredentialConfig, deps CredentialDeps) *CredentialService {
	if cfg.VersionTimeout <= 0 {
		cfg.VersionTimeout = 10 * time.Second
	}
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	probe := deps.Probe
	if probe == nil {
		probe = netcheck.Static(true)
	}

	return &CredentialService{
		storage: deps.Storage,
		catalog: deps.Catalog,
		probe:   probe,
		cfg:     cfg,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Bootstrap mounts the storage, formatting it with the sentinel version when
// it cannot be mounted. A failed format is returned wrapped in
// store.ErrFormat and is fatal to the process.
func (s *CredentialService) Bootstrap(ctx context.Context) error {
	if err := s.storage.Mount(ctx); err != nil {
		s.logger.Printf("warn: credential store mount failed, formatting: %v", err)

		if ferr := s.storage.Format(ctx, store.SentinelVersion); ferr != nil {
			return fmt.Errorf("%w: %w", store.ErrFormat, ferr)
		}
		s.logger.Printf("credential store formatted version=%s", store.SentinelVersion)
	}

	version, err := s.storage.Version(ctx)
	if err != nil {
		return fmt.Errorf("%w: read version: %w", store.ErrFormat, err)
	}
	n, err := s.storage.Count(ctx)
	if err != nil {
		return fmt.Errorf("%w: count: %w", store.ErrFormat, err)
	}

	s.mu.Lock()
	s.status.Version = version
	s.status.Count = n
	s.mu.Unlock()
	s.metrics.SetCredentials(n)

	s.logger.Printf("credential store mounted version=%s count=%d", printableVersion(version), n)
	return nil
}

// Lookup reports whether id is an authorised credential.
func (s *CredentialService) Lookup(ctx context.Context, id types.CardIdentity) (bool, error) {
	return s.storage.Has(ctx, id)
}

// Status returns a copy of the latest sync status.
func (s *CredentialService) Status() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.status
	st.Version = append([]byte(nil), s.status.Version...)
	return st
}

// Synchronize brings the local catalog up to the remote version. On any
// error the live generation and its version are left as they were.
func (s *CredentialService) Synchronize(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	start := s.now()
	result, err := s.synchronize(ctx)
	s.metrics.ObserveSync(result, s.now().Sub(start))

	s.mu.Lock()
	s.status.LastAttempt = start
	s.status.LastResult = result
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastSuccess = start
	}
	s.mu.Unlock()

	return err
}

func (s *CredentialService) synchronize(ctx context.Context) (string, error) {
	if !s.probe.Ready(ctx) {
		return SyncNetworkUnavailable, ErrNetworkUnavailable
	}

	vctx, cancel := context.WithTimeout(ctx, s.cfg.VersionTimeout)
	remote, err := s.catalog.FetchVersion(vctx)
	cancel()
	if err != nil {
		return SyncError, fmt.Errorf("fetch version: %w", err)
	}

	local, err := s.storage.Version(ctx)
	if err != nil && !errors.Is(err, store.ErrNoVersion) {
		return SyncError, fmt.Errorf("read local version: %w", err)
	}
	if bytes.Equal(remote, local) {
		return SyncUnchanged, nil
	}

	n, err := s.replace(ctx, remote)
	if err != nil {
		return SyncError, err
	}

	s.mu.Lock()
	s.status.Version = append([]byte(nil), remote...)
	s.status.Count = n
	s.mu.Unlock()
	s.metrics.SetCredentials(n)

	s.logger.Printf("sync: replaced credentials count=%d version=%s", n, printableVersion(remote))
	return SyncOK, nil
}

func (s *CredentialService) replace(ctx context.Context, version []byte) (int, error) {
	if err := s.storage.BeginReplace(ctx); err != nil {
		return 0, fmt.Errorf("begin replace: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CatalogTimeout)
	defer cancel()

	body, err := s.catalog.OpenCatalog(cctx)
	if err != nil {
		return 0, fmt.Errorf("open catalog: %w", err)
	}
	defer body.Close()

	batch := make([]types.CardIdentity, 0, s.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.storage.StageSortedBatch(ctx, store.SortBatch(batch)); err != nil {
			return fmt.Errorf("stage batch: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	received, err := backend.ReadRecords(body, func(id types.CardIdentity) error {
		batch = append(batch, id)
		if len(batch) == s.cfg.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read catalog after %d records: %w", received, err)
	}
	if err := flush(); err != nil {
		return 0, err
	}

	n, err := s.storage.CommitReplace(ctx, version)
	if err != nil {
		return 0, fmt.Errorf("commit replace: %w", err)
	}
	return n, nil
}

// SeedDev installs credentials for the given raw UIDs while the store is
// still on the sentinel version. The version stays the sentinel so the
// first real sync replaces them.
func (s *CredentialService) SeedDev(ctx context.Context, uids [][]byte) error {
	if len(uids) == 0 {
		return nil
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	version, err := s.storage.Version(ctx)
	if err != nil {
		return fmt.Errorf("seed: read version: %w", err)
	}
	if !bytes.Equal(version, store.SentinelVersion) {
		s.logger.Printf("seed: store already synced, skipping")
		return nil
	}

	keys := make([]types.CardIdentity, 0, len(uids))
	for _, uid := range uids {
		if !identity.ValidUIDLen(len(uid)) {
			return fmt.Errorf("seed: uid %X has invalid length %d", uid, len(uid))
		}
		keys = append(keys, identity.Normalize(uid))
	}

	if err := s.storage.BeginReplace(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if err := s.storage.StageSortedBatch(ctx, store.SortBatch(keys)); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	n, err := s.storage.CommitReplace(ctx, store.SentinelVersion)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	s.mu.Lock()
	s.status.Count = n
	s.mu.Unlock()
	s.metrics.SetCredentials(n)

	s.logger.Printf("seed: installed %d dev credentials", n)
	return nil
}

func printableVersion(v []byte) string {
	for _, c := range v {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("%x", v)
		}
	}
	return string(v)
}
