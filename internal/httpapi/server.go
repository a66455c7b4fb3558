package httpapi

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/service"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

type CredentialStatus interface {
	Status() service.SyncStatus
}

type LatchStatus interface {
	Mode() types.LatchMode
	State() types.LatchState
}

type SyncTrigger interface {
	Trigger() bool
}

type QueueDepth interface {
	Len() int
}

type HealthStatus interface {
	Healthy() bool
	Failing() []string
}

type Dependencies struct {
	Logger     *log.Logger
	Addr       string
	DeviceName string

	Credentials CredentialStatus
	Decision    LatchStatus
	Sync        SyncTrigger
	Telemetry   QueueDepth

	// Health is optional; without it /healthz always reports ok.
	Health HealthStatus

	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	deps       Dependencies
}

func NewServer(d Dependencies) *Server {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{logger: d.Logger, deps: d}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Logger))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/status", s.handleStatus)
	r.Post("/v1/sync", s.handleSync)
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	OK      bool     `json:"ok"`
	Failing []string `json:"failing,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h := s.deps.Health; h != nil && !h.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{OK: false, Failing: h.Failing()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{OK: true})
}

type statusResponse struct {
	Device         string `json:"device"`
	LatchMode      string `json:"latch_mode"`
	LatchState     string `json:"latch_state"`
	Holder         string `json:"holder,omitempty"`
	DBVersion      string `json:"db_version"`
	Credentials    int    `json:"credentials"`
	LastSyncAt     string `json:"last_sync_at,omitempty"`
	LastSuccessAt  string `json:"last_sync_success_at,omitempty"`
	LastSyncResult string `json:"last_sync_result,omitempty"`
	LastSyncError  string `json:"last_sync_error,omitempty"`
	TelemetryQueue int    `json:"telemetry_queue"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sync := s.deps.Credentials.Status()
	state := s.deps.Decision.State()

	resp := statusResponse{
		Device:         s.deps.DeviceName,
		LatchMode:      s.deps.Decision.Mode().String(),
		LatchState:     "disabled",
		DBVersion:      hex.EncodeToString(sync.Version),
		Credentials:    sync.Count,
		LastSyncAt:     formatTime(sync.LastAttempt),
		LastSuccessAt:  formatTime(sync.LastSuccess),
		LastSyncResult: sync.LastResult,
		LastSyncError:  sync.LastError,
	}
	if state.Enabled {
		resp.LatchState = "enabled"
		resp.Holder = state.Holder.String()
	}
	if s.deps.Telemetry != nil {
		resp.TelemetryQueue = s.deps.Telemetry.Len()
	}

	writeJSON(w, http.StatusOK, resp)
}

type syncResponse struct {
	Queued bool `json:"queued"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync_unavailable", "sync runner not configured")
		return
	}
	queued := s.deps.Sync.Trigger()
	s.logger.Printf("sync requested queued=%t", queued)
	writeJSON(w, http.StatusAccepted, syncResponse{Queued: queued})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
