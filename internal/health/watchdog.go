// Package health tracks task liveness and exports it through the standard
// gRPC health service, so an external supervisor can restart a wedged
// controller.
package health

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service names reported by the controller.
const (
	ServiceReader   = "portunus.reader"
	ServiceDecision = "portunus.decision"
	ServiceSync     = "portunus.sync"
)

type task struct {
	deadline time.Duration
	last     time.Time
	serving  bool
}

// Watchdog marks a watched task NOT_SERVING once it goes longer than its
// deadline without a Feed. The overall "" service is SERVING only while
// every task is.
type Watchdog struct {
	hs     *health.Server
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks map[string]*task
}

func NewWatchdog(logger *log.Logger) *Watchdog {
	return newWatchdog(logger, time.Now)
}

func newWatchdog(logger *log.Logger, now func() time.Time) *Watchdog {
	w := &Watchdog{
		hs:     health.NewServer(),
		logger: logger,
		now:    now,
		tasks:  make(map[string]*task),
	}
	w.hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return w
}

// Register exposes the health service on s.
func (w *Watchdog) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, w.hs)
}

// Watch starts tracking name. The task counts as fed from now.
func (w *Watchdog) Watch(name string, deadline time.Duration) {
	w.mu.Lock()
	w.tasks[name] = &task{deadline: deadline, last: w.now(), serving: true}
	w.mu.Unlock()

	w.hs.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
}

// Feed records progress for name.
func (w *Watchdog) Feed(name string) {
	w.mu.Lock()
	t, ok := w.tasks[name]
	if ok {
		t.last = w.now()
	}
	w.mu.Unlock()
}

// Feeder returns a func feeding name, for components that take an Alive hook.
func (w *Watchdog) Feeder(name string) func() {
	return func() { w.Feed(name) }
}

// Check re-evaluates every task and updates the published statuses.
func (w *Watchdog) Check() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	all := true
	for name, t := range w.tasks {
		serving := now.Sub(t.last) <= t.deadline
		if serving != t.serving {
			t.serving = serving
			if serving {
				w.logger.Printf("health: %s recovered", name)
			} else {
				w.logger.Printf("error: health: %s missed its %s deadline", name, t.deadline)
			}
			w.hs.SetServingStatus(name, status(serving))
		}
		all = all && serving
	}
	w.hs.SetServingStatus("", status(all))
}

// Healthy reports whether every watched task is within its deadline as of
// the last Check.
func (w *Watchdog) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.tasks {
		if !t.serving {
			return false
		}
	}
	return true
}

// Failing lists the tasks currently past their deadline.
func (w *Watchdog) Failing() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	for name, t := range w.tasks {
		if !t.serving {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Run checks every interval until ctx is done, then reports NOT_SERVING
// for everything.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.hs.Shutdown()
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

func status(serving bool) healthpb.HealthCheckResponse_ServingStatus {
	if serving {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
