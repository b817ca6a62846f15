// Package rotation runs the background sweep that keeps key rotation
// moving without an operator driving it by hand: it rotates Active keys
// whose key_rotation_interval has elapsed, then finalizes keys whose
// rotation grace period has elapsed, transitioning them from
// PendingRotation to Expired. It is a thin ticker loop over
// core.Core.RotateExpiring and core.Core.FinalizeExpired, in the same
// shape as a health-check monitor: a cancelable context per run, a fixed
// interval, and a clean Close.
package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/pqkeys/internal/logging"
	"github.com/systmms/pqkeys/pkg/core"
)

// DefaultInterval is how often the scheduler sweeps for expired keys.
const DefaultInterval = 1 * time.Hour

// finalizer is the subset of *core.Core the scheduler depends on, kept
// narrow so tests can substitute a fake without a full Core.
type finalizer interface {
	FinalizeExpired(ctx context.Context) (int, error)
	RotateExpiring(ctx context.Context) (int, error)
}

var _ finalizer = (*core.Core)(nil)

// Scheduler periodically finalizes expired keys on a ticker.
type Scheduler struct {
	core     finalizer
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Scheduler. interval <= 0 uses DefaultInterval.
func New(c finalizer, interval time.Duration, logger *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.New(false, false)
	}
	return &Scheduler{core: c, interval: interval, logger: logger}
}

// Start begins the background sweep loop. It is a no-op if already
// running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(runCtx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	rotated, err := s.core.RotateExpiring(ctx)
	if err != nil {
		s.logger.Error("rotation sweep failed to rotate expiring keys: %v", err)
	} else if rotated > 0 {
		s.logger.Info("rotation sweep rotated %d expiring key(s)", rotated)
	}

	finalized, err := s.core.FinalizeExpired(ctx)
	if err != nil {
		s.logger.Error("rotation sweep failed to finalize expired keys: %v", err)
		return
	}
	if finalized > 0 {
		s.logger.Info("rotation sweep finalized %d expired key(s)", finalized)
	}
}

// Stop cancels the sweep loop and waits for it to exit. Safe to call even
// if Start was never called.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// IsRunning reports whether the sweep loop is currently active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
