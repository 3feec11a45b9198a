package importance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DecayScheduler runs the nightly decay sweep in the background.
//
// Thread Safety: all public methods are thread-safe. The running state is
// protected by a mutex to prevent races during Start/Stop.
type DecayScheduler struct {
	interval time.Duration
	timeout  time.Duration
	ledger   *Ledger
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// SchedulerOption configures a DecayScheduler.
type SchedulerOption func(*DecayScheduler)

// WithInterval sets the sweep interval. Defaults to 24 hours.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *DecayScheduler) {
		s.interval = interval
	}
}

// WithSweepTimeout bounds a single sweep run. Defaults to 10 minutes.
func WithSweepTimeout(timeout time.Duration) SchedulerOption {
	return func(s *DecayScheduler) {
		s.timeout = timeout
	}
}

// NewDecayScheduler creates a scheduler for the given ledger. The
// scheduler does not start automatically; call Start().
func NewDecayScheduler(ledger *Ledger, logger *zap.Logger, opts ...SchedulerOption) (*DecayScheduler, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &DecayScheduler{
		interval: 24 * time.Hour,
		timeout:  10 * time.Minute,
		ledger:   ledger,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the background decay loop. Idempotent in the sense that a
// second Start on a running scheduler returns an error without spawning a
// second goroutine.
func (s *DecayScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("decay scheduler started", zap.Duration("interval", s.interval))
	go s.run()
	return nil
}

// Stop gracefully stops the scheduler. Calling Stop on a stopped
// scheduler is a no-op.
func (s *DecayScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Debug("scheduler stop called but not running")
		return nil
	}

	s.logger.Info("stopping decay scheduler")
	s.running = false
	close(s.stopCh)
	return nil
}

// run is the scheduler loop. Each sweep is independent: errors are logged
// and the loop continues until Stop.
func (s *DecayScheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler goroutine panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep()
		case <-s.stopCh:
			s.logger.Debug("scheduler received stop signal")
			return
		}
	}
}

// safeSweep wraps one sweep with panic recovery so a single failing run
// cannot crash the scheduler.
func (s *DecayScheduler) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("decay sweep panicked, continuing scheduler",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.ledger.RunNightlyDecay(ctx)
	if err != nil {
		s.logger.Error("scheduled decay failed", zap.Error(err))
		return
	}

	s.logger.Info("scheduled decay completed",
		zap.Int("actors_processed", result.ActorsProcessed),
		zap.Int64("importance_decayed", result.ImportanceDecayed))
}
