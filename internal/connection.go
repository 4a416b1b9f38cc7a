package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lychee-technology/tabula"
	"go.uber.org/zap"
)

// OpenFunc opens a database handle. It is called for every connection attempt.
type OpenFunc func() (*sql.DB, error)

// ConnState is a connection lifecycle event published by the supervisor.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnConnected
	ConnLost
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnLost:
		return "lost"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// connectionSupervisor owns the single database handle. It reconnects after
// ReconnectDelay when an attempt fails and after LostConnectionDelay when an
// established connection drops.
type connectionSupervisor struct {
	open    OpenFunc
	cfg     tabula.ExecutorConfig
	breaker *CircuitBreaker

	mu          sync.RWMutex
	db          *sql.DB
	initialized bool

	ready     chan struct{}
	readyOnce sync.Once
	failed    chan struct{}
	lost      chan struct{}
	states    chan ConnState

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newConnectionSupervisor(open OpenFunc, cfg tabula.ExecutorConfig) *connectionSupervisor {
	return &connectionSupervisor{
		open:    open,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerOpenFor),
		ready:   make(chan struct{}),
		failed:  make(chan struct{}),
		lost:    make(chan struct{}, 1),
		states:  make(chan ConnState, 16),
		done:    make(chan struct{}),
	}
}

func (s *connectionSupervisor) start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		go s.supervise(ctx)
	})
}

func (s *connectionSupervisor) stop() {
	started := false
	s.startOnce.Do(func() { close(s.done) })
	if s.cancel != nil {
		started = true
		s.cancel()
	}
	<-s.done
	if started {
		s.publish(ConnClosed)
	}
}

func (s *connectionSupervisor) supervise(ctx context.Context) {
	defer close(s.done)
	attempts := 0
	for {
		s.publish(ConnConnecting)
		db, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts++
			s.breaker.RecordFailure()
			zap.S().Errorw("database connection failed", "attempt", attempts, "severity", "fatal", "error", err)
			if s.cfg.MaxReconnectAttempts > 0 && attempts >= s.cfg.MaxReconnectAttempts {
				s.publish(ConnFailed)
				close(s.failed)
				return
			}
			if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		attempts = 0
		s.breaker.RecordSuccess()
		s.setDB(db)
		s.publish(ConnConnected)
		zap.S().Infow("database connected")
		s.readyOnce.Do(func() { close(s.ready) })

		cause := s.watch(ctx, db)
		s.setDB(nil)
		_ = db.Close()
		if ctx.Err() != nil {
			return
		}
		s.publish(ConnLost)
		zap.S().Errorw("database connection lost", "severity", "fatal", "error", cause, "retryIn", s.cfg.LostConnectionDelay)
		if !sleepCtx(ctx, s.cfg.LostConnectionDelay) {
			return
		}
	}
}

func (s *connectionSupervisor) connect(ctx context.Context) (*sql.DB, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	// Statements are serialized over one session.
	db.SetMaxOpenConns(1)
	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// watch blocks until the connection is reported lost, a health check ping
// fails or ctx is done.
func (s *connectionSupervisor) watch(ctx context.Context, db *sql.DB) error {
	// drain a loss reported for a previous connection
	select {
	case <-s.lost:
	default:
	}

	var tick <-chan time.Time
	if s.cfg.HealthCheckInterval > 0 {
		ticker := time.NewTicker(s.cfg.HealthCheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.lost:
			return errors.New("statement reported a broken connection")
		case <-tick:
			pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout())
			err := db.PingContext(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("health check ping: %w", err)
			}
		}
	}
}

// reportLost signals the supervisor that the current connection is unusable.
func (s *connectionSupervisor) reportLost() {
	select {
	case s.lost <- struct{}{}:
	default:
	}
}

// current returns the live handle, NotInitialized before the first connect
// and ConnectionLost while reconnecting or while the breaker is open.
func (s *connectionSupervisor) current() (*sql.DB, error) {
	s.mu.RLock()
	db, initialized := s.db, s.initialized
	s.mu.RUnlock()
	if !initialized {
		return nil, tabula.NewNotInitializedError()
	}
	if db == nil {
		return nil, tabula.NewConnectionLostError(nil)
	}
	if s.breaker.IsOpen() {
		return nil, tabula.NewConnectionLostError(errors.New("circuit breaker open"))
	}
	return db, nil
}

func (s *connectionSupervisor) setDB(db *sql.DB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
	if db != nil {
		s.initialized = true
	}
}

func (s *connectionSupervisor) waitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.failed:
		return tabula.NewConnectionLostError(errors.New("reconnect attempts exhausted"))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish never blocks; events are dropped when nobody drains the channel.
func (s *connectionSupervisor) publish(state ConnState) {
	EmitConnectionState(context.Background(), state)
	select {
	case s.states <- state:
	default:
	}
}

func (s *connectionSupervisor) pingTimeout() time.Duration {
	if s.cfg.PingTimeout > 0 {
		return s.cfg.PingTimeout
	}
	return 5 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
