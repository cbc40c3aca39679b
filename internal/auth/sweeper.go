package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/kidquest/internal/store"
)

// Sweeper periodically deletes ended sessions and spent verification codes.
type Sweeper struct {
	mu       sync.RWMutex
	sessions *store.SessionStore
	codes    *store.VerificationStore
	extra    []func()
	logger   *slog.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSweeper(sessions *store.SessionStore, codes *store.VerificationStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		codes:    codes,
		logger:   logger,
		interval: interval,
	}
}

// Also registers fn to run on every sweep, for in-memory caches that expire
// alongside sessions.
func (s *Sweeper) Also(fn func()) {
	s.mu.Lock()
	s.extra = append(s.extra, fn)
	s.mu.Unlock()
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Sweep runs one cleanup pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	sessions, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error("sweep sessions", "error", err)
	}
	codes, err := s.codes.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error("sweep verification codes", "error", err)
	}
	s.mu.RLock()
	extra := s.extra
	s.mu.RUnlock()
	for _, fn := range extra {
		fn()
	}
	if sessions > 0 || codes > 0 {
		s.logger.Debug("auth sweep", "sessions", sessions, "codes", codes)
	}
}
