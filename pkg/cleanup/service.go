// Package cleanup enforces the experiment retention policy: terminal
// experiments past their maximum age are deleted, together with their
// iterations and vulnerabilities.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redloop-ai/redloop/pkg/config"
)

// RetentionStore is the persistence surface the sweeper needs.
type RetentionStore interface {
	DeleteExpired(ctx context.Context, maxAge time.Duration) (int, error)
}

// Service runs the retention sweep on a timer. The deletion is
// idempotent and safe to run from multiple pods.
type Service struct {
	store  RetentionStore
	config *config.RetentionConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates the retention sweeper.
func NewService(store RetentionStore, cfg *config.RetentionConfig) *Service {
	return &Service{
		store:  store,
		config: cfg,
		stopCh: make(chan struct{}),
	}
}

// Start launches the background sweep loop. A disabled config makes
// Start a no-op.
func (s *Service) Start(ctx context.Context) {
	if !s.config.Enabled {
		slog.Info("Experiment retention sweeper disabled")
		return
	}
	s.wg.Add(1)
	go s.run(ctx)
	slog.Info("Experiment retention sweeper started",
		"max_age", s.config.MaxAge, "interval", s.config.SweepInterval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	s.sweep(ctx)
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	removed, err := s.store.DeleteExpired(ctx, s.config.MaxAge)
	if err != nil {
		slog.Error("Experiment retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("Expired experiments removed", "count", removed, "max_age", s.config.MaxAge)
	}
}
