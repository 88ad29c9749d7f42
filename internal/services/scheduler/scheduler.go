// Package services содержит планировщик, который подчищает зависшие консультации.
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/consultation-service/internal/lib/sl"
)

// Reaper операции обслуживания консультаций.
type Reaper interface {
	AbandonRequested(ctx context.Context, maxAge time.Duration) (int, error)
	ExpireIdle(ctx context.Context, idle time.Duration) (int, error)
}

// Policy сроки жизни консультаций.
type Policy struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	IdleTimeout    time.Duration
}

// SchedulerService периодически откатывает зависшие запросы и завершает простаивающие консультации.
type SchedulerService struct {
	reaper Reaper
	policy Policy
	log    *slog.Logger
}

// NewSchedulerService создает новый экземпляр SchedulerService.
func NewSchedulerService(reaper Reaper, policy Policy, log *slog.Logger) *SchedulerService {
	return &SchedulerService{
		reaper: reaper,
		policy: policy,
		log:    log,
	}
}

// Run выполняет проход сразу и затем каждые policy.Interval до отмены ctx.
func (s *SchedulerService) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *SchedulerService) runOnce(ctx context.Context) {
	abandoned, err := s.reaper.AbandonRequested(ctx, s.policy.RequestTimeout)
	if err != nil {
		s.log.Error("failed to abandon stale requests", sl.Err(err))
	} else if abandoned > 0 {
		s.log.Info("abandoned stale requests", "count", abandoned)
	}

	expired, err := s.reaper.ExpireIdle(ctx, s.policy.IdleTimeout)
	if err != nil {
		s.log.Error("failed to expire idle sessions", sl.Err(err))
	} else if expired > 0 {
		s.log.Info("expired idle sessions", "count", expired)
	}
}
