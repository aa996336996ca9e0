package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Dhoini/Entitlement-microservice/internal/service"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

// Таймаут одного прохода зачистки
const sweepTimeout = 2 * time.Minute

// SweepScheduler запускает периодическую зачистку истекших подписок по cron-расписанию
type SweepScheduler struct {
	cron  *cron.Cron
	sweep service.SweepService
	log   *logger.Logger
}

// NewSweepScheduler создает планировщик зачистки с заданным cron-расписанием
func NewSweepScheduler(schedule string, sweep service.SweepService, log *logger.Logger) (*SweepScheduler, error) {
	c := cron.New()

	s := &SweepScheduler{
		cron:  c,
		sweep: sweep,
		log:   log,
	}

	if _, err := c.AddFunc(schedule, s.runSweep); err != nil {
		log.Errorw("Invalid sweep schedule", "error", err, "schedule", schedule)
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	log.Infow("Sweep scheduler configured", "schedule", schedule)
	return s, nil
}

// Start запускает планировщик в фоне
func (s *SweepScheduler) Start() {
	s.cron.Start()
	s.log.Infow("Sweep scheduler started")
}

// Stop останавливает планировщик и дожидается завершения текущего прохода
func (s *SweepScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Infow("Sweep scheduler stopped")
}

// runSweep выполняет один проход зачистки. Ошибка логируется, следующий
// запуск по расписанию попробует снова.
func (s *SweepScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	count, err := s.sweep.Sweep(ctx)
	if err != nil {
		s.log.Errorw("Scheduled sweep failed", "error", err)
		return
	}

	if count > 0 {
		s.log.Infow("Scheduled sweep completed", "expired", count)
	}
}
