// Package sweep runs the periodic escrow expiry pass. Expiry is not
// scheduled per escrow; a cron job reads the due range from the expiry
// index and drives each escrow through its expiry transition.
package sweep

import (
	"context"
	"time"

	"agent-settlement-engine/internal/core/ports"
	"agent-settlement-engine/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper expires due escrows on a cron schedule.
type Sweeper struct {
	index   ports.ExpiryIndex
	escrows *service.EscrowEngine
	orch    *service.TransactionOrchestrator
	batch   int
	log     zerolog.Logger
	cron    *cron.Cron
	now     func() time.Time
}

// NewSweeper creates a Sweeper. batch bounds how many escrows one pass
// handles.
func NewSweeper(index ports.ExpiryIndex, escrows *service.EscrowEngine, orch *service.TransactionOrchestrator, batch int, log zerolog.Logger) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		index:   index,
		escrows: escrows,
		orch:    orch,
		batch:   batch,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the sweeper's time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start schedules the sweep. The schedule accepts cron expressions and
// @every intervals.
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() {
		s.Run(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("schedule", schedule).Msg("expiry sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Run performs one sweep pass and reports how many escrows expired. One
// failing escrow does not stop the pass.
func (s *Sweeper) Run(ctx context.Context) int {
	due, err := s.index.Due(ctx, s.now(), s.batch)
	if err != nil {
		s.log.Error().Err(err).Msg("expiry sweep: reading due escrows failed")
		return 0
	}

	expired := 0
	for _, escrowID := range due {
		_, didExpire, err := s.escrows.Expire(ctx, escrowID)
		if err != nil {
			s.log.Error().Err(err).Str("escrow_id", escrowID).Msg("expiry sweep: expire failed")
			continue
		}
		if !didExpire {
			continue
		}
		expired++
		if err := s.orch.HandleEscrowExpiry(ctx, escrowID); err != nil {
			s.log.Error().Err(err).Str("escrow_id", escrowID).Msg("expiry sweep: transaction expiry handling failed")
		}
	}

	if expired > 0 {
		s.log.Info().Int("expired", expired).Int("due", len(due)).Msg("expiry sweep completed")
	}
	return expired
}
