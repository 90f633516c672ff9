/**
 * @description
 * Background sweeper that fails stale orders. An order stuck in `requested`
 * past the configured age means the gateway call never reconciled (crash,
 * timeout); the sweep marks it and its transaction failed so the reference id
 * becomes retryable and the reserved capacity is released.
 */

package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ideainvest/investment-service/internal/store"
)

var staleOrderPayload = json.RawMessage(`{"error":{"code":"order_stale","message":"order timed out before payment reconciliation"}}`)

// StaleOrderSweeper periodically fails orders stuck in the requested state.
type StaleOrderSweeper struct {
	repo       store.Repository
	staleAfter time.Duration
	schedule   string
	cron       *cron.Cron
}

func NewStaleOrderSweeper(repo store.Repository, staleAfter time.Duration, schedule string) *StaleOrderSweeper {
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	if schedule == "" {
		schedule = "@every 5m"
	}
	return &StaleOrderSweeper{
		repo:       repo,
		staleAfter: staleAfter,
		schedule:   schedule,
	}
}

// Start registers the sweep job and starts the scheduler. A panicking sweep
// must not take the scheduler down with it.
func (s *StaleOrderSweeper) Start() error {
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("level=info component=sweeper msg=\"stale order sweeper started\" schedule=%q stale_after=%s", s.schedule, s.staleAfter)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *StaleOrderSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *StaleOrderSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.staleAfter)
	count, err := s.repo.MarkStaleOrdersFailed(ctx, cutoff, staleOrderPayload)
	if err != nil {
		log.Printf("level=error component=sweeper msg=\"stale order sweep failed\" err=%v", err)
		return
	}
	if count > 0 {
		log.Printf("level=info component=sweeper msg=\"stale orders failed\" count=%d cutoff=%s", count, cutoff.Format(time.RFC3339))
	}
}
