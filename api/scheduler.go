/*
scheduler.go - Background label refresh

PURPOSE:
  Periodically recomputes each credit's behavior label from its ledger
  and persists it. Labels summarize repayment history (excellent, good,
  late, incomplete) and feed renewal decisions; everything else about a
  credit is recomputed on read, but labels are sticky so a closed
  credit's history survives later schema sweeps cheaply.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - One sweep reads every credit's ledger and reclassifies it
  - Writes only on change; an unchanged label costs one read

USAGE:
  s := NewLabelScheduler(store, logger)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - credit/label.go: DeriveLabel rules
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gesakro/prestamos/credit"
)

// LabelScheduler refreshes credit labels in the background.
type LabelScheduler struct {
	Store         credit.Store
	Log           *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewLabelScheduler creates a scheduler with a one-hour interval.
func NewLabelScheduler(st credit.Store, log *zap.Logger) *LabelScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &LabelScheduler{
		Store:         st,
		Log:           log,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *LabelScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("label scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	s.Log.Info("label scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *LabelScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
}

func (s *LabelScheduler) run() {
	defer s.wg.Done()

	// First sweep right away so a restart doesn't wait an hour.
	s.Sweep(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Sweep reclassifies every credit and persists changed labels. It is
// exported so the serve command can trigger one manually.
func (s *LabelScheduler) Sweep(ctx context.Context) {
	credits, err := s.Store.ListCredits(ctx)
	if err != nil {
		s.Log.Warn("label sweep: list credits failed", zap.Error(err))
		return
	}

	today := credit.Today()
	updated := 0
	for _, c := range credits {
		label, err := s.classify(ctx, c, today)
		if err != nil {
			s.Log.Warn("label sweep: classification failed",
				zap.String("credit_id", string(c.ID)), zap.Error(err))
			continue
		}
		if label == c.Label {
			continue
		}
		if err := s.Store.SetLabel(ctx, c.ID, label); err != nil {
			s.Log.Warn("label sweep: save failed",
				zap.String("credit_id", string(c.ID)), zap.Error(err))
			continue
		}
		updated++
	}

	if updated > 0 {
		s.Log.Info("label sweep finished", zap.Int("updated", updated), zap.Int("total", len(credits)))
	}
}

func (s *LabelScheduler) classify(ctx context.Context, c *credit.Credit, today credit.Date) (credit.Label, error) {
	payments, err := s.Store.PaymentsByCredit(ctx, c.ID)
	if err != nil {
		return "", err
	}
	fines, err := s.Store.FinesByCredit(ctx, c.ID)
	if err != nil {
		return "", err
	}
	finePayments, err := s.Store.FinePaymentsByCredit(ctx, c.ID)
	if err != nil {
		return "", err
	}
	defs, err := s.Store.DeferralsByCredit(ctx, c.ID)
	if err != nil {
		return "", err
	}

	deferrals := credit.NewDeferralSet(defs)
	balances := credit.Allocate(c.Installments, c.InstallmentValue, payments)
	fineBalances := credit.CoverFines(fines, finePayments)
	status := credit.ClassifyStatus(c, balances, credit.FineOutstandingByInstallment(fineBalances), deferrals, today)

	return credit.DeriveLabel(status, c.Renewed, len(fines), len(defs)), nil
}
