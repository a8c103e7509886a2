/*
Package bulk applies a date deferral across many accounts.

PURPOSE:
  The one long-running operation in the system. Each account is processed
  independently: a failed account is recorded and the batch continues, so
  the result is a success count plus a per-item error list rather than
  all-or-nothing. The caller polls live progress while the job runs and can
  cancel between items; cancellation returns the partial count accumulated
  so far.

CONCURRENCY:
  Items run on a bounded worker pool. Writes to the same
  (credit, installment) deferral key are serialized by the Store, not here;
  the runner only guarantees it performs no read-modify-write of its own
  across items.
*/
package bulk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gesakro/prestamos/credit"
)

// =============================================================================
// ITEMS AND RESULTS
// =============================================================================

// Item is one account's deferral request. Empty Installments means "every
// installment whose effective due date is on or before the viewed date".
type Item struct {
	CreditID     credit.CreditID
	Installments []int
}

// ItemError records one account's failure without stopping the batch.
type ItemError struct {
	CreditID credit.CreditID
	Err      error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("credit %s: %v", e.CreditID, e.Err)
}

// PartialBatchFailure is the non-fatal aggregate error for a batch that
// finished with some items failed.
type PartialBatchFailure struct {
	Succeeded int
	Failed    []ItemError
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("bulk deferral: %d succeeded, %d failed", e.Succeeded, len(e.Failed))
}

// Result is the outcome of a batch run.
type Result struct {
	Succeeded int
	Failed    []ItemError
	Canceled  bool
}

// Err returns nil for a clean run, or a PartialBatchFailure. The caller
// decides whether a partial failure is a warning or an abort.
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &PartialBatchFailure{Succeeded: r.Succeeded, Failed: r.Failed}
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner executes bulk deferrals against a Store.
type Runner struct {
	Store   credit.Store
	Log     *zap.Logger
	Workers int // bounded pool size; <=1 means sequential
}

func NewRunner(st credit.Store, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{Store: st, Log: log, Workers: 4}
}

// Run applies newDate to every item. viewDate is the date the operator was
// looking at: it selects installments for items without an explicit list,
// and it is the source date for migrating a client's not-found marker.
func (r *Runner) Run(ctx context.Context, items []Item, newDate, viewDate credit.Date, reason string) *Result {
	job := r.Start(ctx, items, newDate, viewDate, reason)
	<-job.Done()
	return job.Result()
}

// Start launches the batch in the background and returns a handle the
// caller can poll for progress, wait on, or cancel.
func (r *Runner) Start(ctx context.Context, items []Item, newDate, viewDate credit.Date, reason string) *Job {
	runCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		total:  len(items),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(job.done)
		defer cancel()
		job.result = r.run(runCtx, job, items, newDate, viewDate, reason)
	}()

	return job
}

func (r *Runner) run(ctx context.Context, job *Job, items []Item, newDate, viewDate credit.Date, reason string) *Result {
	result := &Result{}
	var mu sync.Mutex

	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	g := &errgroup.Group{}
	g.SetLimit(workers)

	// Store calls run on a detached context: Cancel stops the batch at the
	// between-items check below, never by aborting an item's writes halfway
	// through its deferrals and marker migration.
	itemCtx := context.WithoutCancel(ctx)

	for _, item := range items {
		// Cancellation takes effect between items, never mid-item.
		if ctx.Err() != nil {
			mu.Lock()
			result.Canceled = true
			mu.Unlock()
			break
		}

		item := item
		g.Go(func() error {
			err := r.deferOne(itemCtx, item, newDate, viewDate, reason)
			job.processed.Add(1)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, ItemError{CreditID: item.CreditID, Err: err})
				r.Log.Warn("bulk deferral item failed",
					zap.String("credit_id", string(item.CreditID)),
					zap.Error(err))
			} else {
				result.Succeeded++
			}
			return nil
		})
	}

	g.Wait()
	if ctx.Err() != nil {
		result.Canceled = true
	}

	r.Log.Info("bulk deferral finished",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", len(result.Failed)),
		zap.Bool("canceled", result.Canceled))
	return result
}

// deferOne processes a single account end to end. The deferral writes and
// the marker migration use the store's own per-key serialization.
func (r *Runner) deferOne(ctx context.Context, item Item, newDate, viewDate credit.Date, reason string) error {
	c, err := r.Store.GetCredit(ctx, item.CreditID)
	if err != nil {
		return err
	}

	numbers := item.Installments
	if len(numbers) == 0 {
		numbers, err = r.dueInstallments(ctx, c, viewDate)
		if err != nil {
			return err
		}
	}

	for _, n := range numbers {
		d := credit.Deferral{
			CreditID:          c.ID,
			InstallmentNumber: n,
			NewDueDate:        newDate,
			Reason:            reason,
		}
		if err := credit.ValidateDeferral(c, d); err != nil {
			return err
		}
		if err := r.Store.UpsertDeferral(ctx, d); err != nil {
			return err
		}
	}

	return r.migrateNotFound(ctx, c.ClientID, viewDate, newDate)
}

// dueInstallments resolves the implicit selection: every installment whose
// effective due date is on or before the viewed date.
func (r *Runner) dueInstallments(ctx context.Context, c *credit.Credit, viewDate credit.Date) ([]int, error) {
	deferrals, err := r.Store.DeferralsByCredit(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	set := credit.NewDeferralSet(deferrals)

	var numbers []int
	for _, inst := range c.Installments {
		due := set.EffectiveDueDate(c.ID, inst.Number, inst.ScheduledDate)
		if due.BeforeOrEqual(viewDate) {
			numbers = append(numbers, inst.Number)
		}
	}
	return numbers, nil
}

// migrateNotFound moves the client's not-found marker from the source date
// to the new date, so the exception queue follows the deferral.
func (r *Runner) migrateNotFound(ctx context.Context, clientID credit.ClientID, from, to credit.Date) error {
	markers, err := r.Store.NotFoundForDate(ctx, from)
	if err != nil {
		return err
	}
	for _, m := range markers {
		if m.ClientID != clientID {
			continue
		}
		if err := r.Store.MarkNotFound(ctx, credit.NotFoundMarker{Date: to, ClientID: clientID}); err != nil {
			return err
		}
		if err := r.Store.ClearNotFound(ctx, from, clientID); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// JOB HANDLE
// =============================================================================

// Job is a running (or finished) bulk deferral.
type Job struct {
	total     int
	processed atomic.Int64
	done      chan struct{}
	cancel    context.CancelFunc
	result    *Result
}

// Progress returns processed/total for live display.
func (j *Job) Progress() (processed, total int) {
	return int(j.processed.Load()), j.total
}

// Done is closed when the batch has finished or been canceled.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel stops the batch between items. Items already in flight complete.
func (j *Job) Cancel() { j.cancel() }

// Result returns the outcome once Done is closed, else nil.
func (j *Job) Result() *Result {
	select {
	case <-j.done:
		return j.result
	default:
		return nil
	}
}
