// Package jobs runs the periodic background work: the dispute deadline
// sweep, the settlement reconciliation retry, and the failed refund retry.
package jobs

import (
	"context"
	"sync"
	"time"

	"payout-core/pkg/logging"
)

// DisputeSweeper escalates disputes whose response deadline has passed.
type DisputeSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// SettlementRetrier re-runs reconciliation over pending batches.
type SettlementRetrier interface {
	ReconcilePending(ctx context.Context) (int, error)
}

// RefundRetrier re-drives refunds whose processor call failed.
type RefundRetrier interface {
	RetryAllFailed(ctx context.Context) (int, error)
}

// Runner owns the background tickers.
type Runner struct {
	disputes    DisputeSweeper
	settlements SettlementRetrier
	refunds     RefundRetrier

	disputeEvery    time.Duration
	settlementEvery time.Duration
	refundEvery     time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates the background job runner
func NewRunner(disputes DisputeSweeper, settlements SettlementRetrier, refunds RefundRetrier, disputeEvery, settlementEvery, refundEvery time.Duration) *Runner {
	return &Runner{
		disputes:        disputes,
		settlements:     settlements,
		refunds:         refunds,
		disputeEvery:    disputeEvery,
		settlementEvery: settlementEvery,
		refundEvery:     refundEvery,
	}
}

// Start launches the tickers. Each job also runs once at startup so a
// restart never delays overdue work by a full interval.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go r.loop(ctx, "dispute sweep", r.disputeEvery, r.sweepDisputes)
	r.wg.Add(1)
	go r.loop(ctx, "settlement retry", r.settlementEvery, r.retrySettlements)
	r.wg.Add(1)
	go r.loop(ctx, "refund retry", r.refundEvery, r.retryRefunds)
}

func (r *Runner) loop(ctx context.Context, name string, every time.Duration, run func(context.Context)) {
	defer r.wg.Done()
	logging.Infof("Background job started - job: %s, interval: %s", name, every)

	run(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			run(ctx)
		case <-ctx.Done():
			logging.Infof("Background job stopped - job: %s", name)
			return
		}
	}
}

func (r *Runner) sweepDisputes(ctx context.Context) {
	advanced, err := r.disputes.Sweep(ctx, time.Now())
	if err != nil {
		logging.Errorf("Dispute sweep failed: %v", err)
		return
	}
	if advanced > 0 {
		logging.Infof("Dispute sweep advanced %d expired disputes", advanced)
	}
}

func (r *Runner) retrySettlements(ctx context.Context) {
	done, err := r.settlements.ReconcilePending(ctx)
	if err != nil {
		logging.Errorf("Settlement retry failed: %v", err)
		return
	}
	if done > 0 {
		logging.Infof("Settlement retry reconciled %d pending batches", done)
	}
}

func (r *Runner) retryRefunds(ctx context.Context) {
	retried, err := r.refunds.RetryAllFailed(ctx)
	if err != nil {
		logging.Errorf("Refund retry failed: %v", err)
		return
	}
	if retried > 0 {
		logging.Infof("Refund retry re-drove %d failed refunds", retried)
	}
}

// Stop cancels the tickers and waits for in-flight runs.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
