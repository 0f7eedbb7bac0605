package services

import (
	"context"
	"errors"
	"log"
	"time"

	"telemed/internal/store"
)

type VerificationLister interface {
	ListVerificationNeeded(ctx context.Context) ([]store.Transaction, error)
}

type Settler interface {
	CheckStatus(ctx context.Context, adminID, transactionID string) error
}

// Reconciler periodically resolves withdrawals parked as verification_needed
// by asking the processor for each transfer's real state. One bad transaction
// never stops the sweep.
type Reconciler struct {
	txs         VerificationLister
	settler     Settler
	interval    time.Duration
	startDelay  time.Duration
	listTimeout time.Duration
	sweepBudget time.Duration
}

func NewReconciler(txs VerificationLister, settler Settler, interval, startDelay time.Duration) *Reconciler {
	return &Reconciler{
		txs:         txs,
		settler:     settler,
		interval:    interval,
		startDelay:  startDelay,
		listTimeout: 5 * time.Second,
		sweepBudget: 25 * time.Second,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(r.startDelay):
	}
	r.sweep(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	started := time.Now()
	listCtx, cancel := context.WithTimeout(ctx, r.listTimeout)
	pending, err := r.txs.ListVerificationNeeded(listCtx)
	cancel()
	if err != nil {
		log.Printf("reconciler: list parked withdrawals: %v", err)
		return
	}
	var settled, failed int
	for _, txn := range pending {
		if ctx.Err() != nil {
			return
		}
		opCtx, cancel := context.WithTimeout(ctx, r.listTimeout)
		err := r.settler.CheckStatus(opCtx, "", txn.ID)
		cancel()
		switch {
		case err == nil:
			settled++
		case errors.Is(err, ErrStillPending):
		default:
			failed++
			log.Printf("reconciler: withdrawal %s: %v", txn.ID, err)
		}
	}
	elapsed := time.Since(started)
	if elapsed > r.sweepBudget {
		log.Printf("reconciler: sweep of %d withdrawals took %s", len(pending), elapsed)
	}
	if settled > 0 || failed > 0 {
		log.Printf("reconciler: swept %d withdrawals, %d resolved, %d errored", len(pending), settled, failed)
	}
}
