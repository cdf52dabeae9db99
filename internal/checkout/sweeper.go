package checkout

import (
	"context"
	"log/slog"
	"time"

	"github.com/prizeshop/checkout-engine/internal/metrics"
	"github.com/prizeshop/checkout-engine/internal/model"
	"github.com/prizeshop/checkout-engine/internal/payment"
)

// Sweeper reconciles orders stuck mid-pipeline: gateway orders whose
// webhook never arrived, and confirmed orders whose ticket issuance
// failed. Gateway orders are confirmed or failed from the gateway's own
// status; orders unresolved past AbandonAfter are marked abandoned so
// nothing waits forever on a webhook that will never come.
type Sweeper struct {
	svc            *Service
	interval       time.Duration
	paymentTimeout time.Duration
	abandonAfter   time.Duration
}

// NewSweeper creates a reconciliation sweeper.
func NewSweeper(svc *Service, interval, paymentTimeout, abandonAfter time.Duration) *Sweeper {
	return &Sweeper{
		svc:            svc,
		interval:       interval,
		paymentTimeout: paymentTimeout,
		abandonAfter:   abandonAfter,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
// Must be called in a goroutine.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			sw.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass.
func (sw *Sweeper) Sweep(ctx context.Context) {
	sw.sweepAwaitingPayment(ctx)
	sw.retryUnfinalized(ctx)
}

func (sw *Sweeper) sweepAwaitingPayment(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-sw.paymentTimeout)
	stale, err := sw.svc.store.ListStaleAwaitingPayment(ctx, cutoff)
	if err != nil {
		slog.Error("sweep: failed to list stale orders", "err", err)
		return
	}

	for _, o := range stale {
		status, err := sw.svc.gateway.Status(ctx, o.ID)
		if err != nil {
			slog.Warn("sweep: gateway status query failed", "order", o.ID, "err", err)
			status = payment.StatusUnknown
		}

		switch status {
		case payment.StatusPaid:
			if _, err := sw.svc.HandleGatewayResult(ctx, o.ID, true); err != nil {
				slog.Error("sweep: failed to confirm order", "order", o.ID, "err", err)
				continue
			}
			metrics.SweepResolutions.WithLabelValues("confirmed").Inc()
			slog.Info("sweep: order confirmed from gateway status", "order", o.ID)

		case payment.StatusFailed:
			if _, err := sw.svc.HandleGatewayResult(ctx, o.ID, false); err != nil {
				slog.Error("sweep: failed to fail order", "order", o.ID, "err", err)
				continue
			}
			metrics.SweepResolutions.WithLabelValues("failed").Inc()
			slog.Info("sweep: order failed from gateway status", "order", o.ID)

		default:
			// Pending or unreachable: abandon only once the order is old
			// enough that the webhook is clearly never coming.
			if o.CreatedAt.Before(time.Now().UTC().Add(-sw.abandonAfter)) {
				if err := sw.svc.store.UpdateOrderStatus(ctx, o.ID, model.PaymentFailed, model.FulfillmentAbandoned, nil); err != nil {
					slog.Error("sweep: failed to abandon order", "order", o.ID, "err", err)
					continue
				}
				metrics.SweepResolutions.WithLabelValues("abandoned").Inc()
				slog.Warn("sweep: order abandoned", "order", o.ID, "age", time.Since(o.CreatedAt))
			}
		}
	}
}

// retryUnfinalized re-runs finalize for confirmed orders that never
// completed. Issuance is idempotent on order id, so a retry can never
// duplicate tickets.
func (sw *Sweeper) retryUnfinalized(ctx context.Context) {
	confirmed, err := sw.svc.store.ListConfirmedOrders(ctx)
	if err != nil {
		slog.Error("sweep: failed to list confirmed orders", "err", err)
		return
	}

	for _, o := range confirmed {
		// Skip orders confirmed within the last interval; their finalize
		// may still be in flight. Payment time is the reference — a
		// gateway order can be confirmed long after creation. Issuance
		// is first-writer-wins per order, so an early retry is harmless,
		// this just avoids redundant work.
		ref := o.CreatedAt
		if o.PaidAt != nil {
			ref = *o.PaidAt
		}
		if time.Since(ref) < sw.interval {
			continue
		}
		order := o
		if err := sw.svc.finalize(ctx, &order); err != nil {
			slog.Error("sweep: finalize retry failed", "order", o.ID, "err", err)
			continue
		}
		metrics.SweepResolutions.WithLabelValues("finalized").Inc()
	}
}
