package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/config"
	"github.com/relicx/match-engine/internal/ledger"
	"github.com/relicx/match-engine/internal/metrics"
	"github.com/relicx/match-engine/internal/model"
)

// execute settles one winning buy order in its own transaction: fund the
// purchase, create the order, deliver the holding, run appreciation, and —
// for consignment-sourced units — mark the listing sold and distribute the
// proceeds. Post-commit side effects (notifications, broadcast) fire only
// after the transaction commits.
func (e *Engine) execute(ctx context.Context, bo *model.BuyOrder, cons *model.ConsignmentListing, cfg config.Snapshot, batchNo string) error {
	start := time.Now()
	source := "stock"
	if cons != nil {
		source = "consignment"
	}

	var order *model.Order
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		locked, err := e.store.GetBuyOrderForUpdate(ctx, bo.ID)
		if err != nil {
			return err
		}
		if locked.Status != model.BuyOrderPending {
			return fmt.Errorf("buy order %s status %s: %w", bo.ID, locked.Status, model.ErrOrderNotPending)
		}

		price := tradePrice(locked)
		if err := e.fund(ctx, locked, price, batchNo); err != nil {
			return err
		}

		now := e.clock.Now()
		order = &model.Order{
			ID:        uuid.New().String(),
			BuyerID:   locked.BuyerID,
			ItemID:    locked.ItemID,
			SessionID: locked.SessionID,
			ZoneID:    locked.ZoneID,
			Price:     price,
			Status:    model.OrderPaid,
			CreatedAt: now,
			PaidAt:    now,
		}
		if err := e.store.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		holding, err := e.assets.Deliver(ctx, order, cons)
		if err != nil {
			return err
		}

		item, err := e.store.GetItem(ctx, locked.ItemID)
		if err != nil {
			return err
		}
		appreciated, err := e.appr.CheckAndAppreciate(ctx, item, cfg.AppreciationRate, order.ID, holding.ID)
		if err != nil {
			return err
		}
		if appreciated {
			metrics.AppreciationsTotal.Inc()
		}

		if cons != nil {
			if _, err := e.registry.MarkSold(ctx, cons.ID); err != nil {
				return err
			}
			payout, err := e.settler.Distribute(ctx, cons.ID, price, order.ID, cfg, batchNo)
			if err != nil {
				return err
			}
			metrics.SettlementPayouts.WithLabelValues("withdrawable").Add(payout.ToWithdrawable.InexactFloat64())
			metrics.SettlementPayouts.WithLabelValues("score").Add(payout.ToScore.InexactFloat64())
		}

		return e.store.MarkBuyOrderMatched(ctx, locked.ID, order.ID)
	})
	if err != nil {
		return err
	}

	metrics.TradeLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if e.hub != nil {
		e.hub.Broadcast(WSMessage{
			Type:      "trade_executed",
			SessionID: order.SessionID,
			ItemID:    order.ItemID,
			ZoneID:    order.ZoneID,
			BuyerID:   order.BuyerID,
			Price:     order.Price.String(),
			Source:    source,
		})
	}
	e.notifier.TradeExecuted(ctx, order)
	return nil
}

// fund pays for the trade out of the buyer's session reservation, topped up
// from the available bucket when the reservation does not cover the price.
func (e *Engine) fund(ctx context.Context, bo *model.BuyOrder, price decimal.Decimal, batchNo string) error {
	remaining := decimal.Zero
	var resv *model.Reservation
	r, err := e.store.GetReservationForUpdate(ctx, bo.BuyerID, bo.SessionID)
	switch {
	case err == nil:
		resv = r
		remaining = r.Remaining
	case errors.Is(err, model.ErrNotFound):
		// no reservation; the whole price comes from available
	default:
		return err
	}

	fromReservation := price
	if remaining.LessThan(price) {
		fromReservation = remaining
	}
	shortfall := price.Sub(fromReservation)

	if shortfall.IsPositive() {
		if _, err := e.ledger.Apply(ctx, ledger.Mutation{
			UserID:  bo.BuyerID,
			Bucket:  model.BucketAvailable,
			Delta:   shortfall.Neg(),
			Memo:    "trade payment",
			BatchNo: batchNo,
			BizType: "buy_order",
			BizID:   bo.ID,
		}); err != nil {
			return err
		}
	}
	if resv != nil && fromReservation.IsPositive() {
		if err := e.store.UpdateReservationRemaining(ctx, resv.ID, remaining.Sub(fromReservation)); err != nil {
			return err
		}
	}
	return nil
}

// refund returns a pending buy order's committed funds to the buyer's
// available bucket and marks the order refunded. Idempotent: an order that
// already left pending is skipped.
func (e *Engine) refund(ctx context.Context, buyOrderID, batchNo string) error {
	return e.store.WithTx(ctx, func(ctx context.Context) error {
		bo, err := e.store.GetBuyOrderForUpdate(ctx, buyOrderID)
		if err != nil {
			return err
		}
		if bo.Status != model.BuyOrderPending {
			return nil
		}

		price := tradePrice(bo)
		r, err := e.store.GetReservationForUpdate(ctx, bo.BuyerID, bo.SessionID)
		if err == nil {
			release := price
			if r.Remaining.LessThan(release) {
				release = r.Remaining
			}
			if err := e.store.UpdateReservationRemaining(ctx, r.ID, r.Remaining.Sub(release)); err != nil {
				return err
			}
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		if _, err := e.ledger.Apply(ctx, ledger.Mutation{
			UserID:  bo.BuyerID,
			Bucket:  model.BucketAvailable,
			Delta:   price,
			Memo:    "pool entry refund",
			BatchNo: batchNo,
			BizType: "buy_order",
			BizID:   bo.ID,
		}); err != nil {
			return err
		}
		return e.store.MarkBuyOrderRefunded(ctx, bo.ID)
	})
}
