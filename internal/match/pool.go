package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/relicx/match-engine/internal/ledger"
	"github.com/relicx/match-engine/internal/metrics"
	"github.com/relicx/match-engine/internal/model"
)

// PoolEntry is a request to join the matching pool for one item.
type PoolEntry struct {
	SessionID string `json:"session_id"`
	ItemID    string `json:"item_id"`
	BuyerID   string `json:"buyer_id"`
	Weight    int64  `json:"weight"`
}

// EnterPool commits a buyer to an item at its current reference price: the
// price moves from the available bucket into a per-session reservation and a
// pending buy order joins the pool. The committed amount is what the buyer
// pays even if the item appreciates before the match runs.
func (e *Engine) EnterPool(ctx context.Context, in PoolEntry) (*model.BuyOrder, error) {
	if in.Weight <= 0 {
		in.Weight = 1
	}

	var bo *model.BuyOrder
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		sess, err := e.markets.ResolveOpenSession(ctx, in.SessionID)
		if err != nil {
			return err
		}
		item, err := e.store.GetItem(ctx, in.ItemID)
		if err != nil {
			return err
		}
		if item.Status != model.ItemActive {
			return fmt.Errorf("item %s: %w", item.ID, model.ErrItemInactive)
		}
		amount := item.Price

		if _, err := e.ledger.Apply(ctx, ledger.Mutation{
			UserID:  in.BuyerID,
			Bucket:  model.BucketAvailable,
			Delta:   amount.Neg(),
			Memo:    "pool entry reservation",
			BizType: "pool_entry",
			BizID:   item.ID,
		}); err != nil {
			return err
		}

		r, err := e.store.GetReservationForUpdate(ctx, in.BuyerID, sess.ID)
		switch {
		case err == nil:
			if err := e.store.UpdateReservationRemaining(ctx, r.ID, r.Remaining.Add(amount)); err != nil {
				return err
			}
		case errors.Is(err, model.ErrNotFound):
			if err := e.store.CreateReservation(ctx, &model.Reservation{
				ID:        uuid.New().String(),
				UserID:    in.BuyerID,
				SessionID: sess.ID,
				Remaining: amount,
				CreatedAt: e.clock.Now(),
			}); err != nil {
				return err
			}
		default:
			return err
		}

		bo = &model.BuyOrder{
			ID:        uuid.New().String(),
			SessionID: sess.ID,
			ItemID:    item.ID,
			ZoneID:    item.ZoneID,
			BuyerID:   in.BuyerID,
			Weight:    in.Weight,
			Amount:    amount,
			Status:    model.BuyOrderPending,
			CreatedAt: e.clock.Now(),
		}
		return e.store.CreateBuyOrder(ctx, bo)
	})
	if err != nil {
		return nil, err
	}

	metrics.PoolEntriesTotal.Inc()
	return bo, nil
}

// CancelBuyOrder withdraws a pending pool entry at the buyer's request and
// returns the committed funds to the available bucket.
func (e *Engine) CancelBuyOrder(ctx context.Context, buyerID, buyOrderID string) error {
	return e.store.WithTx(ctx, func(ctx context.Context) error {
		bo, err := e.store.GetBuyOrderForUpdate(ctx, buyOrderID)
		if err != nil {
			return err
		}
		if bo.BuyerID != buyerID {
			return fmt.Errorf("buy order %s not owned by %s: %w", buyOrderID, buyerID, model.ErrNotOwner)
		}
		if bo.Status != model.BuyOrderPending {
			return fmt.Errorf("buy order %s status %s: %w", buyOrderID, bo.Status, model.ErrOrderNotPending)
		}
		return e.refund(ctx, buyOrderID, "")
	})
}
