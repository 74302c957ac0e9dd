// Package asset manages owned units: delivering holdings to trade winners
// and listing, cancelling and off-shelving resale consignments, including
// the service fee money movements that accompany each step.
package asset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/config"
	"github.com/relicx/match-engine/internal/ledger"
	"github.com/relicx/match-engine/internal/model"
)

// Store is the persistence the asset service needs.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetItem(ctx context.Context, id string) (*model.Item, error)
	GetItemForUpdate(ctx context.Context, id string) (*model.Item, error)
	UpdateItemTrade(ctx context.Context, id string, stock, sales int, status string) error
	CreateHolding(ctx context.Context, h *model.Holding) error
	GetHoldingForUpdate(ctx context.Context, id string) (*model.Holding, error)
	GetConsignmentForUpdate(ctx context.Context, id string) (*model.ConsignmentListing, error)
}

// Ledger applies bucket mutations.
type Ledger interface {
	Apply(ctx context.Context, m ledger.Mutation) (*model.LedgerEntry, error)
}

// Registry drives consignment state transitions.
type Registry interface {
	Create(ctx context.Context, listing *model.ConsignmentListing, consumeFreeRelist bool) error
	Cancel(ctx context.Context, id string) (*model.ConsignmentListing, error)
	OffShelf(ctx context.Context, id string, grantFreeRelist bool, reason string) (*model.ConsignmentListing, error)
}

// Zones resolves price zones for new listings.
type Zones interface {
	ZoneForPrice(ctx context.Context, sessionID string, price decimal.Decimal) (*model.Zone, error)
}

// Service delivers holdings and manages consignment listings.
type Service struct {
	store    Store
	ledger   Ledger
	registry Registry
	zones    Zones
	clock    clock.Clock
}

// New creates an asset service.
func New(store Store, led Ledger, reg Registry, zones Zones, clk clock.Clock) *Service {
	return &Service{store: store, ledger: led, registry: reg, zones: zones, clock: clk}
}

// Deliver creates the buyer's holding for a completed trade and adjusts the
// item counters, inside the caller's transaction. A nil cons means the unit
// came from official stock: stock decrements (guarded against underflow) and
// the item auto-deactivates at zero. A consignment-sourced unit only bumps
// the sales counter; official stock is untouched.
func (s *Service) Deliver(ctx context.Context, order *model.Order, cons *model.ConsignmentListing) (*model.Holding, error) {
	item, err := s.store.GetItemForUpdate(ctx, order.ItemID)
	if err != nil {
		return nil, err
	}

	stock := item.Stock
	status := item.Status
	if cons == nil {
		if stock <= 0 {
			return nil, fmt.Errorf("item %s stock %d: %w", item.ID, stock, model.ErrInsufficientStock)
		}
		stock--
		if stock == 0 {
			status = model.ItemInactive
		}
	}
	if err := s.store.UpdateItemTrade(ctx, item.ID, stock, item.Sales+1, status); err != nil {
		return nil, err
	}

	h := &model.Holding{
		ID:            uuid.New().String(),
		OwnerID:       order.BuyerID,
		SourceOrderID: order.ID,
		ItemID:        order.ItemID,
		PricePaid:     order.Price,
		ConsignStatus: model.HoldingConsignNone,
		Delivered:     true,
		AcquiredAt:    s.clock.Now(),
	}
	if err := s.store.CreateHolding(ctx, h); err != nil {
		return nil, fmt.Errorf("create holding for order %s: %w", order.ID, err)
	}
	return h, nil
}

// CreateConsignment lists a holding for resale at askPrice. The holding must
// belong to the seller, be out of its post-acquisition lock window, and not
// already be consigned. Legacy holdings and free relists pay no service fee;
// otherwise the fee is debited from available into the fee bucket, to be
// rebated on sale or refunded on cancel/off-shelf.
func (s *Service) CreateConsignment(ctx context.Context, sellerID, holdingID string, askPrice decimal.Decimal, cfg config.Snapshot) (*model.ConsignmentListing, error) {
	var listing *model.ConsignmentListing
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		h, err := s.store.GetHoldingForUpdate(ctx, holdingID)
		if err != nil {
			return err
		}
		if h.OwnerID != sellerID {
			return fmt.Errorf("holding %s not owned by %s: %w", holdingID, sellerID, model.ErrNotOwner)
		}
		if h.ConsignStatus != model.HoldingConsignNone {
			return fmt.Errorf("holding %s in state %s: %w", holdingID, h.ConsignStatus, model.ErrAlreadyConsigned)
		}
		if !h.Delivered {
			return fmt.Errorf("holding %s not delivered: %w", holdingID, model.ErrHoldingLocked)
		}
		unlockAt := h.AcquiredAt.Add(time.Duration(cfg.UnlockHours) * time.Hour)
		if s.clock.Now().Before(unlockAt) {
			return fmt.Errorf("holding %s locked until %s: %w", holdingID, unlockAt.Format(time.RFC3339), model.ErrHoldingLocked)
		}

		item, err := s.store.GetItem(ctx, h.ItemID)
		if err != nil {
			return err
		}
		zone, err := s.zones.ZoneForPrice(ctx, item.SessionID, askPrice)
		if err != nil {
			return err
		}

		fee := decimal.Zero
		freeRelist := false
		switch {
		case h.Legacy:
			// legacy assets are exempt
		case h.FreeRelists > 0:
			freeRelist = true
		default:
			fee = askPrice.Mul(cfg.ServiceFeeRate).Round(2)
		}

		listing = &model.ConsignmentListing{
			ID:            uuid.New().String(),
			SellerID:      sellerID,
			HoldingID:     holdingID,
			ItemID:        h.ItemID,
			PackageID:     item.PackageID,
			ZoneID:        zone.ID,
			AskPrice:      askPrice,
			OriginalPrice: h.PricePaid,
			ServiceFee:    fee,
			Legacy:        h.Legacy,
			CreatedAt:     s.clock.Now(),
		}

		if fee.IsPositive() {
			flowNo := uuid.New().String()
			if _, err := s.ledger.Apply(ctx, ledger.Mutation{
				UserID:  sellerID,
				Bucket:  model.BucketAvailable,
				Delta:   fee.Neg(),
				Memo:    "consignment service fee",
				FlowNo:  flowNo,
				BizType: "consignment",
				BizID:   listing.ID,
			}); err != nil {
				return err
			}
			if _, err := s.ledger.Apply(ctx, ledger.Mutation{
				UserID:  sellerID,
				Bucket:  model.BucketFee,
				Delta:   fee,
				Memo:    "consignment service fee hold",
				FlowNo:  flowNo,
				BizType: "consignment",
				BizID:   listing.ID,
			}); err != nil {
				return err
			}
		}

		return s.registry.Create(ctx, listing, freeRelist)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("consignment listed",
		"consignment", listing.ID,
		"seller", sellerID,
		"holding", holdingID,
		"ask_price", askPrice.String(),
		"fee", listing.ServiceFee.String(),
		"legacy", listing.Legacy,
	)
	return listing, nil
}

// CancelConsignment withdraws a selling listing at the seller's request and
// refunds the held service fee.
func (s *Service) CancelConsignment(ctx context.Context, sellerID, consignmentID string) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.store.GetConsignmentForUpdate(ctx, consignmentID)
		if err != nil {
			return err
		}
		if c.SellerID != sellerID {
			return fmt.Errorf("consignment %s not owned by %s: %w", consignmentID, sellerID, model.ErrNotOwner)
		}
		if _, err := s.registry.Cancel(ctx, consignmentID); err != nil {
			return err
		}
		return s.refundFee(ctx, c, "consignment fee refund (cancelled)")
	})
}

// OffShelfConsignment pulls an unmatched listing at the end of a match run,
// inside the caller's transaction. The seller gets a free relist attempt and
// the held service fee back.
func (s *Service) OffShelfConsignment(ctx context.Context, consignmentID, reason string) error {
	c, err := s.registry.OffShelf(ctx, consignmentID, true, reason)
	if err != nil {
		return err
	}
	return s.refundFee(ctx, c, "consignment fee refund (off shelf)")
}

// refundFee moves a held service fee back from the fee bucket to available.
// Legacy listings never held one.
func (s *Service) refundFee(ctx context.Context, c *model.ConsignmentListing, memo string) error {
	if c.Legacy || !c.ServiceFee.IsPositive() {
		return nil
	}
	flowNo := uuid.New().String()
	if _, err := s.ledger.Apply(ctx, ledger.Mutation{
		UserID:  c.SellerID,
		Bucket:  model.BucketFee,
		Delta:   c.ServiceFee.Neg(),
		Memo:    memo,
		FlowNo:  flowNo,
		BizType: "consignment",
		BizID:   c.ID,
	}); err != nil {
		return err
	}
	_, err := s.ledger.Apply(ctx, ledger.Mutation{
		UserID:  c.SellerID,
		Bucket:  model.BucketAvailable,
		Delta:   c.ServiceFee,
		Memo:    memo,
		FlowNo:  flowNo,
		BizType: "consignment",
		BizID:   c.ID,
	})
	return err
}
