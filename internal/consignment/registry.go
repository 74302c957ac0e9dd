// Package consignment implements the state machine for a seller's resale
// listing and its linked holding. The listing moves selling → {sold,
// cancelled, off_shelf}; all non-selling states are terminal. The holding's
// mirrored consignment status is kept in lockstep: selling→selling,
// sold→sold, anything else→none.
package consignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/model"
)

// Store is the persistence the registry needs. All transitions run inside
// the caller's transaction; the *ForUpdate reads hold row locks until commit.
type Store interface {
	CreateConsignment(ctx context.Context, c *model.ConsignmentListing) error
	GetConsignmentForUpdate(ctx context.Context, id string) (*model.ConsignmentListing, error)
	UpdateConsignmentStatus(ctx context.Context, id string, status model.ConsignmentStatus, soldAt *time.Time, offShelfReason string) error
	GetHoldingForUpdate(ctx context.Context, id string) (*model.Holding, error)
	UpdateHoldingConsign(ctx context.Context, id, consignStatus string, freeRelists int) error
}

// Registry drives consignment state transitions.
type Registry struct {
	store Store
	clock clock.Clock
}

// New creates a registry.
func New(store Store, clk clock.Clock) *Registry {
	return &Registry{store: store, clock: clk}
}

// Create lists a holding for resale. The holding must not be consigned
// already; consumeFreeRelist burns one free-relist attempt (the caller has
// verified one exists and waived the fee accordingly).
func (r *Registry) Create(ctx context.Context, listing *model.ConsignmentListing, consumeFreeRelist bool) error {
	h, err := r.store.GetHoldingForUpdate(ctx, listing.HoldingID)
	if err != nil {
		return err
	}
	if h.ConsignStatus != model.HoldingConsignNone {
		return fmt.Errorf("holding %s in state %s: %w", h.ID, h.ConsignStatus, model.ErrAlreadyConsigned)
	}

	relists := h.FreeRelists
	if consumeFreeRelist && relists > 0 {
		relists--
	}
	if err := r.store.UpdateHoldingConsign(ctx, h.ID, model.HoldingConsignSelling, relists); err != nil {
		return err
	}

	listing.Status = model.ConsignmentSelling
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = r.clock.Now()
	}
	return r.store.CreateConsignment(ctx, listing)
}

// MarkSold transitions selling → sold, stamping the sold time and mirroring
// the holding to sold.
func (r *Registry) MarkSold(ctx context.Context, id string) (*model.ConsignmentListing, error) {
	return r.transition(ctx, id, model.ConsignmentSold, model.HoldingConsignSold, 0, "")
}

// Cancel transitions selling → cancelled; the holding returns to none.
func (r *Registry) Cancel(ctx context.Context, id string) (*model.ConsignmentListing, error) {
	return r.transition(ctx, id, model.ConsignmentCancelled, model.HoldingConsignNone, 0, "")
}

// OffShelf transitions selling → off_shelf; the holding returns to none.
// grantFreeRelist adds one free relist attempt as compensation (a session
// that closed without matching the listing). The reason is recorded for
// audit.
func (r *Registry) OffShelf(ctx context.Context, id string, grantFreeRelist bool, reason string) (*model.ConsignmentListing, error) {
	grant := 0
	if grantFreeRelist {
		grant = 1
	}
	c, err := r.transition(ctx, id, model.ConsignmentOffShelf, model.HoldingConsignNone, grant, reason)
	if err != nil {
		return nil, err
	}
	slog.Info("consignment off-shelved",
		"consignment", id,
		"holding", c.HoldingID,
		"free_relist_granted", grantFreeRelist,
		"reason", reason,
	)
	return c, nil
}

// transition applies one guarded state change to the listing and mirrors the
// holding. Only selling listings may leave their state.
func (r *Registry) transition(ctx context.Context, id string, to model.ConsignmentStatus, holdingStatus string, relistGrant int, reason string) (*model.ConsignmentListing, error) {
	c, err := r.store.GetConsignmentForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ConsignmentSelling {
		return nil, fmt.Errorf("consignment %s in state %d: %w", id, c.Status, model.ErrInvalidTransition)
	}

	var soldAt *time.Time
	if to == model.ConsignmentSold {
		t := r.clock.Now()
		soldAt = &t
	}
	if err := r.store.UpdateConsignmentStatus(ctx, id, to, soldAt, reason); err != nil {
		return nil, err
	}

	h, err := r.store.GetHoldingForUpdate(ctx, c.HoldingID)
	if err != nil {
		return nil, err
	}
	if err := r.store.UpdateHoldingConsign(ctx, h.ID, holdingStatus, h.FreeRelists+relistGrant); err != nil {
		return nil, err
	}

	c.Status = to
	c.SoldAt = soldAt
	if reason != "" {
		c.OffShelfReason = reason
	}
	return c, nil
}
