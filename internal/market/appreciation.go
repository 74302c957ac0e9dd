package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/model"
)

// AppreciationStore is the persistence the appreciator needs.
type AppreciationStore interface {
	LastTradeTime(ctx context.Context, itemID, excludeOrderID string) (time.Time, bool, error)
	LatestHoldingTime(ctx context.Context, itemID, excludeHoldingID string) (time.Time, bool, error)
	UpdateItemPrice(ctx context.Context, id string, price decimal.Decimal, zoneID string) error
	InsertAppreciationLog(ctx context.Context, l *model.AppreciationLog) error
}

// Appreciator decides whether a traded item's reference price steps up.
// The rule: appreciate when the item has never traded before, or when its
// previous trade happened exactly yesterday (calendar day, UTC).
type Appreciator struct {
	store AppreciationStore
	zones *Service
	clock clock.Clock
}

// NewAppreciator creates an appreciator. zones re-brackets the item when the
// price moves.
func NewAppreciator(store AppreciationStore, zones *Service, clk clock.Clock) *Appreciator {
	return &Appreciator{store: store, zones: zones, clock: clk}
}

// CheckAndAppreciate runs after a trade completes, inside the trade's
// transaction. excludeOrderID/excludeHoldingID identify the records the
// in-flight trade just created, so they do not count as the "previous"
// trade. On appreciation the item's Price and ZoneID are updated in place
// and true is returned.
func (a *Appreciator) CheckAndAppreciate(ctx context.Context, item *model.Item, rate decimal.Decimal, excludeOrderID, excludeHoldingID string) (bool, error) {
	if rate.LessThanOrEqual(decimal.Zero) {
		return false, nil
	}

	prev, ok, err := a.store.LastTradeTime(ctx, item.ID, excludeOrderID)
	if err != nil {
		return false, err
	}
	if !ok {
		prev, ok, err = a.store.LatestHoldingTime(ctx, item.ID, excludeHoldingID)
		if err != nil {
			return false, err
		}
	}

	now := a.clock.Now()
	reason := "first trade"
	if ok {
		if !wasYesterday(prev, now) {
			return false, nil
		}
		reason = "previous trade yesterday"
	}

	before := item.Price
	after := before.Mul(decimal.NewFromInt(1).Add(rate)).Round(2)

	zone, err := a.zones.ZoneForPrice(ctx, item.SessionID, after)
	if err != nil {
		return false, err
	}
	if err := a.store.UpdateItemPrice(ctx, item.ID, after, zone.ID); err != nil {
		return false, err
	}

	entry := &model.AppreciationLog{
		ID:        uuid.New().String(),
		ItemID:    item.ID,
		Before:    before,
		After:     after,
		Rate:      rate,
		Reason:    reason,
		CreatedAt: now,
	}
	if err := a.store.InsertAppreciationLog(ctx, entry); err != nil {
		return false, err
	}

	item.Price = after
	item.ZoneID = zone.ID

	slog.Info("item appreciated",
		"item", item.ID,
		"before", before.String(),
		"after", after.String(),
		"rate", rate.String(),
		"reason", reason,
	)
	return true, nil
}

// wasYesterday reports whether prev falls on the calendar day immediately
// before now, in UTC.
func wasYesterday(prev, now time.Time) bool {
	py, pm, pd := prev.UTC().AddDate(0, 0, 1).Date()
	ny, nm, nd := now.UTC().Date()
	return py == ny && pm == nm && pd == nd
}
