// Package store defines the persistence interface for the match engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/model"
)

// SessionStore resolves trading sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
}

// ZoneStore resolves and creates price zones.
type ZoneStore interface {
	CreateZone(ctx context.Context, z *model.Zone) error
	GetZone(ctx context.Context, id string) (*model.Zone, error)

	// FindZoneByPrice returns the session zone whose [min, max) range
	// contains the price, or model.ErrNotFound.
	FindZoneByPrice(ctx context.Context, sessionID string, price decimal.Decimal) (*model.Zone, error)
}

// ItemStore reads and mutates catalog listings.
type ItemStore interface {
	CreateItem(ctx context.Context, it *model.Item) error
	GetItem(ctx context.Context, id string) (*model.Item, error)

	// GetItemForUpdate row-locks the item for the duration of the
	// surrounding transaction.
	GetItemForUpdate(ctx context.Context, id string) (*model.Item, error)

	// UpdateItemTrade writes the post-trade stock, sales counter and status.
	UpdateItemTrade(ctx context.Context, id string, stock, sales int, status string) error

	// UpdateItemPrice re-prices (and re-zones) an item after appreciation.
	UpdateItemPrice(ctx context.Context, id string, price decimal.Decimal, zoneID string) error
}

// BuyOrderStore manages pool entries.
type BuyOrderStore interface {
	CreateBuyOrder(ctx context.Context, o *model.BuyOrder) error
	GetBuyOrderForUpdate(ctx context.Context, id string) (*model.BuyOrder, error)

	// ListPendingBuyOrders returns pending orders in scope ordered by
	// (weight desc, created_at asc). Empty packageID/zoneID disable that
	// filter.
	ListPendingBuyOrders(ctx context.Context, sessionID, packageID, zoneID string) ([]model.BuyOrder, error)

	MarkBuyOrderMatched(ctx context.Context, id, orderID string) error
	MarkBuyOrderRefunded(ctx context.Context, id string) error
}

// OrderStore manages settlement orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *model.Order) error

	// LastTradeTime returns the most recent paid-at for an item, excluding
	// one order id (the trade currently in flight). ok is false when the
	// item has never traded.
	LastTradeTime(ctx context.Context, itemID, excludeOrderID string) (t time.Time, ok bool, err error)
}

// ConsignmentStore manages resale listings.
type ConsignmentStore interface {
	CreateConsignment(ctx context.Context, c *model.ConsignmentListing) error
	GetConsignment(ctx context.Context, id string) (*model.ConsignmentListing, error)
	GetConsignmentForUpdate(ctx context.Context, id string) (*model.ConsignmentListing, error)

	// ListSellingConsignments returns selling listings for an item in
	// ascending creation order, optionally filtered to ask prices within
	// [min, max).
	ListSellingConsignments(ctx context.Context, itemID string, min, max *decimal.Decimal) ([]model.ConsignmentListing, error)

	UpdateConsignmentStatus(ctx context.Context, id string, status model.ConsignmentStatus, soldAt *time.Time, offShelfReason string) error

	// UpdateConsignmentSettlement persists the settlement snapshot fields
	// and settled-at stamp.
	UpdateConsignmentSettlement(ctx context.Context, c *model.ConsignmentListing) error
}

// HoldingStore manages owned units.
type HoldingStore interface {
	CreateHolding(ctx context.Context, h *model.Holding) error
	GetHolding(ctx context.Context, id string) (*model.Holding, error)
	GetHoldingForUpdate(ctx context.Context, id string) (*model.Holding, error)

	// UpdateHoldingConsign writes the mirrored consignment status and the
	// free-relist counter.
	UpdateHoldingConsign(ctx context.Context, id, consignStatus string, freeRelists int) error

	// LatestHoldingTime returns the most recent acquisition time for an
	// item, excluding one holding id. ok is false when none exist.
	LatestHoldingTime(ctx context.Context, itemID, excludeHoldingID string) (t time.Time, ok bool, err error)
}

// AccountStore manages the per-user balance buckets.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, userID string) (*model.Account, error)
	GetAccountForUpdate(ctx context.Context, userID string) (*model.Account, error)
	UpdateAccount(ctx context.Context, a *model.Account) error
}

// LedgerStore appends and reads the immutable ledger.
type LedgerStore interface {
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	ListLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error)
	ListLedgerEntriesByBatch(ctx context.Context, batchNo string) ([]model.LedgerEntry, error)
}

// ReservationStore manages per-session funds reservations.
type ReservationStore interface {
	CreateReservation(ctx context.Context, r *model.Reservation) error

	// GetReservationForUpdate row-locks the (user, session) reservation or
	// returns model.ErrNotFound.
	GetReservationForUpdate(ctx context.Context, userID, sessionID string) (*model.Reservation, error)

	UpdateReservationRemaining(ctx context.Context, id string, remaining decimal.Decimal) error
}

// ReferralStore reads the inviter chain.
type ReferralStore interface {
	// GetInviter returns the direct inviter of a user, or "" when the chain
	// ends.
	GetInviter(ctx context.Context, userID string) (string, error)
}

// AppreciationStore appends appreciation audit rows.
type AppreciationStore interface {
	InsertAppreciationLog(ctx context.Context, l *model.AppreciationLog) error
}

// ConfigStore is the read-only key/value configuration lookup. A missing key
// is reported as ("", nil).
type ConfigStore interface {
	GetConfigValue(ctx context.Context, key string) (string, error)
}

// Store is the full persistence interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer on hot catalog reads.
//
// WithTx runs fn inside one transaction; nested calls join the ambient
// transaction. Row-lock reads (the *ForUpdate methods) are only meaningful
// inside WithTx. Lock ordering: account rows before item/consignment rows.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	SessionStore
	ZoneStore
	ItemStore
	BuyOrderStore
	OrderStore
	ConsignmentStore
	HoldingStore
	AccountStore
	LedgerStore
	ReservationStore
	ReferralStore
	AppreciationStore
	ConfigStore
}
