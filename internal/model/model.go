// Package model defines the core domain types shared across the match engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is a time-boxed trading window. Buy orders, items and
// consignments are all scoped to one session.
type Session struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Status    string    `json:"status" db:"status"` // "open", "closed"
	OpensAt   time.Time `json:"opens_at" db:"opens_at"`
	ClosesAt  time.Time `json:"closes_at" db:"closes_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Session statuses.
const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)

// Zone is a price bracket items and consignments are grouped into for
// matching and reporting. Prices in [MinPrice, MaxPrice) belong to the zone.
type Zone struct {
	ID        string          `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	Name      string          `json:"name" db:"name"`
	MinPrice  decimal.Decimal `json:"min_price" db:"min_price"`
	MaxPrice  decimal.Decimal `json:"max_price" db:"max_price"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Contains reports whether a price falls in the zone's [min, max) range.
func (z Zone) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(z.MinPrice) && price.LessThan(z.MaxPrice)
}

// Item statuses.
const (
	ItemActive   = "active"
	ItemInactive = "inactive"
)

// Item is a limited-supply collectible listing. Stock only decreases via a
// successful trade; price may increase via appreciation.
type Item struct {
	ID        string          `json:"id" db:"id"`
	SessionID string          `json:"session_id" db:"session_id"`
	ZoneID    string          `json:"zone_id" db:"zone_id"`
	PackageID string          `json:"package_id" db:"package_id"`
	Name      string          `json:"name" db:"name"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Stock     int             `json:"stock" db:"stock"`
	Sales     int             `json:"sales" db:"sales"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// BuyOrder statuses.
const (
	BuyOrderPending  = "pending"
	BuyOrderMatched  = "matched"
	BuyOrderRefunded = "refunded"
)

// BuyOrder is a pool entry: a buyer competing for one item in one zone
// during a session. Terminal once matched or refunded; never mutated
// otherwise.
type BuyOrder struct {
	ID             string          `json:"id" db:"id"`
	SessionID      string          `json:"session_id" db:"session_id"`
	ItemID         string          `json:"item_id" db:"item_id"`
	ZoneID         string          `json:"zone_id" db:"zone_id"`
	BuyerID        string          `json:"buyer_id" db:"buyer_id"`
	Weight         int64           `json:"weight" db:"weight"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Status         string          `json:"status" db:"status"`
	MatchedOrderID string          `json:"matched_order_id" db:"matched_order_id"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ConsignmentStatus uses the legacy integer codes; they must be preserved
// exactly for compatibility with existing rows.
type ConsignmentStatus int

const (
	ConsignmentCancelled ConsignmentStatus = 0
	ConsignmentSelling   ConsignmentStatus = 1
	ConsignmentSold      ConsignmentStatus = 2
	ConsignmentOffShelf  ConsignmentStatus = 3
)

// ConsignmentListing is a seller's offer to resell a held item. All
// non-selling states are terminal. The Payout* fields are the settlement
// snapshot: once written they are never recomputed, so configuration changes
// cannot retroactively alter historical payouts.
type ConsignmentListing struct {
	ID            string            `json:"id" db:"id"`
	SellerID      string            `json:"seller_id" db:"seller_id"`
	HoldingID     string            `json:"holding_id" db:"holding_id"`
	ItemID        string            `json:"item_id" db:"item_id"`
	PackageID     string            `json:"package_id" db:"package_id"`
	ZoneID        string            `json:"zone_id" db:"zone_id"`
	AskPrice      decimal.Decimal   `json:"ask_price" db:"ask_price"`
	OriginalPrice decimal.Decimal   `json:"original_price" db:"original_price"`
	ServiceFee    decimal.Decimal   `json:"service_fee" db:"service_fee"`
	Legacy        bool              `json:"legacy" db:"legacy"`
	Status        ConsignmentStatus `json:"status" db:"status"`

	Principal          decimal.Decimal `json:"principal" db:"principal"`
	Profit             decimal.Decimal `json:"profit" db:"profit"`
	PayoutWithdrawable decimal.Decimal `json:"payout_withdrawable" db:"payout_withdrawable"`
	PayoutScore        decimal.Decimal `json:"payout_score" db:"payout_score"`
	SplitRate          decimal.Decimal `json:"split_rate" db:"split_rate"`
	SettledAt          *time.Time      `json:"settled_at" db:"settled_at"`

	SoldAt         *time.Time `json:"sold_at" db:"sold_at"`
	OffShelfReason string     `json:"off_shelf_reason" db:"off_shelf_reason"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Holding consignment statuses, mirrored from the linked listing.
const (
	HoldingConsignNone    = "none"
	HoldingConsignSelling = "selling"
	HoldingConsignSold    = "sold"
)

// Holding is a user's owned unit of an item. ConsignStatus must always equal
// the mapping {selling→selling, sold→sold, *→none} of its active listing.
type Holding struct {
	ID            string          `json:"id" db:"id"`
	OwnerID       string          `json:"owner_id" db:"owner_id"`
	SourceOrderID string          `json:"source_order_id" db:"source_order_id"`
	ItemID        string          `json:"item_id" db:"item_id"`
	PricePaid     decimal.Decimal `json:"price_paid" db:"price_paid"`
	ConsignStatus string          `json:"consign_status" db:"consign_status"`
	Delivered     bool            `json:"delivered" db:"delivered"`
	FreeRelists   int             `json:"free_relists" db:"free_relists"`
	Legacy        bool            `json:"legacy" db:"legacy"`
	AcquiredAt    time.Time       `json:"acquired_at" db:"acquired_at"`
}

// Bucket names one of the four independent balances on an account.
type Bucket string

const (
	BucketAvailable    Bucket = "available"
	BucketWithdrawable Bucket = "withdrawable"
	BucketScore        Bucket = "score"
	BucketFee          Bucket = "fee"
)

// Account holds the four per-user balance buckets. No bucket may go
// negative. Total assets is derived; it is never stored as ground truth.
type Account struct {
	UserID       string          `json:"user_id" db:"user_id"`
	Available    decimal.Decimal `json:"available" db:"available"`
	Withdrawable decimal.Decimal `json:"withdrawable" db:"withdrawable"`
	Score        decimal.Decimal `json:"score" db:"score"`
	Fee          decimal.Decimal `json:"fee" db:"fee"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Balance returns the current balance of one bucket.
func (a *Account) Balance(b Bucket) decimal.Decimal {
	switch b {
	case BucketAvailable:
		return a.Available
	case BucketWithdrawable:
		return a.Withdrawable
	case BucketScore:
		return a.Score
	case BucketFee:
		return a.Fee
	}
	return decimal.Zero
}

// SetBalance overwrites one bucket's balance.
func (a *Account) SetBalance(b Bucket, v decimal.Decimal) {
	switch b {
	case BucketAvailable:
		a.Available = v
	case BucketWithdrawable:
		a.Withdrawable = v
	case BucketScore:
		a.Score = v
	case BucketFee:
		a.Fee = v
	}
}

// TotalAssets is the sum of all four buckets.
func (a *Account) TotalAssets() decimal.Decimal {
	return a.Available.Add(a.Withdrawable).Add(a.Score).Add(a.Fee)
}

// LedgerEntry is an append-only record of one bucket mutation. Once created,
// these are never modified or deleted. After == round(Before+Delta, 2) holds
// for every entry.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Bucket    Bucket          `json:"bucket" db:"bucket"`
	Delta     decimal.Decimal `json:"delta" db:"delta"`
	Before    decimal.Decimal `json:"before" db:"before"`
	After     decimal.Decimal `json:"after" db:"after"`
	Memo      string          `json:"memo" db:"memo"`
	FlowNo    string          `json:"flow_no" db:"flow_no"`
	BatchNo   string          `json:"batch_no" db:"batch_no"`
	BizType   string          `json:"biz_type" db:"biz_type"`
	BizID     string          `json:"biz_id" db:"biz_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Order statuses.
const (
	OrderPaid = "paid"
)

// Order is the settlement record created when a BuyOrder wins. Immutable
// after creation except status/timestamps.
type Order struct {
	ID        string          `json:"id" db:"id"`
	BuyerID   string          `json:"buyer_id" db:"buyer_id"`
	ItemID    string          `json:"item_id" db:"item_id"`
	SessionID string          `json:"session_id" db:"session_id"`
	ZoneID    string          `json:"zone_id" db:"zone_id"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	PaidAt    time.Time       `json:"paid_at" db:"paid_at"`
}

// Reservation holds funds a buyer set aside for one session's pool entries.
// The trade executor consumes it before touching the available bucket.
type Reservation struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	SessionID string          `json:"session_id" db:"session_id"`
	Remaining decimal.Decimal `json:"remaining" db:"remaining"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// AppreciationLog records one reference-price step-up for audit and
// analytics.
type AppreciationLog struct {
	ID        string          `json:"id" db:"id"`
	ItemID    string          `json:"item_id" db:"item_id"`
	Before    decimal.Decimal `json:"before" db:"before"`
	After     decimal.Decimal `json:"after" db:"after"`
	Rate      decimal.Decimal `json:"rate" db:"rate"`
	Reason    string          `json:"reason" db:"reason"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
