package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence, WithTx does not
// roll back).
type MemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]*model.Session
	zones        map[string]*model.Zone
	items        map[string]*model.Item
	buyOrders    map[string]*model.BuyOrder
	orders       map[string]*model.Order
	consignments map[string]*model.ConsignmentListing
	holdings     map[string]*model.Holding
	accounts     map[string]*model.Account
	reservations map[string]*model.Reservation
	ledger       []model.LedgerEntry
	appreciation []model.AppreciationLog
	inviters     map[string]string
	configValues map[string]string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]*model.Session),
		zones:        make(map[string]*model.Zone),
		items:        make(map[string]*model.Item),
		buyOrders:    make(map[string]*model.BuyOrder),
		orders:       make(map[string]*model.Order),
		consignments: make(map[string]*model.ConsignmentListing),
		holdings:     make(map[string]*model.Holding),
		accounts:     make(map[string]*model.Account),
		reservations: make(map[string]*model.Reservation),
		inviters:     make(map[string]string),
		configValues: make(map[string]string),
	}
}

// WithTx runs fn directly; the memory store has no transaction isolation.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// --- Sessions ---

func (s *MemoryStore) CreateSession(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

// --- Zones ---

func (s *MemoryStore) CreateZone(_ context.Context, z *model.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *z
	s.zones[z.ID] = &cp
	return nil
}

func (s *MemoryStore) GetZone(_ context.Context, id string) (*model.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	if !ok {
		return nil, fmt.Errorf("zone %s: %w", id, model.ErrNotFound)
	}
	cp := *z
	return &cp, nil
}

func (s *MemoryStore) FindZoneByPrice(_ context.Context, sessionID string, price decimal.Decimal) (*model.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, z := range s.zones {
		if z.SessionID == sessionID && z.Contains(price) {
			cp := *z
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("zone for price %s: %w", price, model.ErrNotFound)
}

// --- Items ---

func (s *MemoryStore) CreateItem(_ context.Context, it *model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *it
	s.items[it.ID] = &cp
	return nil
}

func (s *MemoryStore) GetItem(_ context.Context, id string) (*model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, model.ErrNotFound)
	}
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) GetItemForUpdate(ctx context.Context, id string) (*model.Item, error) {
	return s.GetItem(ctx, id)
}

func (s *MemoryStore) UpdateItemTrade(_ context.Context, id string, stock, sales int, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s: %w", id, model.ErrNotFound)
	}
	it.Stock = stock
	it.Sales = sales
	it.Status = status
	return nil
}

func (s *MemoryStore) UpdateItemPrice(_ context.Context, id string, price decimal.Decimal, zoneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return fmt.Errorf("item %s: %w", id, model.ErrNotFound)
	}
	it.Price = price
	it.ZoneID = zoneID
	return nil
}

// --- Buy orders ---

func (s *MemoryStore) CreateBuyOrder(_ context.Context, o *model.BuyOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.buyOrders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBuyOrderForUpdate(_ context.Context, id string) (*model.BuyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.buyOrders[id]
	if !ok {
		return nil, fmt.Errorf("buy order %s: %w", id, model.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListPendingBuyOrders(_ context.Context, sessionID, packageID, zoneID string) ([]model.BuyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.BuyOrder
	for _, o := range s.buyOrders {
		if o.SessionID != sessionID || o.Status != model.BuyOrderPending {
			continue
		}
		if zoneID != "" && o.ZoneID != zoneID {
			continue
		}
		if packageID != "" {
			it, ok := s.items[o.ItemID]
			if !ok || it.PackageID != packageID {
				continue
			}
		}
		result = append(result, *o)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Weight != result[j].Weight {
			return result[i].Weight > result[j].Weight
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) MarkBuyOrderMatched(_ context.Context, id, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.buyOrders[id]
	if !ok {
		return fmt.Errorf("buy order %s: %w", id, model.ErrNotFound)
	}
	o.Status = model.BuyOrderMatched
	o.MatchedOrderID = orderID
	return nil
}

func (s *MemoryStore) MarkBuyOrderRefunded(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.buyOrders[id]
	if !ok {
		return fmt.Errorf("buy order %s: %w", id, model.ErrNotFound)
	}
	o.Status = model.BuyOrderRefunded
	return nil
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) LastTradeTime(_ context.Context, itemID, excludeOrderID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	found := false
	for _, o := range s.orders {
		if o.ItemID != itemID || o.ID == excludeOrderID || o.Status != model.OrderPaid {
			continue
		}
		if !found || o.PaidAt.After(latest) {
			latest = o.PaidAt
			found = true
		}
	}
	return latest, found, nil
}

// --- Consignments ---

func (s *MemoryStore) CreateConsignment(_ context.Context, c *model.ConsignmentListing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.consignments[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetConsignment(_ context.Context, id string) (*model.ConsignmentListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consignments[id]
	if !ok {
		return nil, fmt.Errorf("consignment %s: %w", id, model.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetConsignmentForUpdate(ctx context.Context, id string) (*model.ConsignmentListing, error) {
	return s.GetConsignment(ctx, id)
}

func (s *MemoryStore) ListSellingConsignments(_ context.Context, itemID string, min, max *decimal.Decimal) ([]model.ConsignmentListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ConsignmentListing
	for _, c := range s.consignments {
		if c.ItemID != itemID || c.Status != model.ConsignmentSelling {
			continue
		}
		if min != nil && c.AskPrice.LessThan(*min) {
			continue
		}
		if max != nil && c.AskPrice.GreaterThanOrEqual(*max) {
			continue
		}
		result = append(result, *c)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateConsignmentStatus(_ context.Context, id string, status model.ConsignmentStatus, soldAt *time.Time, offShelfReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consignments[id]
	if !ok {
		return fmt.Errorf("consignment %s: %w", id, model.ErrNotFound)
	}
	c.Status = status
	if soldAt != nil {
		t := *soldAt
		c.SoldAt = &t
	}
	if offShelfReason != "" {
		c.OffShelfReason = offShelfReason
	}
	return nil
}

func (s *MemoryStore) UpdateConsignmentSettlement(_ context.Context, in *model.ConsignmentListing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consignments[in.ID]
	if !ok {
		return fmt.Errorf("consignment %s: %w", in.ID, model.ErrNotFound)
	}
	c.Principal = in.Principal
	c.Profit = in.Profit
	c.PayoutWithdrawable = in.PayoutWithdrawable
	c.PayoutScore = in.PayoutScore
	c.SplitRate = in.SplitRate
	if in.SettledAt != nil {
		t := *in.SettledAt
		c.SettledAt = &t
	}
	return nil
}

// --- Holdings ---

func (s *MemoryStore) CreateHolding(_ context.Context, h *model.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.holdings[h.ID] = &cp
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, id string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holdings[id]
	if !ok {
		return nil, fmt.Errorf("holding %s: %w", id, model.ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) GetHoldingForUpdate(ctx context.Context, id string) (*model.Holding, error) {
	return s.GetHolding(ctx, id)
}

func (s *MemoryStore) UpdateHoldingConsign(_ context.Context, id, consignStatus string, freeRelists int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[id]
	if !ok {
		return fmt.Errorf("holding %s: %w", id, model.ErrNotFound)
	}
	h.ConsignStatus = consignStatus
	h.FreeRelists = freeRelists
	return nil
}

func (s *MemoryStore) LatestHoldingTime(_ context.Context, itemID, excludeHoldingID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	found := false
	for _, h := range s.holdings {
		if h.ItemID != itemID || h.ID == excludeHoldingID {
			continue
		}
		if !found || h.AcquiredAt.After(latest) {
			latest = h.AcquiredAt
			found = true
		}
	}
	return latest, found, nil
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.UserID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", userID, model.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAccountForUpdate(ctx context.Context, userID string) (*model.Account, error) {
	return s.GetAccount(ctx, userID)
}

func (s *MemoryStore) UpdateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.UserID]; !ok {
		return fmt.Errorf("account %s: %w", a.UserID, model.ErrNotFound)
	}
	cp := *a
	s.accounts[a.UserID] = &cp
	return nil
}

// --- Ledger ---

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, *e)
	return nil
}

func (s *MemoryStore) ListLedgerEntriesByUser(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListLedgerEntriesByBatch(_ context.Context, batchNo string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.BatchNo == batchNo {
			result = append(result, e)
		}
	}
	return result, nil
}

// --- Reservations ---

func (s *MemoryStore) CreateReservation(_ context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reservations[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetReservationForUpdate(_ context.Context, userID, sessionID string) (*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reservations {
		if r.UserID == userID && r.SessionID == sessionID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("reservation %s/%s: %w", userID, sessionID, model.ErrNotFound)
}

func (s *MemoryStore) UpdateReservationRemaining(_ context.Context, id string, remaining decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	r.Remaining = remaining
	return nil
}

// --- Referrals ---

func (s *MemoryStore) GetInviter(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inviters[userID], nil
}

// SetInviter seeds a referral edge. Test helper; not part of Store.
func (s *MemoryStore) SetInviter(userID, inviterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inviters[userID] = inviterID
}

// --- Appreciation log ---

func (s *MemoryStore) InsertAppreciationLog(_ context.Context, l *model.AppreciationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appreciation = append(s.appreciation, *l)
	return nil
}

// AppreciationLogs returns all appreciation rows. Test helper.
func (s *MemoryStore) AppreciationLogs() []model.AppreciationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AppreciationLog, len(s.appreciation))
	copy(out, s.appreciation)
	return out
}

// --- Config ---

func (s *MemoryStore) GetConfigValue(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configValues[key], nil
}

// SetConfigValue seeds a configuration key. Test helper; the core only reads.
func (s *MemoryStore) SetConfigValue(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configValues[key] = value
}
