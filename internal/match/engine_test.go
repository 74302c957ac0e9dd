package match_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/asset"
	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/consignment"
	"github.com/relicx/match-engine/internal/ledger"
	"github.com/relicx/match-engine/internal/market"
	"github.com/relicx/match-engine/internal/match"
	"github.com/relicx/match-engine/internal/model"
	"github.com/relicx/match-engine/internal/settle"
	"github.com/relicx/match-engine/internal/store"
)

var testNow = time.Date(2026, 4, 20, 15, 0, 0, 0, time.UTC)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type recordingNotifier struct {
	trades  []string
	matches int
}

func (n *recordingNotifier) TradeExecuted(_ context.Context, o *model.Order) {
	n.trades = append(n.trades, o.ID)
}

func (n *recordingNotifier) MatchCompleted(_ context.Context, _ string, _ match.Result) {
	n.matches++
}

type env struct {
	engine   *match.Engine
	ms       *store.MemoryStore
	notifier *recordingNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ms := store.NewMemoryStore()
	clk := clock.NewFixed(testNow)
	led := ledger.New(ms, clk)
	registry := consignment.New(ms, clk)
	markets := market.New(ms, clk)
	appr := market.NewAppreciator(ms, markets, clk)
	assets := asset.New(ms, led, registry, markets, clk)
	settler := settle.New(ms, led, clk)
	notifier := &recordingNotifier{}

	engine := match.NewEngine(match.Deps{
		Store:    ms,
		Ledger:   led,
		Assets:   assets,
		Registry: registry,
		Settler:  settler,
		Markets:  markets,
		Appr:     appr,
		Notifier: notifier,
		Clock:    clk,
		Rng:      rand.New(rand.NewSource(1)),
	})
	return &env{engine: engine, ms: ms, notifier: notifier}
}

func (e *env) seedSession(t *testing.T, id string) {
	t.Helper()
	err := e.ms.CreateSession(context.Background(), &model.Session{
		ID: id, Name: "drop", Status: model.SessionOpen,
		OpensAt: testNow.Add(-time.Hour), ClosesAt: testNow.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
}

func (e *env) seedZone(t *testing.T, id string, min, max float64) {
	t.Helper()
	err := e.ms.CreateZone(context.Background(), &model.Zone{
		ID: id, SessionID: "s1", Name: "test-zone",
		MinPrice: d(min), MaxPrice: d(max),
	})
	if err != nil {
		t.Fatalf("failed to seed zone: %v", err)
	}
}

func (e *env) seedItem(t *testing.T, id string, price float64, stock int, status string) {
	t.Helper()
	err := e.ms.CreateItem(context.Background(), &model.Item{
		ID: id, SessionID: "s1", ZoneID: "z1", PackageID: "p1",
		Name: "relic", Price: d(price), Stock: stock, Status: status,
	})
	if err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}
}

func (e *env) seedAccount(t *testing.T, userID string, available float64) {
	t.Helper()
	err := e.ms.CreateAccount(context.Background(), &model.Account{
		UserID: userID, Available: d(available),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

// seedFundedOrder places a pending buy order with its funds already moved
// into the buyer's session reservation, as EnterPool leaves them.
func (e *env) seedFundedOrder(t *testing.T, id, buyerID string, weight int64, amount float64, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	err := e.ms.CreateBuyOrder(ctx, &model.BuyOrder{
		ID: id, SessionID: "s1", ItemID: "i1", ZoneID: "z1",
		BuyerID: buyerID, Weight: weight, Amount: d(amount),
		Status: model.BuyOrderPending, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("failed to seed buy order: %v", err)
	}

	r, err := e.ms.GetReservationForUpdate(ctx, buyerID, "s1")
	if errors.Is(err, model.ErrNotFound) {
		err = e.ms.CreateReservation(ctx, &model.Reservation{
			ID: "resv-" + buyerID, UserID: buyerID, SessionID: "s1",
			Remaining: d(amount), CreatedAt: createdAt,
		})
		if err != nil {
			t.Fatalf("failed to seed reservation: %v", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("reservation lookup: %v", err)
	}
	if err := e.ms.UpdateReservationRemaining(ctx, r.ID, r.Remaining.Add(d(amount))); err != nil {
		t.Fatalf("top up reservation: %v", err)
	}
}

func (e *env) seedSellingConsignment(t *testing.T, id, sellerID string, ask, original, fee float64, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	err := e.ms.CreateHolding(ctx, &model.Holding{
		ID: "hold-" + id, OwnerID: sellerID, ItemID: "i1",
		PricePaid: d(original), ConsignStatus: model.HoldingConsignSelling,
		Delivered: true, AcquiredAt: createdAt.Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to seed holding: %v", err)
	}
	err = e.ms.CreateConsignment(ctx, &model.ConsignmentListing{
		ID: id, SellerID: sellerID, HoldingID: "hold-" + id, ItemID: "i1",
		PackageID: "p1", ZoneID: "z1", AskPrice: d(ask),
		OriginalPrice: d(original), ServiceFee: d(fee),
		Status: model.ConsignmentSelling, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("failed to seed consignment: %v", err)
	}
}

func (e *env) account(t *testing.T, userID string) *model.Account {
	t.Helper()
	a, err := e.ms.GetAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("get account %s: %v", userID, err)
	}
	return a
}

// --- Run ---

func TestRun_ScarceStockTimeTieBreak(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 1, model.ItemActive)
	e.seedAccount(t, "early", 0)
	e.seedAccount(t, "late", 0)
	e.seedFundedOrder(t, "bo-early", "early", 1, 100, testNow.Add(-10*time.Minute))
	e.seedFundedOrder(t, "bo-late", "late", 1, 100, testNow.Add(-5*time.Minute))

	res, err := e.engine.Run(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Matched != 1 || res.Refunded != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 1 matched / 1 refunded", res)
	}

	// Equal weights, time tie-break: the earlier entrant wins.
	winner, _ := e.ms.GetBuyOrderForUpdate(ctx, "bo-early")
	if winner.Status != model.BuyOrderMatched {
		t.Errorf("early order status = %s, want matched", winner.Status)
	}
	if winner.MatchedOrderID == "" {
		t.Error("winner missing settlement order id")
	}
	loser, _ := e.ms.GetBuyOrderForUpdate(ctx, "bo-late")
	if loser.Status != model.BuyOrderRefunded {
		t.Errorf("late order status = %s, want refunded", loser.Status)
	}

	// Loser's committed funds return to available; winner's stay spent.
	if acct := e.account(t, "late"); !acct.Available.Equal(d(100)) {
		t.Errorf("loser available = %s, want 100", acct.Available)
	}
	if acct := e.account(t, "early"); !acct.Available.IsZero() {
		t.Errorf("winner available = %s, want 0", acct.Available)
	}

	// Winner owns a holding; the item sold out and deactivated.
	item, _ := e.ms.GetItem(ctx, "i1")
	if item.Stock != 0 || item.Status != model.ItemInactive {
		t.Errorf("item stock/status = %d/%s, want 0/inactive", item.Stock, item.Status)
	}
	// First trade ever: the reference price steps up 5%.
	if !item.Price.Equal(d(105)) {
		t.Errorf("item price = %s, want 105 after appreciation", item.Price)
	}
	if len(e.notifier.trades) != 1 {
		t.Errorf("notifier saw %d trades, want 1", len(e.notifier.trades))
	}
	if e.notifier.matches != 1 {
		t.Errorf("notifier saw %d match completions, want 1", e.notifier.matches)
	}
}

func TestRun_WeightDominates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 1, model.ItemActive)
	e.seedAccount(t, "light", 0)
	e.seedAccount(t, "heavy", 0)
	// The heavy entrant arrived later but carries overwhelming weight.
	e.seedFundedOrder(t, "bo-light", "light", 1, 100, testNow.Add(-10*time.Minute))
	e.seedFundedOrder(t, "bo-heavy", "heavy", 1000000, 100, testNow.Add(-5*time.Minute))

	res, err := e.engine.Run(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Matched != 1 {
		t.Fatalf("result = %+v", res)
	}

	heavy, _ := e.ms.GetBuyOrderForUpdate(ctx, "bo-heavy")
	if heavy.Status != model.BuyOrderMatched {
		t.Errorf("heavy order status = %s, want matched", heavy.Status)
	}
}

func TestRun_ZeroSupplyRefundsEveryone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 0, model.ItemInactive)
	e.seedAccount(t, "b1", 0)
	e.seedAccount(t, "b2", 0)
	e.seedFundedOrder(t, "bo1", "b1", 1, 100, testNow.Add(-10*time.Minute))
	e.seedFundedOrder(t, "bo2", "b2", 1, 100, testNow.Add(-9*time.Minute))

	res, err := e.engine.Run(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Matched != 0 || res.Refunded != 2 {
		t.Fatalf("result = %+v, want 0 matched / 2 refunded", res)
	}
	for _, user := range []string{"b1", "b2"} {
		if acct := e.account(t, user); !acct.Available.Equal(d(100)) {
			t.Errorf("%s available = %s, want refunded 100", user, acct.Available)
		}
	}
}

func TestRun_ConsignmentSupplySettlesSeller(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 150, 0, model.ItemInactive)
	e.seedAccount(t, "buyer", 0)
	e.seedAccount(t, "seller", 0)
	e.seedAccount(t, "inviter", 0)
	e.ms.SetInviter("seller", "inviter")

	// Fee already held in the seller's fee bucket at listing time.
	acct := e.account(t, "seller")
	acct.Fee = d(3)
	if err := e.ms.UpdateAccount(ctx, acct); err != nil {
		t.Fatalf("update seller account: %v", err)
	}

	e.seedSellingConsignment(t, "c1", "seller", 150, 100, 3, testNow.Add(-time.Hour))
	e.seedFundedOrder(t, "bo1", "buyer", 1, 150, testNow.Add(-10*time.Minute))

	res, err := e.engine.Run(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Matched != 1 || res.OffShelf != 0 {
		t.Fatalf("result = %+v, want 1 matched", res)
	}

	// Listing sold and settled: sale 150, principal 100, fee 3, profit 47.
	c, _ := e.ms.GetConsignment(ctx, "c1")
	if c.Status != model.ConsignmentSold {
		t.Errorf("consignment status = %d, want sold", c.Status)
	}
	if c.SettledAt == nil {
		t.Error("consignment not settled")
	}

	seller := e.account(t, "seller")
	if !seller.Withdrawable.Equal(d(126.5)) {
		t.Errorf("seller withdrawable = %s, want 126.5", seller.Withdrawable)
	}
	if !seller.Score.Equal(d(23.5)) {
		t.Errorf("seller score = %s, want 23.5", seller.Score)
	}
	if !seller.Fee.IsZero() {
		t.Errorf("seller fee bucket = %s, want drained", seller.Fee)
	}

	// Level-1 commission: 47 * 0.05 = 2.35.
	if inv := e.account(t, "inviter"); !inv.Withdrawable.Equal(d(2.35)) {
		t.Errorf("inviter withdrawable = %s, want 2.35", inv.Withdrawable)
	}

	// The buyer's holding exists; the seller's holding shows sold.
	h, _ := e.ms.GetHolding(ctx, "hold-c1")
	if h.ConsignStatus != model.HoldingConsignSold {
		t.Errorf("seller holding mirror = %s, want sold", h.ConsignStatus)
	}

	// The seller's holding is two days old, so the previous acquisition was
	// not yesterday: no appreciation.
	item, _ := e.ms.GetItem(ctx, "i1")
	if !item.Price.Equal(d(150)) {
		t.Errorf("item price = %s, want unchanged 150", item.Price)
	}
}

func TestRun_StockConsumedBeforeConsignments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 1, model.ItemActive)
	e.seedAccount(t, "buyer", 0)
	e.seedAccount(t, "seller", 0)
	e.seedSellingConsignment(t, "c1", "seller", 120, 100, 0, testNow.Add(-time.Hour))
	e.seedFundedOrder(t, "bo1", "buyer", 1, 100, testNow.Add(-10*time.Minute))

	res, err := e.engine.Run(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Matched != 1 {
		t.Fatalf("result = %+v", res)
	}

	// Official stock filled the order; the consignment went off shelf.
	item, _ := e.ms.GetItem(ctx, "i1")
	if item.Stock != 0 {
		t.Errorf("stock = %d, want consumed to 0", item.Stock)
	}
	c, _ := e.ms.GetConsignment(ctx, "c1")
	if c.Status != model.ConsignmentOffShelf {
		t.Errorf("consignment status = %d, want off_shelf", c.Status)
	}
	if res.OffShelf != 1 {
		t.Errorf("off shelf count = %d, want 1", res.OffShelf)
	}
	h, _ := e.ms.GetHolding(ctx, "hold-c1")
	if h.FreeRelists != 1 {
		t.Errorf("seller free relists = %d, want compensating 1", h.FreeRelists)
	}
}

func TestRun_ConsignmentOutsideZoneNotSupply(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 0, model.ItemInactive)
	e.seedAccount(t, "buyer", 0)
	e.seedAccount(t, "seller", 0)
	// Ask price above the zone's max: not supply for this zone.
	e.seedSellingConsignment(t, "c1", "seller", 1500, 100, 0, testNow.Add(-time.Hour))
	e.seedFundedOrder(t, "bo1", "buyer", 1, 100, testNow.Add(-10*time.Minute))

	res, err := e.engine.Run(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Matched != 0 || res.Refunded != 1 {
		t.Fatalf("result = %+v, want 0 matched / 1 refunded", res)
	}
	c, _ := e.ms.GetConsignment(ctx, "c1")
	if c.Status != model.ConsignmentSelling {
		t.Errorf("out-of-zone consignment status = %d, want still selling", c.Status)
	}
}

func TestRun_FailedTradeDoesNotPoisonRun(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 2, model.ItemActive)
	e.seedAccount(t, "funded", 0)
	e.seedFundedOrder(t, "bo-funded", "funded", 1, 100, testNow.Add(-10*time.Minute))

	// The ghost buyer has no account and no reservation; funding fails
	// before any state changes.
	if err := e.ms.CreateBuyOrder(ctx, &model.BuyOrder{
		ID: "bo-ghost", SessionID: "s1", ItemID: "i1", ZoneID: "z1",
		BuyerID: "ghost", Weight: 1, Amount: d(100),
		Status: model.BuyOrderPending, CreatedAt: testNow.Add(-9 * time.Minute),
	}); err != nil {
		t.Fatalf("seed ghost order: %v", err)
	}

	res, err := e.engine.Run(ctx, "s1", "", "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Matched != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 matched / 1 failed", res)
	}

	funded, _ := e.ms.GetBuyOrderForUpdate(ctx, "bo-funded")
	if funded.Status != model.BuyOrderMatched {
		t.Errorf("funded order status = %s, want matched", funded.Status)
	}
	item, _ := e.ms.GetItem(ctx, "i1")
	if item.Stock != 1 {
		t.Errorf("stock = %d, want 1 (only the good trade consumed a unit)", item.Stock)
	}
}

func TestRun_SessionNotOpen(t *testing.T) {
	e := newEnv(t)
	err := e.ms.CreateSession(context.Background(), &model.Session{
		ID: "s1", Status: model.SessionClosed,
		OpensAt: testNow.Add(-2 * time.Hour), ClosesAt: testNow.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}

	_, err = e.engine.Run(context.Background(), "s1", "", "")
	if !errors.Is(err, model.ErrSessionNotOpen) {
		t.Fatalf("expected ErrSessionNotOpen, got %v", err)
	}
}

// --- EnterPool / CancelBuyOrder ---

func TestEnterPool_CommitsPriceIntoReservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 250, 5, model.ItemActive)
	e.seedAccount(t, "buyer", 300)

	bo, err := e.engine.EnterPool(ctx, match.PoolEntry{
		SessionID: "s1", ItemID: "i1", BuyerID: "buyer", Weight: 3,
	})
	if err != nil {
		t.Fatalf("enter pool failed: %v", err)
	}
	if !bo.Amount.Equal(d(250)) {
		t.Errorf("committed amount = %s, want current price 250", bo.Amount)
	}
	if bo.Status != model.BuyOrderPending {
		t.Errorf("status = %s, want pending", bo.Status)
	}
	if bo.ZoneID != "z1" {
		t.Errorf("zone = %s, want item's zone z1", bo.ZoneID)
	}

	acct := e.account(t, "buyer")
	if !acct.Available.Equal(d(50)) {
		t.Errorf("available = %s, want 50 after reservation", acct.Available)
	}
	r, err := e.ms.GetReservationForUpdate(ctx, "buyer", "s1")
	if err != nil {
		t.Fatalf("reservation missing: %v", err)
	}
	if !r.Remaining.Equal(d(250)) {
		t.Errorf("reservation = %s, want 250", r.Remaining)
	}
}

func TestEnterPool_SecondEntryTopsUpReservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 5, model.ItemActive)
	e.seedAccount(t, "buyer", 300)

	for i := 0; i < 2; i++ {
		if _, err := e.engine.EnterPool(ctx, match.PoolEntry{
			SessionID: "s1", ItemID: "i1", BuyerID: "buyer",
		}); err != nil {
			t.Fatalf("enter pool %d failed: %v", i, err)
		}
	}

	r, err := e.ms.GetReservationForUpdate(ctx, "buyer", "s1")
	if err != nil {
		t.Fatalf("reservation missing: %v", err)
	}
	if !r.Remaining.Equal(d(200)) {
		t.Errorf("reservation = %s, want accumulated 200", r.Remaining)
	}
}

func TestEnterPool_InsufficientBalance(t *testing.T) {
	e := newEnv(t)
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 5, model.ItemActive)
	e.seedAccount(t, "buyer", 99.99)

	_, err := e.engine.EnterPool(context.Background(), match.PoolEntry{
		SessionID: "s1", ItemID: "i1", BuyerID: "buyer",
	})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestEnterPool_InactiveItem(t *testing.T) {
	e := newEnv(t)
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 0, model.ItemInactive)
	e.seedAccount(t, "buyer", 500)

	_, err := e.engine.EnterPool(context.Background(), match.PoolEntry{
		SessionID: "s1", ItemID: "i1", BuyerID: "buyer",
	})
	if !errors.Is(err, model.ErrItemInactive) {
		t.Fatalf("expected ErrItemInactive, got %v", err)
	}
}

func TestCancelBuyOrder_RefundsAndTerminates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 5, model.ItemActive)
	e.seedAccount(t, "buyer", 100)

	bo, err := e.engine.EnterPool(ctx, match.PoolEntry{
		SessionID: "s1", ItemID: "i1", BuyerID: "buyer",
	})
	if err != nil {
		t.Fatalf("enter pool failed: %v", err)
	}

	if err := e.engine.CancelBuyOrder(ctx, "buyer", bo.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	acct := e.account(t, "buyer")
	if !acct.Available.Equal(d(100)) {
		t.Errorf("available = %s, want restored 100", acct.Available)
	}
	got, _ := e.ms.GetBuyOrderForUpdate(ctx, bo.ID)
	if got.Status != model.BuyOrderRefunded {
		t.Errorf("status = %s, want refunded", got.Status)
	}

	// Terminal: cancelling again is rejected.
	if err := e.engine.CancelBuyOrder(ctx, "buyer", bo.ID); !errors.Is(err, model.ErrOrderNotPending) {
		t.Errorf("expected ErrOrderNotPending on double cancel, got %v", err)
	}
}

func TestCancelBuyOrder_NotOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSession(t, "s1")
	e.seedZone(t, "z1", 0, 1000)
	e.seedItem(t, "i1", 100, 5, model.ItemActive)
	e.seedAccount(t, "buyer", 100)

	bo, err := e.engine.EnterPool(ctx, match.PoolEntry{
		SessionID: "s1", ItemID: "i1", BuyerID: "buyer",
	})
	if err != nil {
		t.Fatalf("enter pool failed: %v", err)
	}
	if err := e.engine.CancelBuyOrder(ctx, "intruder", bo.ID); !errors.Is(err, model.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}
