package market_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/market"
	"github.com/relicx/match-engine/internal/model"
	"github.com/relicx/match-engine/internal/store"
)

var testNow = time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newMarket(t *testing.T) (*market.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return market.New(ms, clock.NewFixed(testNow)), ms
}

func seedSession(t *testing.T, ms *store.MemoryStore, id, status string, opensAt, closesAt time.Time) {
	t.Helper()
	err := ms.CreateSession(context.Background(), &model.Session{
		ID: id, Name: "spring drop", Status: status,
		OpensAt: opensAt, ClosesAt: closesAt,
	})
	if err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
}

func TestResolveOpenSession(t *testing.T) {
	svc, ms := newMarket(t)
	ctx := context.Background()
	seedSession(t, ms, "s1", model.SessionOpen, testNow.Add(-time.Hour), testNow.Add(time.Hour))

	if _, err := svc.ResolveOpenSession(ctx, "s1"); err != nil {
		t.Fatalf("open session rejected: %v", err)
	}
}

func TestResolveOpenSession_ClosedStatus(t *testing.T) {
	svc, ms := newMarket(t)
	seedSession(t, ms, "s1", model.SessionClosed, testNow.Add(-time.Hour), testNow.Add(time.Hour))

	_, err := svc.ResolveOpenSession(context.Background(), "s1")
	if !errors.Is(err, model.ErrSessionNotOpen) {
		t.Fatalf("expected ErrSessionNotOpen, got %v", err)
	}
}

func TestResolveOpenSession_OutsideWindow(t *testing.T) {
	svc, ms := newMarket(t)
	seedSession(t, ms, "s1", model.SessionOpen, testNow.Add(time.Hour), testNow.Add(2*time.Hour))

	_, err := svc.ResolveOpenSession(context.Background(), "s1")
	if !errors.Is(err, model.ErrSessionNotOpen) {
		t.Fatalf("expected ErrSessionNotOpen before window, got %v", err)
	}
}

func TestZoneForPrice_CreatesAlignedBracket(t *testing.T) {
	svc, _ := newMarket(t)
	ctx := context.Background()

	z, err := svc.ZoneForPrice(ctx, "s1", d(2350))
	if err != nil {
		t.Fatalf("zone resolution failed: %v", err)
	}
	if !z.MinPrice.Equal(d(2000)) || !z.MaxPrice.Equal(d(3000)) {
		t.Errorf("bracket = [%s, %s), want [2000, 3000)", z.MinPrice, z.MaxPrice)
	}
	if z.Name != "2000-3000" {
		t.Errorf("name = %q, want 2000-3000", z.Name)
	}
	if !z.Contains(d(2350)) {
		t.Error("created zone does not contain its price")
	}
}

func TestZoneForPrice_ReusesExisting(t *testing.T) {
	svc, _ := newMarket(t)
	ctx := context.Background()

	z1, err := svc.ZoneForPrice(ctx, "s1", d(500))
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	z2, err := svc.ZoneForPrice(ctx, "s1", d(999.99))
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if z1.ID != z2.ID {
		t.Errorf("same bracket resolved twice: %s vs %s", z1.ID, z2.ID)
	}
}

func TestZoneForPrice_BoundaryBelongsToUpperZone(t *testing.T) {
	svc, _ := newMarket(t)
	ctx := context.Background()

	z, err := svc.ZoneForPrice(ctx, "s1", d(1000))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !z.MinPrice.Equal(d(1000)) {
		t.Errorf("price 1000 resolved to bracket starting at %s, want 1000", z.MinPrice)
	}
}

// --- Appreciation ---

func newAppreciator(t *testing.T) (*market.Appreciator, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	zones := market.New(ms, clock.NewFixed(testNow))
	return market.NewAppreciator(ms, zones, clock.NewFixed(testNow)), ms
}

func seedItem(t *testing.T, ms *store.MemoryStore, id string, price float64) *model.Item {
	t.Helper()
	it := &model.Item{
		ID: id, SessionID: "s1", ZoneID: "z1", PackageID: "p1",
		Name: "relic", Price: d(price), Stock: 5, Status: model.ItemActive,
	}
	if err := ms.CreateItem(context.Background(), it); err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}
	return it
}

func seedOrder(t *testing.T, ms *store.MemoryStore, id, itemID string, paidAt time.Time) {
	t.Helper()
	err := ms.CreateOrder(context.Background(), &model.Order{
		ID: id, BuyerID: "b1", ItemID: itemID, SessionID: "s1",
		Price: d(100), Status: model.OrderPaid, PaidAt: paidAt,
	})
	if err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}
}

func TestAppreciate_FirstTrade(t *testing.T) {
	appr, ms := newAppreciator(t)
	ctx := context.Background()
	item := seedItem(t, ms, "i1", 100)

	ok, err := appr.CheckAndAppreciate(ctx, item, d(0.05), "current-order", "current-holding")
	if err != nil {
		t.Fatalf("appreciate failed: %v", err)
	}
	if !ok {
		t.Fatal("first trade ever should appreciate")
	}
	if !item.Price.Equal(d(105)) {
		t.Errorf("price = %s, want 105", item.Price)
	}

	logs := ms.AppreciationLogs()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].Reason != "first trade" {
		t.Errorf("reason = %q", logs[0].Reason)
	}
}

func TestAppreciate_PreviousTradeYesterday(t *testing.T) {
	appr, ms := newAppreciator(t)
	ctx := context.Background()
	item := seedItem(t, ms, "i1", 200)
	// 23:59 yesterday still counts: calendar day, not 24-hour interval.
	seedOrder(t, ms, "o-prev", "i1", time.Date(2026, 4, 9, 23, 59, 0, 0, time.UTC))

	ok, err := appr.CheckAndAppreciate(ctx, item, d(0.05), "o-now", "h-now")
	if err != nil {
		t.Fatalf("appreciate failed: %v", err)
	}
	if !ok {
		t.Fatal("trade the day after previous trade should appreciate")
	}
	if !item.Price.Equal(d(210)) {
		t.Errorf("price = %s, want 210", item.Price)
	}
}

func TestAppreciate_PreviousTradeToday(t *testing.T) {
	appr, ms := newAppreciator(t)
	item := seedItem(t, ms, "i1", 200)
	seedOrder(t, ms, "o-prev", "i1", testNow.Add(-2*time.Hour))

	ok, err := appr.CheckAndAppreciate(context.Background(), item, d(0.05), "o-now", "h-now")
	if err != nil {
		t.Fatalf("appreciate errored: %v", err)
	}
	if ok {
		t.Fatal("same-day previous trade must not appreciate")
	}
	if !item.Price.Equal(d(200)) {
		t.Errorf("price = %s, want unchanged 200", item.Price)
	}
}

func TestAppreciate_StaleTrade(t *testing.T) {
	appr, ms := newAppreciator(t)
	item := seedItem(t, ms, "i1", 200)
	seedOrder(t, ms, "o-prev", "i1", testNow.AddDate(0, 0, -3))

	ok, err := appr.CheckAndAppreciate(context.Background(), item, d(0.05), "o-now", "h-now")
	if err != nil {
		t.Fatalf("appreciate errored: %v", err)
	}
	if ok {
		t.Fatal("a three-day-old previous trade must not appreciate")
	}
}

func TestAppreciate_ExcludesInFlightOrder(t *testing.T) {
	appr, ms := newAppreciator(t)
	item := seedItem(t, ms, "i1", 100)
	// The only existing order is the one the current trade just created; it
	// must not count as a previous trade.
	seedOrder(t, ms, "o-now", "i1", testNow)

	ok, err := appr.CheckAndAppreciate(context.Background(), item, d(0.05), "o-now", "h-now")
	if err != nil {
		t.Fatalf("appreciate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected first-trade appreciation when only the in-flight order exists")
	}
}

func TestAppreciate_ZeroRate(t *testing.T) {
	appr, ms := newAppreciator(t)
	item := seedItem(t, ms, "i1", 100)

	ok, err := appr.CheckAndAppreciate(context.Background(), item, decimal.Zero, "o", "h")
	if err != nil {
		t.Fatalf("appreciate errored: %v", err)
	}
	if ok {
		t.Fatal("zero rate must disable appreciation")
	}
}

func TestAppreciate_RezonesAcrossBracket(t *testing.T) {
	appr, ms := newAppreciator(t)
	ctx := context.Background()
	item := seedItem(t, ms, "i1", 980)

	ok, err := appr.CheckAndAppreciate(ctx, item, d(0.05), "o", "h")
	if err != nil {
		t.Fatalf("appreciate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected appreciation")
	}
	// 980 * 1.05 = 1029 crosses into the next bracket.
	z, err := ms.GetZone(ctx, item.ZoneID)
	if err != nil {
		t.Fatalf("zone lookup: %v", err)
	}
	if !z.MinPrice.Equal(d(1000)) {
		t.Errorf("re-zoned bracket starts at %s, want 1000", z.MinPrice)
	}
}
