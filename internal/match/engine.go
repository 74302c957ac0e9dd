// Package match runs the pool matching pipeline: it gathers pending buy
// orders per (item, zone), counts available supply from official stock and
// selling consignments, picks winners by weight, and executes each winning
// trade in its own transaction so one failure never poisons a run.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/asset"
	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/config"
	"github.com/relicx/match-engine/internal/consignment"
	"github.com/relicx/match-engine/internal/ledger"
	"github.com/relicx/match-engine/internal/market"
	"github.com/relicx/match-engine/internal/metrics"
	"github.com/relicx/match-engine/internal/model"
	"github.com/relicx/match-engine/internal/selector"
	"github.com/relicx/match-engine/internal/settle"
	"github.com/relicx/match-engine/internal/store"
)

// Result summarizes one match run. Matched + Failed + Refunded equals the
// number of pending orders the run picked up.
type Result struct {
	Matched  int    `json:"matched"`
	Failed   int    `json:"failed"`
	Refunded int    `json:"refunded"`
	OffShelf int    `json:"off_shelf"`
	BatchNo  string `json:"batch_no"`
}

// Deps wires the engine's collaborators.
type Deps struct {
	Store    store.Store
	Ledger   *ledger.Service
	Assets   *asset.Service
	Registry *consignment.Registry
	Settler  *settle.Distributor
	Markets  *market.Service
	Appr     *market.Appreciator
	Hub      *WSHub
	Notifier Notifier
	Clock    clock.Clock

	// Rng seeds winner selection; nil uses a time-seeded source.
	Rng *rand.Rand
}

// Engine runs match cycles and manages the order pool.
type Engine struct {
	store    store.Store
	ledger   *ledger.Service
	assets   *asset.Service
	registry *consignment.Registry
	settler  *settle.Distributor
	markets  *market.Service
	appr     *market.Appreciator
	hub      *WSHub
	notifier Notifier
	clock    clock.Clock
	rng      *rand.Rand
}

// NewEngine creates a match engine.
func NewEngine(d Deps) *Engine {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	return &Engine{
		store:    d.Store,
		ledger:   d.Ledger,
		assets:   d.Assets,
		registry: d.Registry,
		settler:  d.Settler,
		markets:  d.Markets,
		appr:     d.Appr,
		hub:      d.Hub,
		notifier: d.Notifier,
		clock:    d.Clock,
		rng:      d.Rng,
	}
}

// groupKey scopes one selection round.
type groupKey struct {
	itemID string
	zoneID string
}

// supplyUnit is one sellable unit. A nil listing means official stock.
type supplyUnit struct {
	listing *model.ConsignmentListing
}

// Run executes one match cycle over the pending orders in scope. Empty
// packageID/zoneID widen the scope to the whole session. Each winning trade
// commits or fails on its own; losers are refunded; consignments left unsold
// are off-shelved with a compensating free relist.
func (e *Engine) Run(ctx context.Context, sessionID, packageID, zoneID string) (Result, error) {
	var res Result

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return res, err
	}
	if sess.Status != model.SessionOpen {
		return res, fmt.Errorf("session %s status %s: %w", sessionID, sess.Status, model.ErrSessionNotOpen)
	}

	cfg := config.Load(ctx, e.store)
	res.BatchNo = uuid.New().String()

	orders, err := e.store.ListPendingBuyOrders(ctx, sessionID, packageID, zoneID)
	if err != nil {
		return res, err
	}

	// Preserve the store's (weight desc, created asc) order inside each
	// group; map iteration order between groups does not matter.
	groups := make(map[groupKey][]model.BuyOrder)
	var keys []groupKey
	for _, o := range orders {
		k := groupKey{itemID: o.ItemID, zoneID: o.ZoneID}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], o)
	}

	mode := selector.ModeTime
	if cfg.TieBreak == config.TieBreakRandom {
		mode = selector.ModeRandom
	}
	pick := selector.New(mode, e.rng)

	for _, k := range keys {
		if err := e.runGroup(ctx, k, groups[k], pick, cfg, &res); err != nil {
			slog.Error("match group failed",
				"session", sessionID,
				"item", k.itemID,
				"zone", k.zoneID,
				"err", err,
			)
			metrics.MatchRunsTotal.WithLabelValues("group_error").Inc()
		}
	}

	metrics.MatchRunsTotal.WithLabelValues("completed").Inc()
	slog.Info("match run completed",
		"session", sessionID,
		"package", packageID,
		"zone", zoneID,
		"batch", res.BatchNo,
		"matched", res.Matched,
		"failed", res.Failed,
		"refunded", res.Refunded,
		"off_shelf", res.OffShelf,
	)
	if e.hub != nil {
		e.hub.Broadcast(WSMessage{
			Type:      "match_completed",
			SessionID: sessionID,
			Matched:   res.Matched,
			Refunded:  res.Refunded,
			Failed:    res.Failed,
			OffShelf:  res.OffShelf,
		})
	}
	e.notifier.MatchCompleted(ctx, sessionID, res)
	return res, nil
}

// runGroup matches one (item, zone) bucket: winners get paired with supply
// units (official stock first, then consignments in listing order), losers
// are refunded.
func (e *Engine) runGroup(ctx context.Context, k groupKey, orders []model.BuyOrder, pick *selector.Selector, cfg config.Snapshot, res *Result) error {
	item, err := e.store.GetItem(ctx, k.itemID)
	if err != nil {
		return err
	}
	zone, err := e.store.GetZone(ctx, k.zoneID)
	if err != nil {
		return err
	}

	supply, err := e.gatherSupply(ctx, item, zone)
	if err != nil {
		return err
	}

	kWinners := len(orders)
	if len(supply) < kWinners {
		kWinners = len(supply)
	}

	candidates := make([]selector.Candidate, len(orders))
	byID := make(map[string]model.BuyOrder, len(orders))
	for i, o := range orders {
		candidates[i] = selector.Candidate{ID: o.ID, Weight: o.Weight, CreatedAt: o.CreatedAt}
		byID[o.ID] = o
	}
	winners := pick.Pick(candidates, kWinners)

	won := make(map[string]bool, len(winners))
	var leftovers []*model.ConsignmentListing
	next := 0
	for _, id := range winners {
		won[id] = true
		o := byID[id]
		unit := supply[next]
		next++
		if err := e.execute(ctx, &o, unit.listing, cfg, res.BatchNo); err != nil {
			slog.Warn("trade execution failed",
				"buy_order", o.ID,
				"buyer", o.BuyerID,
				"item", o.ItemID,
				"err", err,
			)
			res.Failed++
			metrics.BuyOrdersTotal.WithLabelValues("failed").Inc()
			if rerr := e.refund(ctx, o.ID, res.BatchNo); rerr != nil {
				slog.Error("refund after failed trade", "buy_order", o.ID, "err", rerr)
			}
			// The trade rolled back, so a consignment unit is still
			// selling; it leaves the shelf with the other unsold listings.
			if unit.listing != nil {
				leftovers = append(leftovers, unit.listing)
			}
			continue
		}
		res.Matched++
		metrics.BuyOrdersTotal.WithLabelValues("matched").Inc()
	}

	for _, o := range orders {
		if won[o.ID] {
			continue
		}
		if err := e.refund(ctx, o.ID, res.BatchNo); err != nil {
			slog.Error("refund losing order", "buy_order", o.ID, "err", err)
			continue
		}
		res.Refunded++
		metrics.BuyOrdersTotal.WithLabelValues("refunded").Inc()
	}

	// Consignments that found no buyer leave the shelf with compensation.
	for _, unit := range supply[next:] {
		if unit.listing != nil {
			leftovers = append(leftovers, unit.listing)
		}
	}
	for _, listing := range leftovers {
		err := e.store.WithTx(ctx, func(ctx context.Context) error {
			return e.assets.OffShelfConsignment(ctx, listing.ID, "unmatched in session")
		})
		if err != nil {
			slog.Error("off-shelf leftover consignment", "consignment", listing.ID, "err", err)
			continue
		}
		res.OffShelf++
	}
	return nil
}

// gatherSupply builds the unit list for one (item, zone) group: official
// stock first when the item is live in this zone, then selling consignments
// whose ask price falls in the zone, oldest listing first.
func (e *Engine) gatherSupply(ctx context.Context, item *model.Item, zone *model.Zone) ([]supplyUnit, error) {
	var supply []supplyUnit
	if item.Status == model.ItemActive && item.ZoneID == zone.ID {
		for i := 0; i < item.Stock; i++ {
			supply = append(supply, supplyUnit{})
		}
	}

	listings, err := e.store.ListSellingConsignments(ctx, item.ID, &zone.MinPrice, &zone.MaxPrice)
	if err != nil {
		return nil, err
	}
	for i := range listings {
		supply = append(supply, supplyUnit{listing: &listings[i]})
	}
	return supply, nil
}

// tradePrice is the amount the buyer committed at pool entry. Both official
// and consignment units settle at this price; a consignment's ask price only
// scopes which zone it sells in.
func tradePrice(o *model.BuyOrder) decimal.Decimal {
	return o.Amount
}
