package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Transactions are carried in the context so repository methods transparently
// join the ambient transaction started by WithTx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type txKey struct{}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// WithTx runs fn inside a transaction; nested calls join the ambient one.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, model.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// --- Sessions ---

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO sessions (id, name, status, opens_at, closes_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.Name, sess.Status, sess.OpensAt, sess.ClosesAt, sess.CreatedAt)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	err := s.q(ctx).QueryRow(ctx,
		`SELECT id, name, status, opens_at, closes_at, created_at
		 FROM sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.Name, &sess.Status, &sess.OpensAt, &sess.ClosesAt, &sess.CreatedAt)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return &sess, nil
}

// --- Zones ---

func (s *PostgresStore) CreateZone(ctx context.Context, z *model.Zone) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO zones (id, session_id, name, min_price, max_price, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		z.ID, z.SessionID, z.Name, z.MinPrice.String(), z.MaxPrice.String(), z.CreatedAt)
	return err
}

func (s *PostgresStore) scanZone(row pgx.Row) (*model.Zone, error) {
	var z model.Zone
	var minS, maxS string
	if err := row.Scan(&z.ID, &z.SessionID, &z.Name, &minS, &maxS, &z.CreatedAt); err != nil {
		return nil, err
	}
	z.MinPrice = dec(minS)
	z.MaxPrice = dec(maxS)
	return &z, nil
}

func (s *PostgresStore) GetZone(ctx context.Context, id string) (*model.Zone, error) {
	z, err := s.scanZone(s.q(ctx).QueryRow(ctx,
		`SELECT id, session_id, name, min_price::TEXT, max_price::TEXT, created_at
		 FROM zones WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "zone", id)
	}
	return z, nil
}

func (s *PostgresStore) FindZoneByPrice(ctx context.Context, sessionID string, price decimal.Decimal) (*model.Zone, error) {
	z, err := s.scanZone(s.q(ctx).QueryRow(ctx,
		`SELECT id, session_id, name, min_price::TEXT, max_price::TEXT, created_at
		 FROM zones
		 WHERE session_id = $1 AND min_price <= $2::NUMERIC AND max_price > $2::NUMERIC`,
		sessionID, price.String()))
	if err != nil {
		return nil, notFound(err, "zone for price", price.String())
	}
	return z, nil
}

// --- Items ---

const itemColumns = `id, session_id, zone_id, package_id, name,
       price::TEXT, stock, sales, status, created_at`

func (s *PostgresStore) CreateItem(ctx context.Context, it *model.Item) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO items (id, session_id, zone_id, package_id, name, price, stock, sales, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9, $10)`,
		it.ID, it.SessionID, it.ZoneID, it.PackageID, it.Name,
		it.Price.String(), it.Stock, it.Sales, it.Status, it.CreatedAt)
	return err
}

func scanItem(row pgx.Row) (*model.Item, error) {
	var it model.Item
	var priceS string
	if err := row.Scan(&it.ID, &it.SessionID, &it.ZoneID, &it.PackageID, &it.Name,
		&priceS, &it.Stock, &it.Sales, &it.Status, &it.CreatedAt); err != nil {
		return nil, err
	}
	it.Price = dec(priceS)
	return &it, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (*model.Item, error) {
	it, err := scanItem(s.q(ctx).QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "item", id)
	}
	return it, nil
}

func (s *PostgresStore) GetItemForUpdate(ctx context.Context, id string) (*model.Item, error) {
	it, err := scanItem(s.q(ctx).QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "item", id)
	}
	return it, nil
}

func (s *PostgresStore) UpdateItemTrade(ctx context.Context, id string, stock, sales int, status string) error {
	_, err := s.q(ctx).Exec(ctx,
		`UPDATE items SET stock = $2, sales = $3, status = $4 WHERE id = $1`,
		id, stock, sales, status)
	return err
}

func (s *PostgresStore) UpdateItemPrice(ctx context.Context, id string, price decimal.Decimal, zoneID string) error {
	_, err := s.q(ctx).Exec(ctx,
		`UPDATE items SET price = $2::NUMERIC, zone_id = $3 WHERE id = $1`,
		id, price.String(), zoneID)
	return err
}

// --- Buy orders ---

const buyOrderColumns = `id, session_id, item_id, zone_id, buyer_id, weight,
       amount::TEXT, status, matched_order_id, created_at`

func (s *PostgresStore) CreateBuyOrder(ctx context.Context, o *model.BuyOrder) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO buy_orders (id, session_id, item_id, zone_id, buyer_id, weight, amount, status, matched_order_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10)`,
		o.ID, o.SessionID, o.ItemID, o.ZoneID, o.BuyerID, o.Weight,
		o.Amount.String(), o.Status, o.MatchedOrderID, o.CreatedAt)
	return err
}

func scanBuyOrder(row pgx.Row) (*model.BuyOrder, error) {
	var o model.BuyOrder
	var amountS string
	if err := row.Scan(&o.ID, &o.SessionID, &o.ItemID, &o.ZoneID, &o.BuyerID, &o.Weight,
		&amountS, &o.Status, &o.MatchedOrderID, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Amount = dec(amountS)
	return &o, nil
}

func (s *PostgresStore) GetBuyOrderForUpdate(ctx context.Context, id string) (*model.BuyOrder, error) {
	o, err := scanBuyOrder(s.q(ctx).QueryRow(ctx,
		`SELECT `+buyOrderColumns+` FROM buy_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "buy order", id)
	}
	return o, nil
}

func (s *PostgresStore) ListPendingBuyOrders(ctx context.Context, sessionID, packageID, zoneID string) ([]model.BuyOrder, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT o.id, o.session_id, o.item_id, o.zone_id, o.buyer_id, o.weight,
		        o.amount::TEXT, o.status, o.matched_order_id, o.created_at
		 FROM buy_orders o
		 JOIN items i ON i.id = o.item_id
		 WHERE o.session_id = $1 AND o.status = 'pending'
		   AND ($2 = '' OR i.package_id = $2)
		   AND ($3 = '' OR o.zone_id = $3)
		 ORDER BY o.weight DESC, o.created_at ASC`,
		sessionID, packageID, zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.BuyOrder
	for rows.Next() {
		o, err := scanBuyOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

func (s *PostgresStore) MarkBuyOrderMatched(ctx context.Context, id, orderID string) error {
	_, err := s.q(ctx).Exec(ctx,
		`UPDATE buy_orders SET status = 'matched', matched_order_id = $2 WHERE id = $1`,
		id, orderID)
	return err
}

func (s *PostgresStore) MarkBuyOrderRefunded(ctx context.Context, id string) error {
	_, err := s.q(ctx).Exec(ctx,
		`UPDATE buy_orders SET status = 'refunded' WHERE id = $1`, id)
	return err
}

// --- Orders ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO orders (id, buyer_id, item_id, session_id, zone_id, price, status, created_at, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9)`,
		o.ID, o.BuyerID, o.ItemID, o.SessionID, o.ZoneID,
		o.Price.String(), o.Status, o.CreatedAt, o.PaidAt)
	return err
}

func (s *PostgresStore) LastTradeTime(ctx context.Context, itemID, excludeOrderID string) (time.Time, bool, error) {
	var t time.Time
	err := s.q(ctx).QueryRow(ctx,
		`SELECT paid_at FROM orders
		 WHERE item_id = $1 AND id <> $2 AND status = 'paid'
		 ORDER BY paid_at DESC LIMIT 1`,
		itemID, excludeOrderID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last trade time %s: %w", itemID, err)
	}
	return t, true, nil
}

// --- Consignments ---

const consignmentColumns = `id, seller_id, holding_id, item_id, package_id, zone_id,
       ask_price::TEXT, original_price::TEXT, service_fee::TEXT, legacy, status,
       principal::TEXT, profit::TEXT, payout_withdrawable::TEXT, payout_score::TEXT, split_rate::TEXT,
       settled_at, sold_at, off_shelf_reason, created_at`

func (s *PostgresStore) CreateConsignment(ctx context.Context, c *model.ConsignmentListing) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO consignments (id, seller_id, holding_id, item_id, package_id, zone_id,
		     ask_price, original_price, service_fee, legacy, status,
		     principal, profit, payout_withdrawable, payout_score, split_rate,
		     settled_at, sold_at, off_shelf_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11,
		         $12::NUMERIC, $13::NUMERIC, $14::NUMERIC, $15::NUMERIC, $16::NUMERIC,
		         $17, $18, $19, $20)`,
		c.ID, c.SellerID, c.HoldingID, c.ItemID, c.PackageID, c.ZoneID,
		c.AskPrice.String(), c.OriginalPrice.String(), c.ServiceFee.String(), c.Legacy, int(c.Status),
		c.Principal.String(), c.Profit.String(), c.PayoutWithdrawable.String(), c.PayoutScore.String(), c.SplitRate.String(),
		c.SettledAt, c.SoldAt, c.OffShelfReason, c.CreatedAt)
	return err
}

func scanConsignment(row pgx.Row) (*model.ConsignmentListing, error) {
	var c model.ConsignmentListing
	var status int
	var askS, origS, feeS, prinS, profS, wdS, scS, splitS string
	if err := row.Scan(&c.ID, &c.SellerID, &c.HoldingID, &c.ItemID, &c.PackageID, &c.ZoneID,
		&askS, &origS, &feeS, &c.Legacy, &status,
		&prinS, &profS, &wdS, &scS, &splitS,
		&c.SettledAt, &c.SoldAt, &c.OffShelfReason, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = model.ConsignmentStatus(status)
	c.AskPrice = dec(askS)
	c.OriginalPrice = dec(origS)
	c.ServiceFee = dec(feeS)
	c.Principal = dec(prinS)
	c.Profit = dec(profS)
	c.PayoutWithdrawable = dec(wdS)
	c.PayoutScore = dec(scS)
	c.SplitRate = dec(splitS)
	return &c, nil
}

func (s *PostgresStore) GetConsignment(ctx context.Context, id string) (*model.ConsignmentListing, error) {
	c, err := scanConsignment(s.q(ctx).QueryRow(ctx,
		`SELECT `+consignmentColumns+` FROM consignments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "consignment", id)
	}
	return c, nil
}

func (s *PostgresStore) GetConsignmentForUpdate(ctx context.Context, id string) (*model.ConsignmentListing, error) {
	c, err := scanConsignment(s.q(ctx).QueryRow(ctx,
		`SELECT `+consignmentColumns+` FROM consignments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "consignment", id)
	}
	return c, nil
}

func (s *PostgresStore) ListSellingConsignments(ctx context.Context, itemID string, min, max *decimal.Decimal) ([]model.ConsignmentListing, error) {
	var minArg, maxArg any
	if min != nil {
		minArg = min.String()
	}
	if max != nil {
		maxArg = max.String()
	}

	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+consignmentColumns+`
		 FROM consignments
		 WHERE item_id = $1 AND status = 1
		   AND ($2::NUMERIC IS NULL OR ask_price >= $2::NUMERIC)
		   AND ($3::NUMERIC IS NULL OR ask_price < $3::NUMERIC)
		 ORDER BY created_at ASC`,
		itemID, minArg, maxArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.ConsignmentListing
	for rows.Next() {
		c, err := scanConsignment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpdateConsignmentStatus(ctx context.Context, id string, status model.ConsignmentStatus, soldAt *time.Time, offShelfReason string) error {
	_, err := s.q(ctx).Exec(ctx,
		`UPDATE consignments
		 SET status = $2,
		     sold_at = COALESCE($3, sold_at),
		     off_shelf_reason = CASE WHEN $4 <> '' THEN $4 ELSE off_shelf_reason END
		 WHERE id = $1`,
		id, int(status), soldAt, offShelfReason)
	return err
}

func (s *PostgresStore) UpdateConsignmentSettlement(ctx context.Context, c *model.ConsignmentListing) error {
	_, err := s.q(ctx).Exec(ctx,
		`UPDATE consignments
		 SET principal = $2::NUMERIC, profit = $3::NUMERIC,
		     payout_withdrawable = $4::NUMERIC, payout_score = $5::NUMERIC,
		     split_rate = $6::NUMERIC, settled_at = $7
		 WHERE id = $1`,
		c.ID, c.Principal.String(), c.Profit.String(),
		c.PayoutWithdrawable.String(), c.PayoutScore.String(),
		c.SplitRate.String(), c.SettledAt)
	return err
}

// --- Holdings ---

const holdingColumns = `id, owner_id, source_order_id, item_id, price_paid::TEXT,
       consign_status, delivered, free_relists, legacy, acquired_at`

func (s *PostgresStore) CreateHolding(ctx context.Context, h *model.Holding) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO holdings (id, owner_id, source_order_id, item_id, price_paid,
		     consign_status, delivered, free_relists, legacy, acquired_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9, $10)`,
		h.ID, h.OwnerID, h.SourceOrderID, h.ItemID, h.PricePaid.String(),
		h.ConsignStatus, h.Delivered, h.FreeRelists, h.Legacy, h.AcquiredAt)
	return err
}

func scanHolding(row pgx.Row) (*model.Holding, error) {
	var h model.Holding
	var priceS string
	if err := row.Scan(&h.ID, &h.OwnerID, &h.SourceOrderID, &h.ItemID, &priceS,
		&h.ConsignStatus, &h.Delivered, &h.FreeRelists, &h.Legacy, &h.AcquiredAt); err != nil {
		return nil, err
	}
	h.PricePaid = dec(priceS)
	return &h, nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, id string) (*model.Holding, error) {
	h, err := scanHolding(s.q(ctx).QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "holding", id)
	}
	return h, nil
}

func (s *PostgresStore) GetHoldingForUpdate(ctx context.Context, id string) (*model.Holding, error) {
	h, err := scanHolding(s.q(ctx).QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "holding", id)
	}
	return h, nil
}

func (s *PostgresStore) UpdateHoldingConsign(ctx context.Context, id, consignStatus string, freeRelists int) error {
	_, err := s.q(ctx).Exec(ctx,
		`UPDATE holdings SET consign_status = $2, free_relists = $3 WHERE id = $1`,
		id, consignStatus, freeRelists)
	return err
}

func (s *PostgresStore) LatestHoldingTime(ctx context.Context, itemID, excludeHoldingID string) (time.Time, bool, error) {
	var t time.Time
	err := s.q(ctx).QueryRow(ctx,
		`SELECT acquired_at FROM holdings
		 WHERE item_id = $1 AND id <> $2
		 ORDER BY acquired_at DESC LIMIT 1`,
		itemID, excludeHoldingID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest holding time %s: %w", itemID, err)
	}
	return t, true, nil
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO accounts (user_id, available, withdrawable, score, fee, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)`,
		a.UserID, a.Available.String(), a.Withdrawable.String(),
		a.Score.String(), a.Fee.String(), a.UpdatedAt)
	return err
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var avS, wdS, scS, feeS string
	if err := row.Scan(&a.UserID, &avS, &wdS, &scS, &feeS, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Available = dec(avS)
	a.Withdrawable = dec(wdS)
	a.Score = dec(scS)
	a.Fee = dec(feeS)
	return &a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	a, err := scanAccount(s.q(ctx).QueryRow(ctx,
		`SELECT user_id, available::TEXT, withdrawable::TEXT, score::TEXT, fee::TEXT, updated_at
		 FROM accounts WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFound(err, "account", userID)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountForUpdate(ctx context.Context, userID string) (*model.Account, error) {
	a, err := scanAccount(s.q(ctx).QueryRow(ctx,
		`SELECT user_id, available::TEXT, withdrawable::TEXT, score::TEXT, fee::TEXT, updated_at
		 FROM accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, notFound(err, "account", userID)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.q(ctx).Exec(ctx,
		`UPDATE accounts
		 SET available = $2::NUMERIC, withdrawable = $3::NUMERIC,
		     score = $4::NUMERIC, fee = $5::NUMERIC, updated_at = $6
		 WHERE user_id = $1`,
		a.UserID, a.Available.String(), a.Withdrawable.String(),
		a.Score.String(), a.Fee.String(), a.UpdatedAt)
	return err
}

// --- Ledger ---

const ledgerColumns = `id, user_id, bucket, delta::TEXT, before_bal::TEXT, after_bal::TEXT,
       memo, flow_no, batch_no, biz_type, biz_id, created_at`

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, bucket, delta, before_bal, after_bal,
		     memo, flow_no, batch_no, biz_type, biz_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.UserID, string(e.Bucket), e.Delta.String(), e.Before.String(), e.After.String(),
		e.Memo, e.FlowNo, e.BatchNo, e.BizType, e.BizID, e.Timestamp)
	return err
}

func (s *PostgresStore) listLedger(ctx context.Context, where string, arg any) ([]model.LedgerEntry, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE `+where+` ORDER BY created_at ASC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var bucket, deltaS, beforeS, afterS string
		if err := rows.Scan(&e.ID, &e.UserID, &bucket, &deltaS, &beforeS, &afterS,
			&e.Memo, &e.FlowNo, &e.BatchNo, &e.BizType, &e.BizID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Bucket = model.Bucket(bucket)
		e.Delta = dec(deltaS)
		e.Before = dec(beforeS)
		e.After = dec(afterS)
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.listLedger(ctx, "user_id = $1", userID)
}

func (s *PostgresStore) ListLedgerEntriesByBatch(ctx context.Context, batchNo string) ([]model.LedgerEntry, error) {
	return s.listLedger(ctx, "batch_no = $1", batchNo)
}

// --- Reservations ---

func (s *PostgresStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO reservations (id, user_id, session_id, remaining, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		r.ID, r.UserID, r.SessionID, r.Remaining.String(), r.CreatedAt)
	return err
}

func (s *PostgresStore) GetReservationForUpdate(ctx context.Context, userID, sessionID string) (*model.Reservation, error) {
	var r model.Reservation
	var remS string
	err := s.q(ctx).QueryRow(ctx,
		`SELECT id, user_id, session_id, remaining::TEXT, created_at
		 FROM reservations WHERE user_id = $1 AND session_id = $2 FOR UPDATE`,
		userID, sessionID).
		Scan(&r.ID, &r.UserID, &r.SessionID, &remS, &r.CreatedAt)
	if err != nil {
		return nil, notFound(err, "reservation", userID+"/"+sessionID)
	}
	r.Remaining = dec(remS)
	return &r, nil
}

func (s *PostgresStore) UpdateReservationRemaining(ctx context.Context, id string, remaining decimal.Decimal) error {
	_, err := s.q(ctx).Exec(ctx,
		`UPDATE reservations SET remaining = $2::NUMERIC WHERE id = $1`,
		id, remaining.String())
	return err
}

// --- Referrals ---

func (s *PostgresStore) GetInviter(ctx context.Context, userID string) (string, error) {
	var inviter string
	err := s.q(ctx).QueryRow(ctx,
		`SELECT inviter_id FROM referrals WHERE user_id = $1`, userID).Scan(&inviter)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get inviter %s: %w", userID, err)
	}
	return inviter, nil
}

// --- Appreciation log ---

func (s *PostgresStore) InsertAppreciationLog(ctx context.Context, l *model.AppreciationLog) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO appreciation_logs (id, item_id, before_price, after_price, rate, reason, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		l.ID, l.ItemID, l.Before.String(), l.After.String(), l.Rate.String(), l.Reason, l.CreatedAt)
	return err
}

// --- Config ---

func (s *PostgresStore) GetConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q(ctx).QueryRow(ctx,
		`SELECT value FROM config_values WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value, nil
}
