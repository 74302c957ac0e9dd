// Package ledger performs atomic mutations on the per-user account buckets.
// Every mutation locks the account row, rejects a negative result, and pairs
// the balance write with an immutable log entry carrying a before/after
// snapshot and flow/batch correlation ids.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/model"
)

// Store is the persistence the ledger needs. Callers run Apply inside a
// transaction; GetAccountForUpdate holds the row lock until commit.
type Store interface {
	GetAccountForUpdate(ctx context.Context, userID string) (*model.Account, error)
	UpdateAccount(ctx context.Context, a *model.Account) error
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
}

// Mutation describes one bucket change. FlowNo groups the legs of one
// logical movement (e.g. debit available + credit fee); BatchNo groups all
// movements of one settlement or match run. A blank FlowNo is filled with a
// fresh id.
type Mutation struct {
	UserID  string
	Bucket  model.Bucket
	Delta   decimal.Decimal
	Memo    string
	FlowNo  string
	BatchNo string
	BizType string
	BizID   string
}

// Service applies mutations.
type Service struct {
	store Store
	clock clock.Clock
}

// New creates a ledger service.
func New(store Store, clk clock.Clock) *Service {
	return &Service{store: store, clock: clk}
}

// Apply locks the account, applies the delta to one bucket and appends the
// log entry. A delta that would take the bucket negative returns
// model.ErrInsufficientBalance and changes nothing.
func (s *Service) Apply(ctx context.Context, m Mutation) (*model.LedgerEntry, error) {
	if m.Delta.IsZero() {
		return nil, nil
	}

	acct, err := s.store.GetAccountForUpdate(ctx, m.UserID)
	if err != nil {
		return nil, err
	}

	before := acct.Balance(m.Bucket)
	after := before.Add(m.Delta).Round(2)
	if after.IsNegative() {
		return nil, fmt.Errorf("%s bucket %s short %s: %w",
			m.UserID, m.Bucket, m.Delta.Neg().Sub(before), model.ErrInsufficientBalance)
	}

	// Audit invariant; a mismatch is a data-integrity bug, never tolerated.
	if !after.Equal(before.Add(m.Delta).Round(2)) {
		return nil, model.ErrLedgerInvariant
	}

	now := s.clock.Now()
	acct.SetBalance(m.Bucket, after)
	acct.UpdatedAt = now
	if err := s.store.UpdateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("update account %s: %w", m.UserID, err)
	}

	flowNo := m.FlowNo
	if flowNo == "" {
		flowNo = uuid.New().String()
	}

	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    m.UserID,
		Bucket:    m.Bucket,
		Delta:     m.Delta,
		Before:    before,
		After:     after,
		Memo:      m.Memo,
		FlowNo:    flowNo,
		BatchNo:   m.BatchNo,
		BizType:   m.BizType,
		BizID:     m.BizID,
		Timestamp: now,
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	slog.Debug("ledger applied",
		"user", m.UserID,
		"bucket", m.Bucket,
		"delta", m.Delta.String(),
		"after", after.String(),
		"batch", m.BatchNo,
	)
	return entry, nil
}
