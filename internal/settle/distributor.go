// Package settle splits resale proceeds into principal, fee rebate, profit
// share and referral commissions, moving every leg through the ledger under
// one batch id so a settlement can be reconstructed from logs.
package settle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/config"
	"github.com/relicx/match-engine/internal/ledger"
	"github.com/relicx/match-engine/internal/model"
)

// maxCommissionDepth is how far up the inviter chain commissions cascade.
const maxCommissionDepth = 3

// Store is the persistence the distributor needs.
type Store interface {
	GetConsignmentForUpdate(ctx context.Context, id string) (*model.ConsignmentListing, error)
	UpdateConsignmentSettlement(ctx context.Context, c *model.ConsignmentListing) error
	GetInviter(ctx context.Context, userID string) (string, error)
}

// Ledger applies bucket mutations.
type Ledger interface {
	Apply(ctx context.Context, m ledger.Mutation) (*model.LedgerEntry, error)
}

// Commission is one referral payment made during a settlement.
type Commission struct {
	UserID string
	Level  int
	Amount decimal.Decimal
}

// Payout is the result of one settlement. ToWithdrawable + ToScore always
// equals principal + fee rebate + profit exactly.
type Payout struct {
	Principal      decimal.Decimal
	FeeRebate      decimal.Decimal
	Profit         decimal.Decimal
	ToWithdrawable decimal.Decimal
	ToScore        decimal.Decimal
	Commissions    []Commission
}

// Distributor pays sellers and their inviter chain.
type Distributor struct {
	store  Store
	ledger Ledger
	clock  clock.Clock
}

// New creates a distributor.
func New(store Store, led Ledger, clk clock.Clock) *Distributor {
	return &Distributor{store: store, ledger: led, clock: clk}
}

// Distribute settles one sold consignment at salePrice, inside the caller's
// transaction. The settled-at stamp is checked and written under the same
// row lock, so a second invocation for the same consignment returns
// model.ErrAlreadySettled instead of double-crediting the seller.
func (d *Distributor) Distribute(ctx context.Context, consignmentID string, salePrice decimal.Decimal, orderID string, cfg config.Snapshot, batchNo string) (*Payout, error) {
	c, err := d.store.GetConsignmentForUpdate(ctx, consignmentID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ConsignmentSold {
		return nil, fmt.Errorf("consignment %s in state %d: %w", consignmentID, c.Status, model.ErrInvalidTransition)
	}
	if c.SettledAt != nil {
		return nil, fmt.Errorf("consignment %s: %w", consignmentID, model.ErrAlreadySettled)
	}

	payout := computePayout(salePrice, c, cfg)

	// Release the held service fee before crediting it back as a rebate.
	if payout.FeeRebate.IsPositive() {
		if _, err := d.ledger.Apply(ctx, ledger.Mutation{
			UserID:  c.SellerID,
			Bucket:  model.BucketFee,
			Delta:   payout.FeeRebate.Neg(),
			Memo:    "consignment fee release",
			BatchNo: batchNo,
			BizType: "consignment",
			BizID:   c.ID,
		}); err != nil {
			return nil, err
		}
	}

	if _, err := d.ledger.Apply(ctx, ledger.Mutation{
		UserID:  c.SellerID,
		Bucket:  model.BucketWithdrawable,
		Delta:   payout.ToWithdrawable,
		Memo:    "consignment settlement",
		BatchNo: batchNo,
		BizType: "consignment",
		BizID:   c.ID,
	}); err != nil {
		return nil, err
	}

	if payout.ToScore.IsPositive() {
		if _, err := d.ledger.Apply(ctx, ledger.Mutation{
			UserID:  c.SellerID,
			Bucket:  model.BucketScore,
			Delta:   payout.ToScore,
			Memo:    "consignment settlement score",
			BatchNo: batchNo,
			BizType: "consignment",
			BizID:   c.ID,
		}); err != nil {
			return nil, err
		}
	}

	// Snapshot the arithmetic on the listing so later configuration changes
	// never alter this payout retroactively.
	c.Principal = payout.Principal
	c.Profit = payout.Profit
	c.PayoutWithdrawable = payout.ToWithdrawable
	c.PayoutScore = payout.ToScore
	c.SplitRate = cfg.ProfitSplitRate
	if c.Legacy {
		c.SplitRate = cfg.LegacySplitRate
	}
	now := d.clock.Now()
	c.SettledAt = &now
	if err := d.store.UpdateConsignmentSettlement(ctx, c); err != nil {
		return nil, fmt.Errorf("save settlement %s: %w", c.ID, err)
	}

	payout.Commissions, err = d.payCommissions(ctx, c, payout.Profit, orderID, cfg, batchNo)
	if err != nil {
		return nil, err
	}

	slog.Info("consignment settled",
		"consignment", c.ID,
		"seller", c.SellerID,
		"price", salePrice.String(),
		"principal", payout.Principal.String(),
		"profit", payout.Profit.String(),
		"to_withdrawable", payout.ToWithdrawable.String(),
		"to_score", payout.ToScore.String(),
		"commissions", len(payout.Commissions),
		"batch", batchNo,
	)
	return payout, nil
}

// computePayout runs the split arithmetic. Legacy assets pay no fee, earn no
// profit, and split their principal across withdrawable/score by the
// configured ratio; everyone else gets principal + fee rebate back in full
// plus the withdrawable share of profit.
func computePayout(salePrice decimal.Decimal, c *model.ConsignmentListing, cfg config.Snapshot) *Payout {
	if c.Legacy {
		principal := c.OriginalPrice
		wd := principal.Mul(cfg.LegacySplitRate).Round(2)
		return &Payout{
			Principal:      principal,
			FeeRebate:      decimal.Zero,
			Profit:         decimal.Zero,
			ToWithdrawable: wd,
			ToScore:        principal.Sub(wd),
		}
	}

	principal := c.OriginalPrice
	fee := c.ServiceFee
	profit := salePrice.Sub(principal).Sub(fee)
	if profit.IsNegative() {
		profit = decimal.Zero
	}

	share := profit.Mul(cfg.ProfitSplitRate).Round(2)
	return &Payout{
		Principal:      principal,
		FeeRebate:      fee,
		Profit:         profit,
		ToWithdrawable: principal.Add(fee).Add(share),
		ToScore:        profit.Sub(share),
	}
}

// payCommissions walks up to maxCommissionDepth levels of the seller's
// inviter chain, paying profit * rate(level) into each ancestor's
// withdrawable bucket. The walk stops when the chain ends; it is skipped
// entirely when there is no profit or every configured rate is zero.
func (d *Distributor) payCommissions(ctx context.Context, c *model.ConsignmentListing, profit decimal.Decimal, orderID string, cfg config.Snapshot, batchNo string) ([]Commission, error) {
	if !profit.IsPositive() || allRatesZero(cfg) {
		return nil, nil
	}

	var paid []Commission
	current := c.SellerID
	for level := 1; level <= maxCommissionDepth; level++ {
		inviter, err := d.store.GetInviter(ctx, current)
		if err != nil {
			return nil, err
		}
		if inviter == "" {
			break
		}

		rate := cfg.CommissionRate(level)
		if rate.IsPositive() {
			amount := profit.Mul(rate).Round(2)
			if amount.IsPositive() {
				if _, err := d.ledger.Apply(ctx, ledger.Mutation{
					UserID:  inviter,
					Bucket:  model.BucketWithdrawable,
					Delta:   amount,
					Memo:    fmt.Sprintf("referral commission level %d (seller %s)", level, c.SellerID),
					BatchNo: batchNo,
					BizType: "commission",
					BizID:   orderID,
				}); err != nil {
					return nil, err
				}
				paid = append(paid, Commission{UserID: inviter, Level: level, Amount: amount})
			}
		}
		current = inviter
	}
	return paid, nil
}

func allRatesZero(cfg config.Snapshot) bool {
	for level := 1; level <= maxCommissionDepth; level++ {
		if cfg.CommissionRate(level).IsPositive() {
			return false
		}
	}
	return true
}
