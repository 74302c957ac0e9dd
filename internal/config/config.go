// Package config resolves the business configuration consumed by a match
// run. Values come from an external key/value store; a snapshot is resolved
// once per run so one batch stays internally consistent even if the store
// changes concurrently. Missing or invalid values fall back to documented
// defaults.
package config

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Configuration keys read from the external store.
const (
	KeyProfitSplitRate    = "profit_split_rate"
	KeyLegacySplitRate    = "legacy_principal_split_rate"
	KeyCommissionL1       = "commission_rate_l1"
	KeyCommissionL2       = "commission_rate_l2"
	KeyCommissionL3       = "commission_rate_l3"
	KeyAppreciationRate   = "appreciation_rate"
	KeyServiceFeeRate     = "service_fee_rate"
	KeyConsignUnlockHours = "consign_unlock_hours"
	KeyTieBreak           = "match_tie_break"
)

// Tie-break modes for equal-weight selection.
const (
	TieBreakTime   = "time"
	TieBreakRandom = "random"
)

// Reader is the read-only view of the external key/value configuration
// store. Get returns an error only for lookup failures; a missing key is
// reported as ("", nil).
type Reader interface {
	GetConfigValue(ctx context.Context, key string) (string, error)
}

// Snapshot is a fully resolved configuration for one match run.
type Snapshot struct {
	// ProfitSplitRate is the share of resale profit paid to the
	// withdrawable bucket; the remainder becomes consumption credit.
	ProfitSplitRate decimal.Decimal

	// LegacySplitRate is the share of a legacy asset's principal paid to the
	// withdrawable bucket; the remainder becomes consumption credit.
	LegacySplitRate decimal.Decimal

	// CommissionRates are the referral rates for inviter levels 1..3.
	CommissionRates [3]decimal.Decimal

	// AppreciationRate is the step-up applied to an item's reference price
	// after a qualifying sale.
	AppreciationRate decimal.Decimal

	// ServiceFeeRate is charged on the ask price when a consignment is
	// created (unless a free relist attempt is consumed).
	ServiceFeeRate decimal.Decimal

	// UnlockHours is how long after purchase a holding stays locked for
	// consignment.
	UnlockHours int

	// TieBreak selects the equal-weight policy: "time" or "random".
	TieBreak string
}

// Defaults applied when a key is missing or invalid.
var (
	defaultProfitSplit  = decimal.NewFromFloat(0.5)
	defaultLegacySplit  = decimal.NewFromInt(1)
	defaultCommissions  = [3]decimal.Decimal{
		decimal.NewFromFloat(0.05),
		decimal.NewFromFloat(0.03),
		decimal.NewFromFloat(0.01),
	}
	defaultAppreciation = decimal.NewFromFloat(0.05)
	defaultServiceFee   = decimal.NewFromFloat(0.03)
)

const defaultUnlockHours = 24

// CommissionRate returns the configured rate for a 1-based inviter level,
// or zero beyond the supported depth.
func (s Snapshot) CommissionRate(level int) decimal.Decimal {
	if level < 1 || level > len(s.CommissionRates) {
		return decimal.Zero
	}
	return s.CommissionRates[level-1]
}

// Load resolves a Snapshot from the reader, applying defaults and clamping.
func Load(ctx context.Context, r Reader) Snapshot {
	s := Snapshot{
		ProfitSplitRate:  rate(ctx, r, KeyProfitSplitRate, defaultProfitSplit),
		LegacySplitRate:  rate(ctx, r, KeyLegacySplitRate, defaultLegacySplit),
		AppreciationRate: rate(ctx, r, KeyAppreciationRate, defaultAppreciation),
		ServiceFeeRate:   rate(ctx, r, KeyServiceFeeRate, defaultServiceFee),
		UnlockHours:      hours(ctx, r, KeyConsignUnlockHours, defaultUnlockHours),
		TieBreak:         tieBreak(ctx, r),
	}
	for i, key := range []string{KeyCommissionL1, KeyCommissionL2, KeyCommissionL3} {
		s.CommissionRates[i] = rate(ctx, r, key, defaultCommissions[i])
	}
	return s
}

// rate reads a decimal rate and clamps it to [0, 1].
func rate(ctx context.Context, r Reader, key string, def decimal.Decimal) decimal.Decimal {
	raw, err := r.GetConfigValue(ctx, key)
	if err != nil || raw == "" {
		return def
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("invalid config rate, using default", "key", key, "value", raw)
		return def
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return v
}

func hours(ctx context.Context, r Reader, key string, def int) int {
	raw, err := r.GetConfigValue(ctx, key)
	if err != nil || raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		slog.Warn("invalid config hours, using default", "key", key, "value", raw)
		return def
	}
	return v
}

func tieBreak(ctx context.Context, r Reader) string {
	raw, err := r.GetConfigValue(ctx, KeyTieBreak)
	if err != nil {
		return TieBreakTime
	}
	switch strings.TrimSpace(raw) {
	case TieBreakRandom:
		return TieBreakRandom
	case TieBreakTime, "":
		return TieBreakTime
	default:
		slog.Warn("invalid tie-break mode, using time", "value", raw)
		return TieBreakTime
	}
}
