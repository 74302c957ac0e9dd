package config_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/config"
	"github.com/relicx/match-engine/internal/store"
)

func load(t *testing.T, values map[string]string) config.Snapshot {
	t.Helper()
	ms := store.NewMemoryStore()
	for k, v := range values {
		ms.SetConfigValue(k, v)
	}
	return config.Load(context.Background(), ms)
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(t, nil)

	if !cfg.ProfitSplitRate.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("profit split = %s, want 0.5", cfg.ProfitSplitRate)
	}
	if !cfg.LegacySplitRate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("legacy split = %s, want 1", cfg.LegacySplitRate)
	}
	if !cfg.CommissionRate(1).Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("commission l1 = %s, want 0.05", cfg.CommissionRate(1))
	}
	if !cfg.CommissionRate(2).Equal(decimal.NewFromFloat(0.03)) {
		t.Errorf("commission l2 = %s, want 0.03", cfg.CommissionRate(2))
	}
	if !cfg.CommissionRate(3).Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("commission l3 = %s, want 0.01", cfg.CommissionRate(3))
	}
	if !cfg.AppreciationRate.Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("appreciation = %s, want 0.05", cfg.AppreciationRate)
	}
	if !cfg.ServiceFeeRate.Equal(decimal.NewFromFloat(0.03)) {
		t.Errorf("service fee = %s, want 0.03", cfg.ServiceFeeRate)
	}
	if cfg.UnlockHours != 24 {
		t.Errorf("unlock hours = %d, want 24", cfg.UnlockHours)
	}
	if cfg.TieBreak != config.TieBreakTime {
		t.Errorf("tie break = %q, want time", cfg.TieBreak)
	}
}

func TestLoad_ConfiguredValues(t *testing.T) {
	cfg := load(t, map[string]string{
		config.KeyProfitSplitRate:    "0.7",
		config.KeyLegacySplitRate:    "0.8",
		config.KeyCommissionL1:       "0.1",
		config.KeyCommissionL2:       "0",
		config.KeyCommissionL3:       "0.02",
		config.KeyAppreciationRate:   "0.1",
		config.KeyServiceFeeRate:     "0.05",
		config.KeyConsignUnlockHours: "48",
		config.KeyTieBreak:           "random",
	})

	if !cfg.ProfitSplitRate.Equal(decimal.NewFromFloat(0.7)) {
		t.Errorf("profit split = %s, want 0.7", cfg.ProfitSplitRate)
	}
	if !cfg.CommissionRate(2).IsZero() {
		t.Errorf("commission l2 = %s, want 0", cfg.CommissionRate(2))
	}
	if cfg.UnlockHours != 48 {
		t.Errorf("unlock hours = %d, want 48", cfg.UnlockHours)
	}
	if cfg.TieBreak != config.TieBreakRandom {
		t.Errorf("tie break = %q, want random", cfg.TieBreak)
	}
}

func TestLoad_ClampsRates(t *testing.T) {
	cfg := load(t, map[string]string{
		config.KeyProfitSplitRate:  "1.5",
		config.KeyServiceFeeRate:   "-0.2",
		config.KeyAppreciationRate: "garbage",
	})

	if !cfg.ProfitSplitRate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("profit split = %s, want clamp to 1", cfg.ProfitSplitRate)
	}
	if !cfg.ServiceFeeRate.IsZero() {
		t.Errorf("service fee = %s, want clamp to 0", cfg.ServiceFeeRate)
	}
	if !cfg.AppreciationRate.Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("appreciation = %s, want default on parse failure", cfg.AppreciationRate)
	}
}

func TestLoad_InvalidHoursAndTieBreak(t *testing.T) {
	cfg := load(t, map[string]string{
		config.KeyConsignUnlockHours: "-3",
		config.KeyTieBreak:           "coinflip",
	})

	if cfg.UnlockHours != 24 {
		t.Errorf("unlock hours = %d, want default 24", cfg.UnlockHours)
	}
	if cfg.TieBreak != config.TieBreakTime {
		t.Errorf("tie break = %q, want time fallback", cfg.TieBreak)
	}
}

func TestCommissionRate_OutOfRange(t *testing.T) {
	cfg := load(t, nil)
	if !cfg.CommissionRate(0).IsZero() {
		t.Error("level 0 should be zero")
	}
	if !cfg.CommissionRate(4).IsZero() {
		t.Error("level 4 should be zero")
	}
}
