package match

import (
	"context"

	"github.com/relicx/match-engine/internal/model"
)

// Notifier receives post-commit hooks from the engine. Implementations must
// be cheap and non-blocking; failures here never roll back a trade.
type Notifier interface {
	// TradeExecuted fires once per committed trade, for buyer-side follow-ups
	// such as tier upgrades or coupon grants.
	TradeExecuted(ctx context.Context, order *model.Order)

	// MatchCompleted fires once per match run with the final tallies.
	MatchCompleted(ctx context.Context, sessionID string, res Result)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) TradeExecuted(context.Context, *model.Order)    {}
func (NopNotifier) MatchCompleted(context.Context, string, Result) {}
