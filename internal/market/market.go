// Package market resolves trading sessions and price zones, and decides
// post-trade reference-price appreciation.
package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/model"
)

// zoneWidth is the bracket size for on-demand zones ("1K region").
var zoneWidth = decimal.NewFromInt(1000)

// Store is the persistence the market service needs.
type Store interface {
	GetSession(ctx context.Context, id string) (*model.Session, error)
	GetZone(ctx context.Context, id string) (*model.Zone, error)
	FindZoneByPrice(ctx context.Context, sessionID string, price decimal.Decimal) (*model.Zone, error)
	CreateZone(ctx context.Context, z *model.Zone) error
}

// Service resolves sessions and zones.
type Service struct {
	store Store
	clock clock.Clock
}

// New creates a market service.
func New(store Store, clk clock.Clock) *Service {
	return &Service{store: store, clock: clk}
}

// ResolveOpenSession returns the session if it is open for trading now.
func (s *Service) ResolveOpenSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionOpen {
		return nil, fmt.Errorf("session %s status %s: %w", id, sess.Status, model.ErrSessionNotOpen)
	}
	now := s.clock.Now()
	if now.Before(sess.OpensAt) || !now.Before(sess.ClosesAt) {
		return nil, fmt.Errorf("session %s outside window: %w", id, model.ErrSessionNotOpen)
	}
	return sess, nil
}

// ZoneForPrice returns the session zone containing the price, creating the
// bracket on demand. Brackets are zoneWidth wide and aligned to multiples of
// zoneWidth.
func (s *Service) ZoneForPrice(ctx context.Context, sessionID string, price decimal.Decimal) (*model.Zone, error) {
	z, err := s.store.FindZoneByPrice(ctx, sessionID, price)
	if err == nil {
		return z, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	min := price.Div(zoneWidth).Floor().Mul(zoneWidth)
	if min.IsNegative() {
		min = decimal.Zero
	}
	max := min.Add(zoneWidth)

	z = &model.Zone{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Name:      fmt.Sprintf("%s-%s", min.StringFixed(0), max.StringFixed(0)),
		MinPrice:  min,
		MaxPrice:  max,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateZone(ctx, z); err != nil {
		return nil, fmt.Errorf("create zone %s: %w", z.Name, err)
	}
	return z, nil
}
