// Package api provides the HTTP handlers for the match engine: session and
// catalog management, pool entry, consignment listing, match triggering, and
// account/ledger queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/relicx/match-engine/internal/asset"
	"github.com/relicx/match-engine/internal/clock"
	"github.com/relicx/match-engine/internal/config"
	"github.com/relicx/match-engine/internal/market"
	"github.com/relicx/match-engine/internal/match"
	"github.com/relicx/match-engine/internal/model"
	"github.com/relicx/match-engine/internal/store"
)

// Server handles the HTTP surface. Business rules live in the engine and
// services; handlers only decode, dispatch and encode.
type Server struct {
	store   store.Store
	engine  *match.Engine
	assets  *asset.Service
	markets *market.Service
	clock   clock.Clock
}

// NewServer creates an API server.
func NewServer(st store.Store, eng *match.Engine, assets *asset.Service, markets *market.Service, clk clock.Clock) *Server {
	return &Server{store: st, engine: eng, assets: assets, markets: markets, clock: clk}
}

// --- Request/Response types ---

// CreateSessionRequest is the JSON body for session creation.
type CreateSessionRequest struct {
	Name     string    `json:"name"`
	OpensAt  time.Time `json:"opens_at"`
	ClosesAt time.Time `json:"closes_at"`
}

// CreateItemRequest is the JSON body for item creation. The zone is derived
// from the price.
type CreateItemRequest struct {
	SessionID string          `json:"session_id"`
	PackageID string          `json:"package_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
}

// MatchRequest is the JSON body for POST /match. Empty package_id/zone_id
// widen the run to the whole session.
type MatchRequest struct {
	SessionID string `json:"session_id"`
	PackageID string `json:"package_id"`
	ZoneID    string `json:"zone_id"`
}

// ConsignRequest is the JSON body for POST /consignments.
type ConsignRequest struct {
	SellerID  string          `json:"seller_id"`
	HoldingID string          `json:"holding_id"`
	AskPrice  decimal.Decimal `json:"ask_price"`
}

// AccountResponse is an account snapshot with the derived total.
type AccountResponse struct {
	UserID       string          `json:"user_id"`
	Available    decimal.Decimal `json:"available"`
	Withdrawable decimal.Decimal `json:"withdrawable"`
	Score        decimal.Decimal `json:"score"`
	Fee          decimal.Decimal `json:"fee"`
	TotalAssets  decimal.Decimal `json:"total_assets"`
}

// --- HTTP Handlers ---

// CreateSession handles POST /api/v1/sessions
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if !req.ClosesAt.After(req.OpensAt) {
		writeError(w, "closes_at must be after opens_at", http.StatusBadRequest)
		return
	}

	sess := &model.Session{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Status:    model.SessionOpen,
		OpensAt:   req.OpensAt,
		ClosesAt:  req.ClosesAt,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		writeError(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /api/v1/sessions/{sessionID}
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// CreateItem handles POST /api/v1/items
func (s *Server) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Name == "" {
		writeError(w, "session_id and name are required", http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}
	if req.Stock < 0 {
		writeError(w, "stock must be non-negative", http.StatusBadRequest)
		return
	}

	zone, err := s.markets.ZoneForPrice(r.Context(), req.SessionID, req.Price)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	item := &model.Item{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		ZoneID:    zone.ID,
		PackageID: req.PackageID,
		Name:      req.Name,
		Price:     req.Price,
		Stock:     req.Stock,
		Status:    model.ItemActive,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateItem(r.Context(), item); err != nil {
		writeError(w, "failed to create item", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// GetItem handles GET /api/v1/items/{itemID}
func (s *Server) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, "item not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// EnterPool handles POST /api/v1/pool
func (s *Server) EnterPool(w http.ResponseWriter, r *http.Request) {
	var req match.PoolEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.ItemID == "" || req.BuyerID == "" {
		writeError(w, "session_id, item_id and buyer_id are required", http.StatusBadRequest)
		return
	}

	bo, err := s.engine.EnterPool(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bo)
}

// CancelBuyOrder handles DELETE /api/v1/pool/{buyOrderID}
func (s *Server) CancelBuyOrder(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("buyer_id")
	if buyerID == "" {
		writeError(w, "buyer_id is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.CancelBuyOrder(r.Context(), buyerID, chi.URLParam(r, "buyOrderID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}

// RunMatch handles POST /api/v1/match
func (s *Server) RunMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		writeError(w, "session_id is required", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Run(r.Context(), req.SessionID, req.PackageID, req.ZoneID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateConsignment handles POST /api/v1/consignments
func (s *Server) CreateConsignment(w http.ResponseWriter, r *http.Request) {
	var req ConsignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SellerID == "" || req.HoldingID == "" {
		writeError(w, "seller_id and holding_id are required", http.StatusBadRequest)
		return
	}
	if !req.AskPrice.IsPositive() {
		writeError(w, "ask_price must be positive", http.StatusBadRequest)
		return
	}

	cfg := config.Load(r.Context(), s.store)
	listing, err := s.assets.CreateConsignment(r.Context(), req.SellerID, req.HoldingID, req.AskPrice, cfg)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

// CancelConsignment handles DELETE /api/v1/consignments/{consignmentID}
func (s *Server) CancelConsignment(w http.ResponseWriter, r *http.Request) {
	sellerID := r.URL.Query().Get("seller_id")
	if sellerID == "" {
		writeError(w, "seller_id is required", http.StatusBadRequest)
		return
	}
	if err := s.assets.CancelConsignment(r.Context(), sellerID, chi.URLParam(r, "consignmentID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetConsignment handles GET /api/v1/consignments/{consignmentID}
func (s *Server) GetConsignment(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetConsignment(r.Context(), chi.URLParam(r, "consignmentID"))
	if err != nil {
		writeError(w, "consignment not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetAccount handles GET /api/v1/accounts/{userID}
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.store.GetAccount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, AccountResponse{
		UserID:       acct.UserID,
		Available:    acct.Available,
		Withdrawable: acct.Withdrawable,
		Score:        acct.Score,
		Fee:          acct.Fee,
		TotalAssets:  acct.TotalAssets(),
	})
}

// GetLedger handles GET /api/v1/accounts/{userID}/ledger
func (s *Server) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListLedgerEntriesByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to list ledger entries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// writeDomainError maps domain sentinel errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrNotOwner):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrSessionNotOpen),
		errors.Is(err, model.ErrItemInactive),
		errors.Is(err, model.ErrInsufficientBalance),
		errors.Is(err, model.ErrInsufficientStock),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrAlreadyConsigned),
		errors.Is(err, model.ErrHoldingLocked),
		errors.Is(err, model.ErrAlreadySettled),
		errors.Is(err, model.ErrOrderNotPending):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
