package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// MarketService is what the market handler needs from the service layer.
type MarketService interface {
	Create(ctx context.Context, caller domain.InstanceID, op domain.CreateMarket) error
	PlaceBet(ctx context.Context, caller domain.InstanceID, id, outcome string, amount domain.Amount) error
	Resolve(ctx context.Context, caller domain.InstanceID, id, outcome string) error
	Get(ctx context.Context, id string) (domain.MarketState, error)
	Odds(ctx context.Context, id string) ([]domain.OutcomeOdds, error)
	Bets(ctx context.Context, id string, bettor domain.InstanceID) ([]domain.PlacedBet, error)
	List(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.MarketState, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger.With(slog.String("handler", "markets"))}
}

type listMarketsResponse struct {
	Markets []domain.MarketState `json:"markets"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// ListMarkets returns markets newest first.
// GET /api/markets?resolved=false&parent=market_0&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resolved, err := parseBool(r, "resolved")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := domain.MarketFilter{Resolved: resolved, ParentID: r.URL.Query().Get("parent")}

	markets, err := h.markets.List(r.Context(), filter, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.MarketState{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Limit: opts.Limit, Offset: opts.Offset})
}

// GetMarket returns one market snapshot.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetOdds returns the odds table.
// GET /api/markets/{id}/odds
func (h *MarketHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	odds, err := h.markets.Odds(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get odds", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": r.PathValue("id"), "odds": odds})
}

// GetBets returns the bets one bettor placed.
// GET /api/markets/{id}/bets?bettor=0xabc...
func (h *MarketHandler) GetBets(w http.ResponseWriter, r *http.Request) {
	bettor := r.URL.Query().Get("bettor")
	if bettor == "" {
		writeError(w, http.StatusBadRequest, "missing bettor")
		return
	}
	bets, err := h.markets.Bets(r.Context(), r.PathValue("id"), domain.InstanceID(bettor))
	if err != nil {
		writeServiceError(w, r, h.logger, "get bets", err)
		return
	}
	if bets == nil {
		bets = []domain.PlacedBet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": r.PathValue("id"), "bettor": bettor, "bets": bets})
}

type createMarketRequest struct {
	MarketID       string    `json:"market_id"`
	Question       string    `json:"question"`
	Outcomes       []string  `json:"outcomes"`
	ExpiryTime     time.Time `json:"expiry_time"`
	ParentMarketID string    `json:"parent_market_id,omitempty"`
}

// CreateMarket opens a market with the signed caller as creator.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "missing market_id")
		return
	}

	op := domain.CreateMarket(req)
	if err := h.markets.Create(r.Context(), caller, op); err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"market_id": req.MarketID, "creator": string(caller)})
}

type placeBetRequest struct {
	Outcome string        `json:"outcome"`
	Amount  domain.Amount `json:"amount"`
}

// PlaceBet stakes the signed caller's tokens on an outcome.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req placeBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	if err := h.markets.PlaceBet(r.Context(), caller, id, req.Outcome, req.Amount); err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market_id": id, "outcome": req.Outcome, "amount": req.Amount.String()})
}

type resolveRequest struct {
	WinningOutcome string `json:"winning_outcome"`
}

// ResolveMarket settles a market. Only its creator may call this.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	if err := h.markets.Resolve(r.Context(), caller, id, req.WinningOutcome); err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market_id": id, "winning_outcome": req.WinningOutcome})
}
