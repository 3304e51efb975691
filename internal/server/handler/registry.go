package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// RegistryService is what the registry handler needs from the service layer.
type RegistryService interface {
	Register(ctx context.Context, caller domain.InstanceID, info domain.MarketInfo) error
	Resolve(ctx context.Context, caller domain.InstanceID, id, outcome string) error
	Market(ctx context.Context, id string) (domain.MarketInfo, error)
	Markets(ctx context.Context) ([]domain.MarketInfo, error)
	Children(ctx context.Context, parent string) ([]string, error)
	Tree(ctx context.Context, root string) (domain.MarketTree, error)
}

// RegistryHandler serves the market tree.
type RegistryHandler struct {
	registry RegistryService
	logger   *slog.Logger
}

// NewRegistryHandler creates a RegistryHandler.
func NewRegistryHandler(registry RegistryService, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{registry: registry, logger: logger.With(slog.String("handler", "registry"))}
}

// ListMarkets returns every registered market in registration order.
// GET /api/registry/markets
func (h *RegistryHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.registry.Markets(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list registry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets, "total": len(markets)})
}

// GetMarket returns the registered info of one market.
// GET /api/registry/markets/{id}
func (h *RegistryHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	info, err := h.registry.Market(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get registered market", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetChildren returns the direct children of a market.
// GET /api/registry/markets/{id}/children
func (h *RegistryHandler) GetChildren(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	children, err := h.registry.Children(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get children", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "children": children})
}

// GetTree returns the tree rooted at a market.
// GET /api/registry/markets/{id}/tree
func (h *RegistryHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.registry.Tree(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get tree", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"size": tree.Size(), "tree": tree})
}

// RegisterMarket records a market directly.
// POST /api/registry/markets
func (h *RegistryHandler) RegisterMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var info domain.MarketInfo
	if err := decodeJSON(r, &info); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.registry.Register(r.Context(), caller, info); err != nil {
		writeServiceError(w, r, h.logger, "register market", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"market_id": info.MarketID})
}

// ResolveMarket resolves a registry-opened market on behalf of its owner.
// POST /api/registry/markets/{id}/resolve
func (h *RegistryHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
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
	if err := h.registry.Resolve(r.Context(), caller, id, req.WinningOutcome); err != nil {
		writeServiceError(w, r, h.logger, "resolve child market", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"market_id": id, "winning_outcome": req.WinningOutcome})
}
