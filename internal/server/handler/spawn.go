package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// SpawnService is what the spawn handler needs from the service layer.
type SpawnService interface {
	CreateRule(ctx context.Context, caller domain.InstanceID, op domain.CreateSpawnRule) error
	SetRuleActive(ctx context.Context, caller domain.InstanceID, ruleID string, active bool) error
	ProcessPending(ctx context.Context, caller domain.InstanceID) error
	Rules(ctx context.Context) ([]domain.SpawnRule, error)
	Rule(ctx context.Context, id string) (domain.SpawnRule, error)
	Pending(ctx context.Context, unprocessedOnly bool) ([]domain.PendingSpawn, error)
}

// SpawnHandler serves spawn rules and the pending queue.
type SpawnHandler struct {
	spawner SpawnService
	logger  *slog.Logger
}

// NewSpawnHandler creates a SpawnHandler.
func NewSpawnHandler(spawner SpawnService, logger *slog.Logger) *SpawnHandler {
	return &SpawnHandler{spawner: spawner, logger: logger.With(slog.String("handler", "spawn"))}
}

// ListRules returns all rules sorted by id.
// GET /api/spawn/rules
func (h *SpawnHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.spawner.Rules(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// GetRule returns one rule.
// GET /api/spawn/rules/{id}
func (h *SpawnHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.spawner.Rule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ListPending returns the pending-spawn queue.
// GET /api/spawn/pending?unprocessed=true
func (h *SpawnHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	unprocessed, err := parseBool(r, "unprocessed")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pending, err := h.spawner.Pending(r.Context(), unprocessed != nil && *unprocessed)
	if err != nil {
		writeServiceError(w, r, h.logger, "list pending", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// CreateRule inserts or replaces a rule. A custom_logic trigger's
// logic_hash must be 0x-prefixed hex of 32 bytes; anything else is a 400.
// POST /api/spawn/rules
func (h *SpawnHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var op domain.CreateSpawnRule
	if err := decodeJSON(r, &op); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.spawner.CreateRule(r.Context(), caller, op); err != nil {
		writeServiceError(w, r, h.logger, "create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"rule_id": op.RuleID})
}

type updateRuleRequest struct {
	Active bool `json:"active"`
}

// UpdateRule toggles a rule's active flag.
// PUT /api/spawn/rules/{id}
func (h *SpawnHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req updateRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	if err := h.spawner.SetRuleActive(r.Context(), caller, id, req.Active); err != nil {
		writeServiceError(w, r, h.logger, "update rule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_id": id, "active": req.Active})
}

// ProcessPending promotes due pending spawns now instead of waiting for the
// sweeper.
// POST /api/spawn/process
func (h *SpawnHandler) ProcessPending(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := h.spawner.ProcessPending(r.Context(), caller); err != nil {
		writeServiceError(w, r, h.logger, "process pending", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}
