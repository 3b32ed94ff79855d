package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// defaultRuleVersion is stamped on rules created without a version.
const defaultRuleVersion = "1.0.0"

// ListRules returns the rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, r, unavailable("rule engine"))
		return
	}

	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule returns one loaded rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, r, unavailable("rule engine"))
		return
	}

	ruleID := chi.URLParam(r, "id")
	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, errorBody{Error: "rule not found"})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule compiles a rule, loads it when enabled and stores it globally.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.engine == nil {
		writeError(w, r, unavailable("rule engine"))
		return
	}

	var req CreateRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, r, badRequest("id, name, and expression are required"))
		return
	}

	cfg := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    rules.GlobalTenant,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}
	if cfg.Version == "" {
		cfg.Version = defaultRuleVersion
	}

	if err := h.engine.ValidateRule(cfg); err != nil {
		writeError(w, r, badRequest("invalid CEL expression: %v", err))
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, rules.GlobalTenant, cfg); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if cfg.Enabled {
		if err := h.engine.LoadRule(cfg); err != nil {
			writeError(w, r, err)
			return
		}
	} else {
		h.engine.UnloadRule(cfg.ID)
	}

	slog.Info("rule created", "id", cfg.ID, "name", cfg.Name, "enabled", cfg.Enabled)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    cfg,
		"message": "Rule created. Call POST /rules/reload to apply changes from storage.",
	})
}

// ReloadRules replaces the engine's rules with the stored global rules.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.engine == nil {
		writeError(w, r, unavailable("rule engine"))
		return
	}
	if h.repo == nil {
		writeError(w, r, unavailable("repository"))
		return
	}

	stored, err := h.repo.ListRuleConfigs(ctx, rules.GlobalTenant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.ReloadRules(stored); err != nil {
		writeError(w, r, fmt.Errorf("reload rules: %w", err))
		return
	}

	slog.Info("rules reloaded from database", "stored", len(stored), "loaded", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}
