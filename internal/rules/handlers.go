package rules

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-promo/internal/common"
	"github.com/noah-isme/backend-promo/internal/promo"
)

// Handler exposes the rule management and read endpoints.
type Handler struct {
	Service *Service
	Engine  *promo.Engine
}

// Create handles POST /admin/rules.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in RuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return
	}
	rec, err := h.Service.Create(r.Context(), in)
	if err != nil {
		renderRuleError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": rec})
}

// Replace handles PUT /admin/rules/{id}.
func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	var in RuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return
	}
	rec, err := h.Service.Replace(r.Context(), id, in)
	if err != nil {
		renderRuleError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

// Disable handles DELETE /admin/rules/{id}. Rules are disabled, never erased,
// so the audit trail of past promotions stays intact.
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	if err := h.Service.Disable(r.Context(), id); err != nil {
		renderRuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /rules/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	rec, err := h.Service.Get(r.Context(), id)
	if err != nil {
		renderRuleError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rec})
}

// List handles GET /rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	recs, total, err := h.Service.List(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		renderRuleError(w, err)
		return
	}
	if recs == nil {
		recs = []Record{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": recs,
		"meta": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// PreviewRequest pairs an unsaved rule with a document to evaluate it against.
type PreviewRequest struct {
	Rule     RuleInput      `json:"rule"`
	Document promo.Document `json:"document"`
}

// Preview handles POST /admin/rules/preview: the posted rule is validated and
// run against the posted document without touching storage.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return
	}
	rule, err := h.Service.BuildRule(req.Rule)
	if err != nil {
		renderRuleError(w, err)
		return
	}
	res, err := h.Engine.Preview(r.Context(), rule, req.Document)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "EVALUATION_FAILED", "rule preview failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

func ruleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_ID", "rule id must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func renderRuleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "rule not found", nil)
	default:
		common.RenderError(w, err)
	}
}
