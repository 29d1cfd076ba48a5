package document

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/common"
	"github.com/noah-isme/backend-promo/internal/obs"
	"github.com/noah-isme/backend-promo/internal/promo"
)

// Handler exposes the document evaluation endpoint.
type Handler struct {
	Engine *promo.Engine
	Logger zerolog.Logger
}

// Evaluate handles POST /documents/evaluate. The caller posts a draft document
// snapshot and receives the rewritten line set; persisting it is the caller's
// job, so repeated posts of the same snapshot are harmless.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var doc promo.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return
	}

	res, err := h.Engine.Evaluate(r.Context(), doc)
	if err != nil {
		countEvaluation("error")
		h.Logger.Error().Err(err).Str("customer_group", doc.CustomerGroup).Msg("document evaluation failed")
		common.JSONError(w, http.StatusInternalServerError, "EVALUATION_FAILED", "document evaluation failed", nil)
		return
	}

	switch {
	case res.FreeLine != nil:
		countEvaluation("applied")
		if obs.FreeQtyAwarded != nil {
			obs.FreeQtyAwarded.Observe(res.FreeLine.Qty)
		}
	case res.Changed:
		countEvaluation("stripped")
	default:
		countEvaluation("no_promo")
	}

	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

func countEvaluation(outcome string) {
	if obs.EvaluationsTotal != nil {
		obs.EvaluationsTotal.WithLabelValues(outcome).Inc()
	}
}
