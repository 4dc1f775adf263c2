package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
)

// BatchClaimer settles several claims for one caller
type BatchClaimer interface {
	ClaimAll(ctx context.Context, caller string, items []service.BatchItem) ([]service.BatchOutcome, error)
}

// BatchClaimRequest is the body of POST /v1/claims/batch
type BatchClaimRequest struct {
	Items []service.BatchItem `json:"items"`
}

// Validate checks the batch request shape
func (r *BatchClaimRequest) Validate() []model.FieldError {
	var errs []model.FieldError
	switch {
	case len(r.Items) == 0:
		errs = append(errs, model.FieldError{Field: "items", Message: "at least one item is required"})
	case len(r.Items) > service.MaxBatchItems:
		errs = append(errs, model.FieldError{Field: "items", Message: service.ErrBatchTooLarge.Error()})
	}
	return errs
}

// BatchClaimResponse summarizes a batch. Failed items never roll back
// the ones that succeeded.
type BatchClaimResponse struct {
	Outcomes  []service.BatchOutcome `json:"outcomes"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
}

// ClaimsHandler handles batch claim requests
type ClaimsHandler struct {
	claimer BatchClaimer
}

// NewClaimsHandler creates a new claims handler
func NewClaimsHandler(claimer BatchClaimer) *ClaimsHandler {
	return &ClaimsHandler{claimer: claimer}
}

// Batch handles POST /v1/claims/batch. The response is 200 whenever the
// batch ran, even if some items failed; callers read each outcome.
func (h *ClaimsHandler) Batch(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req BatchClaimRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		WriteError(w, model.NewValidationError(errs))
		return
	}

	outcomes, err := h.claimer.ClaimAll(r.Context(), account, req.Items)
	if err != nil {
		pd := MapServiceErrorWithContext(err, "batch claim")
		if pd.Status >= http.StatusInternalServerError {
			slog.Error("batch claim failed", slog.String("error", err.Error()))
		}
		WriteError(w, pd)
		return
	}

	resp := BatchClaimResponse{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	WriteData(w, http.StatusOK, resp, nil)
}
