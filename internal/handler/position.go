package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/forgo/somi/api/internal/middleware"
	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
	"github.com/shopspring/decimal"
)

// PositionService defines the position operations used by the handler
type PositionService interface {
	Deposit(ctx context.Context, owner string, req *model.DepositRequest) (*model.Position, error)
	ClaimPosition(ctx context.Context, caller, positionID string) (*model.PositionClaim, error)
	PreviewInterest(ctx context.Context, positionID string, asOf time.Time) (decimal.Decimal, error)
	GetPosition(ctx context.Context, positionID string) (*model.PositionView, error)
	ListUserPositions(ctx context.Context, owner string, offset, limit int) ([]*model.PositionView, error)
}

// InterestPreview is the response of an interest preview
type InterestPreview struct {
	ID       string          `json:"id"`
	AsOf     *time.Time      `json:"as_of,omitempty"`
	Interest decimal.Decimal `json:"interest"`
}

// PositionHandler handles solo position HTTP requests
type PositionHandler struct {
	positions PositionService
}

// NewPositionHandler creates a new position handler
func NewPositionHandler(positions PositionService) *PositionHandler {
	return &PositionHandler{positions: positions}
}

// Deposit handles POST /v1/positions
func (h *PositionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req model.DepositRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		WriteError(w, model.NewValidationError(errs))
		return
	}

	position, err := h.positions.Deposit(r.Context(), account, &req)
	if err != nil {
		h.handleError(w, err, "deposit")
		return
	}

	WriteData(w, http.StatusCreated, position, map[string]string{
		"self":  "/v1/positions/" + position.ID,
		"claim": "/v1/positions/" + position.ID + "/claim",
	})
}

// List handles GET /v1/positions for the calling account
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	offset, size, pd := parsePage(r, service.DefaultPositionPageSize, service.MaxPositionPageSize)
	if pd != nil {
		WriteError(w, pd)
		return
	}

	views, err := h.positions.ListUserPositions(r.Context(), account, offset, size)
	if err != nil {
		h.handleError(w, err, "list positions")
		return
	}

	WriteCollection(w, http.StatusOK, views, nextPage(offset, size, len(views)), nil)
}

// Get handles GET /v1/positions/{positionId}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, ok := h.ownedPosition(w, r)
	if !ok {
		return
	}
	WriteData(w, http.StatusOK, view, nil)
}

// PreviewInterest handles GET /v1/positions/{positionId}/interest
func (h *PositionHandler) PreviewInterest(w http.ResponseWriter, r *http.Request) {
	view, ok := h.ownedPosition(w, r)
	if !ok {
		return
	}
	asOf, pd := parseAsOf(r)
	if pd != nil {
		WriteError(w, pd)
		return
	}

	interest, err := h.positions.PreviewInterest(r.Context(), view.ID, asOf)
	if err != nil {
		h.handleError(w, err, "preview interest")
		return
	}

	resp := InterestPreview{ID: view.ID, Interest: interest}
	if !asOf.IsZero() {
		resp.AsOf = &asOf
	}
	WriteData(w, http.StatusOK, resp, nil)
}

// Claim handles POST /v1/positions/{positionId}/claim
func (h *PositionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	positionID := r.PathValue("positionId")
	if positionID == "" {
		WriteError(w, model.NewBadRequestError("position ID required"))
		return
	}

	claim, err := h.positions.ClaimPosition(r.Context(), account, positionID)
	if err != nil {
		h.handleError(w, err, "claim position")
		return
	}

	WriteData(w, http.StatusOK, claim, nil)
}

// ownedPosition loads the path position and hides it from other accounts
func (h *PositionHandler) ownedPosition(w http.ResponseWriter, r *http.Request) (*model.PositionView, bool) {
	account, ok := requireAccount(w, r)
	if !ok {
		return nil, false
	}
	positionID := r.PathValue("positionId")
	if positionID == "" {
		WriteError(w, model.NewBadRequestError("position ID required"))
		return nil, false
	}

	view, err := h.positions.GetPosition(r.Context(), positionID)
	if err != nil {
		h.handleError(w, err, "get position")
		return nil, false
	}
	if view.Owner != account {
		// 404 rather than 403 so position ids do not leak to other accounts
		WriteError(w, model.NewNotFoundError("position"))
		return nil, false
	}
	return view, true
}

func (h *PositionHandler) handleError(w http.ResponseWriter, err error, operation string) {
	pd := MapServiceErrorWithContext(err, operation)
	if pd.Status >= http.StatusInternalServerError {
		slog.Error("position request failed", slog.String("operation", operation), slog.String("error", err.Error()))
	}
	WriteError(w, pd)
}

// requireAccount reads the authenticated account or writes a 401
func requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	account := middleware.GetAccount(r.Context())
	if account == "" {
		WriteError(w, model.NewUnauthorizedError("authentication required"))
		return "", false
	}
	return account, true
}
