package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
	"github.com/shopspring/decimal"
)

// PodService defines the pod operations used by the handler
type PodService interface {
	CreatePod(ctx context.Context, creator string, req *model.CreatePodRequest) (*model.Pod, error)
	JoinPod(ctx context.Context, podID, user string, amount decimal.Decimal) (*model.Membership, error)
	LeavePod(ctx context.Context, podID, user string) (*model.LeaveResult, error)
	CloseForJoining(ctx context.Context, podID, actor string) (*model.Pod, error)
	CancelPod(ctx context.Context, podID, actor string) ([]model.Refund, error)
	ClaimPodShare(ctx context.Context, podID, user string) (*model.PodClaim, error)
	UpdatePod(ctx context.Context, podID, actor string, req *model.UpdatePodRequest) (*model.Pod, error)
	GetPod(ctx context.Context, podID string) (*model.PodView, error)
	GetMemberCount(ctx context.Context, podID string) (*model.PodMemberCount, error)
	ListPublicPods(ctx context.Context, limit int) ([]*model.PodView, error)
	ListUserPods(ctx context.Context, user string) ([]*model.PodView, error)
	PreviewMemberInterest(ctx context.Context, podID, user string, asOf time.Time) (decimal.Decimal, error)
}

// PodDetail is a pod with its membership counters
type PodDetail struct {
	*model.PodView
	Members *model.PodMemberCount `json:"members"`
}

// CancelResult lists the refunds of a cancelled pod
type CancelResult struct {
	PodID   string         `json:"pod_id"`
	Refunds []model.Refund `json:"refunds"`
}

// PodHandler handles pod HTTP requests
type PodHandler struct {
	pods PodService
}

// NewPodHandler creates a new pod handler
func NewPodHandler(pods PodService) *PodHandler {
	return &PodHandler{pods: pods}
}

// Create handles POST /v1/pods
func (h *PodHandler) Create(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req model.CreatePodRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		WriteError(w, model.NewValidationError(errs))
		return
	}

	pod, err := h.pods.CreatePod(r.Context(), account, &req)
	if err != nil {
		h.handleError(w, err, "create pod")
		return
	}

	WriteData(w, http.StatusCreated, pod, podLinks(pod.ID))
}

// List handles GET /v1/pods. With mine=true it lists the caller's pods,
// otherwise public pods that still accept members.
func (h *PodHandler) List(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var (
		views []*model.PodView
		err   error
	)
	if r.URL.Query().Get("mine") == "true" {
		views, err = h.pods.ListUserPods(r.Context(), account)
	} else {
		limit := service.DefaultPublicPodLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				WriteError(w, model.NewValidationError([]model.FieldError{{Field: "limit", Message: "limit must be a positive integer"}}))
				return
			}
			limit = n
		}
		views, err = h.pods.ListPublicPods(r.Context(), limit)
	}
	if err != nil {
		h.handleError(w, err, "list pods")
		return
	}

	WriteData(w, http.StatusOK, views, nil)
}

// Get handles GET /v1/pods/{podId}
func (h *PodHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAccount(w, r); !ok {
		return
	}
	podID, ok := pathPodID(w, r)
	if !ok {
		return
	}

	view, err := h.pods.GetPod(r.Context(), podID)
	if err != nil {
		h.handleError(w, err, "get pod")
		return
	}
	count, err := h.pods.GetMemberCount(r.Context(), podID)
	if err != nil {
		h.handleError(w, err, "get pod")
		return
	}

	WriteData(w, http.StatusOK, PodDetail{PodView: view, Members: count}, podLinks(podID))
}

// Join handles POST /v1/pods/{podId}/join
func (h *PodHandler) Join(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	podID, ok := pathPodID(w, r)
	if !ok {
		return
	}

	var req model.JoinPodRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		WriteError(w, model.NewValidationError(errs))
		return
	}

	membership, err := h.pods.JoinPod(r.Context(), podID, account, req.Amount)
	if err != nil {
		h.handleError(w, err, "join pod")
		return
	}

	WriteData(w, http.StatusCreated, membership, podLinks(podID))
}

// Leave handles POST /v1/pods/{podId}/leave
func (h *PodHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, "leave pod", func(ctx context.Context, podID, account string) (any, error) {
		return h.pods.LeavePod(ctx, podID, account)
	})
}

// Close handles POST /v1/pods/{podId}/close
func (h *PodHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, "close pod", func(ctx context.Context, podID, account string) (any, error) {
		return h.pods.CloseForJoining(ctx, podID, account)
	})
}

// Cancel handles POST /v1/pods/{podId}/cancel
func (h *PodHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, "cancel pod", func(ctx context.Context, podID, account string) (any, error) {
		refunds, err := h.pods.CancelPod(ctx, podID, account)
		if err != nil {
			return nil, err
		}
		return CancelResult{PodID: podID, Refunds: refunds}, nil
	})
}

// Claim handles POST /v1/pods/{podId}/claim
func (h *PodHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.memberAction(w, r, "claim pod share", func(ctx context.Context, podID, account string) (any, error) {
		return h.pods.ClaimPodShare(ctx, podID, account)
	})
}

// Update handles PATCH /v1/pods/{podId}
func (h *PodHandler) Update(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	podID, ok := pathPodID(w, r)
	if !ok {
		return
	}

	var req model.UpdatePodRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		WriteError(w, model.NewValidationError(errs))
		return
	}

	pod, err := h.pods.UpdatePod(r.Context(), podID, account, &req)
	if err != nil {
		h.handleError(w, err, "update pod")
		return
	}

	WriteData(w, http.StatusOK, pod, podLinks(podID))
}

// PreviewInterest handles GET /v1/pods/{podId}/interest for the caller's membership
func (h *PodHandler) PreviewInterest(w http.ResponseWriter, r *http.Request) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	podID, ok := pathPodID(w, r)
	if !ok {
		return
	}
	asOf, pd := parseAsOf(r)
	if pd != nil {
		WriteError(w, pd)
		return
	}

	interest, err := h.pods.PreviewMemberInterest(r.Context(), podID, account, asOf)
	if err != nil {
		h.handleError(w, err, "preview member interest")
		return
	}

	resp := InterestPreview{ID: podID, Interest: interest}
	if !asOf.IsZero() {
		resp.AsOf = &asOf
	}
	WriteData(w, http.StatusOK, resp, nil)
}

// memberAction runs a body-less pod action for the calling account
func (h *PodHandler) memberAction(w http.ResponseWriter, r *http.Request, operation string, run func(ctx context.Context, podID, account string) (any, error)) {
	account, ok := requireAccount(w, r)
	if !ok {
		return
	}
	podID, ok := pathPodID(w, r)
	if !ok {
		return
	}

	result, err := run(r.Context(), podID, account)
	if err != nil {
		h.handleError(w, err, operation)
		return
	}

	WriteData(w, http.StatusOK, result, podLinks(podID))
}

func (h *PodHandler) handleError(w http.ResponseWriter, err error, operation string) {
	pd := MapServiceErrorWithContext(err, operation)
	if pd.Status >= http.StatusInternalServerError {
		slog.Error("pod request failed", slog.String("operation", operation), slog.String("error", err.Error()))
	}
	WriteError(w, pd)
}

func pathPodID(w http.ResponseWriter, r *http.Request) (string, bool) {
	podID := r.PathValue("podId")
	if podID == "" {
		WriteError(w, model.NewBadRequestError("pod ID required"))
		return "", false
	}
	return podID, true
}

func podLinks(podID string) map[string]string {
	return map[string]string{
		"self":     "/v1/pods/" + podID,
		"interest": "/v1/pods/" + podID + "/interest",
	}
}
