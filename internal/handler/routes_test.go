package handler

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgo/somi/api/internal/middleware"
	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/testing/helpers"
)

// These tests run handlers behind the same middleware the server mounts
// them with.

func TestIngestRoute_OperatorOnly(t *testing.T) {
	t.Parallel()
	tokens := helpers.NewTokenHelper(t)

	j := &mockJournal{}
	h := NewLedgerHandler(LedgerHandlerConfig{Journal: j, Indexer: &mockIndexer{applied: 1}, Totals: &mockTotals{}})
	route := middleware.Auth(tokens.Service())(middleware.RequireOperator(http.HandlerFunc(h.Ingest)))
	body := IngestRequest{Events: []model.Event{depositEvent("0xfeed-0")}}

	rr := helpers.NewRequest(t, http.MethodPost, "/v1/events").WithBody(body).Do(route)
	helpers.AssertProblemDetails(t, rr, http.StatusUnauthorized, model.ErrCodeUnauthorized)

	rr = helpers.NewRequest(t, http.MethodPost, "/v1/events").
		WithHeader("Authorization", "Bearer "+tokens.ExpiredToken("indexer")).
		WithBody(body).
		Do(route)
	helpers.AssertProblemDetails(t, rr, http.StatusUnauthorized, model.ErrCodeUnauthorized)

	rr = helpers.NewRequest(t, http.MethodPost, "/v1/events").WithAuth(tokens, "alice").WithBody(body).Do(route)
	helpers.AssertProblemDetails(t, rr, http.StatusForbidden, model.ErrCodeForbidden)

	if len(j.appended) != 0 {
		t.Fatalf("rejected requests must not reach the journal, got %d events", len(j.appended))
	}

	rr = helpers.NewRequest(t, http.MethodPost, "/v1/events").WithOperator(tokens, "indexer").WithBody(body).Do(route)
	helpers.AssertStatus(t, rr, http.StatusAccepted)
	var res IngestResult
	helpers.DecodeData(t, rr, &res)
	if res.Accepted != 1 || len(j.appended) != 1 {
		t.Errorf("unexpected result %+v with %d journaled", res, len(j.appended))
	}
}

func TestDepositRoute_IdempotentRetry(t *testing.T) {
	t.Parallel()
	tokens := helpers.NewTokenHelper(t)
	store := middleware.NewIdempotencyStore(middleware.IdempotencyConfig{TTL: time.Minute})
	defer store.Stop()

	var calls atomic.Int32
	positions := &mockPositionService{
		depositFunc: func(ctx context.Context, owner string, req *model.DepositRequest) (*model.Position, error) {
			calls.Add(1)
			return &model.Position{ID: "pos-1", Owner: owner, PlanKind: req.Plan, Principal: req.Amount}, nil
		},
	}
	h := NewPositionHandler(positions)
	route := middleware.Auth(tokens.Service())(middleware.Idempotency(store)(http.HandlerFunc(h.Deposit)))
	body := model.DepositRequest{Plan: model.PlanFlex, Amount: helpers.Dec(t, "250.5")}

	first := helpers.NewRequest(t, http.MethodPost, "/v1/positions").
		WithAuth(tokens, "alice").
		WithIdempotencyKey("retry-1").
		WithBody(body).
		Do(route)
	helpers.AssertStatus(t, first, http.StatusCreated)

	second := helpers.NewRequest(t, http.MethodPost, "/v1/positions").
		WithAuth(tokens, "alice").
		WithIdempotencyKey("retry-1").
		WithBody(body).
		Do(route)
	helpers.AssertStatus(t, second, http.StatusCreated)
	if second.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Error("expected the retry to be replayed")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected one deposit, got %d", n)
	}

	var pos model.Position
	helpers.DecodeData(t, second, &pos)
	if pos.ID != "pos-1" || !pos.Principal.Equal(helpers.Dec(t, "250.5")) {
		t.Errorf("unexpected replayed position %+v", pos)
	}
}

func TestDepositRoute_ValidationThroughAuth(t *testing.T) {
	t.Parallel()
	tokens := helpers.NewTokenHelper(t)
	h := NewPositionHandler(&mockPositionService{})
	route := middleware.Auth(tokens.Service())(http.HandlerFunc(h.Deposit))

	rr := helpers.NewRequest(t, http.MethodPost, "/v1/positions").
		WithAuth(tokens, "alice").
		WithBody(model.DepositRequest{Plan: model.PlanFlex}).
		Do(route)
	helpers.AssertValidationError(t, rr, "amount")
}

func TestPodRoute_PathValue(t *testing.T) {
	t.Parallel()
	tokens := helpers.NewTokenHelper(t)
	pods := &mockPodService{
		getPodFunc: func(ctx context.Context, podID string) (*model.PodView, error) {
			return &model.PodView{Pod: &model.Pod{ID: podID}, Status: model.PodStatusFilling}, nil
		},
		getMemberCountFunc: func(ctx context.Context, podID string) (*model.PodMemberCount, error) {
			return &model.PodMemberCount{}, nil
		},
	}
	h := NewPodHandler(pods)
	route := middleware.Auth(tokens.Service())(http.HandlerFunc(h.Get))

	rr := helpers.NewRequest(t, http.MethodGet, "/v1/pods/pod-9").
		WithAuth(tokens, "bob").
		WithPathValue("podId", "pod-9").
		Do(route)
	helpers.AssertStatus(t, rr, http.StatusOK)

	var detail struct {
		ID     string          `json:"id"`
		Status model.PodStatus `json:"status"`
	}
	helpers.DecodeData(t, rr, &detail)
	if detail.ID != "pod-9" || detail.Status != model.PodStatusFilling {
		t.Errorf("unexpected pod %+v", detail)
	}
}
