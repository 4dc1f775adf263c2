package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
	"github.com/shopspring/decimal"
)

type mockBatchClaimer struct {
	claimAllFunc func(ctx context.Context, caller string, items []service.BatchItem) ([]service.BatchOutcome, error)
}

func (m *mockBatchClaimer) ClaimAll(ctx context.Context, caller string, items []service.BatchItem) ([]service.BatchOutcome, error) {
	if m.claimAllFunc != nil {
		return m.claimAllFunc(ctx, caller, items)
	}
	return nil, nil
}

func TestBatchClaim_PartialFailure_ReturnsOK(t *testing.T) {
	t.Parallel()

	h := NewClaimsHandler(&mockBatchClaimer{
		claimAllFunc: func(ctx context.Context, caller string, items []service.BatchItem) ([]service.BatchOutcome, error) {
			return []service.BatchOutcome{
				{Item: items[0], Success: true, Position: &model.PositionClaim{PositionID: items[0].RefID, Principal: decimal.NewFromInt(10)}},
				{Item: items[1], Error: service.ErrPodNotMatured.Error(), Err: service.ErrPodNotMatured},
			}, nil
		},
	})

	req := withAccount(makeJSONRequest(http.MethodPost, "/v1/claims/batch", BatchClaimRequest{Items: []service.BatchItem{
		{Kind: service.BatchItemPosition, RefID: "pos1"},
		{Kind: service.BatchItemPod, RefID: "pod1"},
	}}), "alice")
	rr := httptest.NewRecorder()
	h.Batch(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	var resp BatchClaimResponse
	decodeData(t, rr, &resp)
	if resp.Succeeded != 1 || resp.Failed != 1 || len(resp.Outcomes) != 2 {
		t.Errorf("unexpected summary %+v", resp)
	}
	if resp.Outcomes[1].Error == "" {
		t.Error("failed outcome should carry an error message")
	}
}

func TestBatchClaim_Empty_ReturnsValidationError(t *testing.T) {
	t.Parallel()

	h := NewClaimsHandler(&mockBatchClaimer{})
	rr := httptest.NewRecorder()
	h.Batch(rr, withAccount(makeJSONRequest(http.MethodPost, "/v1/claims/batch", BatchClaimRequest{}), "alice"))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status %d, got %d", http.StatusUnprocessableEntity, rr.Code)
	}
}

func TestBatchClaim_TooLarge_ReturnsValidationError(t *testing.T) {
	t.Parallel()

	items := make([]service.BatchItem, service.MaxBatchItems+1)
	for i := range items {
		items[i] = service.BatchItem{Kind: service.BatchItemPosition, RefID: "pos"}
	}

	h := NewClaimsHandler(&mockBatchClaimer{})
	rr := httptest.NewRecorder()
	h.Batch(rr, withAccount(makeJSONRequest(http.MethodPost, "/v1/claims/batch", BatchClaimRequest{Items: items}), "alice"))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status %d, got %d", http.StatusUnprocessableEntity, rr.Code)
	}
}

func TestBatchClaim_ServiceError_ReturnsInternal(t *testing.T) {
	t.Parallel()

	h := NewClaimsHandler(&mockBatchClaimer{
		claimAllFunc: func(ctx context.Context, caller string, items []service.BatchItem) ([]service.BatchOutcome, error) {
			return nil, errors.New("boom")
		},
	})
	req := withAccount(makeJSONRequest(http.MethodPost, "/v1/claims/batch", BatchClaimRequest{Items: []service.BatchItem{
		{Kind: service.BatchItemPod, RefID: "pod1"},
	}}), "alice")
	rr := httptest.NewRecorder()
	h.Batch(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
}
