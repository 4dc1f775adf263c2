package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgo/somi/api/internal/model"
	"github.com/shopspring/decimal"
)

func newTestBatch(t *testing.T, sleeps *[]time.Duration) (*BatchClaimer, *positionFixture, *podFixture) {
	t.Helper()
	positions := newTestPositionService()
	pods := newTestPodService(t, nil)
	// Both services read the same clock so pod maturity and solo accrual agree.
	pods.svc.clock = positions.clock
	pods.clock = positions.clock

	batch := NewBatchClaimer(BatchClaimerConfig{
		Positions: positions.svc,
		Pods:      pods.svc,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
			return ctx.Err()
		},
	})
	return batch, positions, pods
}

func TestClaimAll_PartialFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var sleeps []time.Duration
	batch, positions, pods := newTestBatch(t, &sleeps)

	flex, _ := positions.svc.Deposit(ctx, "alice", &model.DepositRequest{Plan: model.PlanFlex, Amount: decimal.NewFromInt(100)})
	other, _ := positions.svc.Deposit(ctx, "bob", &model.DepositRequest{Plan: model.PlanFlex, Amount: decimal.NewFromInt(100)})
	pod := pods.createPod(t, model.PlanFixed6M, "bob", "carol")

	positions.clock.Advance(200 * 24 * time.Hour)

	outcomes, err := batch.ClaimAll(ctx, "alice", []BatchItem{
		{Kind: BatchItemPosition, RefID: flex.ID},
		{Kind: BatchItemPosition, RefID: other.ID},
		{Kind: BatchItemPod, RefID: pod.ID},
		{Kind: "vault", RefID: "x"},
	})
	if err != nil {
		t.Fatalf("ClaimAll: %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}

	if !outcomes[0].Success || outcomes[0].Position == nil {
		t.Errorf("own position should settle, got %+v", outcomes[0])
	}
	if outcomes[1].Success || !errors.Is(outcomes[1].Err, ErrNotPositionOwner) {
		t.Errorf("foreign position should fail with ErrNotPositionOwner, got %+v", outcomes[1])
	}
	if !outcomes[2].Success || outcomes[2].Pod == nil {
		t.Errorf("matured pod share should settle after a failed item, got %+v", outcomes[2])
	}
	if outcomes[3].Success || !errors.Is(outcomes[3].Err, ErrInvalidBatchItem) {
		t.Errorf("unknown kind should fail with ErrInvalidBatchItem, got %+v", outcomes[3])
	}

	if len(sleeps) != 3 {
		t.Errorf("expected a pause between each of 4 items, got %d", len(sleeps))
	}
	for _, d := range sleeps {
		if d != DefaultBatchDelay {
			t.Errorf("expected default delay, got %v", d)
		}
	}
}

func TestClaimAll_ZeroDelaySkipsSleep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	positions := newTestPositionService()
	slept := false
	noDelay := time.Duration(0)
	batch := NewBatchClaimer(BatchClaimerConfig{
		Positions: positions.svc,
		Delay:     &noDelay,
		Sleep: func(context.Context, time.Duration) error {
			slept = true
			return nil
		},
	})

	a, _ := positions.svc.Deposit(ctx, "alice", &model.DepositRequest{Plan: model.PlanFlex, Amount: decimal.NewFromInt(1)})
	b, _ := positions.svc.Deposit(ctx, "alice", &model.DepositRequest{Plan: model.PlanFlex, Amount: decimal.NewFromInt(1)})

	outcomes, err := batch.ClaimAll(ctx, "alice", []BatchItem{
		{Kind: BatchItemPosition, RefID: a.ID},
		{Kind: BatchItemPosition, RefID: b.ID},
	})
	if err != nil {
		t.Fatalf("ClaimAll: %v", err)
	}
	if slept {
		t.Error("zero delay should not sleep")
	}
	for i, o := range outcomes {
		if !o.Success {
			t.Errorf("item %d failed: %s", i, o.Error)
		}
	}
}

func TestClaimAll_CancelStopsRemainingItems(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	positions := newTestPositionService()
	batch := NewBatchClaimer(BatchClaimerConfig{
		Positions: positions.svc,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})

	var items []BatchItem
	for i := 0; i < 3; i++ {
		p, _ := positions.svc.Deposit(context.Background(), "alice", &model.DepositRequest{Plan: model.PlanFlex, Amount: decimal.NewFromInt(1)})
		items = append(items, BatchItem{Kind: BatchItemPosition, RefID: p.ID})
	}

	outcomes, err := batch.ClaimAll(ctx, "alice", items)
	if err != nil {
		t.Fatalf("ClaimAll: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("every item should get an outcome, got %d", len(outcomes))
	}
	if !outcomes[0].Success {
		t.Errorf("first item ran before cancellation and should succeed")
	}
	for _, o := range outcomes[1:] {
		if o.Success || !errors.Is(o.Err, context.Canceled) {
			t.Errorf("items after cancellation should fail with context.Canceled, got %+v", o)
		}
	}

	// The first claim is kept even though the batch was cut short.
	stored, _ := positions.repo.GetPosition(context.Background(), items[0].RefID)
	if !stored.Closed {
		t.Error("settled item must not be rolled back")
	}
}

func TestClaimAll_Bounds(t *testing.T) {
	t.Parallel()
	batch := NewBatchClaimer(BatchClaimerConfig{})

	if _, err := batch.ClaimAll(context.Background(), "alice", nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
	items := make([]BatchItem, MaxBatchItems+1)
	if _, err := batch.ClaimAll(context.Background(), "alice", items); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}
}
