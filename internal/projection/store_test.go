package projection

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projection.db")
	store, err := Open(path)
	require.NoError(t, err)
	return store, path
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(" ")
	require.Error(t, err)
}

func TestLoadEmptyStoreReturnsNil(t *testing.T) {
	t.Parallel()

	store, _ := openTempStore(t)
	defer store.Close()

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestCommitThenLoad(t *testing.T) {
	t.Parallel()

	store, _ := openTempStore(t)
	defer store.Close()
	ctx := context.Background()

	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	state := model.NewProjectionState()
	state.Totals.TotalLocked = decimal.RequireFromString("1500.25")
	state.Totals.TotalDepositors = 2
	state.Totals.LastSeq = 7
	state.Positions["p1"] = &model.PositionProjection{
		ID:        "p1",
		User:      "alice",
		Plan:      model.PlanFixed6M,
		Principal: decimal.NewFromInt(1000),
		StartTime: now,
	}
	state.Applied["op1-0"] = 6
	state.Applied["op2-0"] = 7

	commit := &model.ProjectionCommit{
		State:   state,
		Applied: map[string]uint64{"op1-0": 6, "op2-0": 7},
	}
	commit.TouchPosition("p1")
	require.NoError(t, store.Commit(ctx, commit))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Totals.TotalLocked.Equal(decimal.RequireFromString("1500.25")))
	assert.Equal(t, int64(2), loaded.Totals.TotalDepositors)
	assert.Equal(t, uint64(7), loaded.Totals.LastSeq)
	assert.Equal(t, map[string]uint64{"op1-0": 6, "op2-0": 7}, loaded.Applied)
	require.Contains(t, loaded.Positions, "p1")
	assert.Equal(t, model.PlanFixed6M, loaded.Positions["p1"].Plan)
}

func TestCommitWritesOnlyChangedEntities(t *testing.T) {
	t.Parallel()

	store, _ := openTempStore(t)
	defer store.Close()
	ctx := context.Background()

	state := model.NewProjectionState()
	state.Positions["p1"] = &model.PositionProjection{ID: "p1", User: "alice", Principal: decimal.NewFromInt(10)}
	state.Pods["pod-a"] = &model.PodProjection{
		ID:             "pod-a",
		Creator:        "bob",
		TotalDeposited: decimal.NewFromInt(300),
		PenaltyPool:    decimal.Zero,
		Members: map[string]*model.MemberProjection{
			"bob": {User: "bob", Deposit: decimal.NewFromInt(100)},
		},
	}
	first := &model.ProjectionCommit{State: state}
	first.TouchPosition("p1")
	first.TouchPod("pod-a")
	require.NoError(t, store.Commit(ctx, first))

	// Only the pod is marked, so the in-memory position edit stays unwritten.
	state.Positions["p1"].Claimed = true
	state.Pods["pod-a"].ClosedForJoining = true
	state.Totals.TotalClaims = 4
	second := &model.ProjectionCommit{State: state}
	second.TouchPod("pod-a")
	second.TouchPod("unknown")
	require.NoError(t, store.Commit(ctx, second))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, loaded.Positions, "p1")
	assert.False(t, loaded.Positions["p1"].Claimed)
	require.Contains(t, loaded.Pods, "pod-a")
	assert.True(t, loaded.Pods["pod-a"].ClosedForJoining)
	assert.Contains(t, loaded.Pods["pod-a"].Members, "bob")
	assert.NotContains(t, loaded.Pods, "unknown")
	assert.Equal(t, int64(4), loaded.Totals.TotalClaims)
}

func TestSnapshotsAreListedPerPodInTimeOrder(t *testing.T) {
	t.Parallel()

	store, _ := openTempStore(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	commit := &model.ProjectionCommit{
		State: model.NewProjectionState(),
		Snapshots: []model.PenaltyPoolSnapshot{
			{ID: "s2", PodID: "pod-a", Value: decimal.NewFromInt(0), Reason: model.SnapshotClaim, Timestamp: base.Add(2 * time.Hour)},
			{ID: "s1", PodID: "pod-a", Value: decimal.NewFromInt(5), Reason: model.SnapshotEarlyExit, Timestamp: base},
			{ID: "s3", PodID: "pod-b", Value: decimal.NewFromInt(9), Reason: model.SnapshotEarlyExit, Timestamp: base},
		},
	}
	require.NoError(t, store.Commit(ctx, commit))

	snaps, err := store.ListSnapshots(ctx, "pod-a")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "s1", snaps[0].ID)
	assert.Equal(t, "s2", snaps[1].ID)

	_, err = store.ListSnapshots(ctx, "")
	require.Error(t, err)
}

func TestListClaimsFiltersByUser(t *testing.T) {
	t.Parallel()

	store, _ := openTempStore(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Commit(ctx, &model.ProjectionCommit{
		State: model.NewProjectionState(),
		Claims: []model.ClaimRecord{
			{ID: "c2", User: "alice", Kind: model.ClaimKindSolo, RefID: "p1", Principal: decimal.NewFromInt(10), Interest: decimal.Zero, Timestamp: base.Add(time.Hour)},
			{ID: "c1", User: "alice", Kind: model.ClaimKindPod, RefID: "pod-a", Principal: decimal.NewFromInt(20), Interest: decimal.Zero, Timestamp: base},
			{ID: "c3", User: "bob", Kind: model.ClaimKindSolo, RefID: "p2", Principal: decimal.NewFromInt(30), Interest: decimal.Zero, Timestamp: base},
		},
	}))

	alice, err := store.ListClaims(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, "c1", alice[0].ID)
	assert.Equal(t, "c2", alice[1].ID)

	all, err := store.ListClaims(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCommitRequiresState(t *testing.T) {
	t.Parallel()

	store, _ := openTempStore(t)
	defer store.Close()

	require.Error(t, store.Commit(context.Background(), &model.ProjectionCommit{}))
}

func TestAggregatorResumesFromStore(t *testing.T) {
	t.Parallel()

	store, path := openTempStore(t)
	ctx := context.Background()
	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	agg, err := service.NewAggregator(ctx, service.AggregatorConfig{Store: store})
	require.NoError(t, err)

	evt, err := model.NewEvent("op1-0", model.EventDeposited, at, model.DepositedPayload{
		PositionID: "p1",
		User:       "alice",
		Plan:       model.PlanFlex,
		Amount:     decimal.NewFromInt(1000),
		StartTime:  at,
		AprBps:     1000,
	})
	require.NoError(t, err)
	evt.Seq = 1
	require.NoError(t, agg.ApplyEvent(ctx, evt))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)

	resumed, err := service.NewAggregator(ctx, service.AggregatorConfig{Store: reopened})
	require.NoError(t, err)
	totals := resumed.Totals()
	assert.True(t, totals.TotalLocked.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, int64(1), totals.TotalDepositors)
	assert.Equal(t, uint64(1), resumed.Checkpoint())

	claimed, err := model.NewEvent("op2-0", model.EventClaimed, at.Add(time.Hour), model.ClaimedPayload{
		User:      "alice",
		Kind:      model.ClaimKindSolo,
		RefID:     "p1",
		Principal: decimal.NewFromInt(1000),
		Interest:  decimal.Zero,
	})
	require.NoError(t, err)
	claimed.Seq = 2

	// A claimed position must survive the restart as claimed.
	resumedPos, ok := resumed.Position("p1")
	require.True(t, ok)
	assert.False(t, resumedPos.Claimed)

	// Redelivery after restart is still a no-op.
	require.NoError(t, resumed.ApplyEvent(ctx, evt))
	assert.Equal(t, int64(1), resumed.Totals().TotalDepositors)

	require.NoError(t, resumed.ApplyEvent(ctx, claimed))
	require.NoError(t, reopened.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	final, err := service.NewAggregator(ctx, service.AggregatorConfig{Store: again})
	require.NoError(t, err)
	pos, ok := final.Position("p1")
	require.True(t, ok)
	assert.True(t, pos.Claimed)
	assert.True(t, final.Totals().TotalLocked.IsZero())
}
