package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/forgo/somi/api/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultReplayPageSize is the number of journal events read per page
const DefaultReplayPageSize = 200

// ErrProjectionStore wraps failures of the projection store
var ErrProjectionStore = errors.New("projection store failure")

// ProjectionStore persists the aggregator state
type ProjectionStore interface {
	// Load returns the persisted state, or nil when nothing was stored yet
	Load(ctx context.Context) (*model.ProjectionState, error)
	// Commit writes the state and the side records of one apply atomically
	Commit(ctx context.Context, commit *model.ProjectionCommit) error
}

// EventSource lists journaled events in sequence order
type EventSource interface {
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]model.Event, error)
}

// Aggregator folds the event stream into Totals. It is the only writer of
// Totals and never touches positions or pods. Events are idempotent by
// key; events that reference an entity not seen yet are deferred and
// retried once that entity appears.
type Aggregator struct {
	mu     sync.Mutex
	state  *model.ProjectionState
	store  ProjectionStore
	clock  Clock
	logger *slog.Logger
}

// AggregatorConfig holds configuration for the aggregator
type AggregatorConfig struct {
	Store  ProjectionStore // Optional, state stays in memory if nil
	Clock  Clock           // Optional
	Logger *slog.Logger    // Optional
}

// NewAggregator creates an aggregator, resuming from the stored state
func NewAggregator(ctx context.Context, cfg AggregatorConfig) (*Aggregator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		store:  cfg.Store,
		clock:  clockOrDefault(cfg.Clock),
		logger: logger,
	}
	if err := a.reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// ApplyEvent folds one event into the totals
func (a *Aggregator) ApplyEvent(ctx context.Context, evt model.Event) error {
	ctx, span := tracer.Start(ctx, "Aggregator.ApplyEvent", trace.WithAttributes(
		attribute.String("event.key", evt.Key),
		attribute.String("event.type", string(evt.Type)),
	))
	defer span.End()

	if evt.Key == "" {
		return ErrEventKeyRequired
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Redeliveries still move the checkpoint so a tailing reader does not
	// fetch them again; it is persisted with the next commit.
	if _, ok := a.state.Applied[evt.Key]; ok {
		a.logger.Debug("duplicate event ignored", slog.String("key", evt.Key))
		a.advance(evt.Seq)
		return nil
	}
	if a.isDeferred(evt.Key) {
		a.advance(evt.Seq)
		return nil
	}

	commit := &model.ProjectionCommit{Applied: make(map[string]uint64)}
	foldErr := a.fold(evt, commit)
	switch {
	case errors.Is(foldErr, ErrEntityNotMaterialized):
		a.state.Deferred = append(a.state.Deferred, evt)
		a.logger.Warn("event deferred",
			slog.String("key", evt.Key),
			slog.String("type", string(evt.Type)),
			slog.String("reason", foldErr.Error()),
		)
		foldErr = nil
	case foldErr != nil:
		a.logger.Warn("event rejected",
			slog.String("key", evt.Key),
			slog.String("type", string(evt.Type)),
			slog.String("error", foldErr.Error()),
		)
	default:
		a.markApplied(evt, commit)
		a.drainDeferred(commit)
	}

	a.advance(evt.Seq)
	a.state.Totals.UpdatedAt = a.clock.Now()
	commit.State = a.state

	if a.store != nil {
		if err := a.store.Commit(ctx, commit); err != nil {
			if rerr := a.reload(ctx); rerr != nil {
				a.logger.Error("failed to reload projection", slog.String("error", rerr.Error()))
			}
			return fmt.Errorf("%w: %v", ErrProjectionStore, err)
		}
	}
	return foldErr
}

// Replay applies journaled events after the checkpoint, page by page.
// Rejected events are logged and skipped; store failures stop the replay.
func (a *Aggregator) Replay(ctx context.Context, src EventSource, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = DefaultReplayPageSize
	}

	applied := 0
	after := a.Checkpoint()
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		events, err := src.ListEvents(ctx, after, pageSize)
		if err != nil {
			return applied, fmt.Errorf("list events after %d: %w", after, err)
		}
		for _, evt := range events {
			if err := a.ApplyEvent(ctx, evt); err != nil {
				if errors.Is(err, ErrProjectionStore) {
					return applied, err
				}
			} else {
				applied++
			}
			after = evt.Seq
		}
		if len(events) < pageSize {
			return applied, nil
		}
	}
}

// Totals returns a copy of the current totals
func (a *Aggregator) Totals() model.Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Totals
}

// Checkpoint returns the highest journal sequence folded so far
func (a *Aggregator) Checkpoint() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Totals.LastSeq
}

// DeferredCount returns how many events wait for their entity
func (a *Aggregator) DeferredCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.state.Deferred)
}

// Pod returns a copy of a pod projection
func (a *Aggregator) Pod(podID string) (*model.PodProjection, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.state.Pods[podID]
	if !ok {
		return nil, false
	}
	cp := *p
	cp.Members = make(map[string]*model.MemberProjection, len(p.Members))
	for k, m := range p.Members {
		mc := *m
		cp.Members[k] = &mc
	}
	return &cp, true
}

// Position returns a copy of a position projection
func (a *Aggregator) Position(positionID string) (*model.PositionProjection, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.state.Positions[positionID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (a *Aggregator) reload(ctx context.Context) error {
	state := model.NewProjectionState()
	if a.store != nil {
		loaded, err := a.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("%w: load: %v", ErrProjectionStore, err)
		}
		if loaded != nil {
			state = loaded
		}
	}
	if state.Applied == nil {
		state.Applied = make(map[string]uint64)
	}
	if state.Positions == nil {
		state.Positions = make(map[string]*model.PositionProjection)
	}
	if state.Pods == nil {
		state.Pods = make(map[string]*model.PodProjection)
	}
	a.state = state
	return nil
}

func (a *Aggregator) isDeferred(key string) bool {
	for _, d := range a.state.Deferred {
		if d.Key == key {
			return true
		}
	}
	return false
}

func (a *Aggregator) markApplied(evt model.Event, commit *model.ProjectionCommit) {
	a.state.Applied[evt.Key] = evt.Seq
	commit.Applied[evt.Key] = evt.Seq
}

func (a *Aggregator) advance(seq uint64) {
	if seq > a.state.Totals.LastSeq {
		a.state.Totals.LastSeq = seq
	}
}

// drainDeferred retries deferred events until a full pass makes no progress
func (a *Aggregator) drainDeferred(commit *model.ProjectionCommit) {
	for progress := true; progress && len(a.state.Deferred) > 0; {
		progress = false
		remaining := a.state.Deferred[:0:0]
		for _, evt := range a.state.Deferred {
			err := a.fold(evt, commit)
			switch {
			case errors.Is(err, ErrEntityNotMaterialized):
				remaining = append(remaining, evt)
			case err != nil:
				a.logger.Warn("deferred event rejected",
					slog.String("key", evt.Key),
					slog.String("error", err.Error()),
				)
			default:
				a.markApplied(evt, commit)
				progress = true
			}
		}
		a.state.Deferred = remaining
	}
}

// fold applies one event. It validates everything it needs before the
// first mutation so a rejected or deferred event leaves the state as is.
func (a *Aggregator) fold(evt model.Event, commit *model.ProjectionCommit) error {
	t := &a.state.Totals

	switch evt.Type {
	case model.EventDeposited:
		var p model.DepositedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		if _, ok := a.state.Positions[p.PositionID]; ok {
			return fmt.Errorf("%w: position %s already deposited", ErrEventConflict, p.PositionID)
		}
		a.state.Positions[p.PositionID] = &model.PositionProjection{
			ID:        p.PositionID,
			User:      p.User,
			Plan:      p.Plan,
			Principal: p.Amount,
			StartTime: p.StartTime,
		}
		t.TotalLocked = t.TotalLocked.Add(p.Amount)
		t.TotalDepositors++
		commit.TouchPosition(p.PositionID)

	case model.EventPodCreated:
		var p model.PodCreatedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		if _, ok := a.state.Pods[p.PodID]; ok {
			return fmt.Errorf("%w: pod %s already created", ErrEventConflict, p.PodID)
		}
		a.state.Pods[p.PodID] = &model.PodProjection{
			ID:             p.PodID,
			Creator:        p.Creator,
			Plan:           p.Plan,
			Contribution:   p.ContributionAmount,
			TotalDeposited: decimal.Zero,
			PenaltyPool:    decimal.Zero,
			Members:        make(map[string]*model.MemberProjection),
		}
		commit.TouchPod(p.PodID)

	case model.EventPodJoined:
		var p model.PodJoinedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		pod, err := a.pod(p.PodID)
		if err != nil {
			return err
		}
		if _, ok := pod.Members[p.User]; ok {
			return fmt.Errorf("%w: %s already joined pod %s", ErrEventConflict, p.User, p.PodID)
		}
		pod.Members[p.User] = &model.MemberProjection{User: p.User, Deposit: p.Amount, JoinedAt: evt.OccurredAt}
		pod.MembersJoined++
		pod.ActiveMembers++
		pod.TotalDeposited = pod.TotalDeposited.Add(p.Amount)
		t.TotalLocked = t.TotalLocked.Add(p.Amount)
		t.TotalDepositors++
		commit.TouchPod(p.PodID)

	case model.EventPodActivated:
		var p model.PodActivatedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		pod, err := a.pod(p.PodID)
		if err != nil {
			return err
		}
		if pod.Activated {
			return nil
		}
		start := p.StartTime
		pod.Activated = true
		pod.StartTime = &start
		pod.MaturityTime = p.MaturityTime
		pod.AprBps = p.AprBps
		if pod.ActiveMembers > 0 && !pod.CountedActive {
			pod.CountedActive = true
			t.TotalActivePods++
		}
		commit.TouchPod(p.PodID)

	case model.EventPodClosedForJoining:
		var p model.PodClosedForJoiningPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		pod, err := a.pod(p.PodID)
		if err != nil {
			return err
		}
		pod.ClosedForJoining = true
		commit.TouchPod(p.PodID)

	case model.EventEarlyExit:
		var p model.EarlyExitPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		pod, member, err := a.activeMember(p.PodID, p.User)
		if err != nil {
			return err
		}
		a.exitMember(pod, member, evt, model.ExitKindEarly)
		pod.PenaltyPool = pod.PenaltyPool.Add(p.Penalty)
		commit.TouchPod(p.PodID)
		t.TotalLocked = t.TotalLocked.Sub(p.Refund)
		commit.Snapshots = append(commit.Snapshots, snapshot(pod, model.SnapshotEarlyExit, evt))

	case model.EventClaimed:
		var p model.ClaimedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		switch p.Kind {
		case model.ClaimKindSolo:
			pos, ok := a.state.Positions[p.RefID]
			if !ok {
				return fmt.Errorf("%w: position %s", ErrEntityNotMaterialized, p.RefID)
			}
			if pos.Claimed {
				return fmt.Errorf("%w: position %s already claimed", ErrEventConflict, p.RefID)
			}
			pos.Claimed = true
			commit.TouchPosition(p.RefID)
		case model.ClaimKindPod:
			pod, member, err := a.activeMember(p.RefID, p.User)
			if err != nil {
				return err
			}
			a.exitMember(pod, member, evt, model.ExitKindClaimed)
			if p.PenaltyShare != nil {
				pod.PenaltyPool = pod.PenaltyPool.Sub(*p.PenaltyShare)
			}
			commit.Snapshots = append(commit.Snapshots, snapshot(pod, model.SnapshotClaim, evt))
			commit.TouchPod(p.RefID)
		default:
			return fmt.Errorf("%w: claim kind %q", ErrEventConflict, p.Kind)
		}
		t.TotalLocked = t.TotalLocked.Sub(p.Principal)
		t.TotalClaims++
		commit.Claims = append(commit.Claims, model.ClaimRecord{
			ID:           evt.Key,
			User:         p.User,
			Kind:         p.Kind,
			RefID:        p.RefID,
			Principal:    p.Principal,
			Interest:     p.Interest,
			PenaltyShare: p.PenaltyShare,
			Timestamp:    evt.OccurredAt,
		})

	case model.EventPodCancelled:
		var p model.PodCancelledPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		pod, err := a.pod(p.PodID)
		if err != nil {
			return err
		}
		pod.Cancelled = true
		if pod.CountedActive {
			pod.CountedActive = false
			t.TotalActivePods--
		}
		commit.TouchPod(p.PodID)

	case model.EventRefunded:
		var p model.RefundedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		pod, member, err := a.activeMember(p.PodID, p.User)
		if err != nil {
			return err
		}
		a.exitMember(pod, member, evt, model.ExitKindRefunded)
		t.TotalLocked = t.TotalLocked.Sub(p.Principal)
		commit.TouchPod(p.PodID)

	default:
		return fmt.Errorf("%w: %q", model.ErrUnknownEventType, evt.Type)
	}
	return nil
}

func (a *Aggregator) pod(podID string) (*model.PodProjection, error) {
	pod, ok := a.state.Pods[podID]
	if !ok {
		return nil, fmt.Errorf("%w: pod %s", ErrEntityNotMaterialized, podID)
	}
	return pod, nil
}

// activeMember resolves a pod member that still holds funds. A member not
// seen yet defers the event; a member already exited is a conflict.
func (a *Aggregator) activeMember(podID, user string) (*model.PodProjection, *model.MemberProjection, error) {
	pod, err := a.pod(podID)
	if err != nil {
		return nil, nil, err
	}
	member, ok := pod.Members[user]
	if !ok {
		return nil, nil, fmt.Errorf("%w: member %s of pod %s", ErrEntityNotMaterialized, user, podID)
	}
	if member.ExitedAt != nil {
		return nil, nil, fmt.Errorf("%w: member %s already exited pod %s", ErrEventConflict, user, podID)
	}
	return pod, member, nil
}

func (a *Aggregator) exitMember(pod *model.PodProjection, member *model.MemberProjection, evt model.Event, kind model.ExitKind) {
	at := evt.OccurredAt
	member.ExitedAt = &at
	member.ExitKind = kind
	pod.ActiveMembers--
	a.uncountIfDrained(pod)
}

// uncountIfDrained drops a pod from the active count once no member holds funds
func (a *Aggregator) uncountIfDrained(pod *model.PodProjection) {
	if pod.CountedActive && pod.ActiveMembers == 0 {
		pod.CountedActive = false
		a.state.Totals.TotalActivePods--
	}
}

func snapshot(pod *model.PodProjection, reason model.PenaltySnapshotReason, evt model.Event) model.PenaltyPoolSnapshot {
	return model.PenaltyPoolSnapshot{
		ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(evt.Key)).String(),
		PodID:     pod.ID,
		Value:     pod.PenaltyPool,
		Reason:    reason,
		Timestamp: evt.OccurredAt,
	}
}
