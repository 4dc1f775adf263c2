package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/forgo/somi/api/internal/database"
	"github.com/forgo/somi/api/internal/model"
)

// ============================================================================
// In-memory repositories
// ============================================================================

type memPositionRepo struct {
	mu        sync.Mutex
	positions map[string]model.Position
	outbox    *memOutbox
	updateErr error
}

func newMemPositionRepo(outbox *memOutbox) *memPositionRepo {
	return &memPositionRepo{positions: make(map[string]model.Position), outbox: outbox}
}

func (r *memPositionRepo) CreatePosition(ctx context.Context, p *model.Position, out *model.Outbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.positions[p.ID]; ok {
		return database.ErrDuplicate
	}
	if err := r.outbox.stage(out); err != nil {
		return err
	}
	p.Version = 1
	r.positions[p.ID] = *p
	return nil
}

func (r *memPositionRepo) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memPositionRepo) UpdatePosition(ctx context.Context, p *model.Position, out *model.Outbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	stored, ok := r.positions[p.ID]
	if !ok || stored.Version != p.Version {
		return database.ErrStaleVersion
	}
	if err := r.outbox.stage(out); err != nil {
		return err
	}
	p.Version++
	r.positions[p.ID] = *p
	return nil
}

func (r *memPositionRepo) ListPositionsByOwner(ctx context.Context, owner string, offset, limit int) ([]*model.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Position, 0)
	for _, p := range r.positions {
		if p.Owner == owner {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if offset >= len(out) {
		return []*model.Position{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memPodRepo struct {
	mu      sync.Mutex
	pods    map[string]model.Pod
	members map[string]map[string]model.Membership // pod id -> user -> membership
	outbox  *memOutbox
	saveErr error
	saves   int
}

func newMemPodRepo(outbox *memOutbox) *memPodRepo {
	return &memPodRepo{
		pods:    make(map[string]model.Pod),
		members: make(map[string]map[string]model.Membership),
		outbox:  outbox,
	}
}

func (r *memPodRepo) CreatePod(ctx context.Context, pod *model.Pod, creator *model.Membership, out *model.Outbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pods[pod.ID]; ok {
		return database.ErrDuplicate
	}
	if err := r.outbox.stage(out); err != nil {
		return err
	}
	pod.Version = 1
	creator.Version = 1
	r.pods[pod.ID] = *pod
	r.members[pod.ID] = map[string]model.Membership{creator.User: *creator}
	return nil
}

func (r *memPodRepo) GetPod(ctx context.Context, id string) (*model.Pod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pods[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memPodRepo) GetMembership(ctx context.Context, podID, user string) (*model.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[podID][user]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *memPodRepo) ListMemberships(ctx context.Context, podID string) ([]*model.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Membership, 0, len(r.members[podID]))
	for _, m := range r.members[podID] {
		cp := m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *memPodRepo) SavePodState(ctx context.Context, pod *model.Pod, out *model.Outbox, memberships ...*model.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	stored, ok := r.pods[pod.ID]
	if !ok || stored.Version != pod.Version {
		return database.ErrStaleVersion
	}
	if err := r.outbox.stage(out); err != nil {
		return err
	}
	pod.Version++
	r.pods[pod.ID] = *pod
	for _, m := range memberships {
		m.Version++
		r.members[pod.ID][m.User] = *m
	}
	r.saves++
	return nil
}

func (r *memPodRepo) ListPublicPods(ctx context.Context, limit int) ([]*model.Pod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Pod, 0)
	for _, p := range r.pods {
		if p.Visibility == model.VisibilityPublic {
			cp := p
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPodRepo) ListPodsByMember(ctx context.Context, user string) ([]*model.Pod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Pod, 0)
	for podID, members := range r.members {
		if _, ok := members[user]; ok {
			cp := r.pods[podID]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memOutbox stands in for the outbox and claim tables written in the same
// transaction as an entity. A stage error fails the whole write.
type memOutbox struct {
	mu     sync.Mutex
	claims []*model.ClaimRecord
	staged []model.Event
	err    error
}

func (r *memOutbox) stage(out *model.Outbox) error {
	if r == nil || out == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if out.Claim != nil {
		r.claims = append(r.claims, out.Claim)
	}
	r.staged = append(r.staged, out.Events...)
	return nil
}

func (r *memOutbox) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// pending returns the staged events with journal-style sequence numbers
func (r *memOutbox) pending() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.staged))
	for i, e := range r.staged {
		e.Seq = uint64(i + 1)
		out[i] = e
	}
	return out
}

func (r *memOutbox) claimCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claims)
}

func (r *memOutbox) ListClaimsByUser(ctx context.Context, user string, limit int) ([]*model.ClaimRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.ClaimRecord, 0)
	for _, c := range r.claims {
		if c.User == user {
			out = append(out, c)
		}
	}
	return out, nil
}

// ============================================================================
// Clock and event recorder
// ============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{now: at}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (r *eventRecorder) Append(ctx context.Context, events ...model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

func (r *eventRecorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// sequenced returns the recorded events with journal-style sequence numbers
func (r *eventRecorder) sequenced() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	for i, e := range r.events {
		e.Seq = uint64(i + 1)
		out[i] = e
	}
	return out
}

var testEpoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
