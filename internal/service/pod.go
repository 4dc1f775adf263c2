package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgo/somi/api/internal/database"
	"github.com/forgo/somi/api/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPublicPodLimit caps public pod listings
const DefaultPublicPodLimit = 50

// PodRepository defines the interface for pod storage. Writes store the
// outbox in the same transaction as the pod.
type PodRepository interface {
	CreatePod(ctx context.Context, pod *model.Pod, creator *model.Membership, out *model.Outbox) error
	GetPod(ctx context.Context, podID string) (*model.Pod, error)
	GetMembership(ctx context.Context, podID, user string) (*model.Membership, error)
	ListMemberships(ctx context.Context, podID string) ([]*model.Membership, error)
	// SavePodState writes the pod, the outbox and the given memberships in
	// one transaction. The write fails with database.ErrStaleVersion when
	// the stored pod version no longer equals pod.Version.
	SavePodState(ctx context.Context, pod *model.Pod, out *model.Outbox, memberships ...*model.Membership) error
	ListPublicPods(ctx context.Context, limit int) ([]*model.Pod, error)
	ListPodsByMember(ctx context.Context, user string) ([]*model.Pod, error)
}

// ActivationMode selects when a filling pod starts accruing
type ActivationMode string

const (
	// ActivateOnThreshold starts the pod once Threshold members joined, or
	// at close-for-joining when that comes first.
	ActivateOnThreshold ActivationMode = "threshold"
	// ActivateOnClose starts the pod only when the creator closes joining
	// or the fifth member fills it.
	ActivateOnClose ActivationMode = "on_close"
)

// ActivationPolicy decides when pods activate
type ActivationPolicy struct {
	Mode      ActivationMode
	Threshold int
}

// DefaultActivationPolicy activates at the minimum member count
func DefaultActivationPolicy() ActivationPolicy {
	return ActivationPolicy{Mode: ActivateOnThreshold, Threshold: model.MinPodActivationMembers}
}

// Validate checks the policy parameters
func (p ActivationPolicy) Validate() error {
	switch p.Mode {
	case ActivateOnThreshold:
		if p.Threshold < model.MinPodActivationMembers || p.Threshold > model.MaxPodMembers {
			return ErrInvalidActivationRules
		}
	case ActivateOnClose:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidActivationRules, p.Mode)
	}
	return nil
}

// PodService handles pod business logic
type PodService struct {
	repo       PodRepository
	events     EventSink
	clock      Clock
	calc       *Calculator
	locks      *KeyedMutex
	activation ActivationPolicy
	logger     *slog.Logger
}

// PodServiceConfig holds configuration for the pod service
type PodServiceConfig struct {
	PodRepo    PodRepository
	Events     EventSink         // Optional, the outbox relay still delivers when nil
	Clock      Clock             // Optional, defaults to SystemClock
	Calculator *Calculator       // Optional, defaults to DefaultCalculator
	Locks      *KeyedMutex       // Optional
	Activation *ActivationPolicy // Optional, uses defaults if nil
	Logger     *slog.Logger      // Optional
}

// NewPodService creates a new pod service
func NewPodService(cfg PodServiceConfig) (*PodService, error) {
	activation := DefaultActivationPolicy()
	if cfg.Activation != nil {
		activation = *cfg.Activation
	}
	if err := activation.Validate(); err != nil {
		return nil, err
	}
	locks := cfg.Locks
	if locks == nil {
		locks = NewKeyedMutex()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PodService{
		repo:       cfg.PodRepo,
		events:     cfg.Events,
		clock:      clockOrDefault(cfg.Clock),
		calc:       calculatorOrDefault(cfg.Calculator),
		locks:      locks,
		activation: activation,
		logger:     logger,
	}, nil
}

// CreatePod creates a pod in Filling state. The creator joins with the
// contribution amount in the same step.
func (s *PodService) CreatePod(ctx context.Context, creator string, req *model.CreatePodRequest) (*model.Pod, error) {
	ctx, span := tracer.Start(ctx, "PodService.CreatePod")
	defer span.End()

	if creator == "" {
		return nil, ErrOwnerRequired
	}
	if err := validatePodMetadata(req.Name, req.Description, req.Visibility); err != nil {
		return nil, err
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = model.VisibilityPublic
	}
	if !req.ContributionAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	rate, err := req.Plan.Rate(model.AudiencePod)
	if err != nil {
		return nil, ErrInvalidPlan
	}
	customDays := 0
	if req.Plan == model.PlanCustomDays {
		if err := model.ValidateCustomDays(req.CustomDays); err != nil {
			return nil, ErrInvalidCustomDays
		}
		customDays = req.CustomDays
	}

	now := s.clock.Now()
	pod := &model.Pod{
		ID:                 uuid.New().String(),
		Creator:            creator,
		Name:               req.Name,
		Description:        req.Description,
		Visibility:         visibility,
		PlanKind:           req.Plan,
		CustomDays:         customDays,
		ContributionAmount: req.ContributionAmount,
		AprBps:             rate,
		Term:               req.Plan.TermSeconds(),
		MembersJoined:      1,
		ActiveMembers:      1,
		TotalDeposited:     req.ContributionAmount,
		PenaltyPool:        decimal.Zero,
		CreatedAt:          now,
	}
	member := &model.Membership{
		ID:        uuid.New().String(),
		PodID:     pod.ID,
		User:      creator,
		Deposit:   req.ContributionAmount,
		JoinedAt:  now,
		ReceiptID: uuid.New().String(),
	}

	if err := s.checkInvariants(pod); err != nil {
		return nil, err
	}

	op := newOperation(now)
	op.emit(model.EventPodCreated, model.PodCreatedPayload{
		PodID:              pod.ID,
		Creator:            creator,
		Plan:               pod.PlanKind,
		ContributionAmount: pod.ContributionAmount,
		Visibility:         pod.Visibility,
		Term:               pod.Term,
	})
	op.emit(model.EventPodJoined, model.PodJoinedPayload{
		PodID:     pod.ID,
		User:      creator,
		Amount:    member.Deposit,
		ReceiptID: member.ReceiptID,
	})
	out, err := op.outbox(nil)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreatePod(ctx, pod, member, out); err != nil {
		return nil, err
	}
	s.publish(ctx, op)

	span.SetAttributes(attribute.String("pod.id", pod.ID))
	s.logger.Info("pod created",
		slog.String("pod_id", pod.ID),
		slog.String("creator", creator),
		slog.String("plan", pod.PlanKind.String()),
		slog.String("contribution", pod.ContributionAmount.String()),
	)
	return pod, nil
}

// JoinPod adds a member who deposits exactly the contribution amount
func (s *PodService) JoinPod(ctx context.Context, podID, user string, amount decimal.Decimal) (*model.Membership, error) {
	ctx, span := tracer.Start(ctx, "PodService.JoinPod", trace.WithAttributes(attribute.String("pod.id", podID)))
	defer span.End()

	if user == "" {
		return nil, ErrOwnerRequired
	}

	unlock := s.locks.Lock(podKey(podID))
	defer unlock()

	pod, err := s.loadPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	switch {
	case pod.Cancelled:
		return nil, ErrPodCancelled
	case pod.MembersJoined >= model.MaxPodMembers:
		return nil, ErrPodFull
	case pod.ClosedForJoining, pod.IsMatured(now):
		return nil, ErrPodClosedForJoining
	}

	existing, err := s.repo.GetMembership(ctx, podID, user)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyPodMember
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !amount.Equal(pod.ContributionAmount) {
		return nil, ErrContributionMismatch
	}

	member := &model.Membership{
		ID:        uuid.New().String(),
		PodID:     pod.ID,
		User:      user,
		Deposit:   amount,
		JoinedAt:  now,
		ReceiptID: uuid.New().String(),
	}
	pod.MembersJoined++
	pod.ActiveMembers++
	pod.TotalDeposited = pod.TotalDeposited.Add(amount)
	if pod.MembersJoined == model.MaxPodMembers {
		pod.ClosedForJoining = true
	}
	activated := s.maybeActivate(pod, now)

	op := newOperation(now)
	op.emit(model.EventPodJoined, model.PodJoinedPayload{
		PodID:     pod.ID,
		User:      user,
		Amount:    amount,
		ReceiptID: member.ReceiptID,
	})
	if pod.MembersJoined == model.MaxPodMembers {
		op.emit(model.EventPodClosedForJoining, model.PodClosedForJoiningPayload{PodID: pod.ID})
	}
	if activated {
		op.emit(model.EventPodActivated, activatedPayload(pod))
	}
	if err := s.save(ctx, pod, op, member); err != nil {
		return nil, err
	}
	s.publish(ctx, op)

	s.logger.Info("pod joined",
		slog.String("pod_id", pod.ID),
		slog.String("user", user),
		slog.Int("members_joined", pod.MembersJoined),
		slog.Bool("activated", activated),
	)
	return member, nil
}

// CloseForJoining stops new joins. Only the creator may close, and only
// once the pod has the minimum member count.
func (s *PodService) CloseForJoining(ctx context.Context, podID, actor string) (*model.Pod, error) {
	ctx, span := tracer.Start(ctx, "PodService.CloseForJoining", trace.WithAttributes(attribute.String("pod.id", podID)))
	defer span.End()

	unlock := s.locks.Lock(podKey(podID))
	defer unlock()

	pod, err := s.loadPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	switch {
	case pod.Creator != actor:
		return nil, ErrNotPodCreator
	case pod.Cancelled:
		return nil, ErrPodCancelled
	case pod.ClosedForJoining:
		return nil, ErrPodClosedForJoining
	case pod.MembersJoined < model.MinPodActivationMembers:
		return nil, ErrNotEnoughMembers
	}

	now := s.clock.Now()
	pod.ClosedForJoining = true
	activated := s.maybeActivate(pod, now)

	op := newOperation(now)
	op.emit(model.EventPodClosedForJoining, model.PodClosedForJoiningPayload{PodID: pod.ID})
	if activated {
		op.emit(model.EventPodActivated, activatedPayload(pod))
	}
	if err := s.save(ctx, pod, op); err != nil {
		return nil, err
	}
	s.publish(ctx, op)

	s.logger.Info("pod closed for joining", slog.String("pod_id", pod.ID), slog.Bool("activated", activated))
	return pod, nil
}

// CancelPod cancels a pod that has not activated and refunds every member
// their principal. No interest accrues before activation.
func (s *PodService) CancelPod(ctx context.Context, podID, actor string) ([]model.Refund, error) {
	ctx, span := tracer.Start(ctx, "PodService.CancelPod", trace.WithAttributes(attribute.String("pod.id", podID)))
	defer span.End()

	unlock := s.locks.Lock(podKey(podID))
	defer unlock()

	pod, err := s.loadPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	switch {
	case pod.Creator != actor:
		return nil, ErrNotPodCreator
	case pod.Cancelled:
		return nil, ErrPodCancelled
	case pod.Activated:
		return nil, ErrPodAlreadyActive
	}

	members, err := s.repo.ListMemberships(ctx, podID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	refunds := make([]model.Refund, 0, len(members))
	changed := make([]*model.Membership, 0, len(members))
	for _, m := range members {
		if !m.Active() {
			continue
		}
		m.ExitedAt = &now
		m.ExitKind = model.ExitKindRefunded
		changed = append(changed, m)
		refunds = append(refunds, model.Refund{User: m.User, Principal: m.Deposit})
	}
	pod.Cancelled = true
	pod.ActiveMembers = 0

	op := newOperation(now)
	op.emit(model.EventPodCancelled, model.PodCancelledPayload{PodID: pod.ID})
	for _, r := range refunds {
		op.emit(model.EventRefunded, model.RefundedPayload{PodID: pod.ID, User: r.User, Principal: r.Principal})
	}
	if err := s.save(ctx, pod, op, changed...); err != nil {
		return nil, err
	}
	s.publish(ctx, op)

	s.logger.Info("pod cancelled", slog.String("pod_id", pod.ID), slog.Int("refunds", len(refunds)))
	return refunds, nil
}

// LeavePod exits an active pod. On a fixed-term pod before maturity the
// member gets the deposit back and the accrued interest moves into the
// penalty pool. On a flexible pod leaving settles like a claim.
func (s *PodService) LeavePod(ctx context.Context, podID, user string) (*model.LeaveResult, error) {
	ctx, span := tracer.Start(ctx, "PodService.LeavePod", trace.WithAttributes(attribute.String("pod.id", podID)))
	defer span.End()

	unlock := s.locks.Lock(podKey(podID))
	defer unlock()

	pod, member, err := s.loadActiveMembership(ctx, podID, user)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if pod.IsFixedTerm() && pod.IsMatured(now) {
		return nil, ErrPodMatured
	}

	if !pod.IsFixedTerm() {
		claim, err := s.settleClaim(ctx, pod, member, now)
		if err != nil {
			return nil, err
		}
		return &model.LeaveResult{
			PodID:            pod.ID,
			Refund:           claim.Principal,
			Interest:         claim.Interest,
			PenaltyForfeited: decimal.Zero,
			ExitedAt:         now,
		}, nil
	}

	penalty, err := s.calc.EarlyExitPenalty(pod, member, now)
	if err != nil {
		return nil, err
	}
	member.ExitedAt = &now
	member.ExitKind = model.ExitKindEarly
	pod.ActiveMembers--
	pod.PenaltyPool = pod.PenaltyPool.Add(penalty)

	op := newOperation(now)
	op.emit(model.EventEarlyExit, model.EarlyExitPayload{
		PodID:   pod.ID,
		User:    user,
		Refund:  member.Deposit,
		Penalty: penalty,
	})
	if err := s.save(ctx, pod, op, member); err != nil {
		return nil, err
	}
	s.publish(ctx, op)

	s.logger.Info("pod early exit",
		slog.String("pod_id", pod.ID),
		slog.String("user", user),
		slog.String("penalty", penalty.String()),
		slog.String("penalty_pool", pod.PenaltyPool.String()),
	)
	return &model.LeaveResult{
		PodID:            pod.ID,
		Refund:           member.Deposit,
		Interest:         decimal.Zero,
		PenaltyForfeited: penalty,
		ExitedAt:         now,
	}, nil
}

// ClaimPodShare pays a member their deposit, interest, and pro-rata share
// of the penalty pool. Fixed-term pods only pay out from maturity on.
func (s *PodService) ClaimPodShare(ctx context.Context, podID, user string) (*model.PodClaim, error) {
	ctx, span := tracer.Start(ctx, "PodService.ClaimPodShare", trace.WithAttributes(attribute.String("pod.id", podID)))
	defer span.End()

	unlock := s.locks.Lock(podKey(podID))
	defer unlock()

	pod, member, err := s.loadActiveMembership(ctx, podID, user)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if pod.IsFixedTerm() && !pod.IsMatured(now) {
		return nil, ErrPodNotMatured
	}
	return s.settleClaim(ctx, pod, member, now)
}

// settleClaim closes a membership with interest and penalty share. The
// caller holds the pod lock.
func (s *PodService) settleClaim(ctx context.Context, pod *model.Pod, member *model.Membership, now time.Time) (*model.PodClaim, error) {
	interest, err := s.memberInterest(pod, member, now)
	if err != nil {
		return nil, err
	}

	share := decimal.Zero
	if pod.PenaltyPool.IsPositive() {
		members, err := s.repo.ListMemberships(ctx, pod.ID)
		if err != nil {
			return nil, err
		}
		share = s.calc.PenaltyShare(pod.PenaltyPool, member.Deposit, activeContribution(members))
	}

	member.ExitedAt = &now
	member.ExitKind = model.ExitKindClaimed
	pod.ActiveMembers--
	pod.PenaltyPool = pod.PenaltyPool.Sub(share)

	claim := &model.ClaimRecord{
		ID:           uuid.New().String(),
		User:         member.User,
		Kind:         model.ClaimKindPod,
		RefID:        pod.ID,
		Principal:    member.Deposit,
		Interest:     interest,
		PenaltyShare: &share,
		Timestamp:    now,
	}
	op := newOperation(now)
	op.emit(model.EventClaimed, model.ClaimedPayload{
		User:         claim.User,
		Kind:         claim.Kind,
		RefID:        claim.RefID,
		Principal:    claim.Principal,
		Interest:     claim.Interest,
		PenaltyShare: claim.PenaltyShare,
	})
	op.claim = claim
	if err := s.save(ctx, pod, op, member); err != nil {
		return nil, err
	}
	s.publish(ctx, op)

	s.logger.Info("pod share claimed",
		slog.String("pod_id", pod.ID),
		slog.String("user", member.User),
		slog.String("interest", interest.String()),
		slog.String("penalty_share", share.String()),
	)
	return &model.PodClaim{
		PodID:        pod.ID,
		Principal:    member.Deposit,
		Interest:     interest,
		PenaltyShare: share,
		ClaimedAt:    now,
	}, nil
}

// UpdatePod changes name, description, or visibility. Creator only.
func (s *PodService) UpdatePod(ctx context.Context, podID, actor string, req *model.UpdatePodRequest) (*model.Pod, error) {
	unlock := s.locks.Lock(podKey(podID))
	defer unlock()

	pod, err := s.loadPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	if pod.Creator != actor {
		return nil, ErrNotPodCreator
	}
	if pod.Cancelled {
		return nil, ErrPodCancelled
	}

	name, desc, visibility := pod.Name, pod.Description, pod.Visibility
	if req.Name != nil {
		name = *req.Name
	}
	if req.Description != nil {
		desc = *req.Description
	}
	if req.Visibility != nil {
		visibility = *req.Visibility
	}
	if err := validatePodMetadata(name, desc, visibility); err != nil {
		return nil, err
	}

	pod.Name, pod.Description, pod.Visibility = name, desc, visibility
	if err := s.save(ctx, pod, nil); err != nil {
		return nil, err
	}
	return pod, nil
}

// GetPod returns a pod with its derived status
func (s *PodService) GetPod(ctx context.Context, podID string) (*model.PodView, error) {
	pod, err := s.loadPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	return podView(pod, s.clock.Now()), nil
}

// GetMemberCount returns the membership counters of a pod
func (s *PodService) GetMemberCount(ctx context.Context, podID string) (*model.PodMemberCount, error) {
	pod, err := s.loadPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	return &model.PodMemberCount{
		PodID:         pod.ID,
		MembersJoined: pod.MembersJoined,
		ActiveMembers: pod.ActiveMembers,
		MaxMembers:    model.MaxPodMembers,
	}, nil
}

// IsJoinable reports whether the pod accepts new members
func (s *PodService) IsJoinable(ctx context.Context, podID string) (bool, error) {
	pod, err := s.loadPod(ctx, podID)
	if err != nil {
		return false, err
	}
	return pod.IsJoinable(), nil
}

// ListPublicPods returns public pods that still accept members
func (s *PodService) ListPublicPods(ctx context.Context, limit int) ([]*model.PodView, error) {
	if limit <= 0 || limit > DefaultPublicPodLimit {
		limit = DefaultPublicPodLimit
	}
	pods, err := s.repo.ListPublicPods(ctx, limit)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	views := make([]*model.PodView, 0, len(pods))
	for _, p := range pods {
		if p.Visibility == model.VisibilityPublic && p.IsJoinable() {
			views = append(views, podView(p, now))
		}
	}
	return views, nil
}

// ListUserPods returns the pods a user has joined
func (s *PodService) ListUserPods(ctx context.Context, user string) ([]*model.PodView, error) {
	pods, err := s.repo.ListPodsByMember(ctx, user)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	views := make([]*model.PodView, 0, len(pods))
	for _, p := range pods {
		views = append(views, podView(p, now))
	}
	return views, nil
}

// ListMembers returns the memberships of a pod
func (s *PodService) ListMembers(ctx context.Context, podID string) ([]*model.Membership, error) {
	if _, err := s.loadPod(ctx, podID); err != nil {
		return nil, err
	}
	return s.repo.ListMemberships(ctx, podID)
}

// PreviewMemberInterest projects a member's interest at asOf. Pods that
// have not activated preview zero.
func (s *PodService) PreviewMemberInterest(ctx context.Context, podID, user string, asOf time.Time) (decimal.Decimal, error) {
	pod, err := s.loadPod(ctx, podID)
	if err != nil {
		return decimal.Zero, err
	}
	member, err := s.repo.GetMembership(ctx, podID, user)
	if err != nil {
		return decimal.Zero, err
	}
	if member == nil {
		return decimal.Zero, ErrNotPodMember
	}
	if !pod.Activated || !member.Active() {
		return decimal.Zero, nil
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	start, _, _ := pod.AccrualWindow(member)
	if asOf.Before(start) {
		return decimal.Zero, nil
	}
	return s.calc.Preview(member.Deposit, pod.AprBps, start, asOf)
}

// memberInterest is what a membership can claim at now. Each member earns
// over their own accrual window, so a late joiner is paid only for the time
// their deposit was in the pod.
func (s *PodService) memberInterest(pod *model.Pod, member *model.Membership, now time.Time) (decimal.Decimal, error) {
	start, term, ok := pod.AccrualWindow(member)
	if !ok {
		return decimal.Zero, nil
	}
	if pod.IsFixedTerm() {
		if term == 0 {
			return decimal.Zero, nil
		}
		return s.calc.Claimable(member.Deposit, pod.AprBps, start, term, now)
	}
	return s.calc.Claimable(member.Deposit, pod.AprBps, start, 0, now)
}

// maybeActivate starts accrual when the policy allows it. The rate is
// snapshotted from the catalog at activation.
func (s *PodService) maybeActivate(pod *model.Pod, now time.Time) bool {
	if pod.Activated || pod.Cancelled || pod.MembersJoined < model.MinPodActivationMembers {
		return false
	}
	switch s.activation.Mode {
	case ActivateOnThreshold:
		if pod.MembersJoined < s.activation.Threshold && !pod.ClosedForJoining {
			return false
		}
	case ActivateOnClose:
		if !pod.ClosedForJoining {
			return false
		}
	}

	if rate, err := pod.PlanKind.Rate(model.AudiencePod); err == nil {
		pod.AprBps = rate
	}
	start := now
	pod.Activated = true
	pod.StartTime = &start
	if pod.Term > 0 {
		maturity := start.Add(time.Duration(pod.Term) * time.Second)
		pod.MaturityTime = &maturity
	}
	return true
}

func (s *PodService) loadPod(ctx context.Context, podID string) (*model.Pod, error) {
	pod, err := s.repo.GetPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	if pod == nil {
		return nil, ErrPodNotFound
	}
	return pod, nil
}

// loadActiveMembership loads an activated pod and the caller's open membership
func (s *PodService) loadActiveMembership(ctx context.Context, podID, user string) (*model.Pod, *model.Membership, error) {
	pod, err := s.loadPod(ctx, podID)
	if err != nil {
		return nil, nil, err
	}
	if pod.Cancelled {
		return nil, nil, ErrPodCancelled
	}
	if !pod.Activated {
		return nil, nil, ErrPodNotActive
	}
	member, err := s.repo.GetMembership(ctx, podID, user)
	if err != nil {
		return nil, nil, err
	}
	if member == nil {
		return nil, nil, ErrNotPodMember
	}
	if !member.Active() {
		return nil, nil, ErrMembershipClosed
	}
	return pod, member, nil
}

// save checks invariants and persists the pod with the changed memberships
// and the events of op. A nil op writes no outbox.
func (s *PodService) save(ctx context.Context, pod *model.Pod, op *operation, memberships ...*model.Membership) error {
	if err := s.checkInvariants(pod); err != nil {
		return err
	}
	var out *model.Outbox
	if op != nil {
		var err error
		if out, err = op.outbox(op.claim); err != nil {
			return err
		}
	}
	if err := s.repo.SavePodState(ctx, pod, out, memberships...); err != nil {
		if errors.Is(err, database.ErrStaleVersion) {
			return ErrConcurrentModification
		}
		return err
	}
	return nil
}

func (s *PodService) checkInvariants(pod *model.Pod) error {
	if err := pod.CheckInvariants(); err != nil {
		s.logger.Error("pod invariant violated",
			slog.String("pod_id", pod.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	return nil
}

// publish forwards stored events to the sink; on failure the outbox relay
// delivers them
func (s *PodService) publish(ctx context.Context, op *operation) {
	if err := op.publish(ctx, s.events); err != nil {
		s.logger.Warn("pod events left for outbox relay",
			slog.String("operation_id", op.id),
			slog.String("error", err.Error()),
		)
	}
}

func validatePodMetadata(name, desc string, visibility model.Visibility) error {
	if name == "" {
		return ErrPodNameRequired
	}
	if len(name) > model.MaxPodNameLength {
		return ErrPodNameTooLong
	}
	if len(desc) > model.MaxPodDescLength {
		return ErrPodDescTooLong
	}
	if visibility != "" && !visibility.Valid() {
		return ErrInvalidVisibility
	}
	return nil
}

func activatedPayload(pod *model.Pod) model.PodActivatedPayload {
	return model.PodActivatedPayload{
		PodID:        pod.ID,
		StartTime:    *pod.StartTime,
		MaturityTime: pod.MaturityTime,
		AprBps:       pod.AprBps,
	}
}

func podView(p *model.Pod, now time.Time) *model.PodView {
	return &model.PodView{Pod: p, Status: p.StatusAt(now), Joinable: p.IsJoinable()}
}

func podKey(id string) string {
	return "pod:" + id
}
