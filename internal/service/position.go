package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/forgo/somi/api/internal/database"
	"github.com/forgo/somi/api/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Pagination bounds for position listings
const (
	DefaultPositionPageSize = 20
	MaxPositionPageSize     = 100
)

// PositionRepository defines the interface for position storage. Writes
// store the outbox in the same transaction as the position.
type PositionRepository interface {
	CreatePosition(ctx context.Context, position *model.Position, out *model.Outbox) error
	GetPosition(ctx context.Context, positionID string) (*model.Position, error)
	// UpdatePosition persists the position if its stored version still
	// equals position.Version, then increments the version.
	UpdatePosition(ctx context.Context, position *model.Position, out *model.Outbox) error
	ListPositionsByOwner(ctx context.Context, owner string, offset, limit int) ([]*model.Position, error)
}

// ClaimRepository reads the claim records written with settlements
type ClaimRepository interface {
	ListClaimsByUser(ctx context.Context, user string, limit int) ([]*model.ClaimRecord, error)
}

// PositionService handles solo position business logic
type PositionService struct {
	repo   PositionRepository
	claims ClaimRepository
	events EventSink
	clock  Clock
	calc   *Calculator
	locks  *KeyedMutex
	logger *slog.Logger
}

// PositionServiceConfig holds configuration for the position service
type PositionServiceConfig struct {
	PositionRepo PositionRepository
	ClaimRepo    ClaimRepository
	Events       EventSink    // Optional, events are dropped if nil
	Clock        Clock        // Optional, defaults to SystemClock
	Calculator   *Calculator  // Optional, defaults to DefaultCalculator
	Locks        *KeyedMutex  // Optional, shared with other services when set
	Logger       *slog.Logger // Optional
}

// NewPositionService creates a new position service
func NewPositionService(cfg PositionServiceConfig) *PositionService {
	locks := cfg.Locks
	if locks == nil {
		locks = NewKeyedMutex()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PositionService{
		repo:   cfg.PositionRepo,
		claims: cfg.ClaimRepo,
		events: cfg.Events,
		clock:  clockOrDefault(cfg.Clock),
		calc:   calculatorOrDefault(cfg.Calculator),
		locks:  locks,
		logger: logger,
	}
}

// Deposit opens a solo position with the solo rate of the chosen plan
func (s *PositionService) Deposit(ctx context.Context, owner string, req *model.DepositRequest) (*model.Position, error) {
	ctx, span := tracer.Start(ctx, "PositionService.Deposit")
	defer span.End()

	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	rate, err := req.Plan.Rate(model.AudienceSolo)
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
	position := &model.Position{
		ID:         uuid.New().String(),
		Owner:      owner,
		PlanKind:   req.Plan,
		CustomDays: customDays,
		Principal:  req.Amount,
		StartTime:  now,
		Term:       req.Plan.TermSeconds(),
		AprBps:     rate,
		ReceiptID:  uuid.New().String(),
	}

	op := newOperation(now)
	op.emit(model.EventDeposited, model.DepositedPayload{
		PositionID: position.ID,
		User:       owner,
		Plan:       position.PlanKind,
		Amount:     position.Principal,
		StartTime:  position.StartTime,
		Term:       position.Term,
		AprBps:     position.AprBps,
		ReceiptID:  position.ReceiptID,
	})
	out, err := op.outbox(nil)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreatePosition(ctx, position, out); err != nil {
		return nil, err
	}
	s.publish(ctx, op)

	span.SetAttributes(attribute.String("position.id", position.ID))
	s.logger.Info("position opened",
		slog.String("position_id", position.ID),
		slog.String("owner", owner),
		slog.String("plan", position.PlanKind.String()),
		slog.String("principal", position.Principal.String()),
	)
	return position, nil
}

// ClaimPosition settles a position. A matured or flexible position pays
// principal plus claimable interest. A fixed-term position claimed before
// maturity takes the forfeit path and pays principal only.
func (s *PositionService) ClaimPosition(ctx context.Context, caller, positionID string) (*model.PositionClaim, error) {
	ctx, span := tracer.Start(ctx, "PositionService.ClaimPosition", trace.WithAttributes(attribute.String("position.id", positionID)))
	defer span.End()

	unlock := s.locks.Lock(positionKey(positionID))
	defer unlock()

	position, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrPositionNotFound
	}
	if position.Owner != caller {
		return nil, ErrNotPositionOwner
	}
	if position.Closed {
		return nil, ErrPositionClosed
	}

	now := s.clock.Now()
	result := &model.PositionClaim{
		PositionID: position.ID,
		Principal:  position.Principal,
		Interest:   decimal.Zero,
		Forfeited:  decimal.Zero,
		ClaimedAt:  now,
	}

	if position.IsMatured(now) {
		result.Interest, err = s.calc.Claimable(position.Principal, position.AprBps, position.StartTime, position.Term, now)
		if err != nil {
			return nil, err
		}
	} else {
		result.Early = true
		result.Forfeited, err = s.calc.Preview(position.Principal, position.AprBps, position.StartTime, now)
		if err != nil {
			return nil, err
		}
	}

	claim := &model.ClaimRecord{
		ID:        uuid.New().String(),
		User:      position.Owner,
		Kind:      model.ClaimKindSolo,
		RefID:     position.ID,
		Principal: result.Principal,
		Interest:  result.Interest,
		Timestamp: now,
	}
	op := newOperation(now)
	op.emit(model.EventClaimed, model.ClaimedPayload{
		User:      claim.User,
		Kind:      claim.Kind,
		RefID:     claim.RefID,
		Principal: claim.Principal,
		Interest:  claim.Interest,
	})
	out, err := op.outbox(claim)
	if err != nil {
		return nil, err
	}

	position.Closed = true
	position.ClosedAt = &now
	if err := s.repo.UpdatePosition(ctx, position, out); err != nil {
		if errors.Is(err, database.ErrStaleVersion) {
			return nil, ErrConcurrentModification
		}
		return nil, err
	}
	s.publish(ctx, op)

	s.logger.Info("position claimed",
		slog.String("position_id", position.ID),
		slog.Bool("early", result.Early),
		slog.String("interest", result.Interest.String()),
		slog.String("forfeited", result.Forfeited.String()),
	)
	return result, nil
}

// PreviewInterest projects the interest of a position at asOf. Closed
// positions preview zero.
func (s *PositionService) PreviewInterest(ctx context.Context, positionID string, asOf time.Time) (decimal.Decimal, error) {
	position, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return decimal.Zero, err
	}
	if position == nil {
		return decimal.Zero, ErrPositionNotFound
	}
	if position.Closed {
		return decimal.Zero, nil
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	return s.calc.Preview(position.Principal, position.AprBps, position.StartTime, asOf)
}

// GetPosition returns a position with its derived status
func (s *PositionService) GetPosition(ctx context.Context, positionID string) (*model.PositionView, error) {
	position, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrPositionNotFound
	}
	return s.view(position, s.clock.Now()), nil
}

// ListUserPositions pages through an owner's positions, newest first
func (s *PositionService) ListUserPositions(ctx context.Context, owner string, offset, limit int) ([]*model.PositionView, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPositionPageSize
	}
	if limit > MaxPositionPageSize {
		limit = MaxPositionPageSize
	}

	positions, err := s.repo.ListPositionsByOwner(ctx, owner, offset, limit)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	views := make([]*model.PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, s.view(p, now))
	}
	return views, nil
}

// ListUserClaims returns the claim records of a user
func (s *PositionService) ListUserClaims(ctx context.Context, user string, limit int) ([]*model.ClaimRecord, error) {
	if user == "" {
		return nil, ErrOwnerRequired
	}
	if limit <= 0 || limit > MaxPositionPageSize {
		limit = MaxPositionPageSize
	}
	return s.claims.ListClaimsByUser(ctx, user, limit)
}

// Simulate previews the return of a plan without opening a position
func (s *PositionService) Simulate(audience model.Audience, kind model.PlanKind, customDays int, principal decimal.Decimal) (*model.Simulation, error) {
	return s.calc.Simulate(audience, kind, customDays, principal)
}

func (s *PositionService) view(p *model.Position, now time.Time) *model.PositionView {
	v := &model.PositionView{
		Position:     p,
		Status:       p.StatusAt(now),
		Tier:         p.TierAt(now),
		MaturityTime: p.MaturityTime(),
		Accrued:      decimal.Zero,
	}
	if !p.Closed {
		if accrued, err := s.calc.Preview(p.Principal, p.AprBps, p.StartTime, now); err == nil {
			v.Accrued = accrued
		}
	}
	return v
}

// publish forwards stored events to the sink. A failure is not the
// caller's: the events are already in the outbox and the relay delivers
// them.
func (s *PositionService) publish(ctx context.Context, op *operation) {
	if err := op.publish(ctx, s.events); err != nil {
		s.logger.Warn("position events left for outbox relay",
			slog.String("operation_id", op.id),
			slog.String("error", err.Error()),
		)
	}
}

func positionKey(id string) string {
	return "position:" + id
}
