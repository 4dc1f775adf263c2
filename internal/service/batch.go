package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgo/somi/api/internal/model"
)

// DefaultBatchDelay spaces out sequential claims so each settles before
// the next is submitted.
const DefaultBatchDelay = 2 * time.Second

// MaxBatchItems bounds a single batch request
const MaxBatchItems = 50

// BatchItemKind tells which claim a batch item targets
type BatchItemKind string

const (
	BatchItemPosition BatchItemKind = "position"
	BatchItemPod      BatchItemKind = "pod"
)

// BatchItem is one claim request inside a batch
type BatchItem struct {
	Kind  BatchItemKind `json:"kind"`
	RefID string        `json:"ref_id"`
}

// BatchOutcome reports the result of one batch item. Exactly one of
// Position, Pod, or Error is set.
type BatchOutcome struct {
	Item     BatchItem            `json:"item"`
	Success  bool                 `json:"success"`
	Position *model.PositionClaim `json:"position,omitempty"`
	Pod      *model.PodClaim      `json:"pod,omitempty"`
	Error    string               `json:"error,omitempty"`
	Err      error                `json:"-"`
}

// PositionClaimer settles solo positions
type PositionClaimer interface {
	ClaimPosition(ctx context.Context, caller, positionID string) (*model.PositionClaim, error)
}

// PodClaimer settles pod memberships
type PodClaimer interface {
	ClaimPodShare(ctx context.Context, podID, user string) (*model.PodClaim, error)
}

// BatchClaimer runs several independent claims in order. A failed item
// does not roll back earlier ones and does not stop later ones.
type BatchClaimer struct {
	positions PositionClaimer
	pods      PodClaimer
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

// BatchClaimerConfig holds configuration for the batch claimer
type BatchClaimerConfig struct {
	Positions PositionClaimer
	Pods      PodClaimer
	// Optional, defaults to DefaultBatchDelay
	Delay *time.Duration
	// Optional, replaces the context-aware sleep between items
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// NewBatchClaimer creates a new batch claimer
func NewBatchClaimer(cfg BatchClaimerConfig) *BatchClaimer {
	delay := DefaultBatchDelay
	if cfg.Delay != nil {
		delay = *cfg.Delay
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchClaimer{
		positions: cfg.Positions,
		pods:      cfg.Pods,
		delay:     delay,
		sleep:     sleep,
		logger:    logger,
	}
}

// ClaimAll settles items sequentially, pausing between them. Cancelling
// ctx stops before the next item; the items not attempted are reported as
// failed with the context error.
func (b *BatchClaimer) ClaimAll(ctx context.Context, caller string, items []BatchItem) ([]BatchOutcome, error) {
	ctx, span := tracer.Start(ctx, "BatchClaimer.ClaimAll")
	defer span.End()

	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(items) > MaxBatchItems {
		return nil, ErrBatchTooLarge
	}

	outcomes := make([]BatchOutcome, 0, len(items))
	for i, item := range items {
		if i > 0 && b.delay > 0 {
			if err := b.sleep(ctx, b.delay); err != nil {
				for _, rest := range items[i:] {
					outcomes = append(outcomes, failedOutcome(rest, err))
				}
				break
			}
		}
		outcomes = append(outcomes, b.claimOne(ctx, caller, item))
	}

	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		}
	}
	b.logger.Info("batch claim finished",
		slog.String("caller", caller),
		slog.Int("items", len(items)),
		slog.Int("succeeded", succeeded),
	)
	return outcomes, nil
}

func (b *BatchClaimer) claimOne(ctx context.Context, caller string, item BatchItem) BatchOutcome {
	if item.RefID == "" {
		return failedOutcome(item, ErrInvalidBatchItem)
	}
	switch item.Kind {
	case BatchItemPosition:
		res, err := b.positions.ClaimPosition(ctx, caller, item.RefID)
		if err != nil {
			return failedOutcome(item, err)
		}
		return BatchOutcome{Item: item, Success: true, Position: res}
	case BatchItemPod:
		res, err := b.pods.ClaimPodShare(ctx, item.RefID, caller)
		if err != nil {
			return failedOutcome(item, err)
		}
		return BatchOutcome{Item: item, Success: true, Pod: res}
	}
	return failedOutcome(item, ErrInvalidBatchItem)
}

func failedOutcome(item BatchItem, err error) BatchOutcome {
	return BatchOutcome{Item: item, Error: err.Error(), Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
