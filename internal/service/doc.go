// Package service implements the business logic of the savings engine.
//
// # Components
//
//   - Calculator: simple-interest accrual and penalty arithmetic
//   - PositionService: solo deposits, claims and interest previews
//   - PodService: the pod lifecycle from creation to the last claim
//   - BatchClaimer: settles many claims in one request, isolating failures
//   - Aggregator: folds journaled events into protocol totals
//   - EventHub: fans lifecycle events out to live SSE subscribers
//
// # Service Pattern
//
//   - Constructor function (NewXxxService) accepts a config struct
//   - Services declare the repository interfaces they need
//   - Every state transition runs under a per-entity lock from KeyedMutex
//     and stages its events in the same write as the state (see
//     model.Outbox), then publishes them to an EventSink
//   - Errors are sentinel values from errors.go, wrapped for context
//
// # Example Usage
//
//	positions := NewPositionService(PositionServiceConfig{
//	    PositionRepo: positionRepo,
//	    ClaimRepo:    claimRepo,
//	    Events:       TeeSink(journal, hub),
//	    Locks:        locks,
//	})
//	position, err := positions.Deposit(ctx, account, &model.DepositRequest{
//	    Plan:   model.PlanFixed1Y,
//	    Amount: decimal.NewFromInt(1000),
//	})
package service
