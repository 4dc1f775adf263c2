package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/forgo/somi/api/internal/journal"
	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
)

// MapServiceError converts a service error to a ProblemDetails response.
// This centralizes error handling logic for all handlers, ensuring consistent
// HTTP status codes and error messages across the API.
func MapServiceError(err error) *model.ProblemDetails {
	if err == nil {
		return nil
	}

	switch {
	// ===== Authorization Errors → 403 =====
	case errors.Is(err, service.ErrNotPositionOwner),
		errors.Is(err, service.ErrNotPodCreator),
		errors.Is(err, service.ErrNotPodMember):
		pd := model.NewForbiddenError(err.Error())
		pd.Code = model.ErrCodeNotOwner
		return pd

	// ===== Not Found Errors → 404 =====
	case errors.Is(err, service.ErrPositionNotFound):
		return model.NewNotFoundError("position")
	case errors.Is(err, service.ErrPodNotFound):
		return model.NewNotFoundError("pod")

	// ===== Concurrency → 409, retryable =====
	case errors.Is(err, service.ErrConcurrentModification):
		return model.NewConcurrencyError(err.Error())

	// ===== Duplicates → 409 =====
	case errors.Is(err, service.ErrAlreadyPodMember),
		errors.Is(err, journal.ErrKeyConflict),
		errors.Is(err, service.ErrEventConflict):
		return model.NewConflictError(err.Error())

	// ===== State preconditions → 409 =====
	case errors.Is(err, service.ErrPositionClosed),
		errors.Is(err, service.ErrPodFull),
		errors.Is(err, service.ErrPodClosedForJoining),
		errors.Is(err, service.ErrPodCancelled),
		errors.Is(err, service.ErrPodAlreadyActive),
		errors.Is(err, service.ErrPodNotActive),
		errors.Is(err, service.ErrPodNotMatured),
		errors.Is(err, service.ErrPodMatured),
		errors.Is(err, service.ErrNotEnoughMembers),
		errors.Is(err, service.ErrMembershipClosed):
		return model.NewPreconditionError(err.Error())

	// ===== Validation Errors → 422 =====
	case errors.Is(err, service.ErrInvalidPlan):
		return fieldError("plan", err)
	case errors.Is(err, service.ErrInvalidCustomDays):
		return fieldError("custom_days", err)
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrContributionMismatch),
		errors.Is(err, service.ErrNegativePrincipal):
		return fieldError("amount", err)
	case errors.Is(err, service.ErrPodNameRequired),
		errors.Is(err, service.ErrPodNameTooLong):
		return fieldError("name", err)
	case errors.Is(err, service.ErrPodDescTooLong):
		return fieldError("description", err)
	case errors.Is(err, service.ErrInvalidVisibility):
		return fieldError("visibility", err)
	case errors.Is(err, model.ErrUnknownAudience):
		return fieldError("audience", err)
	case errors.Is(err, service.ErrOwnerRequired):
		return fieldError("owner", err)
	case errors.Is(err, service.ErrEmptyBatch),
		errors.Is(err, service.ErrBatchTooLarge),
		errors.Is(err, service.ErrInvalidBatchItem):
		return fieldError("items", err)
	case errors.Is(err, service.ErrEventKeyRequired):
		return fieldError("key", err)
	case errors.Is(err, model.ErrUnknownEventType):
		return fieldError("type", err)

	// ===== Accrual setup → 422 =====
	case errors.Is(err, service.ErrAPROutOfBounds),
		errors.Is(err, service.ErrNegativeElapsed):
		return fieldError("as_of", err)

	// ===== Cancelled requests =====
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &model.ProblemDetails{
			Type:   "https://api.somi.finance/errors/request-cancelled",
			Title:  "Request Cancelled",
			Status: http.StatusServiceUnavailable,
			Detail: err.Error(),
		}

	// ===== Invariants → 500, detail withheld =====
	case errors.Is(err, service.ErrInvariantViolation),
		errors.Is(err, model.ErrPodInvariant):
		pd := model.NewInternalError("")
		pd.Code = model.ErrCodeInvariant
		return pd

	// ===== Default → 500 =====
	default:
		return model.NewInternalError("")
	}
}

// MapServiceErrorWithContext converts a service error to a ProblemDetails response
// with additional context about the operation that failed.
func MapServiceErrorWithContext(err error, operation string) *model.ProblemDetails {
	pd := MapServiceError(err)
	if pd != nil && pd.Status == http.StatusInternalServerError {
		pd.Detail = operation + ": an unexpected error occurred"
	}
	return pd
}

func fieldError(field string, err error) *model.ProblemDetails {
	return model.NewValidationError([]model.FieldError{{Field: field, Message: err.Error()}})
}
