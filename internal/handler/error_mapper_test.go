package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/forgo/somi/api/internal/journal"
	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/service"
)

func TestMapServiceError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		field  string
	}{
		{"not owner", service.ErrNotPositionOwner, http.StatusForbidden, ""},
		{"position missing", service.ErrPositionNotFound, http.StatusNotFound, ""},
		{"pod missing", fmt.Errorf("load: %w", service.ErrPodNotFound), http.StatusNotFound, ""},
		{"concurrent", service.ErrConcurrentModification, http.StatusConflict, ""},
		{"duplicate member", service.ErrAlreadyPodMember, http.StatusConflict, ""},
		{"journal conflict", journal.ErrKeyConflict, http.StatusConflict, ""},
		{"pod full", service.ErrPodFull, http.StatusConflict, ""},
		{"custom days", service.ErrInvalidCustomDays, http.StatusUnprocessableEntity, "custom_days"},
		{"contribution", service.ErrContributionMismatch, http.StatusUnprocessableEntity, "amount"},
		{"batch", service.ErrBatchTooLarge, http.StatusUnprocessableEntity, "items"},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable, ""},
		{"invariant", model.ErrPodInvariant, http.StatusInternalServerError, ""},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, ""},
	}
	for _, tc := range tests {
		pd := MapServiceError(tc.err)
		if pd.Status != tc.status {
			t.Errorf("%s: expected status %d, got %d", tc.name, tc.status, pd.Status)
			continue
		}
		if tc.field != "" && (len(pd.Errors) != 1 || pd.Errors[0].Field != tc.field) {
			t.Errorf("%s: expected %s field error, got %+v", tc.name, tc.field, pd.Errors)
		}
	}

	if MapServiceError(nil) != nil {
		t.Error("nil error should map to nil")
	}
}

func TestMapServiceErrorWithContext_HidesInternalDetail(t *testing.T) {
	t.Parallel()

	pd := MapServiceErrorWithContext(errors.New("surrealdb: connection reset"), "claim pod share")
	if pd.Detail != "claim pod share: an unexpected error occurred" {
		t.Errorf("unexpected detail %q", pd.Detail)
	}
	if pd.Code == model.ErrCodeInvariant {
		t.Error("plain failures are not invariant violations")
	}

	pd = MapServiceErrorWithContext(service.ErrPodFull, "join pod")
	if pd.Detail != service.ErrPodFull.Error() {
		t.Errorf("client errors keep their detail, got %q", pd.Detail)
	}
}
