package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/forgo/somi/api/internal/model"
	"github.com/shopspring/decimal"
)

// MaxIngestEvents bounds one POST /v1/events request
const MaxIngestEvents = 500

// EventAppender records events in the journal
type EventAppender interface {
	Append(ctx context.Context, events ...model.Event) error
}

// EventIndexer folds journaled events that are not yet applied
type EventIndexer interface {
	RunOnce(ctx context.Context) (int, error)
}

// TotalsReader exposes the aggregator's read side
type TotalsReader interface {
	Totals() model.Totals
	Checkpoint() uint64
	DeferredCount() int
}

// Simulator previews the return of a plan
type Simulator interface {
	Simulate(audience model.Audience, kind model.PlanKind, customDays int, principal decimal.Decimal) (*model.Simulation, error)
}

// IngestRequest is the body of POST /v1/events
type IngestRequest struct {
	Events []model.Event `json:"events"`
}

// Validate checks every event carries a key and a known type
func (r *IngestRequest) Validate() []model.FieldError {
	var errs []model.FieldError
	if len(r.Events) == 0 {
		return append(errs, model.FieldError{Field: "events", Message: "at least one event is required"})
	}
	if len(r.Events) > MaxIngestEvents {
		return append(errs, model.FieldError{Field: "events", Message: "too many events in one request"})
	}
	for i, evt := range r.Events {
		prefix := "events[" + strconv.Itoa(i) + "]"
		if strings.TrimSpace(evt.Key) == "" {
			errs = append(errs, model.FieldError{Field: prefix + ".key", Message: "key is required"})
		}
		if !evt.Type.Known() {
			errs = append(errs, model.FieldError{Field: prefix + ".type", Message: "unknown event type"})
		}
		if len(evt.Payload) == 0 || string(evt.Payload) == "null" {
			errs = append(errs, model.FieldError{Field: prefix + ".payload", Message: "payload is required"})
		}
	}
	return errs
}

// IngestResult reports how far the aggregator got after an ingest
type IngestResult struct {
	Accepted   int    `json:"accepted"`
	Applied    int    `json:"applied"`
	Checkpoint uint64 `json:"checkpoint"`
	Deferred   int    `json:"deferred"`
}

// TotalsResponse is the body of GET /v1/totals
type TotalsResponse struct {
	model.Totals
	Checkpoint uint64 `json:"checkpoint"`
	Deferred   int    `json:"deferred"`
}

// LedgerHandler serves event ingestion, totals and the plan simulator
type LedgerHandler struct {
	journal   EventAppender
	indexer   EventIndexer
	totals    TotalsReader
	simulator Simulator
}

// LedgerHandlerConfig holds the ledger handler collaborators
type LedgerHandlerConfig struct {
	Journal   EventAppender
	Indexer   EventIndexer
	Totals    TotalsReader
	Simulator Simulator
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(cfg LedgerHandlerConfig) *LedgerHandler {
	return &LedgerHandler{
		journal:   cfg.Journal,
		indexer:   cfg.Indexer,
		totals:    cfg.Totals,
		simulator: cfg.Simulator,
	}
}

// Ingest handles POST /v1/events. Events are journaled first, then the
// indexer folds everything past the checkpoint in journal order. Replaying
// an already recorded event is accepted and changes nothing.
func (h *LedgerHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid request body"))
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		WriteError(w, model.NewValidationError(errs))
		return
	}

	if err := h.journal.Append(r.Context(), req.Events...); err != nil {
		h.handleError(w, err, "append events")
		return
	}

	applied, err := h.indexer.RunOnce(r.Context())
	if err != nil {
		// The events are journaled; the background indexer will fold them.
		slog.Warn("inline fold failed", slog.String("error", err.Error()))
	}

	WriteData(w, http.StatusAccepted, IngestResult{
		Accepted:   len(req.Events),
		Applied:    applied,
		Checkpoint: h.totals.Checkpoint(),
		Deferred:   h.totals.DeferredCount(),
	}, map[string]string{"totals": "/v1/totals"})
}

// Totals handles GET /v1/totals
func (h *LedgerHandler) Totals(w http.ResponseWriter, r *http.Request) {
	WriteData(w, http.StatusOK, TotalsResponse{
		Totals:     h.totals.Totals(),
		Checkpoint: h.totals.Checkpoint(),
		Deferred:   h.totals.DeferredCount(),
	}, nil)
}

// Simulate handles GET /v1/simulate?audience=&plan=&custom_days=&principal=
func (h *LedgerHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var errs []model.FieldError

	audience := model.Audience(q.Get("audience"))
	if audience == "" {
		audience = model.AudienceSolo
	}

	kind, err := model.ParsePlanKind(q.Get("plan"))
	if err != nil {
		errs = append(errs, model.FieldError{Field: "plan", Message: err.Error()})
	}

	customDays := 0
	if raw := q.Get("custom_days"); raw != "" {
		if customDays, err = strconv.Atoi(raw); err != nil {
			errs = append(errs, model.FieldError{Field: "custom_days", Message: "custom_days must be an integer"})
		}
	}

	principal, err := decimal.NewFromString(q.Get("principal"))
	if err != nil {
		errs = append(errs, model.FieldError{Field: "principal", Message: "principal must be a decimal amount"})
	}

	if len(errs) > 0 {
		WriteError(w, model.NewValidationError(errs))
		return
	}

	sim, err := h.simulator.Simulate(audience, kind, customDays, principal)
	if err != nil {
		h.handleError(w, err, "simulate")
		return
	}
	WriteData(w, http.StatusOK, sim, nil)
}

// Plans handles GET /v1/plans
func (h *LedgerHandler) Plans(w http.ResponseWriter, r *http.Request) {
	WriteData(w, http.StatusOK, model.Catalog(), nil)
}

func (h *LedgerHandler) handleError(w http.ResponseWriter, err error, operation string) {
	pd := MapServiceErrorWithContext(err, operation)
	if pd.Status >= http.StatusInternalServerError {
		slog.Error("ledger request failed", slog.String("operation", operation), slog.String("error", err.Error()))
	}
	WriteError(w, pd)
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ready handles GET /ready, failing while the database is unreachable
func Ready(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			slog.Warn("readiness check failed", slog.String("error", err.Error()))
			WriteError(w, &model.ProblemDetails{
				Type:   "https://api.somi.finance/errors/unavailable",
				Title:  "Service Unavailable",
				Status: http.StatusServiceUnavailable,
				Detail: "database unreachable",
				Code:   model.ErrCodeDatabase,
			})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
