// Package handler provides HTTP request handlers for the Somi API.
//
// Handlers are grouped by resource: positions, pods, batch claims and the
// ledger (event ingestion, protocol totals, the plan simulator). Each
// handler depends on a small interface declared in this package rather than
// on a concrete service, so tests drive it with function-field mocks.
//
// # Handler Pattern
//
//   - Constructor function (NewXxxHandler) accepts the collaborators
//   - Request bodies are decoded strictly and validated before the service call
//   - Service errors go through MapServiceError to RFC 9457 Problem Details
//   - 5xx responses are logged; client errors are not
//
// # Response Format
//
//   - WriteData: Single resource with optional HATEOAS links
//   - WriteCollection: Paginated list with an offset cursor
//   - WriteJSON: Raw JSON response
//   - WriteError: RFC 9457 Problem Details error response
//
// # Authentication
//
// Account-scoped routes read the caller from middleware.GetAccount. A
// position that belongs to another account is reported as not found.
//
// # Example Usage
//
//	positions := NewPositionHandler(positionService)
//	mux.Handle("POST /v1/positions", auth(http.HandlerFunc(positions.Deposit)))
//	mux.Handle("GET /v1/positions/{positionId}", auth(http.HandlerFunc(positions.Get)))
package handler
