// Package helpers provides test utility functions for the Somi API.
//
// # Tokens
//
// Mint bearer tokens that validate against NewTestJWTService:
//
//	tokens := helpers.NewTokenHelper(t)
//	auth := middleware.Auth(tokens.Service())
//
// # Requests
//
// Build requests with auth, idempotency keys and route wildcards:
//
//	rr := helpers.NewRequest(t, http.MethodPost, "/v1/events").
//		WithOperator(tokens, "indexer").
//		WithBody(body).
//		Do(handler)
//
// # Assertion Helpers
//
//	helpers.AssertProblemDetails(t, rr, http.StatusForbidden, model.ErrCodeForbidden)
//	helpers.AssertValidationError(t, rr, "amount")
//	helpers.AssertRecordExists(t, db, "pod", podID)
package helpers
