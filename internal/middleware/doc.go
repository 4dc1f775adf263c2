// Package middleware provides HTTP middleware for the Somi API.
//
// # Available Middleware
//
//   - RequestID, Logger, Recovery: request tracing and panic safety
//   - CORS, Compress: browser access and gzip responses
//   - Auth / OptionalAuth: bearer token validation, sets the calling account
//   - RequireOperator: restricts event ingest and cross-account batch claims
//   - RateLimit: token bucket per account (or remote address)
//   - Idempotency: replays the first response for a retried Idempotency-Key,
//     so a retried deposit or claim never moves funds twice
//
// # Context Values
//
//   - GetAccount(ctx): the authenticated account
//   - GetClaims(ctx): the verified token claims
//   - GetRequestID(ctx): the request identifier
package middleware
