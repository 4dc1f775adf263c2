// Package jwt issues and verifies the bearer tokens that identify the
// calling account on the Somi API.
//
// Tokens are HS256-signed with a shared secret using golang-jwt:
//
//	svc, err := jwt.NewService(jwt.Config{
//	    Secret:         cfg.JWT.Secret,
//	    Issuer:         cfg.JWT.Issuer,
//	    ExpirationMins: cfg.JWT.ExpirationMins,
//	})
//
//	token, err := svc.Sign("alice", "")
//	claims, err := svc.Validate(token)
//	account := claims.Account
//
// Accounts with the operator role may ingest events and run batch claims.
// Library errors are mapped onto the package sentinels (ErrTokenExpired,
// ErrInvalidSignature, ErrInvalidToken) so callers can use errors.Is.
package jwt
