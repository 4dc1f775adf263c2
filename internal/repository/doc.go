// Package repository implements the data access layer for positions, pods
// and claims.
//
// # Repository Pattern
//
//   - Constructor function (NewXxxRepository) accepts a database connection
//   - SurrealQL queries with $variable parameters
//   - Results are decoded into model structs; amounts are stored as strings
//     so decimals keep full precision
//
// # Optimistic Versions
//
// Every record carries a version. Updates match on the version the caller
// loaded and bump it; a mismatch returns database.ErrStaleVersion. A pod and
// its memberships are saved in one TxBuilder batch, so a stale pod aborts
// the membership writes too.
//
// # Example Usage
//
//	repo := NewPositionRepository(db)
//	position, err := repo.GetPosition(ctx, positionID)
//	if err != nil {
//	    return err
//	}
//	if position == nil {
//	    // Handle not found
//	}
package repository
