// Package database provides SurrealDB connectivity for the savings engine.
//
// # Database Interface
//
//	type Database interface {
//	    Connect(ctx context.Context) error
//	    Close() error
//	    Ping(ctx context.Context) error
//	    Query(ctx context.Context, query string, vars map[string]interface{}) ([]interface{}, error)
//	    QueryOne(ctx context.Context, query string, vars map[string]interface{}) (interface{}, error)
//	    Execute(ctx context.Context, query string, vars map[string]interface{}) error
//	}
//
// # Connection Management
//
//	db := database.NewSurrealDB(database.Config{
//	    Host:      "localhost",
//	    Port:      "8000",
//	    Namespace: "somi",
//	    Database:  "ledger",
//	})
//	if err := db.Connect(ctx); err != nil { ... }
//
// # Error Types
//
//   - ErrNotFound: Record does not exist
//   - ErrDuplicate: Unique constraint violation
//   - ErrConnection: Database connection failed
//   - ErrStaleVersion: Optimistic version check failed
package database
