package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/forgo/somi/api/internal/database")

// SurrealDB implements the Database interface for SurrealDB
type SurrealDB struct {
	db     *surrealdb.DB
	config Config
}

// NewSurrealDB creates a new SurrealDB instance
func NewSurrealDB(cfg Config) *SurrealDB {
	return &SurrealDB{
		config: cfg,
	}
}

// Endpoint is the RPC address of the server. A Host that already carries a
// scheme (ws://, wss://) is used with the port appended.
func (c Config) Endpoint() string {
	if strings.Contains(c.Host, "://") {
		return fmt.Sprintf("%s:%s", strings.TrimSuffix(c.Host, "/"), c.Port)
	}
	return fmt.Sprintf("ws://%s:%s", c.Host, c.Port)
}

// Connect signs in as the configured user and selects the savings
// namespace and database
func (s *SurrealDB) Connect(ctx context.Context) error {
	db, err := surrealdb.FromEndpointURLString(ctx, s.config.Endpoint())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if _, err = db.SignIn(ctx, &surrealdb.Auth{
		Username: s.config.User,
		Password: s.config.Password,
	}); err != nil {
		_ = db.Close(ctx)
		return fmt.Errorf("%w: signin failed: %v", ErrConnection, err)
	}

	if err := db.Use(ctx, s.config.Namespace, s.config.Database); err != nil {
		_ = db.Close(ctx)
		return fmt.Errorf("%w: use %s/%s: %v", ErrConnection, s.config.Namespace, s.config.Database, err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SurrealDB) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close(context.Background())
}

// Ping checks the database connection
func (s *SurrealDB) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrConnection
	}
	if _, err := s.db.Version(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Query executes a query and returns one {status, result} map per
// statement. A failed statement fails the whole call with the error mapped
// by classifyError.
func (s *SurrealDB) Query(ctx context.Context, query string, vars map[string]interface{}) ([]interface{}, error) {
	if s.db == nil {
		return nil, ErrConnection
	}
	ctx, span := tracer.Start(ctx, "SurrealDB.Query", trace.WithAttributes(
		attribute.String("db.system", "surrealdb"),
		attribute.String("db.namespace", s.config.Namespace),
		attribute.Bool("db.transaction", strings.HasPrefix(query, "BEGIN TRANSACTION")),
	))
	defer span.End()

	results, err := surrealdb.Query[interface{}](ctx, s.db, query, vars)
	if err != nil {
		err = classifyError(err.Error())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if results == nil {
		return nil, nil
	}

	output := make([]interface{}, 0, len(*results))
	for _, r := range *results {
		if r.Status != "OK" {
			err := ErrQuery
			if r.Error != nil {
				err = classifyError(r.Error.Message)
			}
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		output = append(output, map[string]interface{}{
			"status": r.Status,
			"result": r.Result,
		})
	}
	span.SetAttributes(attribute.Int("db.statements", len(output)))
	return output, nil
}

// classifyError maps a SurrealDB error message onto the package errors. A
// version THROW becomes ErrStaleVersion and a unique index violation
// becomes ErrDuplicate; the message is kept for context.
func classifyError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, ErrStaleVersion.Error()):
		return fmt.Errorf("%w: %s", ErrStaleVersion, msg)
	case strings.Contains(lower, "already contains"),
		strings.Contains(lower, "already exists"),
		strings.Contains(lower, "unique"):
		return fmt.Errorf("%w: %s", ErrDuplicate, msg)
	default:
		return fmt.Errorf("%w: %s", ErrQuery, msg)
	}
}

// QueryOne executes a query and returns the first record of the first
// statement, or ErrNotFound when it returned none
func (s *SurrealDB) QueryOne(ctx context.Context, query string, vars map[string]interface{}) (interface{}, error) {
	results, err := s.Query(ctx, query, vars)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	first := results[0]
	if resp, ok := first.(map[string]interface{}); ok {
		if status, ok := resp["status"].(string); ok && status == "OK" {
			if resultData, ok := resp["result"].([]interface{}); ok {
				if len(resultData) == 0 {
					return nil, ErrNotFound
				}
				return resultData[0], nil
			}
			// scalar results such as SELECT VALUE count
			return resp["result"], nil
		}
	}
	return first, nil
}

// Execute runs a query without returning results
func (s *SurrealDB) Execute(ctx context.Context, query string, vars map[string]interface{}) error {
	_, err := s.Query(ctx, query, vars)
	return err
}
