package testdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/forgo/somi/api/internal/database"
	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/internal/testing/fixtures"
)

// SchemaFile is the savings schema applied to every test namespace,
// relative to the module root
const SchemaFile = "migrations/001_savings.surql"

// settings locate the SurrealDB instance the repository tests run against
type settings struct {
	Host     string `env:"TEST_DB_HOST" envDefault:"localhost"`
	Port     string `env:"TEST_DB_PORT" envDefault:"8000"`
	User     string `env:"TEST_DB_USER" envDefault:"root"`
	Password string `env:"TEST_DB_PASSWORD" envDefault:"root"`
	Root     string `env:"SOMI_ROOT"`
}

// TestDB is one SurrealDB namespace holding the savings schema
type TestDB struct {
	DB        database.Database
	Namespace string
	ctx       context.Context
	closeOnce sync.Once
}

var (
	schemaOnce sync.Once
	schema     string
	schemaErr  error

	namespaces atomic.Int64
)

// New connects to SurrealDB, creates a fresh namespace and applies the
// savings schema. The test is skipped when no server is reachable.
func New(t *testing.T) *TestDB {
	t.Helper()

	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("testdb: parse settings: %v", err)
	}
	ddl, err := loadSchema(cfg.Root)
	if err != nil {
		t.Fatalf("testdb: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	namespace := fmt.Sprintf("somi_test_%d_%d", time.Now().UnixNano(), namespaces.Add(1))
	db := database.NewSurrealDB(database.Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		User:      cfg.User,
		Password:  cfg.Password,
		Namespace: namespace,
		Database:  "savings",
	})
	if err := db.Connect(ctx); err != nil {
		t.Skipf("testdb: surrealdb unavailable: %v", err)
	}
	if err := db.Execute(ctx, ddl, nil); err != nil {
		db.Close()
		t.Fatalf("testdb: apply %s: %v", SchemaFile, err)
	}

	opCtx, opCancel := context.WithCancel(context.Background())
	tdb := &TestDB{DB: db, Namespace: namespace, ctx: opCtx}
	t.Cleanup(func() {
		opCancel()
		tdb.Close()
	})
	return tdb
}

// Close drops the namespace and disconnects. It is safe to call more than
// once.
func (tdb *TestDB) Close() {
	tdb.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = tdb.DB.Execute(ctx, fmt.Sprintf("REMOVE NAMESPACE %s", tdb.Namespace), nil)
		tdb.DB.Close()
	})
}

// Ctx returns the context for database calls; it ends with the test
func (tdb *TestDB) Ctx() context.Context {
	return tdb.ctx
}

// SeedPosition stores an open solo position at version 1
func (tdb *TestDB) SeedPosition(t *testing.T, owner string, plan model.PlanKind) *model.Position {
	t.Helper()
	return fixtures.New(tdb.DB).CreatePosition(t, fixtures.WithOwner(owner), fixtures.WithPlan(plan))
}

// SeedPod stores a filling pod owned by creator with the given members
// joined after the creator. The returned pod carries the stored counters.
func (tdb *TestDB) SeedPod(t *testing.T, creator string, members ...string) *model.Pod {
	t.Helper()
	f := fixtures.New(tdb.DB)
	pod := f.CreatePod(t, creator)
	for _, m := range members {
		f.JoinPod(t, pod, m)
	}
	return pod
}

// loadSchema reads SchemaFile once, from root when set or from the nearest
// directory above the working directory that holds go.mod
func loadSchema(root string) (string, error) {
	schemaOnce.Do(func() {
		if root == "" {
			root, schemaErr = moduleRoot()
			if schemaErr != nil {
				return
			}
		}
		data, err := os.ReadFile(filepath.Join(root, SchemaFile))
		if err != nil {
			schemaErr = fmt.Errorf("read schema: %w", err)
			return
		}
		schema = string(data)
	})
	return schema, schemaErr
}

func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above the working directory; set SOMI_ROOT")
		}
		dir = parent
	}
}
