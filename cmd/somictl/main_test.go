package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forgo/somi/api/internal/journal"
	"github.com/forgo/somi/api/internal/model"
	"github.com/forgo/somi/api/pkg/jwt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedJournal(t *testing.T, path string, amounts ...int64) {
	t.Helper()
	ctx := context.Background()
	store, err := journal.Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	at := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	for i, amount := range amounts {
		evt, err := model.NewEvent(model.EventKey("0xseed", i), model.EventDeposited, at, model.DepositedPayload{
			PositionID: "pos" + string(rune('a'+i)),
			User:       "alice",
			Plan:       model.PlanFlex,
			Amount:     decimal.NewFromInt(amount),
			StartTime:  at,
			AprBps:     400,
		})
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, evt))
	}
}

func TestSimulateCommand(t *testing.T) {
	out, err := run(t, "simulate", "--plan", "1y", "--principal", "1000")
	require.NoError(t, err)

	var sim model.Simulation
	require.NoError(t, json.Unmarshal([]byte(out), &sim))
	assert.Equal(t, model.PlanFixed1Y, sim.Plan)
	assert.Equal(t, 365, sim.DurationDays)
	assert.True(t, sim.Payout.GreaterThan(decimal.NewFromInt(1000)))
}

func TestSimulateCommand_RejectsBadInput(t *testing.T) {
	_, err := run(t, "simulate", "--plan", "3y", "--principal", "10")
	assert.ErrorIs(t, err, model.ErrUnknownPlanKind)

	_, err = run(t, "simulate", "--plan", "custom", "--custom-days", "151", "--principal", "10")
	assert.ErrorIs(t, err, model.ErrCustomDaysOutOfRange)
}

func TestInterestCommand_FixedTermNotClaimableEarly(t *testing.T) {
	out, err := run(t, "interest",
		"--principal", "1000",
		"--apr-bps", "1000",
		"--start", "2026-01-01T00:00:00Z",
		"--as-of", "2026-02-01T00:00:00Z",
		"--term-days", "180",
	)
	require.NoError(t, err)

	var res struct {
		Accrued   decimal.Decimal `json:"accrued"`
		Claimable decimal.Decimal `json:"claimable"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Accrued.IsPositive())
	assert.True(t, res.Claimable.IsZero())
}

func TestPlansCommand(t *testing.T) {
	out, err := run(t, "plans")
	require.NoError(t, err)

	var plans []model.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	assert.Len(t, plans, len(model.AllPlanKinds))
}

func TestReplayThenVerify(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "journal.db")
	projectionPath := filepath.Join(dir, "projection.db")
	seedJournal(t, journalPath, 100, 250)

	out, err := run(t, "replay", "--journal", journalPath, "--projection", projectionPath)
	require.NoError(t, err)
	var replay struct {
		Applied int          `json:"applied"`
		ToSeq   uint64       `json:"to_seq"`
		Totals  model.Totals `json:"totals"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &replay))
	assert.Equal(t, 2, replay.Applied)
	assert.Equal(t, uint64(2), replay.ToSeq)
	assert.True(t, replay.Totals.TotalLocked.Equal(decimal.NewFromInt(350)))

	// A second replay has nothing left to fold.
	out, err = run(t, "replay", "--journal", journalPath, "--projection", projectionPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &replay))
	assert.Zero(t, replay.Applied)

	out, err = run(t, "verify", "--journal", journalPath, "--projection", projectionPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"match": true`)
}

func TestVerify_DetectsStaleProjection(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "journal.db")
	projectionPath := filepath.Join(dir, "projection.db")
	seedJournal(t, journalPath, 100)

	_, err := run(t, "replay", "--journal", journalPath, "--projection", projectionPath)
	require.NoError(t, err)

	// Journal moves on without the projection.
	ctx := context.Background()
	store, err := journal.Open(ctx, journalPath)
	require.NoError(t, err)
	evt, err := model.NewEvent("0xlate-0", model.EventDeposited, time.Now(), model.DepositedPayload{
		PositionID: "late", User: "bob", Plan: model.PlanFlex, Amount: decimal.NewFromInt(5), StartTime: time.Now(), AprBps: 400,
	})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, evt))
	require.NoError(t, store.Close())

	out, err := run(t, "verify", "--journal", journalPath, "--projection", projectionPath)
	require.Error(t, err)
	assert.Contains(t, out, "total_locked")
}

func TestTotalsCommand_EmptyStore(t *testing.T) {
	out, err := run(t, "totals", "--projection", filepath.Join(t.TempDir(), "projection.db"))
	require.NoError(t, err)
	assert.Contains(t, out, `"deferred": 0`)
}

func TestEventsCommand(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	seedJournal(t, journalPath, 1, 2, 3)

	out, err := run(t, "events", "--journal", journalPath, "--after", "1", "-n", "1")
	require.NoError(t, err)

	var res struct {
		Events  []model.Event `json:"events"`
		LastSeq uint64        `json:"last_seq"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Events, 1)
	assert.Equal(t, uint64(2), res.Events[0].Seq)
	assert.Equal(t, uint64(3), res.LastSeq)
}

func TestTokenCommand(t *testing.T) {
	secret := strings.Repeat("k", jwt.MinSecretLength)
	t.Setenv("JWT_SECRET", secret)

	out, err := run(t, "token", "--account", "indexer", "--role", "operator", "--json")
	require.NoError(t, err)

	var res struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	svc, err := jwt.NewService(jwt.Config{Secret: secret, Issuer: "somi.forgo.software", ExpirationMins: 5})
	require.NoError(t, err)
	claims, err := svc.ValidateAccessToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "indexer", claims.Account)
	assert.True(t, claims.IsOperator())

	_, err = run(t, "token", "--account", "indexer", "--role", "root")
	assert.Error(t, err)
}

func TestMigrationFiles_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_pods.surql", "001_init.surql", "seed.surql", "notes.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- x"), 0o600))
	}

	files, err := migrationFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001_init.surql", filepath.Base(files[0]))
	assert.Equal(t, "002_pods.surql", filepath.Base(files[1]))

	out, err := run(t, "migrate", "--dir", dir, "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, ".surql"))
}
