// Package projection persists the aggregator's folded state in BoltDB.
//
// The state document holds only the totals and the deferred events. Each
// position and pod projection lives under its own key, so an apply rewrites
// just the entities it touched. Further buckets hold the applied event
// keys, the claim history and the penalty pool snapshots. Each aggregator
// apply is written in one BoltDB transaction.
package projection

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/forgo/somi/api/internal/model"
	"go.etcd.io/bbolt"
)

const (
	stateBucket     = "state"
	positionBucket  = "position"
	podBucket       = "pod"
	appliedBucket   = "applied"
	claimBucket     = "claim"
	snapshotBucket  = "penalty_snapshot"
	currentStateKey = "current"
)

// stateHeader is the part of the state rewritten on every commit
type stateHeader struct {
	Totals   model.Totals  `json:"totals"`
	Deferred []model.Event `json:"deferred,omitempty"`
}

// Store provides a BoltDB-backed projection store.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("projection path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open projection db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the stored state with its applied keys, or nil if the store
// is empty.
func (s *Store) Load(ctx context.Context) (*model.ProjectionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("projection store is not configured")
	}

	var state *model.ProjectionState
	err := s.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket([]byte(stateBucket)).Get([]byte(currentStateKey))
		if payload == nil {
			return nil
		}
		state = model.NewProjectionState()
		if err := json.Unmarshal(payload, state); err != nil {
			return fmt.Errorf("unmarshal projection state: %w", err)
		}
		if state.Positions == nil {
			state.Positions = make(map[string]*model.PositionProjection)
		}
		if state.Pods == nil {
			state.Pods = make(map[string]*model.PodProjection)
		}
		err := tx.Bucket([]byte(positionBucket)).ForEach(func(k, v []byte) error {
			var pos model.PositionProjection
			if err := json.Unmarshal(v, &pos); err != nil {
				return fmt.Errorf("unmarshal position %s: %w", k, err)
			}
			state.Positions[string(k)] = &pos
			return nil
		})
		if err != nil {
			return err
		}
		err = tx.Bucket([]byte(podBucket)).ForEach(func(k, v []byte) error {
			var pod model.PodProjection
			if err := json.Unmarshal(v, &pod); err != nil {
				return fmt.Errorf("unmarshal pod %s: %w", k, err)
			}
			if pod.Members == nil {
				pod.Members = make(map[string]*model.MemberProjection)
			}
			state.Pods[string(k)] = &pod
			return nil
		})
		if err != nil {
			return err
		}
		state.Applied = make(map[string]uint64)
		return tx.Bucket([]byte(appliedBucket)).ForEach(func(k, v []byte) error {
			state.Applied[string(k)] = decodeSeq(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Commit writes the state header, the changed entities, the newly applied
// keys, and any claim or snapshot records in one transaction.
func (s *Store) Commit(ctx context.Context, commit *model.ProjectionCommit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("projection store is not configured")
	}
	if commit == nil || commit.State == nil {
		return fmt.Errorf("projection commit has no state")
	}

	payload, err := json.Marshal(stateHeader{
		Totals:   commit.State.Totals,
		Deferred: commit.State.Deferred,
	})
	if err != nil {
		return fmt.Errorf("marshal projection state: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(stateBucket)).Put([]byte(currentStateKey), payload); err != nil {
			return fmt.Errorf("put state: %w", err)
		}

		positions := tx.Bucket([]byte(positionBucket))
		for id := range commit.ChangedPositions {
			pos, ok := commit.State.Positions[id]
			if !ok {
				continue
			}
			if err := putJSON(positions, []byte(id), pos); err != nil {
				return fmt.Errorf("put position %s: %w", id, err)
			}
		}

		pods := tx.Bucket([]byte(podBucket))
		for id := range commit.ChangedPods {
			pod, ok := commit.State.Pods[id]
			if !ok {
				continue
			}
			if err := putJSON(pods, []byte(id), pod); err != nil {
				return fmt.Errorf("put pod %s: %w", id, err)
			}
		}

		applied := tx.Bucket([]byte(appliedBucket))
		for key, seq := range commit.Applied {
			if err := applied.Put([]byte(key), encodeSeq(seq)); err != nil {
				return fmt.Errorf("put applied key %s: %w", key, err)
			}
		}

		claims := tx.Bucket([]byte(claimBucket))
		for _, claim := range commit.Claims {
			data, err := json.Marshal(claim)
			if err != nil {
				return fmt.Errorf("marshal claim %s: %w", claim.ID, err)
			}
			if err := claims.Put([]byte(claim.ID), data); err != nil {
				return fmt.Errorf("put claim %s: %w", claim.ID, err)
			}
		}

		snapshots := tx.Bucket([]byte(snapshotBucket))
		for _, snap := range commit.Snapshots {
			data, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("marshal snapshot %s: %w", snap.ID, err)
			}
			if err := snapshots.Put(snapshotKey(snap), data); err != nil {
				return fmt.Errorf("put snapshot %s: %w", snap.ID, err)
			}
		}
		return nil
	})
}

// ListClaims returns the recorded claims of a user, oldest first. An empty
// user lists every claim.
func (s *Store) ListClaims(ctx context.Context, user string) ([]model.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims := make([]model.ClaimRecord, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(claimBucket)).ForEach(func(_, v []byte) error {
			var claim model.ClaimRecord
			if err := json.Unmarshal(v, &claim); err != nil {
				return fmt.Errorf("unmarshal claim: %w", err)
			}
			if user == "" || claim.User == user {
				claims = append(claims, claim)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(claims, func(i, j int) bool {
		return claims[i].Timestamp.Before(claims[j].Timestamp)
	})
	return claims, nil
}

// ListSnapshots returns the penalty pool history of a pod in time order.
func (s *Store) ListSnapshots(ctx context.Context, podID string) ([]model.PenaltyPoolSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(podID) == "" {
		return nil, fmt.Errorf("pod id is required")
	}

	snapshots := make([]model.PenaltyPoolSnapshot, 0)
	prefix := []byte(podID + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(snapshotBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var snap model.PenaltyPoolSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("unmarshal snapshot: %w", err)
			}
			snapshots = append(snapshots, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{stateBucket, positionBucket, podBucket, appliedBucket, claimBucket, snapshotBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// snapshotKey orders a pod's snapshots by time: {pod_id}/{unix_nano}/{id}
func snapshotKey(snap model.PenaltyPoolSnapshot) []byte {
	key := make([]byte, 0, len(snap.PodID)+len(snap.ID)+10)
	key = append(key, snap.PodID...)
	key = append(key, '/')
	key = binary.BigEndian.AppendUint64(key, uint64(snap.Timestamp.UnixNano()))
	key = append(key, '/')
	key = append(key, snap.ID...)
	return key
}

func encodeSeq(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func decodeSeq(v []byte) uint64 {
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}
