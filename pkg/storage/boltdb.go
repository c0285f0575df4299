package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketDeployments = []byte("deployments")
	bucketEvents      = []byte("phase_events")
	bucketRollbacks   = []byte("rollback_actions")
	bucketCurrent     = []byte("current")
	bucketLocks       = []byte("locks")
)

// BoltStore implements Store using BoltDB. BoltDB commits are fsynced, so
// a write that returned is visible even if the process dies mid-portfolio.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "orchestrate.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketDeployments,
			bucketEvents,
			bucketRollbacks,
			bucketCurrent,
			bucketLocks,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func currentKey(domain string, env types.Environment) []byte {
	return []byte(domain + "/" + string(env))
}

// Deployment operations

func (s *BoltStore) CreateDeployment(d *types.Deployment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		if b.Get([]byte(d.ID)) != nil {
			return errdefs.Invariant("deployment already exists: %s", d.ID)
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put([]byte(d.ID), data)
	})
}

func (s *BoltStore) GetDeployment(id string) (*types.Deployment, error) {
	var d types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("deployment: %s", id)
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BoltStore) UpdateDeployment(d *types.Deployment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		prev := b.Get([]byte(d.ID))
		if prev == nil {
			return errdefs.NotFound("deployment: %s", d.ID)
		}
		// Terminated deployments are never mutated.
		var existing types.Deployment
		if err := json.Unmarshal(prev, &existing); err != nil {
			return err
		}
		if existing.Status != types.DeploymentRunning && existing.Status != d.Status {
			return errdefs.Invariant("deployment %s is terminated (%s)", d.ID, existing.Status)
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put([]byte(d.ID), data)
	})
}

func (s *BoltStore) ListDeployments() ([]*types.Deployment, error) {
	var deployments []*types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		return b.ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			deployments = append(deployments, &d)
			return nil
		})
	})
	return deployments, err
}

func (s *BoltStore) ListDeploymentsByDomain(domain string) ([]*types.Deployment, error) {
	all, err := s.ListDeployments()
	if err != nil {
		return nil, err
	}
	var out []*types.Deployment
	for _, d := range all {
		if d.Domain == domain {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *BoltStore) ListDeploymentsByEnvironment(env types.Environment) ([]*types.Deployment, error) {
	all, err := s.ListDeployments()
	if err != nil {
		return nil, err
	}
	var out []*types.Deployment
	for _, d := range all {
		if d.Environment == env {
			out = append(out, d)
		}
	}
	return out, nil
}

// Phase log operations
//
// Events live in a nested bucket per deployment keyed by a big-endian
// sequence number, so iteration order equals append order.

func (s *BoltStore) AppendEvent(ev *PhaseEvent) error {
	if ev.DeploymentID == "" {
		return errdefs.Invariant("phase event without deployment id")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketEvents)
		b, err := parent.CreateBucketIfNotExists([]byte(ev.DeploymentID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		ev.Seq = seq
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

func (s *BoltStore) ListEvents(deploymentID string) ([]*PhaseEvent, error) {
	var events []*PhaseEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents).Bucket([]byte(deploymentID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var ev PhaseEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, &ev)
			return nil
		})
	})
	return events, err
}

// Rollback action operations

func (s *BoltStore) RegisterRollbackAction(a *types.RollbackAction) error {
	if a.DeploymentID == "" {
		return errdefs.Invariant("rollback action without deployment id")
	}
	if a.RegisteredAt.IsZero() {
		a.RegisteredAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketRollbacks)
		b, err := parent.CreateBucketIfNotExists([]byte(a.DeploymentID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		a.Index = int(seq)
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

func (s *BoltStore) ListRollbackActions(deploymentID string) ([]*types.RollbackAction, error) {
	var actions []*types.RollbackAction
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRollbacks).Bucket([]byte(deploymentID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var a types.RollbackAction
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			actions = append(actions, &a)
			return nil
		})
	})
	return actions, err
}

func (s *BoltStore) MarkRollbackExecuted(deploymentID string, index int, execErr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRollbacks).Bucket([]byte(deploymentID))
		if b == nil {
			return errdefs.NotFound("rollback actions for deployment: %s", deploymentID)
		}
		key := seqKey(uint64(index))
		data := b.Get(key)
		if data == nil {
			return errdefs.NotFound("rollback action %d for deployment: %s", index, deploymentID)
		}
		var a types.RollbackAction
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		a.Executed = true
		a.ExecutedAt = time.Now().UTC()
		a.Error = execErr
		out, err := json.Marshal(&a)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
}

// Current pointer operations

func (s *BoltStore) SetCurrent(domain string, env types.Environment, deploymentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCurrent).Put(currentKey(domain, env), []byte(deploymentID))
	})
}

func (s *BoltStore) GetCurrent(domain string, env types.Environment) (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCurrent).Get(currentKey(domain, env))
		if data == nil {
			return errdefs.NotFound("current deployment for %s/%s", domain, env)
		}
		id = string(data)
		return nil
	})
	return id, err
}

func (s *BoltStore) ClearCurrent(domain string, env types.Environment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCurrent).Delete(currentKey(domain, env))
	})
}

func (s *BoltStore) LatestSuccessful(domain string, env types.Environment) (*types.Deployment, error) {
	all, err := s.ListDeploymentsByDomain(domain)
	if err != nil {
		return nil, err
	}
	var latest *types.Deployment
	for _, d := range all {
		if d.Environment != env || d.Status != types.DeploymentSucceeded {
			continue
		}
		if latest == nil || d.FinishedAt.After(latest.FinishedAt) {
			latest = d
		}
	}
	if latest == nil {
		return nil, errdefs.NotFound("successful deployment for %s/%s", domain, env)
	}
	return latest, nil
}

// Lock operations
//
// One deployment may be active per (domain, env). The lock record stores
// the holder so a crashed run can be diagnosed and released explicitly.

type lockRecord struct {
	DeploymentID string    `json:"deployment_id"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

func (s *BoltStore) AcquireLock(domain string, env types.Environment, deploymentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		key := currentKey(domain, env)
		if data := b.Get(key); data != nil {
			var held lockRecord
			if err := json.Unmarshal(data, &held); err != nil {
				return err
			}
			return errdefs.Invariant("deployment %s already active for %s/%s", held.DeploymentID, domain, env)
		}
		data, err := json.Marshal(lockRecord{DeploymentID: deploymentID, AcquiredAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) ReleaseLock(domain string, env types.Environment, deploymentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		key := currentKey(domain, env)
		data := b.Get(key)
		if data == nil {
			return nil // already released
		}
		var held lockRecord
		if err := json.Unmarshal(data, &held); err != nil {
			return err
		}
		if held.DeploymentID != deploymentID {
			return errdefs.Invariant("lock for %s/%s held by %s, not %s", domain, env, held.DeploymentID, deploymentID)
		}
		return b.Delete(key)
	})
}

// Maintenance operations

// Clean removes terminated deployments older than the cutoff together with
// their phase logs and rollback actions. Current pointers to removed
// deployments are cleared. Returns the number of deployments removed.
func (s *BoltStore) Clean(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		deployments := tx.Bucket(bucketDeployments)
		events := tx.Bucket(bucketEvents)
		rollbacks := tx.Bucket(bucketRollbacks)
		current := tx.Bucket(bucketCurrent)

		var victims []*types.Deployment
		err := deployments.ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.Status != types.DeploymentRunning && !d.FinishedAt.IsZero() && d.FinishedAt.Before(cutoff) {
				victims = append(victims, &d)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, d := range victims {
			if err := deployments.Delete([]byte(d.ID)); err != nil {
				return err
			}
			if events.Bucket([]byte(d.ID)) != nil {
				if err := events.DeleteBucket([]byte(d.ID)); err != nil {
					return err
				}
			}
			if rollbacks.Bucket([]byte(d.ID)) != nil {
				if err := rollbacks.DeleteBucket([]byte(d.ID)); err != nil {
					return err
				}
			}
			key := currentKey(d.Domain, d.Environment)
			if string(current.Get(key)) == d.ID {
				if err := current.Delete(key); err != nil {
					return err
				}
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// snapshot is the portable export format
type snapshot struct {
	ExportedAt  time.Time                         `json:"exported_at"`
	Deployments []*types.Deployment               `json:"deployments"`
	Events      map[string][]*PhaseEvent          `json:"events"`
	Rollbacks   map[string][]*types.RollbackAction `json:"rollbacks"`
	Current     map[string]string                 `json:"current"`
}

func (s *BoltStore) Export(w io.Writer) error {
	snap := snapshot{
		ExportedAt: time.Now().UTC(),
		Events:     make(map[string][]*PhaseEvent),
		Rollbacks:  make(map[string][]*types.RollbackAction),
		Current:    make(map[string]string),
	}

	deployments, err := s.ListDeployments()
	if err != nil {
		return err
	}
	snap.Deployments = deployments

	for _, d := range deployments {
		evs, err := s.ListEvents(d.ID)
		if err != nil {
			return err
		}
		if len(evs) > 0 {
			snap.Events[d.ID] = evs
		}
		actions, err := s.ListRollbackActions(d.ID)
		if err != nil {
			return err
		}
		if len(actions) > 0 {
			snap.Rollbacks[d.ID] = actions
		}
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCurrent).ForEach(func(k, v []byte) error {
			snap.Current[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&snap)
}

func (s *BoltStore) Import(r io.Reader) error {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return errdefs.Validation("malformed import file: %v", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		deployments := tx.Bucket(bucketDeployments)
		for _, d := range snap.Deployments {
			data, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if err := deployments.Put([]byte(d.ID), data); err != nil {
				return err
			}
		}

		events := tx.Bucket(bucketEvents)
		for id, evs := range snap.Events {
			b, err := events.CreateBucketIfNotExists([]byte(id))
			if err != nil {
				return err
			}
			for _, ev := range evs {
				data, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				if err := b.Put(seqKey(ev.Seq), data); err != nil {
					return err
				}
				if err := b.SetSequence(ev.Seq); err != nil {
					return err
				}
			}
		}

		rollbacks := tx.Bucket(bucketRollbacks)
		for id, actions := range snap.Rollbacks {
			b, err := rollbacks.CreateBucketIfNotExists([]byte(id))
			if err != nil {
				return err
			}
			for _, a := range actions {
				data, err := json.Marshal(a)
				if err != nil {
					return err
				}
				if err := b.Put(seqKey(uint64(a.Index)), data); err != nil {
					return err
				}
				if err := b.SetSequence(uint64(a.Index)); err != nil {
					return err
				}
			}
		}

		current := tx.Bucket(bucketCurrent)
		for k, v := range snap.Current {
			if err := current.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
