// Package snapshot persists block state blobs to disk with BoltDB, one
// bucket of block-id -> raw Snapshot bytes, so a runtime can be resumed
// after a restart (spec §5, resumability for long workloads).
package snapshot

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/blockengine/pkg/block"
	"github.com/cuemby/blockengine/pkg/metrics"
	bolt "go.etcd.io/bbolt"
)

var bucketBlockState = []byte("block_state")

// Store persists block Snapshot blobs keyed by block id.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a BoltDB file under dataDir holding block state
// snapshots.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "blockengine.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlockState)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create block_state bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes a block's snapshot, overwriting any prior one for the same
// id.
func (s *Store) Put(blockID string, snap block.Snapshot) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlockState)
		return b.Put([]byte(blockID), snap)
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.SnapshotWritesTotal.WithLabelValues(outcome).Inc()
	return err
}

// Get reads a block's snapshot. Returns nil, nil if no snapshot exists
// for the given id yet.
func (s *Store) Get(blockID string) (block.Snapshot, error) {
	var snap block.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlockState)
		data := b.Get([]byte(blockID))
		if data == nil {
			return nil
		}
		snap = append(block.Snapshot(nil), data...)
		return nil
	})
	return snap, err
}

// Delete removes a block's persisted snapshot, if any.
func (s *Store) Delete(blockID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlockState)
		return b.Delete([]byte(blockID))
	})
}

// PutAll persists every block's current GetState() in one pass —
// convenient for periodic checkpointing of an entire runtime.
func PutAll(store *Store, blocks map[string]block.Block) error {
	for id, b := range blocks {
		state := b.GetState()
		if state == nil {
			continue
		}
		if err := store.Put(id, state); err != nil {
			return fmt.Errorf("snapshot block %s: %w", id, err)
		}
	}
	return nil
}

// RestoreAll loads every persisted snapshot into its matching block via
// SetState. Blocks with no stored snapshot are left at their current
// (fresh) state.
func RestoreAll(store *Store, blocks map[string]block.Block) error {
	for id, b := range blocks {
		snap, err := store.Get(id)
		if err != nil {
			return fmt.Errorf("load snapshot for %s: %w", id, err)
		}
		if snap == nil {
			continue
		}
		if err := b.SetState(snap); err != nil {
			return fmt.Errorf("restore state for %s: %w", id, err)
		}
	}
	return nil
}
