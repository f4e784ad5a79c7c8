// Package history keeps an audit trail of sync runs in a bbolt file.
//
// Two buckets are used: "runs" holds one RunRecord per run keyed by run ID,
// and "skus" holds the most recent SKURecord per identifier. Run IDs are
// UUIDv7 strings, so byte order of the keys is start-time order.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	runsBucket = "runs"
	skusBucket = "skus"
)

// RunRecord summarises one sync run.
type RunRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Bucket     string    `json:"bucket"`
	Prefix     string    `json:"prefix"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     []string  `json:"failed"`
}

// SKURecord is the last known outcome for one identifier.
type SKURecord struct {
	Identifier string    `json:"identifier"`
	Success    bool      `json:"success"`
	LocalPath  string    `json:"local_path,omitempty"`
	RunID      string    `json:"run_id"`
	At         time.Time `json:"at"`
}

// Store wraps a bbolt database holding run history.
type Store struct {
	db *bolt.DB
}

// NewRunID returns a time-ordered run identifier.
func NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}
	return id.String(), nil
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{runsBucket, skusBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores run and updates the per-identifier records in a single
// transaction.
func (s *Store) RecordRun(run RunRecord, skus []SKURecord) error {
	if run.ID == "" {
		return fmt.Errorf("run record has no id")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket([]byte(runsBucket)), run.ID, run); err != nil {
			return err
		}
		b := tx.Bucket([]byte(skusBucket))
		for _, rec := range skus {
			if rec.RunID == "" {
				rec.RunID = run.ID
			}
			if err := putJSON(b, rec.Identifier, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	var runs []RunRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var run RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("failed to unmarshal run %s: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})

	return runs, err
}

// LastOutcome returns the most recent record for identifier. The boolean is
// false when the identifier has never been synced.
func (s *Store) LastOutcome(identifier string) (SKURecord, bool, error) {
	var (
		rec   SKURecord
		found bool
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(skusBucket)).Get([]byte(identifier))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return SKURecord{}, false, fmt.Errorf("failed to read outcome for %s: %w", identifier, err)
	}

	return rec, found, nil
}

func putJSON(b *bolt.Bucket, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return b.Put([]byte(key), data)
}
