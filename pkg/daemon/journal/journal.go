// Package journal provides Badger-backed durable records of every file
// that reached a terminal pipeline state.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key prefixes for different record types.
const (
	prefixUpload  = "u:" // Successful uploads, keyed by completion time
	prefixFailure = "f:" // Failures, keyed by source path
)

// Outcome is the terminal result recorded for a file.
type Outcome string

// Terminal outcomes.
const (
	OutcomeUploaded Outcome = "uploaded"
	OutcomeFailed   Outcome = "failed"
)

// Record describes one file's terminal outcome.
type Record struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	ArchivePath string    `json:"archive_path,omitempty"`
	Size        int64     `json:"size"`
	Attempts    int       `json:"attempts"`
	Outcome     Outcome   `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Journal is the outcome store backed by Badger.
type Journal struct {
	db *badger.DB
}

// Open opens or creates a journal at the given path.
func Open(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's own logging is too chatty for a journal

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordUpload stores a successful upload. The record is stamped with a
// fresh ID and completion time if the caller left them zero.
func (j *Journal) RecordUpload(rec Record) error {
	rec.Outcome = OutcomeUploaded
	stamp(&rec)

	key := fmt.Sprintf("%s%s:%s", prefixUpload, rec.CompletedAt.UTC().Format(time.RFC3339Nano), rec.ID)
	if err := j.put(key, rec); err != nil {
		return err
	}

	// A success supersedes any earlier failure record for the same path,
	// so a restart scan will pick the path up again if it reappears.
	return j.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(prefixFailure + rec.Path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// RecordFailure stores a terminal failure, keyed by the source path so the
// startup scan can skip files an operator has not yet dealt with.
func (j *Journal) RecordFailure(rec Record) error {
	rec.Outcome = OutcomeFailed
	stamp(&rec)
	return j.put(prefixFailure+rec.Path, rec)
}

// ClearFailure removes the failure record for a path. Called when a
// previously failed path is observed changing again, which means the
// producer (or operator) rewrote it.
func (j *Journal) ClearFailure(path string) error {
	return j.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(prefixFailure + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// HasFailure reports whether a terminal failure is recorded for path.
func (j *Journal) HasFailure(path string) (bool, error) {
	found := false
	err := j.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixFailure + path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// ListUploads returns the most recent successful uploads, newest first.
// A limit of zero returns all records.
func (j *Journal) ListUploads(limit int) ([]Record, error) {
	return j.list(prefixUpload, limit, true)
}

// ListFailures returns recorded failures, newest first. A limit of zero
// returns all records.
func (j *Journal) ListFailures(limit int) ([]Record, error) {
	return j.list(prefixFailure, limit, true)
}

// put marshals and stores a record under key.
func (j *Journal) put(key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling journal record: %w", err)
	}

	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// list collects records under a key prefix.
func (j *Journal) list(prefix string, limit int, newestFirst bool) ([]Record, error) {
	var records []Record

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if newestFirst {
		sort.Slice(records, func(i, k int) bool {
			return records[i].CompletedAt.After(records[k].CompletedAt)
		})
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// stamp fills in the ID and completion time if unset.
func stamp(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
}
