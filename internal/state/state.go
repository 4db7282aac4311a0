// Package state persists per-document sync records across restarts.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.kbsync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	recordsBucket  = []byte("records")
	declaredBucket = []byte("declared")
)

// SyncRecord is the persisted state of one synced document, keyed by its
// local identity (corpus-relative path).
type SyncRecord struct {
	// RemoteID is the document id returned by the knowledge base on
	// upload. Empty means never uploaded.
	RemoteID string `json:"remote_id"`

	// Fingerprint is the content hash of the last uploaded (transformed)
	// text.
	Fingerprint string `json:"fingerprint"`

	// SourceModifiedAt is the local modification time (unix milli) of the
	// source at last upload, used to skip re-reading unchanged content.
	SourceModifiedAt int64 `json:"source_modified_at"`

	// Memberships are the collection names the remote document was
	// confirmed attached to. May transiently lag reality after partial
	// attach failures; the next pass converges it.
	Memberships []string `json:"memberships"`
}

// Store wraps a bbolt database holding sync records and the last-declared
// membership snapshots. Writes are atomic per document identity.
type Store struct {
	db *bolt.DB
}

// Load opens the state database at ~/.kbsync/state.db, creating it if it
// does not exist.
func Load() (*Store, error) {
	return LoadAt(dbPath())
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(declaredBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the sync record for a document identity, or nil if the
// document has never been synced.
func (s *Store) Get(id string) (*SyncRecord, error) {
	var rec *SyncRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordsBucket).Get([]byte(id))
		if v == nil {
			return nil
		}

		rec = &SyncRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// Put persists the sync record for a document identity.
func (s *Store) Put(id string, rec SyncRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return tx.Bucket(recordsBucket).Put([]byte(id), data)
	})
}

// Delete removes the sync record for a document identity.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete([]byte(id))
	})
}

// AllIDs returns every document identity that has a sync record.
func (s *Store) AllIDs() ([]string, error) {
	var ids []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})

	return ids, err
}

// Declared returns the last-declared membership snapshot for a document,
// or nil if none was recorded. The snapshot only short-circuits membership
// diffing; the fresh extraction is always authoritative.
func (s *Store) Declared(id string) ([]string, error) {
	var names []string

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(declaredBucket).Get([]byte(id))
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &names)
	})

	return names, err
}

// SetDeclared persists the declared membership snapshot for a document.
func (s *Store) SetDeclared(id string, names []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(names)
		if err != nil {
			return err
		}

		return tx.Bucket(declaredBucket).Put([]byte(id), data)
	})
}

// DeleteDeclared removes the declared membership snapshot for a document.
func (s *Store) DeleteDeclared(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(declaredBucket).Delete([]byte(id))
	})
}

func dbPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail loudly rather than silently writing to the current directory
		// where the database might end up with wrong permissions or inside
		// a source-controlled tree.
		fmt.Fprintf(os.Stderr, "fatal: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}

	return filepath.Join(dir, ".kbsync", "state.db")
}
