package entry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	usersBucket   = "users"
	entriesBucket = "groceryEntries"
)

// DB defines the storage operations for grocery entries. Every call is scoped
// to the entries of one subject.
type DB interface {
	// CreateEntry stores a new entry, assigning an ID when none is set
	CreateEntry(ctx context.Context, subject string, entry *Entry) error

	// ListEntries returns all entries of the subject in no particular order
	ListEntries(ctx context.Context, subject string) ([]*Entry, error)

	// UpdateEntry loads the entry, passes it to apply and stores the result in
	// one transaction. Returns ErrNotFound if the id is unknown.
	UpdateEntry(ctx context.Context, subject, id string, apply func(*Entry)) (*Entry, error)

	// DeleteEntry removes the entry. Returns ErrNotFound if the id is unknown.
	DeleteEntry(ctx context.Context, subject, id string) error

	// Close closes the database connection
	Close() error
}

func newID() string {
	return uuid.NewString()
}

// BoltDB implements DB using BoltDB. Entries live under
// users/<subject>/groceryEntries/<id> as JSON.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database file at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(usersBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// entries returns the subject's entry bucket, or nil if the subject has never written
func entries(tx *bbolt.Tx, subject string) *bbolt.Bucket {
	user := tx.Bucket([]byte(usersBucket)).Bucket([]byte(subject))
	if user == nil {
		return nil
	}
	return user.Bucket([]byte(entriesBucket))
}

func putEntry(bucket *bbolt.Bucket, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}
	return bucket.Put([]byte(entry.ID), data)
}

// CreateEntry saves a new entry for the subject
func (b *BoltDB) CreateEntry(_ context.Context, subject string, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		user, err := tx.Bucket([]byte(usersBucket)).CreateBucketIfNotExists([]byte(subject))
		if err != nil {
			return fmt.Errorf("creating user bucket: %w", err)
		}
		bucket, err := user.CreateBucketIfNotExists([]byte(entriesBucket))
		if err != nil {
			return fmt.Errorf("creating entries bucket: %w", err)
		}
		return putEntry(bucket, entry)
	})
}

// ListEntries returns all entries of the subject
func (b *BoltDB) ListEntries(_ context.Context, subject string) ([]*Entry, error) {
	list := make([]*Entry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := entries(tx, subject)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry %s: %w", k, err)
			}
			list = append(list, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateEntry applies a change to an existing entry
func (b *BoltDB) UpdateEntry(_ context.Context, subject, id string, apply func(*Entry)) (*Entry, error) {
	var updated *Entry
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := entries(tx, subject)
		if bucket == nil {
			return ErrNotFound
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("unmarshaling entry %s: %w", id, err)
		}
		apply(&entry)
		entry.ID = id
		updated = &entry
		return putEntry(bucket, &entry)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteEntry removes an entry of the subject
func (b *BoltDB) DeleteEntry(_ context.Context, subject, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := entries(tx, subject)
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
