// Package store persists projects, memberships, tasks and comments in BadgerDB.
//
// Keys:
//
//	project:{id}                          project record
//	member:{projectID}:{userID}           membership record
//	membership:{userID}:{projectID}       reverse index, empty value
//	task:{id}                             task record
//	project-task:{projectID}:{taskID}     project index, empty value
//	comment:{taskID}:{unixnano}:{id}      comment record, chronological
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"taskboard-sync/domain"
)

type Store struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func New(db *badger.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Open opens a Badger database at path, or an in-memory one when path is empty.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	db, err := badger.Open(opts.WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

func newID() string {
	return uuid.NewString()
}

func projectKey(id string) []byte { return []byte("project:" + id) }
func taskKey(id string) []byte    { return []byte("task:" + id) }

func memberKey(projectID, userID string) []byte {
	return []byte("member:" + projectID + ":" + userID)
}

func membershipKey(userID, projectID string) []byte {
	return []byte("membership:" + userID + ":" + projectID)
}

func projectTaskKey(projectID, taskID string) []byte {
	return []byte("project-task:" + projectID + ":" + taskID)
}

func commentKey(taskID string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("comment:%s:%019d:%s", taskID, at.UnixNano(), id))
}

func get[T any](txn *badger.Txn, key []byte) (T, error) {
	var v T
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return v, domain.ErrNotFound
	}
	if err != nil {
		return v, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	})
	return v, err
}

func put(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scan calls fn with the key suffix after prefix and the raw value for every
// key under prefix, in key order.
func scan(txn *badger.Txn, prefix string, fn func(suffix string, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		suffix := string(item.Key()[len(prefix):])
		if err := item.Value(func(val []byte) error {
			return fn(suffix, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

func decode[T any](val []byte) (T, error) {
	var v T
	err := json.Unmarshal(val, &v)
	return v, err
}
