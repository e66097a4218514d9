// Package contextvar stores named values shared between the tasks of one
// workflow. Each workflow gets its own scope; variables written by one task
// are read back by downstream tasks as input bindings.
package contextvar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Variables is the view a task has of its workflow scope.
type Variables interface {
	Get(name string) (string, bool, error)
	Set(name, value string) error
}

var _ Variables = (*Scope)(nil)

type entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// LevelStore keeps context variables in a LevelDB database. Entries expire
// after the configured TTL; a zero TTL keeps them forever.
type LevelStore struct {
	db  *leveldb.DB
	ttl time.Duration
	mu  sync.RWMutex
}

// Open opens or creates the store at path.
func Open(path string, ttl time.Duration) (*LevelStore, error) {
	opts := &opt.Options{
		CompactionTableSize: 2 * 1024 * 1024,
		WriteBuffer:         1 * 1024 * 1024,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open context store: %w", err)
	}
	return New(db, ttl), nil
}

// New wraps an open database.
func New(db *leveldb.DB, ttl time.Duration) *LevelStore {
	return &LevelStore{db: db, ttl: ttl}
}

// Close closes the underlying database.
func (s *LevelStore) Close() error {
	return s.db.Close()
}

// Scope returns the variables of one workflow scope. Keys are
// <len(id)>:<id>/<name>, so no scope ID and variable name pair can collide
// with another even when either contains a slash.
func (s *LevelStore) Scope(id string) *Scope {
	return &Scope{s: s, prefix: strconv.Itoa(len(id)) + ":" + id + "/"}
}

// Sweep deletes expired entries and reports how many were removed.
func (s *LevelStore) Sweep(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter := s.db.NewIterator(nil, nil)
	var expired [][]byte
	for iter.Next() {
		var e entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if e.expired(now) {
			expired = append(expired, append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("sweep context store: %w", err)
	}

	batch := new(leveldb.Batch)
	for _, k := range expired {
		batch.Delete(k)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("sweep context store: %w", err)
	}
	return len(expired), nil
}

func (e entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Scope is a namespaced view of a LevelStore.
type Scope struct {
	s      *LevelStore
	prefix string
}

// Get returns the value of name and whether it is set. Expired values read
// as unset.
func (sc *Scope) Get(name string) (string, bool, error) {
	sc.s.mu.RLock()
	defer sc.s.mu.RUnlock()

	data, err := sc.s.db.Get([]byte(sc.prefix+name), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get context variable %q: %w", name, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", false, fmt.Errorf("decode context variable %q: %w", name, err)
	}
	if e.expired(time.Now()) {
		return "", false, nil
	}
	return e.Value, true, nil
}

// Set stores value under name, replacing any previous value.
func (sc *Scope) Set(name, value string) error {
	e := entry{Value: value}
	if sc.s.ttl > 0 {
		e.ExpiresAt = time.Now().Add(sc.s.ttl)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode context variable %q: %w", name, err)
	}

	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	if err := sc.s.db.Put([]byte(sc.prefix+name), data, nil); err != nil {
		return fmt.Errorf("set context variable %q: %w", name, err)
	}
	return nil
}

// All returns every live variable in the scope.
func (sc *Scope) All() (map[string]string, error) {
	sc.s.mu.RLock()
	defer sc.s.mu.RUnlock()

	now := time.Now()
	vars := make(map[string]string)
	iter := sc.s.db.NewIterator(util.BytesPrefix([]byte(sc.prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var e entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil || e.expired(now) {
			continue
		}
		vars[strings.TrimPrefix(string(iter.Key()), sc.prefix)] = e.Value
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list context variables: %w", err)
	}
	return vars, nil
}
