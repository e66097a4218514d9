package contextvar_test

import (
	"testing"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/seantiz/gantry/internal/contextvar"
)

func newTestStore(t *testing.T, ttl time.Duration) *contextvar.LevelStore {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("leveldb.Open: %v", err)
	}
	s := contextvar.New(db, ttl)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScopeSetGet(t *testing.T) {
	s := newTestStore(t, 0)
	sc := s.Scope("wf-1")

	if _, ok, err := sc.Get("x"); err != nil || ok {
		t.Fatalf("Get unset = ok %v, err %v", ok, err)
	}
	if err := sc.Set("x", "catalog://abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := sc.Get("x")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if v != "catalog://abc" {
		t.Errorf("value = %q, want %q", v, "catalog://abc")
	}

	if err := sc.Set("x", "catalog://def"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, _, _ = sc.Get("x")
	if v != "catalog://def" {
		t.Errorf("value after overwrite = %q", v)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	s := newTestStore(t, 0)
	if err := s.Scope("wf-1").Set("x", "one"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := s.Scope("wf-2").Get("x"); ok {
		t.Error("variable leaked into another scope")
	}

	// A scope whose ID prefixes another must not see its variables.
	if err := s.Scope("wf-10").Set("y", "ten"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	all, err := s.Scope("wf-1").All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all["x"] != "one" {
		t.Errorf("All = %v, want only x", all)
	}
}

func TestSlashesDoNotCrossScopes(t *testing.T) {
	s := newTestStore(t, 0)
	if err := s.Scope("a").Set("b/c", "from a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Scope("a/b").Set("c", "from a/b"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if v, _, _ := s.Scope("a").Get("b/c"); v != "from a" {
		t.Errorf("a: b/c = %q, want %q", v, "from a")
	}
	if v, _, _ := s.Scope("a/b").Get("c"); v != "from a/b" {
		t.Errorf("a/b: c = %q, want %q", v, "from a/b")
	}
	all, err := s.Scope("a").All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all["b/c"] != "from a" {
		t.Errorf("All(a) = %v, want only b/c", all)
	}
}

func TestExpiry(t *testing.T) {
	s := newTestStore(t, time.Millisecond)
	sc := s.Scope("wf-1")
	if err := sc.Set("x", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, ok, _ := sc.Get("x"); ok {
		t.Error("expired variable still readable")
	}

	n, err := s.Sweep(time.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if n, _ := s.Sweep(time.Now()); n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}
}

func TestSweepKeepsLiveEntries(t *testing.T) {
	s := newTestStore(t, 0)
	if err := s.Scope("wf-1").Set("x", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	n, err := s.Sweep(time.Now().Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("swept = %d, want 0 for entries without TTL", n)
	}
}
