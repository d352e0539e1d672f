package rules

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "rules.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAddListEnableDisableDelete(t *testing.T) {
	s := openStore(t)

	first, err := s.Add("Alice", "likes go")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Add("alice", "works UTC+2")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("ids = %d, %d", first.ID, second.ID)
	}

	// Nick matching is case-insensitive.
	mems, err := s.EnabledMemories(context.Background(), "ALICE")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(mems, []string{"likes go", "works UTC+2"}) {
		t.Fatalf("memories = %v", mems)
	}

	if err := s.SetEnabled("alice", 1, false); err != nil {
		t.Fatal(err)
	}
	mems, _ = s.EnabledMemories(context.Background(), "alice")
	if !reflect.DeepEqual(mems, []string{"works UTC+2"}) {
		t.Fatalf("after disable = %v", mems)
	}
	// Disabled entries are retained.
	if entries := s.List("alice"); len(entries) != 2 {
		t.Fatalf("list = %+v", entries)
	}

	if err := s.Delete("alice", 1); err != nil {
		t.Fatal(err)
	}
	// Ids stay monotone after deletion.
	third, _ := s.Add("alice", "new fact")
	if third.ID != 3 {
		t.Fatalf("id after delete = %d", third.ID)
	}

	if err := s.Delete("alice", 99); err == nil {
		t.Fatal("deleting unknown entry succeeded")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Add("bob", "prefers short answers")

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	mems, _ := reopened.EnabledMemories(context.Background(), "bob")
	if !reflect.DeepEqual(mems, []string{"prefers short answers"}) {
		t.Fatalf("memories = %v", mems)
	}
}

func TestLegacyMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	legacy := `{"Alice": "always answer in haiku", "bob": ""}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	mems, _ := s.EnabledMemories(context.Background(), "alice")
	if !reflect.DeepEqual(mems, []string{"always answer in haiku"}) {
		t.Fatalf("migrated = %v", mems)
	}
	// Empty legacy rules are dropped.
	if entries := s.List("bob"); entries != nil {
		t.Fatalf("bob = %+v", entries)
	}
	// Migration rewrote the file in the new shape.
	s2, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	e, err := s2.Add("alice", "second fact")
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != 2 {
		t.Fatalf("next id after migration = %d", e.ID)
	}
}
