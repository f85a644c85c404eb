package kv

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"sqlite": sq, "memory": NewMemory()}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := st.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("expected absent key, ok=%v err=%v", ok, err)
			}
			if err := st.Set(ctx, "note:2025-01-01", []byte("hello")); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := st.Set(ctx, "note:2025-01-01", []byte("again")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			v, ok, err := st.Get(ctx, "note:2025-01-01")
			if err != nil || !ok || !bytes.Equal(v, []byte("again")) {
				t.Fatalf("unexpected get %q ok=%v err=%v", v, ok, err)
			}
			if err := st.Delete(ctx, "note:2025-01-01"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := st.Get(ctx, "note:2025-01-01"); ok {
				t.Fatalf("expected key deleted")
			}
			if err := st.Ping(ctx); err != nil {
				t.Fatalf("ping: %v", err)
			}
		})
	}
}

func TestSetManyAndMultiDelete(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := st.SetMany(ctx, map[string][]byte{
				"contacts:database":  []byte(`[]`),
				"contacts:last_sync": []byte(`"2025-01-01T00:00:00Z"`),
			})
			if err != nil {
				t.Fatalf("set many: %v", err)
			}
			var last string
			ok, err := GetJSON(ctx, st, "contacts:last_sync", &last)
			if err != nil || !ok || last != "2025-01-01T00:00:00Z" {
				t.Fatalf("unexpected last sync %q ok=%v err=%v", last, ok, err)
			}
			if err := st.Delete(ctx, "contacts:database", "contacts:last_sync"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			for _, k := range []string{"contacts:database", "contacts:last_sync"} {
				if _, ok, _ := st.Get(ctx, k); ok {
					t.Fatalf("expected %s deleted", k)
				}
			}
		})
	}
}

func TestGetJSONDecodeFailureIsPersistence(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()
	_ = st.Set(ctx, "contacts:database", []byte("not json"))
	var v []string
	if _, err := GetJSON(ctx, st, "contacts:database", &v); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	st := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := st.Set(ctx, "k", []byte("v")); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	st, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := st.Set(ctx, "note:2025-02-02", []byte("kept")); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	st, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	v, ok, err := st.Get(ctx, "note:2025-02-02")
	if err != nil || !ok || string(v) != "kept" {
		t.Fatalf("value lost across reopen: %q ok=%v err=%v", v, ok, err)
	}
}
