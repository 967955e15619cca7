package kv

import (
	"context"
	"errors"
	"testing"
)

func newBadgerStore(t *testing.T) Store {
	t.Helper()
	s, err := NewBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"badger": newBadgerStore(t),
		"memory": NewMemory(),
	}
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := Key{"halo", "hora_envio"}

			if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := s.Set(ctx, key, []byte("a")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, key, []byte("b")); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, err := s.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != "b" {
				t.Errorf("Get = %q, want b", got)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
			// Deleting a missing key is not an error.
			if err := s.Delete(ctx, Key{"halo", "missing"}); err != nil {
				t.Errorf("Delete missing: %v", err)
			}
		})
	}
}

func TestPutLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := Put(ctx, s, Key{"halo", "muestreo_ms"}, uint32(5000)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			var ms uint32
			if err := Load(ctx, s, Key{"halo", "muestreo_ms"}, &ms); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if ms != 5000 {
				t.Errorf("ms = %d, want 5000", ms)
			}

			var missing string
			if err := Load(ctx, s, Key{"halo", "nope"}, &missing); !errors.Is(err, ErrNotFound) {
				t.Errorf("Load missing: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestBatchSet(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e1, err := Encode(Key{"hx711_cal", "offset"}, int32(-8123))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			e2, err := Encode(Key{"hx711_cal", "scale"}, float32(421.5))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if err := s.BatchSet(ctx, []Entry{e1, e2}); err != nil {
				t.Fatalf("BatchSet: %v", err)
			}

			var off int32
			var scale float32
			if err := Load(ctx, s, Key{"hx711_cal", "offset"}, &off); err != nil {
				t.Fatalf("Load offset: %v", err)
			}
			if err := Load(ctx, s, Key{"hx711_cal", "scale"}, &scale); err != nil {
				t.Fatalf("Load scale: %v", err)
			}
			if off != -8123 || scale != 421.5 {
				t.Errorf("got offset=%d scale=%v", off, scale)
			}
		})
	}
}

func TestBadgerRequiresDir(t *testing.T) {
	if _, err := NewBadger(BadgerOptions{}); err == nil {
		t.Fatal("expected error for missing Dir")
	}
}

func TestBadgerOnDiskPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewBadger(BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	if err := Put(ctx, s, Key{"halo", "ultima_muestra"}, uint32(42)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := NewBadger(BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	var n uint32
	if err := Load(ctx, s2, Key{"halo", "ultima_muestra"}, &n); err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if n != 42 {
		t.Errorf("n = %d, want 42", n)
	}
}

func TestMemorySetError(t *testing.T) {
	m := NewMemory()
	m.SetError = errors.New("card removed")
	if err := m.Set(context.Background(), Key{"a"}, nil); err == nil {
		t.Fatal("expected SetError")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}
