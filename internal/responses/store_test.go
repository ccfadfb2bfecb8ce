package responses

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStoreContract(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileStore() error = %v", err)
			}
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLStore(context.Background(), DialectSQLite, filepath.Join(t.TempDir(), "responses.db"), nil)
			if err != nil {
				t.Fatalf("OpenSQLStore() error = %v", err)
			}
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()
			ctx := context.Background()
			id := uuid.NewString()

			if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() before Put error = %v, want ErrNotFound", err)
			}
			if err := store.Put(ctx, id, []byte(`{"data":[1,2,3]}`)); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			got, err := store.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != `{"data":[1,2,3]}` {
				t.Fatalf("Get() = %s", got)
			}

			removed, err := store.Prune(ctx, time.Now().Add(-time.Hour))
			if err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			if removed != 0 {
				t.Fatalf("Prune() removed fresh entry")
			}
			removed, err = store.Prune(ctx, time.Now().Add(time.Hour))
			if err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			if removed != 1 {
				t.Fatalf("Prune() removed %d, want 1", removed)
			}
			if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() after prune error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestFileStoreRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "responses"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secret.json"), []byte(`{}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := store.Get(context.Background(), "../secret"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := store.Put(context.Background(), "../escape", []byte(`{}`)); err == nil {
		t.Fatal("Put() accepted a non-UUID id")
	}
}

func TestMemoryStorePutIsImmutable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Put(ctx, "id", []byte(`1`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, "id", []byte(`2`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, _ := store.Get(ctx, "id")
	if string(got) != "1" {
		t.Fatalf("entry was overwritten: %s", got)
	}
}
