package identity

import (
	"context"
	"testing"
)

type memStore struct {
	id string
}

func (m *memStore) AnonSessionID(ctx context.Context) (string, error) { return m.id, nil }
func (m *memStore) SaveAnonSessionID(ctx context.Context, id string) error {
	m.id = id
	return nil
}

func TestNewAnonIDShape(t *testing.T) {
	t.Parallel()

	id, err := NewAnonID()
	if err != nil {
		t.Fatalf("NewAnonID failed: %v", err)
	}
	if !IsValidAnonID(id) {
		t.Errorf("generated id %q does not match the expected shape", id)
	}
}

func TestLoadOrCreateAnonPersists(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	ctx := context.Background()

	first, err := LoadOrCreateAnon(ctx, store, nil)
	if err != nil {
		t.Fatalf("LoadOrCreateAnon failed: %v", err)
	}
	if store.id != first {
		t.Errorf("store holds %q, want %q", store.id, first)
	}

	second, err := LoadOrCreateAnon(ctx, store, nil)
	if err != nil {
		t.Fatalf("second LoadOrCreateAnon failed: %v", err)
	}
	if second != first {
		t.Errorf("identity changed across loads: %q then %q", first, second)
	}
}

func TestLoadOrCreateAnonReplacesCorruptID(t *testing.T) {
	t.Parallel()

	store := &memStore{id: "not-a-session-id"}
	id, err := LoadOrCreateAnon(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("LoadOrCreateAnon failed: %v", err)
	}
	if !IsValidAnonID(id) {
		t.Errorf("replacement id %q is invalid", id)
	}
	if store.id != id {
		t.Errorf("store holds %q, want the replacement id", store.id)
	}
}
