package devstore

import (
	"errors"
	"path/filepath"
	"regexp"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreCreateMintsValidID(t *testing.T) {
	store := newTestStore(t)

	record, err := store.Create("rooms", map[string]any{"room_code": "ABC123"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	id, _ := record["id"].(string)
	if !regexp.MustCompile(`^[a-z0-9]{15}$`).MatchString(id) {
		t.Errorf("minted id %q does not match the record id format", id)
	}
	if record["room_code"] != "ABC123" {
		t.Errorf("room_code = %v, want ABC123", record["room_code"])
	}
}

func TestStoreCreateDoesNotMutateInput(t *testing.T) {
	store := newTestStore(t)

	fields := map[string]any{"room_code": "ABC123"}
	if _, err := store.Create("rooms", fields); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := fields["id"]; ok {
		t.Error("Create wrote the minted id back into the caller's map")
	}
}

func TestStoreUnknownCollection(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Create("widgets", map[string]any{}); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("Create(widgets) error = %v, want ErrUnknownCollection", err)
	}
	if _, err := store.List("widgets", nil); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("List(widgets) error = %v, want ErrUnknownCollection", err)
	}
}

func TestStoreGetUpdateDelete(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create("rooms", map[string]any{
		"room_code": "ABC123",
		"status":    "voting",
		"round_no":  1.0,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := created["id"].(string)

	got, err := store.Get("rooms", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["status"] != "voting" {
		t.Errorf("status = %v, want voting", got["status"])
	}

	updated, err := store.Update("rooms", id, map[string]any{
		"status": "revealed",
		"id":     "attempted-rewrite",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated["status"] != "revealed" {
		t.Errorf("status after update = %v, want revealed", updated["status"])
	}
	if updated["round_no"] != 1.0 {
		t.Errorf("round_no after partial update = %v, want 1", updated["round_no"])
	}
	if updated["id"] != id {
		t.Errorf("id after update = %v, want %v (immutable)", updated["id"], id)
	}

	deleted, err := store.Delete("rooms", id)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted["id"] != id {
		t.Errorf("deleted record id = %v, want %v", deleted["id"], id)
	}

	if _, err := store.Get("rooms", id); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Get after delete error = %v, want ErrRecordNotFound", err)
	}
	if _, err := store.Update("rooms", id, map[string]any{}); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Update after delete error = %v, want ErrRecordNotFound", err)
	}
	if _, err := store.Delete("rooms", id); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("second Delete error = %v, want ErrRecordNotFound", err)
	}
}

func TestStoreListWithFilter(t *testing.T) {
	store := newTestStore(t)

	roomA, _ := store.Create("rooms", map[string]any{"room_code": "AAAA11"})
	store.Create("rooms", map[string]any{"room_code": "BBBB22"})

	for _, nick := range []string{"Alice", "Bob"} {
		if _, err := store.Create("participants", map[string]any{
			"room_id":  roomA["id"],
			"nickname": nick,
		}); err != nil {
			t.Fatalf("Create participant: %v", err)
		}
	}
	if _, err := store.Create("participants", map[string]any{
		"room_id":  "otherroom000000",
		"nickname": "Carol",
	}); err != nil {
		t.Fatalf("Create participant: %v", err)
	}

	all, err := store.List("participants", nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered list returned %d records, want 3", len(all))
	}

	filtered, err := store.List("participants", &Filter{Field: "room_id", Value: roomA["id"].(string)})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("filtered list returned %d records, want 2", len(filtered))
	}
	// Insertion order is preserved.
	if filtered[0]["nickname"] != "Alice" || filtered[1]["nickname"] != "Bob" {
		t.Errorf("filtered list out of order: %v", filtered)
	}

	empty, err := store.List("votes", nil)
	if err != nil {
		t.Fatalf("List votes: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty collection list = %v, want non-nil empty slice", empty)
	}
}
