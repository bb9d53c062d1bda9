package common

import "testing"

func TestNewULIDIsSortableAndUnique(t *testing.T) {
	prev := ""
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewULID()
		if err != nil {
			t.Fatalf("new ulid: %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("expected 26 chars, got %d", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		if prev != "" && id <= prev {
			t.Fatalf("ids not monotonic: %s then %s", prev, id)
		}
		seen[id] = true
		prev = id
	}
}
