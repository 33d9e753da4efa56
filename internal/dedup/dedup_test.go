package dedup

import "testing"

func TestSeenOrRemember_FirstSightingIsNotSeen(t *testing.T) {
	w := NewWindow(4)
	if w.SeenOrRemember("a") {
		t.Fatal("first sighting of an id must not be reported as seen")
	}
}

func TestSeenOrRemember_RepeatIsSeen(t *testing.T) {
	w := NewWindow(4)
	w.SeenOrRemember("a")
	if !w.SeenOrRemember("a") {
		t.Fatal("repeated id must be reported as seen")
	}
}

func TestSeenOrRemember_EvictsOldestBeyondCapacity(t *testing.T) {
	w := NewWindow(2)
	w.SeenOrRemember("a")
	w.SeenOrRemember("b")
	w.SeenOrRemember("c") // evicts "a"

	if w.SeenOrRemember("a") {
		t.Fatal("evicted id should be treated as unseen again")
	}
}
