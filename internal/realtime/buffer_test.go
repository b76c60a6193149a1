package realtime

import "testing"

func TestRing_BasicAppendItems(t *testing.T) {
	r := NewRing[int](10)

	for i := 0; i < 5; i++ {
		if evicted := r.Append(i); evicted {
			t.Errorf("Append(%d) evicted below capacity", i)
		}
	}

	if r.Len() != 5 {
		t.Errorf("Len() = %d, want 5", r.Len())
	}

	items := r.Items()
	for i, v := range items {
		if v != i {
			t.Errorf("Items()[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestRing_EvictsOldestFirst(t *testing.T) {
	r := NewRing[int](3)

	for i := 0; i < 7; i++ {
		r.Append(i)
	}

	if r.Len() != 3 {
		t.Errorf("Len() = %d, want capacity 3", r.Len())
	}

	items := r.Items()
	want := []int{4, 5, 6}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("Items() = %v, want %v", items, want)
			break
		}
	}
}

func TestRing_NeverExceedsCapacity(t *testing.T) {
	r := NewRing[int](8)

	for i := 0; i < 1000; i++ {
		r.Append(i)
		if r.Len() > r.Cap() {
			t.Fatalf("Len() = %d exceeds Cap() = %d", r.Len(), r.Cap())
		}
	}
}

func TestRing_Latest(t *testing.T) {
	r := NewRing[string](2)

	if _, ok := r.Latest(); ok {
		t.Error("Latest() on empty ring should report false")
	}

	r.Append("a")
	r.Append("b")
	r.Append("c")

	v, ok := r.Latest()
	if !ok || v != "c" {
		t.Errorf("Latest() = %q, %v, want %q, true", v, ok, "c")
	}
}

func TestRing_Stats(t *testing.T) {
	r := NewRing[int](2)

	for i := 0; i < 5; i++ {
		r.Append(i)
	}

	stats := r.Stats()
	if stats.TotalReceived != 5 {
		t.Errorf("TotalReceived = %d, want 5", stats.TotalReceived)
	}
	if stats.TotalEvicted != 3 {
		t.Errorf("TotalEvicted = %d, want 3", stats.TotalEvicted)
	}
	if stats.Count != 2 || stats.Capacity != 2 {
		t.Errorf("Count/Capacity = %d/%d, want 2/2", stats.Count, stats.Capacity)
	}
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	r.Append(1)
	r.Append(2)

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if v, _ := r.Latest(); v != 2 {
		t.Errorf("Latest() = %d, want 2", v)
	}
}
