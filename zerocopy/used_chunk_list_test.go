package zerocopy

import "testing"

func freshUsedChunkList(capacity int) *usedChunkList {
	return newUsedChunkList(make([]byte, usedChunkMemSize(capacity)), capacity)
}

func TestUsedChunkList_InsertRemoveRoundTrip(t *testing.T) {
	l := freshUsedChunkList(4)
	if !l.Insert(10) {
		t.Fatal("expected Insert to succeed under capacity")
	}
	if l.Len() != 1 {
		t.Fatalf("expected length 1, got %d", l.Len())
	}
	if !l.Remove(10) {
		t.Fatal("expected Remove to find the inserted offset")
	}
	if l.Len() != 0 {
		t.Fatalf("expected length 0 after Remove, got %d", l.Len())
	}
}

func TestUsedChunkList_RemoveIsIdempotentOnDoubleRelease(t *testing.T) {
	l := freshUsedChunkList(4)
	l.Insert(5)
	if !l.Remove(5) {
		t.Fatal("expected first Remove to succeed")
	}
	if l.Remove(5) {
		t.Fatal("expected a second Remove of the same offset to be a no-op returning false")
	}
}

func TestUsedChunkList_InsertFailsAtCapacity(t *testing.T) {
	l := freshUsedChunkList(2)
	l.Insert(1)
	l.Insert(2)
	if l.Insert(3) {
		t.Fatal("expected Insert beyond capacity to fail")
	}
	if l.Len() != 2 {
		t.Fatalf("expected length to remain 2, got %d", l.Len())
	}
}

func TestUsedChunkList_RemoveFreesASlotForReuse(t *testing.T) {
	l := freshUsedChunkList(4)
	l.Insert(1)
	l.Insert(2)
	l.Insert(3)
	if !l.Remove(1) {
		t.Fatal("expected Remove to find offset 1")
	}
	if l.Len() != 2 {
		t.Fatalf("expected length 2, got %d", l.Len())
	}
	if !l.Remove(2) || !l.Remove(3) {
		t.Fatal("expected remaining offsets 2 and 3 to still be present after the remove")
	}
	if !l.Insert(4) {
		t.Fatal("expected the freed slot to accept a new offset")
	}
}
