package event

import "testing"

func TestEventDirectory_GetOrCreateReturnsSameInstance(t *testing.T) {
	d := NewDirectory()
	a, err := d.GetOrCreate("notifier_listener", 8)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	defer a.Close()

	b, err := d.GetOrCreate("notifier_listener", 8)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a != b {
		t.Fatal("expected the second GetOrCreate for the same name to return the identical channel")
	}
}

func TestEventDirectory_RemoveDropsTheEntry(t *testing.T) {
	d := NewDirectory()
	c, err := d.GetOrCreate("x_y", 8)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	defer c.Close()

	d.Remove("x_y")
	again, err := d.GetOrCreate("x_y", 8)
	if err != nil {
		t.Fatalf("GetOrCreate after Remove: %v", err)
	}
	defer again.Close()

	if again == c {
		t.Fatal("expected a fresh channel after Remove")
	}
}
