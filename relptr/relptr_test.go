package relptr

import "testing"

func TestPointer_InitThenResolveRoundTrip(t *testing.T) {
	p := NewUninit()
	const selfAddr uintptr = 1000
	const targetAddr uintptr = 1064

	p.Init(selfAddr, targetAddr)
	if !p.IsInitialized() {
		t.Fatal("expected IsInitialized to be true after Init")
	}
	if got := p.Resolve(selfAddr); got != targetAddr {
		t.Fatalf("expected Resolve(%d) = %d, got %d", selfAddr, targetAddr, got)
	}
}

func TestPointer_ResolveTracksARelocatedSelfAddr(t *testing.T) {
	p := NewUninit()
	p.Init(1000, 1064) // distance = +64

	// A different process maps the same segment at a different base; the
	// distance carries, not the absolute address.
	if got := p.Resolve(5000); got != 5064 {
		t.Fatalf("expected relocated Resolve(5000) = 5064, got %d", got)
	}
}

func TestPointer_DoubleInitPanics(t *testing.T) {
	p := NewUninit()
	p.Init(100, 200)

	defer func() {
		if recover() == nil {
			t.Fatal("expected a second Init to panic")
		}
	}()
	p.Init(100, 300)
}

func TestPointer_IsInitializedFalseBeforeInit(t *testing.T) {
	p := NewUninit()
	if p.IsInitialized() {
		t.Fatal("expected a fresh Pointer to report uninitialized")
	}
}

func TestPointer_HandlesNegativeDistance(t *testing.T) {
	p := NewUninit()
	p.Init(2000, 1000) // target precedes self
	if got := p.Resolve(2000); got != 1000 {
		t.Fatalf("expected Resolve to handle a negative distance, got %d", got)
	}
}
