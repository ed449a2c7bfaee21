package zerocopy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var dirConnNameCounter atomic.Uint64

func freshDirConnName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("shmipc_test_dir_%d_%d", time.Now().UnixNano(), dirConnNameCounter.Add(1))
}

func TestDirectory_GetOrCreateReturnsSameInstanceForSameName(t *testing.T) {
	d := NewDirectory()
	params := Params{BufferSize: 8, MaxBorrowedSamples: 4}
	name := freshDirConnName(t)

	a, err := d.GetOrCreate(name, params)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	defer d.Remove(name)

	b, err := d.GetOrCreate(name, params)
	if err != nil {
		t.Fatalf("GetOrCreate (second call): %v", err)
	}
	if a != b {
		t.Fatal("expected the second GetOrCreate for the same name to return the identical instance")
	}
}

func TestDirectory_GetOrCreateDistinctNamesAreIndependent(t *testing.T) {
	d := NewDirectory()
	params := Params{BufferSize: 8, MaxBorrowedSamples: 4}
	nameA, nameB := freshDirConnName(t), freshDirConnName(t)

	a, err := d.GetOrCreate(nameA, params)
	if err != nil {
		t.Fatalf("GetOrCreate(a): %v", err)
	}
	defer d.Remove(nameA)

	b, err := d.GetOrCreate(nameB, params)
	if err != nil {
		t.Fatalf("GetOrCreate(b): %v", err)
	}
	defer d.Remove(nameB)

	if a == b {
		t.Fatal("expected distinct names to yield distinct connections")
	}
}

func TestDirectory_LookupAndRemove(t *testing.T) {
	d := NewDirectory()
	params := Params{BufferSize: 4, MaxBorrowedSamples: 2}
	name := freshDirConnName(t)

	if _, ok := d.Lookup("missing-" + name); ok {
		t.Fatal("expected Lookup to fail before any GetOrCreate")
	}

	if _, err := d.GetOrCreate(name, params); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, ok := d.Lookup(name); !ok {
		t.Fatal("expected Lookup to find a previously created connection")
	}

	if err := d.Remove(name); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := d.Lookup(name); ok {
		t.Fatal("expected Lookup to fail after Remove")
	}
}

func TestDirectory_ConcurrentGetOrCreateConverges(t *testing.T) {
	d := NewDirectory()
	params := Params{BufferSize: 8, MaxBorrowedSamples: 4}
	name := freshDirConnName(t)

	const n = 32
	results := make([]*Connection, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.GetOrCreate(name, params)
		}(i)
	}
	wg.Wait()
	defer d.Remove(name)

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("GetOrCreate goroutine %d: %v", i, errs[i])
		}
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatal("expected all concurrent GetOrCreate callers to converge on one instance")
		}
	}
}
