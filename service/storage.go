// File: service/storage.go
// Static storage directory: one file per service descriptor, published
// atomically via write-to-temp-then-rename (POSIX rename is atomic
// within a filesystem), which is this port's realization of spec §3/§6's
// two-phase "initializing"→"ready" protocol for the *static* descriptor
// — the dynamic registry (registry.go) is the part that genuinely lives
// in shared memory.
//
// Grounded on original_source/iceoryx2-cal/src/static_storage/mod.rs's
// create/create_locked/open state machine, adapted from a raw shm
// segment (which the Rust original uses even for static storage) to a
// plain file because a descriptor, once published, is read-only and
// small — exactly the case POSIX rename-atomicity already solves without
// needing a second mmap'd object per service.
// License: Apache-2.0
package service

import (
	"os"
	"path/filepath"
	"time"

	"github.com/momentics/shmipc/ipcerr"
)

const fileSuffix = ".service"

func servicePath(dir, name string) string {
	return filepath.Join(dir, "iox2_"+name+fileSuffix)
}

// Create publishes a new descriptor. Fails with CodeServiceAlreadyExists
// if name already has a descriptor in dir.
func Create(dir string, d Descriptor) error {
	const op = "service.Create"
	path := servicePath(dir, d.Name)
	if _, err := os.Stat(path); err == nil {
		return ipcerr.New(ipcerr.CodeServiceAlreadyExists, op).With("name", d.Name)
	}
	return publishAtomic(path, d)
}

// Open reads an existing descriptor and validates it against want: the
// pattern and all three type descriptors must be compatible (spec
// §4.5's "Type compatibility rule"), and every attribute in want must
// be present in stored with the same key and value
// (CodeIncompatibleAttributes otherwise).
func Open(dir string, name string, want Descriptor) (Descriptor, error) {
	const op = "service.Open"
	path := servicePath(dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, ipcerr.Wrap(ipcerr.CodeServiceDoesNotExist, op, err).With("name", name)
		}
		return Descriptor{}, ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err).With("name", name)
	}
	var stored Descriptor
	if err := stored.UnmarshalBinary(raw); err != nil {
		return Descriptor{}, err
	}
	if want.Pattern != 0 && want.Pattern != stored.Pattern {
		return Descriptor{}, ipcerr.New(ipcerr.CodeIncompatibleMessagingPattern, op).
			With("name", name).With("want", want.Pattern.String()).With("got", stored.Pattern.String())
	}
	for _, a := range want.Attributes {
		found := false
		for _, s := range stored.Attributes {
			if s.Key == a.Key && s.Value == a.Value {
				found = true
				break
			}
		}
		if !found {
			return Descriptor{}, ipcerr.New(ipcerr.CodeIncompatibleAttributes, op).
				With("name", name).With("key", a.Key)
		}
	}
	if !typesRequested(want) {
		return stored, nil
	}
	if !want.SystemHeader.Compatible(stored.SystemHeader) ||
		!want.UserHeader.Compatible(stored.UserHeader) ||
		!want.Payload.Compatible(stored.Payload) {
		return Descriptor{}, ipcerr.New(ipcerr.CodeIncompatibleTypes, op).With("name", name)
	}
	return stored, nil
}

func typesRequested(want Descriptor) bool {
	return want.SystemHeader.TypeName != "" || want.UserHeader.TypeName != "" || want.Payload.TypeName != ""
}

// OpenOrCreate races an open against a create: the first caller to win
// publishes d; the other observes CodeServiceAlreadyExists and falls
// back to Open, waiting up to timeout for the winner's rename to land.
func OpenOrCreate(dir string, d Descriptor, timeout time.Duration) (Descriptor, error) {
	if err := Create(dir, d); err == nil {
		return d, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		stored, err := Open(dir, d.Name, d)
		if err == nil {
			return stored, nil
		}
		if !ipcerr.Is(err, ipcerr.CodeServiceDoesNotExist) || time.Now().After(deadline) {
			return Descriptor{}, err
		}
		time.Sleep(time.Millisecond)
	}
}

func publishAtomic(path string, d Descriptor) error {
	const op = "service.publishAtomic"
	raw, err := d.MarshalBinary()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}
	return nil
}

// Remove deletes a service's static descriptor file. A missing file is
// not an error.
func Remove(dir, name string) error {
	err := os.Remove(servicePath(dir, name))
	if err != nil && !os.IsNotExist(err) {
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, "service.Remove", err)
	}
	return nil
}
