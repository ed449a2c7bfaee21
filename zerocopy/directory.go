// File: zerocopy/directory.go
// Directory resolves a connection name to a single *Connection mapping
// within this process, backing each by a real shmseg segment so an
// unrelated process asking for the same name rendezvous on the same
// shared memory (spec §3 "built by name in a directory-like
// namespace... both endpoints open by name", §6: "Connections:
// iox2_<publisher-id>_<subscriber-id>.connection (shared memory)").
// Whichever side (publisher or subscriber, client or server) asks for
// a name first wins shmseg's create race; every later asker, in this
// process or another, opens and verifies against the winner's
// published params.
// License: Apache-2.0
package zerocopy

import (
	"sync"
	"time"
)

// defaultOpenTimeout bounds how long a late asker waits for the
// winning side's create to finish publishing (mirrors
// config.Config.OpenTimeout's default).
const defaultOpenTimeout = 5 * time.Second

// Directory is a name-keyed cache of this process's connection
// mappings, safe for concurrent GetOrCreate from multiple ports.
type Directory struct {
	mu     sync.Mutex
	byName map[string]*Connection
}

// NewDirectory constructs an empty connection directory.
func NewDirectory() *Directory {
	return &Directory{byName: make(map[string]*Connection)}
}

// GetOrCreate returns this process's existing mapping for name, or
// opens/creates the shmseg-backed connection if none exists yet. A
// second caller requesting the same name with incompatible params gets
// an error from the underlying Open's VerifyCompatible check (spec
// §4.3's opener-parameter-mismatch errors) rather than a cached
// instance that silently disagrees.
func (d *Directory) GetOrCreate(name string, params Params) (*Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.byName[name]; ok {
		return c, nil
	}
	c, err := OpenOrCreate(name, params, defaultOpenTimeout)
	if err != nil {
		return nil, err
	}
	d.byName[name] = c
	return c, nil
}

// Remove drops name from the directory and releases this process's
// mapping of its segment (used once both peers have dropped a
// connection and its resources are reclaimed).
func (d *Directory) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byName[name]
	if !ok {
		return nil
	}
	delete(d.byName, name)
	return c.Close()
}

// Lookup returns the connection registered under name, if any.
func (d *Directory) Lookup(name string) (*Connection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byName[name]
	return c, ok
}
