// File: event/directory.go
// Directory resolves a channel name to a single shared *Channel
// instance, the event-package analogue of zerocopy.Directory — see its
// doc comment and DESIGN.md's event-channel note for why Channel state
// is process-local in this port.
// License: Apache-2.0
package event

import "sync"

// Directory is a name-keyed registry of event channels.
type Directory struct {
	mu     sync.Mutex
	byName map[string]*Channel
}

// NewDirectory constructs an empty channel directory.
func NewDirectory() *Directory {
	return &Directory{byName: make(map[string]*Channel)}
}

// GetOrCreate returns the channel registered under name, constructing
// one with the given bitset capacity if none exists yet.
func (d *Directory) GetOrCreate(name string, capacity int) (*Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.byName[name]; ok {
		return c, nil
	}
	c, err := NewChannel(capacity)
	if err != nil {
		return nil, err
	}
	d.byName[name] = c
	return c, nil
}

// Remove drops name from the directory.
func (d *Directory) Remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byName, name)
}

// Lookup returns the channel registered under name, if any, without
// creating one.
func (d *Directory) Lookup(name string) (*Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byName[name]
	return c, ok
}
