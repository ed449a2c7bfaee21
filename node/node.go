// File: node/node.go
// Package node implements process-scoped Node lifecycle (spec §4.5
// "Node creation", "Dead-node detection and cleanup"): a unique ID, a
// liveness token backed by an OS advisory file lock, a persisted record
// of services touched, and dead-node classification/cleanup driven from
// a node registry directory.
//
// Grounded on internal/session/store.go's sharded-manager shape,
// generalized from per-connection sessions to per-process nodes, and on
// original_source/iceoryx2-cal/src/static_storage/mod.rs's
// create/open state machine for the record file. The liveness token has
// no teacher equivalent; github.com/gofrs/flock is chosen because
// TryLock gives exactly the "can another process forcibly acquire it
// without blocking" test spec §4.5 asks for.
// License: Apache-2.0
package node

import (
	"sync"

	"github.com/gofrs/flock"

	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/ipcerr"
	"github.com/momentics/shmipc/logsink"
)

// Node is a process-scoped handle: a unique ID plus an exclusive
// advisory lock on its own liveness file, held for the node's entire
// lifetime.
type Node struct {
	id  ids.ID
	dir string

	lock *flock.Flock

	mu       sync.Mutex
	services map[string]struct{}

	log logsink.Sink
}

// ID returns this node's unique ID.
func (n *Node) ID() ids.ID { return n.id }

// New creates a node registry record in dir and acquires this process's
// liveness token. dir is created if missing.
func New(dir string, log logsink.Sink) (*Node, error) {
	const op = "node.New"
	if log == nil {
		log = logsink.Default()
	}
	if err := ensureDir(dir); err != nil {
		return nil, ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err)
	}

	id := ids.New()
	lock := flock.New(livenessPath(dir, id))
	got, err := lock.TryLock()
	if err != nil {
		return nil, ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err).With("id", id.String())
	}
	if !got {
		// A fresh random ID is already locked: vanishingly unlikely, but
		// fail loudly rather than silently sharing another node's token.
		return nil, ipcerr.New(ipcerr.CodeAnotherInstanceIsAlreadyConnected, op).With("id", id.String())
	}

	n := &Node{id: id, dir: dir, lock: lock, services: make(map[string]struct{}), log: log}
	if err := n.persist(); err != nil {
		lock.Unlock()
		return nil, err
	}
	return n, nil
}

func (n *Node) persist() error {
	n.mu.Lock()
	names := make([]string, 0, len(n.services))
	for s := range n.services {
		names = append(names, s)
	}
	n.mu.Unlock()
	return writeRecord(n.dir, n.id, names)
}

// TouchService records that this node owns at least one port attached
// to serviceName, so that if this node dies, a cleaner knows to visit
// that service (spec §4.5 "iterate every service that the dead node
// touched").
func (n *Node) TouchService(serviceName string) error {
	n.mu.Lock()
	_, already := n.services[serviceName]
	if !already {
		n.services[serviceName] = struct{}{}
	}
	n.mu.Unlock()
	if already {
		return nil
	}
	return n.persist()
}

// UntouchService drops serviceName from this node's touched set, e.g.
// once the last local port on that service has closed.
func (n *Node) UntouchService(serviceName string) error {
	n.mu.Lock()
	_, had := n.services[serviceName]
	delete(n.services, serviceName)
	n.mu.Unlock()
	if !had {
		return nil
	}
	return n.persist()
}

// Close releases the liveness token cleanly (spec §4.5 "On normal Node
// drop, the token is released cleanly (owner alive at exit)") and
// removes this node's registry record.
func (n *Node) Close() error {
	const op = "node.Close"
	if err := n.lock.Unlock(); err != nil {
		return ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err).With("id", n.id.String())
	}
	return removeRecord(n.dir, n.id)
}
