// File: node/registry.go
// Node registry: enumerates node records under a directory and
// classifies each (spec §4.5 "Node::list(config, callback) enumerates
// all node records and classifies each as Alive, Dead, Inaccessible, or
// Undefined"). fsnotify watches the directory for removals so List
// reflects other processes' Close() without polling, the way the
// teacher's control/hotreload.go watches its config file.
// License: Apache-2.0
package node

import (
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/ipcerr"
	"github.com/momentics/shmipc/logsink"
)

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// State classifies one node record observed by Registry.List.
type State int

const (
	// Undefined: the record vanished between enumeration and
	// classification (another process concurrently removed it).
	Undefined State = iota
	Alive
	Dead
	// Inaccessible: the record or liveness file could not be opened for
	// a reason other than non-existence (e.g. permissions).
	Inaccessible
)

func (s State) String() string {
	switch s {
	case Alive:
		return "Alive"
	case Dead:
		return "Dead"
	case Inaccessible:
		return "Inaccessible"
	default:
		return "Undefined"
	}
}

// Info is a snapshot of one node record's classification.
type Info struct {
	ID    ids.ID
	State State
}

// Registry enumerates and classifies node records under one directory.
type Registry struct {
	dir string
	log logsink.Sink

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	names map[string]struct{} // cached "<uuid>" keys, invalidated on fsnotify events
}

// NewRegistry opens (creating if needed) the node registry directory
// dir and starts watching it for removals.
func NewRegistry(dir string, log logsink.Sink) (*Registry, error) {
	const op = "node.NewRegistry"
	if log == nil {
		log = logsink.Default()
	}
	if err := ensureDir(dir); err != nil {
		return nil, ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err)
	}
	r := &Registry{dir: dir, log: log, watcher: w, names: make(map[string]struct{})}
	if err := r.refresh(); err != nil {
		w.Close()
		return nil, err
	}
	go r.watchLoop()
	return r, nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Create|fsnotify.Rename) != 0 {
				if err := r.refresh(); err != nil {
					r.log.Warnf("node registry %s: refresh after %s failed: %v", r.dir, ev.Op, err)
				}
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warnf("node registry %s: watch error: %v", r.dir, err)
		}
	}
}

func (r *Registry) refresh() error {
	const op = "node.Registry.refresh"
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, op, err)
	}
	names := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if !strings.HasPrefix(n, "iox2_") || !strings.HasSuffix(n, recordSuffix) {
			continue
		}
		uuidPart := strings.TrimSuffix(strings.TrimPrefix(n, "iox2_"), recordSuffix)
		names[uuidPart] = struct{}{}
	}
	r.mu.Lock()
	r.names = names
	r.mu.Unlock()
	return nil
}

// List classifies every currently-known node record and invokes cb for
// each (spec §4.5). cb returning false stops iteration early.
func (r *Registry) List(cb func(Info) bool) {
	r.mu.Lock()
	uuidStrs := make([]string, 0, len(r.names))
	for n := range r.names {
		uuidStrs = append(uuidStrs, n)
	}
	r.mu.Unlock()

	for _, s := range uuidStrs {
		id, err := ids.Parse(s)
		if err != nil {
			continue
		}
		if !cb(Info{ID: id, State: r.classify(id)}) {
			return
		}
	}
}

// classify implements the liveness test: acquiring the liveness file's
// advisory lock without blocking means nobody holds it, i.e. the owner
// is dead (spec §4.5 "if any process can forcibly acquire it without
// blocking, the owning process is dead").
func (r *Registry) classify(id ids.ID) State {
	if _, err := os.Stat(recordPath(r.dir, id)); err != nil {
		if os.IsNotExist(err) {
			return Undefined
		}
		return Inaccessible
	}
	lock := flock.New(livenessPath(r.dir, id))
	got, err := lock.TryLock()
	if err != nil {
		return Inaccessible
	}
	if !got {
		return Alive
	}
	lock.Unlock()
	return Dead
}

// Acquire returns a DeadNode holding the liveness lock for id, so that
// two processes racing to clean up the same dead node serialize on the
// lock rather than double-running cleanup. Returns ok=false if id is
// not currently classified Dead (e.g. it came alive, or its record was
// already removed, between List and Acquire).
func (r *Registry) Acquire(id ids.ID) (*DeadNode, bool) {
	if _, err := os.Stat(recordPath(r.dir, id)); err != nil {
		return nil, false
	}
	lock := flock.New(livenessPath(r.dir, id))
	got, err := lock.TryLock()
	if err != nil || !got {
		return nil, false
	}
	services, err := readRecord(r.dir, id)
	if err != nil {
		lock.Unlock()
		return nil, false
	}
	return &DeadNode{id: id, dir: r.dir, lock: lock, services: services, log: r.log}, true
}

// Close stops watching the registry directory.
func (r *Registry) Close() error {
	return r.watcher.Close()
}
