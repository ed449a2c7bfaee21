// File: port/notifier.go
// Notifier/Listener (spec §4.4): the notifier holds one event.Channel
// per listener it has discovered and signals it on notify; the listener
// waits on its own channel and drains the bitset.
// License: Apache-2.0
package port

import (
	"sync"
	"time"

	"github.com/momentics/shmipc/event"
	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/ipcerr"
	"github.com/momentics/shmipc/service"
)

// Notifier signals event IDs to every listener discovered in a
// service's listener registry.
type Notifier struct {
	id       ids.ID
	nodeID   ids.ID
	registry *service.Registry
	handle   service.Handle
	channels *event.Directory

	mu   sync.RWMutex
	byID map[ids.ID]*event.Channel
}

// ID returns this notifier's unique port ID.
func (n *Notifier) ID() ids.ID { return n.id }

// NewNotifier registers a notifier in registry's notifier table.
func NewNotifier(nodeID ids.ID, registry *service.Registry, channels *event.Directory) (*Notifier, error) {
	id := ids.New()
	handle, err := registry.Add(service.PortNotifier, id, nodeID, 0)
	if err != nil {
		return nil, err
	}
	return &Notifier{
		id: id, nodeID: nodeID, registry: registry, handle: handle,
		channels: channels, byID: make(map[ids.ID]*event.Channel),
	}, nil
}

func (n *Notifier) channelFor(listenerID ids.ID, capacity int) (*event.Channel, error) {
	n.mu.RLock()
	c, ok := n.byID[listenerID]
	n.mu.RUnlock()
	if ok {
		return c, nil
	}
	c, err := n.channels.GetOrCreate("iox2_"+listenerID.String()+".event", capacity)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.byID[listenerID] = c
	n.mu.Unlock()
	return c, nil
}

// UpdateConnections discovers listeners newly registered for this
// service and opens a channel to each.
func (n *Notifier) UpdateConnections(capacity int) {
	n.registry.Range(service.PortListener, func(e service.Entry) bool {
		n.channelFor(e.PortID, capacity)
		return true
	})
}

// Notify writes id into every known listener's bitset and signals its
// wake primitive exactly once (spec §4.4).
func (n *Notifier) Notify(id int) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.byID {
		c.Notify(id)
	}
}

// NotifyOne signals a single listener by its port ID.
func (n *Notifier) NotifyOne(listenerID ids.ID, id int) error {
	n.mu.RLock()
	c, ok := n.byID[listenerID]
	n.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.Notify(id)
}

// Close deregisters this notifier and signals SystemEventNotifierDropped
// to every known listener (spec §4.4 "notifier-dropped").
func (n *Notifier) Close() {
	n.mu.RLock()
	for _, c := range n.byID {
		c.Notify(event.SystemEventNotifierDropped)
	}
	n.mu.RUnlock()
	n.registry.Remove(n.handle)
}

// Listener waits on its own event channel for signals from any notifier
// that has discovered it.
type Listener struct {
	id       ids.ID
	nodeID   ids.ID
	registry *service.Registry
	handle   service.Handle
	channel  *event.Channel
	deadline time.Duration
}

// ID returns this listener's unique port ID.
func (l *Listener) ID() ids.ID { return l.id }

// NewListener registers a listener and opens (or adopts) its event
// channel under the conventional "iox2_<listener-id>.event" name (spec
// §6 namespace). deadline is the service's configured
// config.Event.Deadline() (spec §4.2 "a deadline on when an event is
// guaranteed to arrive"); zero disables deadline enforcement, leaving
// WaitWithDeadline equivalent to a plain blocking wait.
func NewListener(nodeID ids.ID, registry *service.Registry, channels *event.Directory, capacity int, deadline time.Duration) (*Listener, error) {
	id := ids.New()
	handle, err := registry.Add(service.PortListener, id, nodeID, 0)
	if err != nil {
		return nil, err
	}
	c, err := channels.GetOrCreate("iox2_"+id.String()+".event", capacity)
	if err != nil {
		registry.Remove(handle)
		return nil, err
	}
	return &Listener{id: id, nodeID: nodeID, registry: registry, handle: handle, channel: c, deadline: deadline}, nil
}

// TryWaitOne returns one pending event without blocking.
func (l *Listener) TryWaitOne() (id int, ok bool) { return l.channel.TryWaitOne() }

// TryWaitAll drains all pending events without blocking.
func (l *Listener) TryWaitAll(cb func(id int)) { l.channel.TryWaitAll(cb) }

// TimedWaitOne blocks up to timeout for one event.
func (l *Listener) TimedWaitOne(timeout time.Duration) (id int, ok bool, err error) {
	return l.channel.TimedWaitOne(timeout)
}

// TimedWaitAll blocks up to timeout, then drains all pending events.
func (l *Listener) TimedWaitAll(timeout time.Duration, cb func(id int)) error {
	return l.channel.TimedWaitAll(timeout, cb)
}

// BlockingWaitOne blocks indefinitely for one event.
func (l *Listener) BlockingWaitOne() (id int, ok bool, err error) {
	return l.channel.BlockingWaitOne()
}

// WaitWithDeadline blocks up to this listener's configured deadline
// (spec §4.5 S4: "listener's wait reports deadline-missed" when no
// event arrives within the attached deadline). With no deadline
// configured, it blocks indefinitely like BlockingWaitOne.
func (l *Listener) WaitWithDeadline() (id int, ok bool, err error) {
	if l.deadline <= 0 {
		return l.channel.BlockingWaitOne()
	}
	id, ok, err = l.channel.TimedWaitOne(l.deadline)
	if err != nil {
		return id, ok, err
	}
	if !ok {
		return 0, false, ipcerr.New(ipcerr.CodeMissedDeadline, "Listener.WaitWithDeadline").
			With("deadline", l.deadline.String())
	}
	return id, ok, nil
}

// BlockingWaitAll blocks indefinitely, then drains all pending events.
func (l *Listener) BlockingWaitAll(cb func(id int)) error {
	return l.channel.BlockingWaitAll(cb)
}

// Close deregisters this listener and releases its wake primitive.
func (l *Listener) Close() error {
	l.registry.Remove(l.handle)
	return l.channel.Close()
}
