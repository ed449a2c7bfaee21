// File: port/subscriber.go
// Subscriber (spec §4.4): discovers publishers via the service registry,
// lazily opens a connection to each, and round-robins receives across
// them, releasing each returned sample's offset back to its sender on
// drop.
// License: Apache-2.0
package port

import (
	"bytes"
	"sort"
	"sync"

	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/logsink"
	"github.com/momentics/shmipc/service"
	"github.com/momentics/shmipc/zerocopy"
)

// SubscriberConfig holds the creation-time parameters of a Subscriber.
// UserHeaderSize and PayloadSize must match the publisher's sample
// layout (spec §4.5 "Type compatibility rule").
type SubscriberConfig struct {
	BufferSize     int
	UserHeaderSize int
	PayloadSize    int
	ConnParams     zerocopy.Params
}

// ChunkResolver maps a chunk offset within a publisher's data segment
// to the full systemHeader+userHeader+payload byte range at that
// offset — the subscriber's read-only view of that publisher's mapped
// segment.
type ChunkResolver func(offset int) []byte

// publisherPeer is one discovered publisher's connection plus the
// chunk-byte resolver for its data segment.
type publisherPeer struct {
	publisherID ids.ID
	conn        *zerocopy.Connection
	chunks      ChunkResolver
}

// Subscriber is a single-receiver port attached to a service's
// publisher registry.
type Subscriber struct {
	id     ids.ID
	nodeID ids.ID
	cfg    SubscriberConfig

	registry *service.Registry
	conns    *zerocopy.Directory
	handle   service.Handle

	mu    sync.RWMutex
	peers map[ids.ID]*publisherPeer
	next  int

	log logsink.Sink
}

// ID returns this subscriber's unique port ID.
func (s *Subscriber) ID() ids.ID { return s.id }

// NewSubscriber registers a subscriber in registry's subscriber table.
// Chunk bytes for each publisher are resolved through the ChunkResolver
// the caller passes to Attach.
func NewSubscriber(nodeID ids.ID, registry *service.Registry, conns *zerocopy.Directory, cfg SubscriberConfig, log logsink.Sink) (*Subscriber, error) {
	if log == nil {
		log = logsink.Default()
	}
	id := ids.New()
	handle, err := registry.Add(service.PortSubscriber, id, nodeID, uint32(cfg.BufferSize))
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		id:       id,
		nodeID:   nodeID,
		cfg:      cfg,
		registry: registry,
		conns:    conns,
		handle:   handle,
		peers:    make(map[ids.ID]*publisherPeer),
		log:      log,
	}, nil
}

// Attach registers chunkResolver as this subscriber's view into
// publisherID's data segment, opening (or adopting) the zero-copy
// connection between the two.
func (s *Subscriber) Attach(publisherID ids.ID, chunkResolver ChunkResolver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[publisherID]; ok {
		return nil
	}
	name := "iox2_" + publisherID.String() + "_" + s.id.String() + ".connection"
	conn, err := s.conns.GetOrCreate(name, s.cfg.ConnParams)
	if err != nil {
		return err
	}
	s.peers[publisherID] = &publisherPeer{publisherID: publisherID, conn: conn, chunks: chunkResolver}
	return nil
}

// UpdateConnections discovers publishers newly listed in the registry
// that this subscriber has not yet attached to. Discovery alone cannot
// resolve chunk bytes (that requires mapping the publisher's data
// segment), so this records the publisher ID and leaves Attach for the
// caller to complete once it has mapped that segment.
func (s *Subscriber) UpdateConnections() []ids.ID {
	var fresh []ids.ID
	s.registry.Range(service.PortPublisher, func(e service.Entry) bool {
		s.mu.RLock()
		_, known := s.peers[e.PortID]
		s.mu.RUnlock()
		if !known {
			fresh = append(fresh, e.PortID)
		}
		return true
	})
	return fresh
}

// Receive round-robins across attached connections, returning the next
// available sample (spec §4.4 "Receive path"), or ok=false if none of
// the currently attached publishers has anything pending.
func (s *Subscriber) Receive() (sample *Sample, publisherID ids.ID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.peers)
	if n == 0 {
		return nil, ids.ID{}, false
	}
	order := make([]*publisherPeer, 0, n)
	for _, p := range s.peers {
		order = append(order, p)
	}
	// Map iteration order is random; sort so s.next names the same peer
	// from one call to the next.
	sort.Slice(order, func(i, j int) bool {
		return bytes.Compare(order[i].publisherID[:], order[j].publisherID[:]) < 0
	})
	for i := 0; i < n; i++ {
		idx := (s.next + i) % n
		p := order[idx]
		offset, got, err := p.conn.Receive()
		if err != nil {
			s.log.Warnf("subscriber %s: receive from %s failed: %v", s.id, p.publisherID, err)
			continue
		}
		if !got {
			continue // nothing pending from this peer
		}
		s.next = (idx + 1) % n
		raw := p.chunks(int(offset.Offset()))
		view := readSampleView(offset, raw, s.cfg.UserHeaderSize)
		return view, p.publisherID, true
	}
	return nil, ids.ID{}, false
}

// Release returns a received sample's offset to its publisher (spec
// §4.4 "whose drop releases the offset back").
func (s *Subscriber) Release(publisherID ids.ID, sample *Sample) {
	s.mu.RLock()
	p, ok := s.peers[publisherID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	p.conn.Release(sample.Offset)
}

// Close deregisters this subscriber from the service registry and
// marks every connection receiver-dropped.
func (s *Subscriber) Close() {
	s.mu.RLock()
	for _, p := range s.peers {
		p.conn.MarkReceiverDropped()
	}
	s.mu.RUnlock()
	s.registry.Remove(s.handle)
}
