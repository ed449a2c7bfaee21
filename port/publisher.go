// File: port/publisher.go
// Publisher (spec §4.4): allocates a pool-backed data segment sized for
// max_loaned_samples chunks, fans loaned-then-sent samples out to every
// discovered subscriber's zero-copy connection, and reclaims displaced
// or released chunks back into its allocator.
// License: Apache-2.0
package port

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/logsink"
	"github.com/momentics/shmipc/service"
	"github.com/momentics/shmipc/shmalloc"
	"github.com/momentics/shmipc/shmseg"
	"github.com/momentics/shmipc/zerocopy"
)

// PublisherConfig holds the creation-time parameters of a Publisher.
type PublisherConfig struct {
	MaxLoanedSamples int
	UserHeaderSize   int
	PayloadSize      int
	Alignment        int
	ConnParams       zerocopy.Params
}

// Publisher is a single-sender data-segment owner fanning out samples
// to a service's subscriber registry.
type Publisher struct {
	id     ids.ID
	nodeID ids.ID

	cfg       PublisherConfig
	chunkSize int

	segment  *shmseg.Segment
	alloc    *shmalloc.PoolAllocator
	registry *service.Registry
	handle   service.Handle
	conns    *zerocopy.Directory

	mu          sync.RWMutex
	connections map[ids.ID]*zerocopy.Connection

	sequence atomic.Uint64
	log      logsink.Sink
}

// ID returns this publisher's unique port ID.
func (p *Publisher) ID() ids.ID { return p.id }

// NewPublisher creates a data segment and registers this publisher in
// registry's publisher table.
func NewPublisher(nodeID ids.ID, registry *service.Registry, conns *zerocopy.Directory, cfg PublisherConfig, log logsink.Sink) (*Publisher, error) {
	if log == nil {
		log = logsink.Default()
	}
	id := ids.New()
	chunkSize := systemHeaderSize + cfg.UserHeaderSize + cfg.PayloadSize
	align := cfg.Alignment
	if align <= 0 {
		align = 8
	}
	stride := chunkSize
	if rem := stride % align; rem != 0 {
		stride += align - rem
	}
	segName := "iox2_" + id.String() + ".data"
	seg, err := shmseg.Create(segName, stride*cfg.MaxLoanedSamples, uint32(align))
	if err != nil {
		return nil, err
	}
	alloc, err := shmalloc.NewPoolAllocator(seg.Payload(), chunkSize, align)
	if err != nil {
		seg.Release()
		return nil, err
	}
	handle, err := registry.Add(service.PortPublisher, id, nodeID, uint32(cfg.MaxLoanedSamples))
	if err != nil {
		seg.Release()
		return nil, err
	}
	return &Publisher{
		id:          id,
		nodeID:      nodeID,
		cfg:         cfg,
		chunkSize:   chunkSize,
		segment:     seg,
		alloc:       alloc,
		registry:    registry,
		handle:      handle,
		conns:       conns,
		connections: make(map[ids.ID]*zerocopy.Connection),
		log:         log,
	}, nil
}

// Loan returns an uninitialized sample backed by a freshly allocated
// chunk (spec §4.4 "Loan path").
func (p *Publisher) Loan() (*Sample, error) {
	offset, err := p.alloc.Allocate(p.chunkSize, p.cfg.Alignment)
	if err != nil {
		return nil, err
	}
	raw := p.alloc.Bytes(offset, p.chunkSize)
	return newSample(shmalloc.NewPointerOffset(0, uint64(offset)), raw, p.cfg.UserHeaderSize), nil
}

// UpdateConnections lazily opens a connection to every subscriber
// currently in the registry that this publisher has not yet connected
// to (spec §4.4: "new subscribers appearing mid-iteration are picked up
// on the next call to update_connections()").
func (p *Publisher) UpdateConnections() {
	p.registry.Range(service.PortSubscriber, func(e service.Entry) bool {
		p.mu.RLock()
		_, exists := p.connections[e.PortID]
		p.mu.RUnlock()
		if exists {
			return true
		}
		name := "iox2_" + p.id.String() + "_" + e.PortID.String() + ".connection"
		conn, err := p.conns.GetOrCreate(name, p.cfg.ConnParams)
		if err != nil {
			p.log.Warnf("publisher %s: connection to subscriber %s skipped: %v", p.id, e.PortID, err)
			return true
		}
		p.mu.Lock()
		p.connections[e.PortID] = conn
		p.mu.Unlock()
		return true
	})
}

// Send writes the system header into s, then pushes it to every
// currently-known subscriber connection (spec §4.4 "Send path"). A
// per-peer failure is logged and skipped; it never fails the whole
// send (spec §5 "Failure semantics per port").
func (p *Publisher) Send(s *Sample) {
	seq := p.sequence.Add(1)
	s.writeSystemHeader(SystemHeader{OriginPortID: p.id, Sequence: seq, TimestampNs: time.Now().UnixNano()})

	p.mu.RLock()
	conns := make([]*zerocopy.Connection, 0, len(p.connections))
	for _, c := range p.connections {
		conns = append(conns, c)
	}
	p.mu.RUnlock()

	for _, c := range conns {
		if c.ReceiverDropped() {
			continue
		}
		displaced, didDisplace, err := c.TrySend(s.Offset)
		if err != nil {
			p.log.Warnf("publisher %s: send to %s skipped: %v", p.id, c.Name(), err)
			continue
		}
		if didDisplace {
			p.alloc.Deallocate(int(displaced.Offset()), p.chunkSize)
		}
	}
}

// ReclaimAll drains every connection's retrieve channel, returning each
// released chunk to the allocator.
func (p *Publisher) ReclaimAll() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.connections {
		for {
			offset, ok := c.Reclaim()
			if !ok {
				break
			}
			p.alloc.Deallocate(int(offset.Offset()), p.chunkSize)
		}
	}
}

// Close marks every connection sender-dropped, deregisters from the
// service registry, and releases the data segment (spec §4.4 "On
// drop").
func (p *Publisher) Close() error {
	p.mu.RLock()
	for _, c := range p.connections {
		c.MarkSenderDropped()
	}
	p.mu.RUnlock()
	p.registry.Remove(p.handle)
	return p.segment.Release()
}
