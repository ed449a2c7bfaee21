// File: port/client_server.go
// Client/Server (spec §4.4): a client allocates a request data segment
// and delivers to every connected server; responses travel on a
// separate per-(client,server) connection allocated lazily.
// License: Apache-2.0
package port

import (
	"sync"
	"time"

	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/logsink"
	"github.com/momentics/shmipc/service"
	"github.com/momentics/shmipc/shmalloc"
	"github.com/momentics/shmipc/shmseg"
	"github.com/momentics/shmipc/zerocopy"
)

// RequestResponseConfig holds the layout shared by requests and
// responses on one client/server pair.
type RequestResponseConfig struct {
	MaxActiveRequests int
	UserHeaderSize    int
	PayloadSize       int
	Alignment         int
	ConnParams        zerocopy.Params
}

// peerConn is one connected peer's pair of request/response
// connections, used by both Client (peer = server) and Server
// (peer = client).
type peerConn struct {
	peerID ids.ID
	requests *zerocopy.Connection
	response *zerocopy.Connection
}

// Client allocates request chunks and fans them out to every connected
// server, tracking the pending response set per send.
type Client struct {
	id       ids.ID
	nodeID   ids.ID
	cfg      RequestResponseConfig
	chunkSize int

	segment  *shmseg.Segment
	alloc    *shmalloc.PoolAllocator
	registry *service.Registry
	handle   service.Handle
	conns    *zerocopy.Directory

	mu    sync.RWMutex
	peers map[ids.ID]*peerConn

	log logsink.Sink
}

// ID returns this client's unique port ID.
func (c *Client) ID() ids.ID { return c.id }

// NewClient allocates a request data segment and registers in
// registry's client table.
func NewClient(nodeID ids.ID, registry *service.Registry, conns *zerocopy.Directory, cfg RequestResponseConfig, log logsink.Sink) (*Client, error) {
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
	seg, err := shmseg.Create("iox2_"+id.String()+".data", stride*cfg.MaxActiveRequests, uint32(align))
	if err != nil {
		return nil, err
	}
	alloc, err := shmalloc.NewPoolAllocator(seg.Payload(), chunkSize, align)
	if err != nil {
		seg.Release()
		return nil, err
	}
	handle, err := registry.Add(service.PortClient, id, nodeID, uint32(cfg.MaxActiveRequests))
	if err != nil {
		seg.Release()
		return nil, err
	}
	return &Client{
		id: id, nodeID: nodeID, cfg: cfg, chunkSize: chunkSize,
		segment: seg, alloc: alloc, registry: registry, handle: handle, conns: conns,
		peers: make(map[ids.ID]*peerConn), log: log,
	}, nil
}

// UpdateConnections discovers servers newly registered for this
// service and opens a request connection to each.
func (c *Client) UpdateConnections() {
	c.registry.Range(service.PortServer, func(e service.Entry) bool {
		c.mu.RLock()
		_, known := c.peers[e.PortID]
		c.mu.RUnlock()
		if known {
			return true
		}
		name := "iox2_" + c.id.String() + "_" + e.PortID.String() + ".connection"
		req, err := c.conns.GetOrCreate(name, c.cfg.ConnParams)
		if err != nil {
			c.log.Warnf("client %s: connection to server %s skipped: %v", c.id, e.PortID, err)
			return true
		}
		c.mu.Lock()
		c.peers[e.PortID] = &peerConn{peerID: e.PortID, requests: req}
		c.mu.Unlock()
		return true
	})
}

// Loan returns an uninitialized request sample.
func (c *Client) Loan() (*Sample, error) {
	offset, err := c.alloc.Allocate(c.chunkSize, c.cfg.Alignment)
	if err != nil {
		return nil, err
	}
	raw := c.alloc.Bytes(offset, c.chunkSize)
	return newSample(shmalloc.NewPointerOffset(0, uint64(offset)), raw, c.cfg.UserHeaderSize), nil
}

// PendingResponse tracks the servers a request was sent to, so the
// client knows where to collect responses from.
type PendingResponse struct {
	servers []ids.ID
}

// NumberOfServerConnections reports how many servers this request
// reached at send time.
func (p *PendingResponse) NumberOfServerConnections() int { return len(p.servers) }

// Send delivers s to every currently connected server (spec §4.4
// "Client/Server: send() delivers to every connected server").
func (c *Client) Send(s *Sample) *PendingResponse {
	s.writeSystemHeader(SystemHeader{OriginPortID: c.id, TimestampNs: time.Now().UnixNano()})
	c.mu.RLock()
	defer c.mu.RUnlock()
	pending := &PendingResponse{}
	for _, p := range c.peers {
		if p.requests.ReceiverDropped() {
			continue
		}
		if _, _, err := p.requests.TrySend(s.Offset); err != nil {
			c.log.Warnf("client %s: send to %s skipped: %v", c.id, p.peerID, err)
			continue
		}
		pending.servers = append(pending.servers, p.peerID)
	}
	return pending
}

// Receive polls for one response from any server in pending (spec §4.4
// "pending response... exposes receive() for responses").
func (c *Client) Receive(pending *PendingResponse, responseChunks func(serverID ids.ID, offset int) []byte) (sample *Sample, serverID ids.ID, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sid := range pending.servers {
		p, known := c.peers[sid]
		if !known || p.response == nil {
			continue
		}
		offset, got, err := p.response.Receive()
		if err != nil || !got {
			continue
		}
		raw := responseChunks(sid, int(offset.Offset()))
		return readSampleView(offset, raw, c.cfg.UserHeaderSize), sid, true
	}
	return nil, ids.ID{}, false
}

// AttachResponseConnection wires the lazily-allocated response
// connection for serverID once it is known (the server creates it when
// its UpdateConnections discovers this client; spec §4.4 "carried on a separate per-(client,server)
// zero-copy connection allocated lazily").
func (c *Client) AttachResponseConnection(serverID ids.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[serverID]
	if !ok {
		return nil
	}
	name := "iox2_" + serverID.String() + "_" + c.id.String() + ".response"
	resp, err := c.conns.GetOrCreate(name, c.cfg.ConnParams)
	if err != nil {
		return err
	}
	p.response = resp
	return nil
}

// Close marks every request connection receiver-dropped-from-client's-
// perspective is not meaningful here (client is the sender on
// requests); it deregisters and releases the request data segment.
func (c *Client) Close() error {
	c.registry.Remove(c.handle)
	return c.segment.Release()
}

// Server receives requests from every connected client and responds on
// a lazily-allocated per-(client,server) connection.
type Server struct {
	id       ids.ID
	nodeID   ids.ID
	cfg      RequestResponseConfig
	chunkSize int

	segment  *shmseg.Segment
	alloc    *shmalloc.PoolAllocator
	registry *service.Registry
	handle   service.Handle
	conns    *zerocopy.Directory

	mu    sync.RWMutex
	peers map[ids.ID]*peerConn // keyed by client ID from the server's point of view

	log logsink.Sink
}

// ID returns this server's unique port ID.
func (s *Server) ID() ids.ID { return s.id }

// NewServer allocates a response data segment and registers in
// registry's server table.
func NewServer(nodeID ids.ID, registry *service.Registry, conns *zerocopy.Directory, cfg RequestResponseConfig, log logsink.Sink) (*Server, error) {
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
	seg, err := shmseg.Create("iox2_"+id.String()+".data", stride*cfg.MaxActiveRequests, uint32(align))
	if err != nil {
		return nil, err
	}
	alloc, err := shmalloc.NewPoolAllocator(seg.Payload(), chunkSize, align)
	if err != nil {
		seg.Release()
		return nil, err
	}
	handle, err := registry.Add(service.PortServer, id, nodeID, uint32(cfg.MaxActiveRequests))
	if err != nil {
		seg.Release()
		return nil, err
	}
	return &Server{
		id: id, nodeID: nodeID, cfg: cfg, chunkSize: chunkSize,
		segment: seg, alloc: alloc, registry: registry, handle: handle, conns: conns,
		peers: make(map[ids.ID]*peerConn), log: log,
	}, nil
}

// UpdateConnections discovers clients newly registered for this
// service and adopts the request connection each opened.
func (s *Server) UpdateConnections() {
	s.registry.Range(service.PortClient, func(e service.Entry) bool {
		s.mu.RLock()
		_, known := s.peers[e.PortID]
		s.mu.RUnlock()
		if known {
			return true
		}
		reqName := "iox2_" + e.PortID.String() + "_" + s.id.String() + ".connection"
		respName := "iox2_" + s.id.String() + "_" + e.PortID.String() + ".response"
		req, err := s.conns.GetOrCreate(reqName, s.cfg.ConnParams)
		if err != nil {
			s.log.Warnf("server %s: request connection from client %s skipped: %v", s.id, e.PortID, err)
			return true
		}
		resp, err := s.conns.GetOrCreate(respName, s.cfg.ConnParams)
		if err != nil {
			s.log.Warnf("server %s: response connection to client %s skipped: %v", s.id, e.PortID, err)
			return true
		}
		s.mu.Lock()
		s.peers[e.PortID] = &peerConn{peerID: e.PortID, requests: req, response: resp}
		s.mu.Unlock()
		return true
	})
}

// Receive polls every connected client for one pending request (spec
// §4.4 "Each server, on receive(), obtains an active request view").
func (s *Server) Receive(requestChunks func(clientID ids.ID, offset int) []byte) (sample *Sample, clientID ids.ID, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		offset, got, err := p.requests.Receive()
		if err != nil || !got {
			continue
		}
		raw := requestChunks(p.peerID, int(offset.Offset()))
		return readSampleView(offset, raw, s.cfg.UserHeaderSize), p.peerID, true
	}
	return nil, ids.ID{}, false
}

// Respond loans a response chunk, writes it, and sends it back to
// clientID on the lazily-allocated response connection.
func (s *Server) Respond(clientID ids.ID, fill func(payload []byte)) error {
	s.mu.RLock()
	p, ok := s.peers[clientID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	offset, err := s.alloc.Allocate(s.chunkSize, s.cfg.Alignment)
	if err != nil {
		return err
	}
	raw := s.alloc.Bytes(offset, s.chunkSize)
	sample := newSample(shmalloc.NewPointerOffset(0, uint64(offset)), raw, s.cfg.UserHeaderSize)
	sample.writeSystemHeader(SystemHeader{OriginPortID: s.id, TimestampNs: time.Now().UnixNano()})
	fill(sample.Payload)
	_, _, err = p.response.TrySend(sample.Offset)
	return err
}

// Close deregisters and releases the response data segment.
func (s *Server) Close() error {
	s.registry.Remove(s.handle)
	return s.segment.Release()
}
