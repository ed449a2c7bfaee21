package port

import (
	"testing"
	"time"

	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/logsink"
	"github.com/momentics/shmipc/service"
	"github.com/momentics/shmipc/zerocopy"
)

func newTestRegistry(perKind int) *service.Registry {
	return service.NewRegistry(make([]byte, service.MemorySize(perKind)), perKind)
}

func TestPublisherSubscriber_SendReceiveReleaseRoundTrip(t *testing.T) {
	reg := newTestRegistry(4)
	conns := zerocopy.NewDirectory()
	connParams := zerocopy.Params{BufferSize: 4, MaxBorrowedSamples: 4}

	pub, err := NewPublisher(ids.New(), reg, conns, PublisherConfig{
		MaxLoanedSamples: 4, PayloadSize: 64, Alignment: 8, ConnParams: connParams,
	}, logsink.Noop())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewSubscriber(ids.New(), reg, conns, SubscriberConfig{
		BufferSize: 4, PayloadSize: 64, ConnParams: connParams,
	}, logsink.Noop())
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()

	pub.UpdateConnections()
	fresh := sub.UpdateConnections()
	if len(fresh) != 1 || fresh[0] != pub.ID() {
		t.Fatalf("expected the subscriber to discover the publisher, got %v", fresh)
	}
	if err := sub.Attach(pub.ID(), func(offset int) []byte { return pub.alloc.Bytes(offset, pub.chunkSize) }); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	sample, err := pub.Loan()
	if err != nil {
		t.Fatalf("Loan: %v", err)
	}
	copy(sample.Payload, []byte("hello world"))
	pub.Send(sample)

	got, fromPub, ok := sub.Receive()
	if !ok {
		t.Fatal("expected Receive to find the published sample")
	}
	if fromPub != pub.ID() {
		t.Fatalf("expected sample attributed to publisher %v, got %v", pub.ID(), fromPub)
	}
	if string(got.Payload[:11]) != "hello world" {
		t.Fatalf("expected payload to round-trip, got %q", got.Payload[:11])
	}
	if got.SystemHeader.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", got.SystemHeader.Sequence)
	}

	sub.Release(fromPub, got)
	pub.ReclaimAll()

	// The reclaimed chunk must be reusable.
	if _, err := pub.Loan(); err != nil {
		t.Fatalf("expected the reclaimed chunk to be reusable: %v", err)
	}
}

func TestPublisherSubscriber_NoPendingSampleReturnsNotOK(t *testing.T) {
	reg := newTestRegistry(4)
	conns := zerocopy.NewDirectory()
	connParams := zerocopy.Params{BufferSize: 4, MaxBorrowedSamples: 4}

	pub, err := NewPublisher(ids.New(), reg, conns, PublisherConfig{
		MaxLoanedSamples: 4, PayloadSize: 16, Alignment: 8, ConnParams: connParams,
	}, logsink.Noop())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewSubscriber(ids.New(), reg, conns, SubscriberConfig{
		BufferSize: 4, PayloadSize: 16, ConnParams: connParams,
	}, logsink.Noop())
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()

	pub.UpdateConnections()
	sub.UpdateConnections()
	if err := sub.Attach(pub.ID(), func(offset int) []byte { return pub.alloc.Bytes(offset, pub.chunkSize) }); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if _, _, ok := sub.Receive(); ok {
		t.Fatal("expected Receive to report nothing pending")
	}
}

func TestPublisherSubscriber_LateJoiningSubscriberDiscoveredOnNextUpdate(t *testing.T) {
	reg := newTestRegistry(4)
	conns := zerocopy.NewDirectory()
	connParams := zerocopy.Params{BufferSize: 4, MaxBorrowedSamples: 4}

	pub, err := NewPublisher(ids.New(), reg, conns, PublisherConfig{
		MaxLoanedSamples: 4, PayloadSize: 16, Alignment: 8, ConnParams: connParams,
	}, logsink.Noop())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	pub.UpdateConnections() // no subscribers yet

	sub, err := NewSubscriber(ids.New(), reg, conns, SubscriberConfig{
		BufferSize: 4, PayloadSize: 16, ConnParams: connParams,
	}, logsink.Noop())
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer sub.Close()

	pub.UpdateConnections() // picks up the late-joining subscriber
	fresh := sub.UpdateConnections()
	if len(fresh) != 1 {
		t.Fatalf("expected the subscriber to discover the publisher, got %v", fresh)
	}
}

func TestPublisherSubscriber_ClosedPublisherIsIdempotentToRemove(t *testing.T) {
	reg := newTestRegistry(4)
	conns := zerocopy.NewDirectory()
	pub, err := NewPublisher(ids.New(), reg, conns, PublisherConfig{
		MaxLoanedSamples: 2, PayloadSize: 16, Alignment: 8,
		ConnParams: zerocopy.Params{BufferSize: 2, MaxBorrowedSamples: 2},
	}, logsink.Noop())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var found []service.Entry
	reg.Range(service.PortPublisher, func(e service.Entry) bool {
		found = append(found, e)
		return true
	})
	if len(found) != 0 {
		t.Fatalf("expected the publisher to be deregistered after Close, found %+v", found)
	}
}

func TestPublisher_SequenceNumbersIncreaseAcrossSends(t *testing.T) {
	reg := newTestRegistry(2)
	conns := zerocopy.NewDirectory()
	pub, err := NewPublisher(ids.New(), reg, conns, PublisherConfig{
		MaxLoanedSamples: 4, PayloadSize: 8, Alignment: 8,
		ConnParams: zerocopy.Params{BufferSize: 4, MaxBorrowedSamples: 4},
	}, logsink.Noop())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	s1, _ := pub.Loan()
	before := time.Now()
	pub.Send(s1)
	if s1.SystemHeader.Sequence != 1 {
		t.Fatalf("expected first sequence 1, got %d", s1.SystemHeader.Sequence)
	}
	if s1.SystemHeader.TimestampNs < before.UnixNano() {
		t.Fatal("expected a timestamp no earlier than just before Send")
	}

	s2, _ := pub.Loan()
	pub.Send(s2)
	if s2.SystemHeader.Sequence != 2 {
		t.Fatalf("expected second sequence 2, got %d", s2.SystemHeader.Sequence)
	}
}
