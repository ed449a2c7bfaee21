// File: event/channel.go
// Channel pairs one lockfree.IDTracker with one Wake to implement the
// notifier/listener side of spec §4.4: `notify` sets a bit then signals
// exactly once; `wait*` blocks on the wake primitive then drains the
// bitset. The ordering guarantee (an id set by `add` before the wake is
// visible to the `acquire` that follows it) comes entirely from
// IDTracker's own acquire/release fencing (lockfree/id_tracker.go); the
// Wake primitive only needs to not lose a pending wake-up across the
// signal/wait race, which both Linux epoll-on-eventfd and the portable
// buffered-channel fallback provide.
// License: Apache-2.0
package event

import (
	"time"

	"github.com/momentics/shmipc/lockfree"
)

// System event IDs reserved for notifier lifecycle signaling (spec
// §4.4: "Dedicated system event IDs signal notifier-created/dropped/
// dead").
const (
	SystemEventNotifierCreated = 0
	SystemEventNotifierDropped = 1
	SystemEventNotifierDead    = 2
	FirstUserEventID           = 3
)

// Channel is one listener's event endpoint: a bitset of pending trigger
// IDs plus the wake primitive a notifier signals.
type Channel struct {
	ids  *lockfree.IDTracker
	wake Wake
}

// NewChannel constructs a channel with room for capacity distinct
// trigger IDs (spec §4.2 "trigger_id_max is always ≤ capacity − 1").
func NewChannel(capacity int) (*Channel, error) {
	wake, err := NewWake()
	if err != nil {
		return nil, err
	}
	return &Channel{ids: lockfree.NewIDTracker(capacity), wake: wake}, nil
}

// TriggerIDMax returns the largest usable event ID.
func (c *Channel) TriggerIDMax() int { return c.ids.TriggerIDMax() }

// Notify sets id in the bitset and signals the wake primitive exactly
// once (spec §4.4 "notify_with_custom_event_id").
func (c *Channel) Notify(id int) error {
	c.ids.Add(id)
	return c.wake.Signal()
}

// TryWaitOne returns one pending event ID without blocking, or ok=false
// if none is pending.
func (c *Channel) TryWaitOne() (id int, ok bool) {
	return c.ids.Acquire()
}

// TryWaitAll drains every pending event ID without blocking.
func (c *Channel) TryWaitAll(cb func(id int)) {
	c.ids.AcquireAll(cb)
}

// TimedWaitOne blocks on the wake primitive up to timeout, then returns
// one pending event ID.
func (c *Channel) TimedWaitOne(timeout time.Duration) (id int, ok bool, err error) {
	woken, err := c.wake.Wait(timeout)
	if err != nil || !woken {
		return 0, false, err
	}
	id, ok = c.ids.Acquire()
	return id, ok, nil
}

// TimedWaitAll blocks up to timeout, then drains every pending event ID.
func (c *Channel) TimedWaitAll(timeout time.Duration, cb func(id int)) error {
	woken, err := c.wake.Wait(timeout)
	if err != nil || !woken {
		return err
	}
	c.ids.AcquireAll(cb)
	return nil
}

// BlockingWaitOne blocks indefinitely for one event ID.
func (c *Channel) BlockingWaitOne() (id int, ok bool, err error) {
	return c.TimedWaitOne(0)
}

// BlockingWaitAll blocks indefinitely, then drains every pending event ID.
func (c *Channel) BlockingWaitAll(cb func(id int)) error {
	return c.TimedWaitAll(0, cb)
}

// Close releases the underlying wake primitive.
func (c *Channel) Close() error { return c.wake.Close() }
