// File: event/wake.go
// Package event implements the event channel (spec §4.4 "Notifier/
// Listener"): a trigger-ID bitset (lockfree.IDTracker) plus an OS wake
// primitive the listener blocks on.
//
// The Wake interface is platform-split the way the teacher splits
// reactor.Reactor: a Linux implementation backed by a real eventfd
// (reactor/epoll_reactor.go's raw golang.org/x/sys/unix-style syscall
// use, upgraded here from stdlib syscall to x/sys/unix for EFD_*
// constants), and a portable channel-backed fallback modeled on
// reactor/reactor_stub.go's non-Linux stand-in — except here the
// fallback is fully functional (a real condition variable over a
// channel), not an error stub, since the wake primitive is on every
// platform's critical path rather than an optional accelerator.
// License: Apache-2.0
package event

import "time"

// Wake is a one-shot-per-signal OS wake primitive: Signal() wakes
// exactly one pending or future Wait(); multiple signals before a Wait
// coalesce into a single wake-up (the IDTracker, not the Wake
// primitive, is responsible for not losing individual event IDs).
type Wake interface {
	// Signal wakes a waiter. Safe to call from any goroutine/process
	// relationship the platform backend supports.
	Signal() error

	// Wait blocks until Signal is observed or timeout elapses (timeout
	// <= 0 waits indefinitely). Returns true if woken, false on timeout.
	Wait(timeout time.Duration) (woken bool, err error)

	// Close releases the underlying OS resource.
	Close() error
}
