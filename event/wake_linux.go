//go:build linux

// File: event/wake_linux.go
// Linux Wake backed by eventfd + epoll, grounded on the teacher's
// reactor/epoll_reactor.go epoll usage, ported to golang.org/x/sys/unix
// (needed for EFD_NONBLOCK/EFD_SEMAPHORE and the 8-byte eventfd
// read/write protocol the stdlib syscall package does not expose).
// License: Apache-2.0
package event

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/shmipc/ipcerr"
)

type eventfdWake struct {
	fd   int
	epfd int
}

// NewWake constructs the platform wake primitive.
func NewWake() (Wake, error) {
	const op = "event.NewWake"
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, ipcerr.Wrap(ipcerr.CodeInsufficientPermissions, op, err)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, ipcerr.Wrap(ipcerr.CodeInsufficientPermissions, op, err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		unix.Close(epfd)
		return nil, ipcerr.Wrap(ipcerr.CodeInsufficientPermissions, op, err)
	}
	return &eventfdWake{fd: fd, epfd: epfd}, nil
}

func (w *eventfdWake) Signal() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return ipcerr.Wrap(ipcerr.CodeInsufficientPermissions, "Wake.Signal", err)
	}
	return nil
}

func (w *eventfdWake) Wait(timeout time.Duration) (bool, error) {
	const op = "Wake.Wait"
	timeoutMs := -1
	if timeout > 0 {
		timeoutMs = int(timeout / time.Millisecond)
		if timeoutMs == 0 {
			timeoutMs = 1
		}
	}
	deadline := time.Now().Add(timeout)
	var events [1]unix.EpollEvent
	for {
		n, err := unix.EpollWait(w.epfd, events[:], timeoutMs)
		if err == unix.EINTR {
			// Interrupted: resume waiting for whatever is left of timeout.
			if timeout > 0 {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return false, nil
				}
				timeoutMs = int(remaining/time.Millisecond) + 1
			}
			continue
		}
		if err != nil {
			return false, ipcerr.Wrap(ipcerr.CodeInsufficientPermissions, op, err)
		}
		if n == 0 {
			return false, nil
		}
		var buf [8]byte
		unix.Read(w.fd, buf[:]) // drain the counter; EAGAIN means another waiter drained it first
		return true, nil
	}
}

func (w *eventfdWake) Close() error {
	unix.Close(w.epfd)
	return unix.Close(w.fd)
}
