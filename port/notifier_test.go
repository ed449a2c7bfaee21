package port

import (
	"testing"
	"time"

	"github.com/momentics/shmipc/event"
	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/ipcerr"
	"github.com/momentics/shmipc/service"
)

func TestNotifierListener_NotifyDeliversToDiscoveredListener(t *testing.T) {
	reg := newTestRegistry(4)
	channels := event.NewDirectory()

	listener, err := NewListener(ids.New(), reg, channels, 8, 0)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer listener.Close()

	notifier, err := NewNotifier(ids.New(), reg, channels)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	defer notifier.Close()

	notifier.UpdateConnections(8)
	notifier.Notify(5)

	id, ok, err := listener.TimedWaitOne(time.Second)
	if err != nil || !ok || id != 5 {
		t.Fatalf("TimedWaitOne: id=%d ok=%v err=%v", id, ok, err)
	}
}

func TestNotifier_NotifyOneTargetsASingleListener(t *testing.T) {
	reg := newTestRegistry(4)
	channels := event.NewDirectory()

	l1, err := NewListener(ids.New(), reg, channels, 8, 0)
	if err != nil {
		t.Fatalf("NewListener l1: %v", err)
	}
	defer l1.Close()
	l2, err := NewListener(ids.New(), reg, channels, 8, 0)
	if err != nil {
		t.Fatalf("NewListener l2: %v", err)
	}
	defer l2.Close()

	notifier, err := NewNotifier(ids.New(), reg, channels)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	defer notifier.Close()
	notifier.UpdateConnections(8)

	if err := notifier.NotifyOne(l1.ID(), 2); err != nil {
		t.Fatalf("NotifyOne: %v", err)
	}

	if _, ok := l1.TryWaitOne(); !ok {
		t.Fatal("expected l1 to observe the targeted notify")
	}
	if _, ok := l2.TryWaitOne(); ok {
		t.Fatal("expected l2 to observe nothing from a targeted notify to l1")
	}
}

func TestNotifier_CloseSignalsDroppedToListeners(t *testing.T) {
	reg := newTestRegistry(4)
	channels := event.NewDirectory()

	listener, err := NewListener(ids.New(), reg, channels, 8, 0)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer listener.Close()

	notifier, err := NewNotifier(ids.New(), reg, channels)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	notifier.UpdateConnections(8)
	notifier.Close()

	id, ok := listener.TryWaitOne()
	if !ok || id != event.SystemEventNotifierDropped {
		t.Fatalf("expected SystemEventNotifierDropped, got id=%d ok=%v", id, ok)
	}

	var found []service.Entry
	reg.Range(service.PortNotifier, func(e service.Entry) bool {
		found = append(found, e)
		return true
	})
	if len(found) != 0 {
		t.Fatal("expected the notifier to be deregistered after Close")
	}
}

func TestListener_TryWaitOneFalseWithNothingPending(t *testing.T) {
	reg := newTestRegistry(4)
	channels := event.NewDirectory()
	listener, err := NewListener(ids.New(), reg, channels, 8, 0)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer listener.Close()

	if _, ok := listener.TryWaitOne(); ok {
		t.Fatal("expected no pending event on a fresh listener")
	}
}

func TestListener_WaitWithDeadlineReportsMissedDeadlineWhenNotifierStaysSilent(t *testing.T) {
	reg := newTestRegistry(4)
	channels := event.NewDirectory()
	listener, err := NewListener(ids.New(), reg, channels, 8, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer listener.Close()

	_, ok, err := listener.WaitWithDeadline()
	if ok {
		t.Fatal("expected no event to be pending")
	}
	if !ipcerr.Is(err, ipcerr.CodeMissedDeadline) {
		t.Fatalf("expected CodeMissedDeadline, got %v", err)
	}
}

func TestListener_WaitWithDeadlineSucceedsWhenNotifiedInTime(t *testing.T) {
	reg := newTestRegistry(4)
	channels := event.NewDirectory()
	listener, err := NewListener(ids.New(), reg, channels, 8, time.Second)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer listener.Close()

	notifier, err := NewNotifier(ids.New(), reg, channels)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	defer notifier.Close()
	notifier.UpdateConnections(8)
	notifier.Notify(7)

	id, ok, err := listener.WaitWithDeadline()
	if err != nil || !ok || id != 7 {
		t.Fatalf("WaitWithDeadline: id=%d ok=%v err=%v", id, ok, err)
	}
}
