package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_ReloadsOnFileChangeAndNotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shmipc.toml")
	if err := os.WriteFile(path, []byte("[pubsub]\nmax_publishers = 1\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	if got := store.Snapshot().PubSub.MaxPublishers; got != 1 {
		t.Fatalf("expected initial max_publishers=1, got %d", got)
	}

	notified := make(chan Config, 1)
	store.OnReload(func(c Config) {
		select {
		case notified <- c:
		default:
		}
	})

	if err := os.WriteFile(path, []byte("[pubsub]\nmax_publishers = 7\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case c := <-notified:
		if c.PubSub.MaxPublishers != 7 {
			t.Fatalf("expected reloaded max_publishers=7, got %d", c.PubSub.MaxPublishers)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload notification")
	}

	if got := store.Snapshot().PubSub.MaxPublishers; got != 7 {
		t.Fatalf("expected snapshot to reflect reload, got %d", got)
	}
}
