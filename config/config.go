// File: config/config.go
// Package config decodes the single configuration tree that
// parameterises every namespace prefix, default path, size, and
// timeout (spec §6 "Environment & config") from TOML, the way
// control/config.go's ConfigStore holds the teacher's runtime tunables
// — generalized here from an untyped map[string]any to a typed struct
// per pattern, since every field spec §6 names is known ahead of time.
// License: Apache-2.0
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/momentics/shmipc/ipcerr"
)

// Paths collects the namespace prefixes and directories spec §6 lists
// (all prefix-configurable; defaults match spec §6's shown values).
type Paths struct {
	ServiceDir    string `toml:"service_dir"`
	NodeRegistryDir string `toml:"node_registry_dir"`
	NamePrefix    string `toml:"name_prefix"`
}

// PubSub holds the PubSub pattern-specific config block (spec §6).
type PubSub struct {
	MaxPublishers               int  `toml:"max_publishers"`
	MaxSubscribers              int  `toml:"max_subscribers"`
	MaxNodes                    int  `toml:"max_nodes"`
	HistorySize                 int  `toml:"history_size"`
	SubscriberMaxBufferSize     int  `toml:"subscriber_max_buffer_size"`
	SubscriberMaxBorrowedSamples int `toml:"subscriber_max_borrowed_samples"`
	EnableSafeOverflow          bool `toml:"enable_safe_overflow"`
}

// Event holds the Event pattern-specific config block (spec §6).
type Event struct {
	MaxNotifiers         int `toml:"max_notifiers"`
	MaxListeners         int `toml:"max_listeners"`
	MaxNodes             int `toml:"max_nodes"`
	EventIDMaxValue      int `toml:"event_id_max_value"`
	DeadlineMillis       int `toml:"deadline_millis"`
	NotifierCreatedEvent int `toml:"notifier_created_event"`
	NotifierDroppedEvent int `toml:"notifier_dropped_event"`
	NotifierDeadEvent    int `toml:"notifier_dead_event"`
}

// Deadline returns the configured deadline, or zero if none was set.
func (e Event) Deadline() time.Duration {
	if e.DeadlineMillis <= 0 {
		return 0
	}
	return time.Duration(e.DeadlineMillis) * time.Millisecond
}

// ReqResp holds the ReqResp pattern-specific config block (spec §6).
type ReqResp struct {
	MaxClients                        int  `toml:"max_clients"`
	MaxServers                        int  `toml:"max_servers"`
	MaxActiveRequestsPerClient         int  `toml:"max_active_requests_per_client"`
	MaxResponseBufferSize              int  `toml:"max_response_buffer_size"`
	EnableFireAndForgetRequests        bool `toml:"enable_fire_and_forget_requests"`
	EnableSafeOverflowForRequests       bool `toml:"enable_safe_overflow_for_requests"`
	EnableSafeOverflowForResponses      bool `toml:"enable_safe_overflow_for_responses"`
}

// BlockRetryPolicy holds the busy-wait/backoff schedule settings for a
// Block unable-to-deliver strategy (spec.md §9 Open Question, resolved
// in DESIGN.md: exposed as a tunable rather than hardcoded). It is a
// configuration value only: no port in this module reads it, and
// Publisher.Send has no blocking retry.
type BlockRetryPolicy struct {
	// Mode selects "spin" (pure busy loop, lowest latency, burns a
	// core), "adaptive" (spin briefly then fall back to sleeping, the
	// default), or "park" (always sleep between attempts, lowest CPU
	// use, highest latency).
	Mode           string `toml:"mode"`
	SpinIterations int    `toml:"spin_iterations"`
	ParkInterval   int    `toml:"park_interval_micros"`
	Timeout        int    `toml:"timeout_millis"`
}

// TimeoutDuration returns the configured retry timeout, or 0 (block forever)
// if unset.
func (p BlockRetryPolicy) TimeoutDuration() time.Duration {
	if p.Timeout <= 0 {
		return 0
	}
	return time.Duration(p.Timeout) * time.Millisecond
}

// Config is the single tree that parameterises every namespace prefix,
// default path, default size, and default timeout (spec §6); the core
// accepts it as a struct and never reads environment variables
// directly.
type Config struct {
	Paths    Paths            `toml:"paths"`
	PubSub   PubSub           `toml:"pubsub"`
	Event    Event            `toml:"event"`
	ReqResp  ReqResp          `toml:"reqresp"`
	Retry    BlockRetryPolicy `toml:"block_retry"`

	OpenTimeoutMillis int `toml:"open_timeout_millis"`
}

// OpenTimeout returns the configured timeout service.OpenOrCreate /
// shmseg.Open wait for an in-progress creator (spec §5 "Service
// open_or_create waits up to a user timeout").
func (c Config) OpenTimeout() time.Duration {
	if c.OpenTimeoutMillis <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.OpenTimeoutMillis) * time.Millisecond
}

// Default returns a Config with sane defaults for every field, mirrors
// the defaults spec §6 shows inline.
func Default() Config {
	return Config{
		Paths: Paths{
			ServiceDir:      "/tmp/shmipc/services",
			NodeRegistryDir: "/tmp/shmipc/nodes",
			NamePrefix:      "iox2_",
		},
		PubSub: PubSub{
			MaxPublishers: 8, MaxSubscribers: 32, MaxNodes: 16,
			HistorySize: 1, SubscriberMaxBufferSize: 256,
			SubscriberMaxBorrowedSamples: 16, EnableSafeOverflow: true,
		},
		Event: Event{
			MaxNotifiers: 8, MaxListeners: 32, MaxNodes: 16,
			EventIDMaxValue: 255,
			NotifierCreatedEvent: 0, NotifierDroppedEvent: 1, NotifierDeadEvent: 2,
		},
		ReqResp: ReqResp{
			MaxClients: 32, MaxServers: 8, MaxActiveRequestsPerClient: 16,
			MaxResponseBufferSize: 16,
			EnableSafeOverflowForRequests: true, EnableSafeOverflowForResponses: true,
		},
		Retry:             BlockRetryPolicy{Mode: "adaptive", SpinIterations: 1000, ParkInterval: 500, Timeout: 0},
		OpenTimeoutMillis: 5000,
	}
}

// Load decodes a TOML configuration file at path, starting from
// Default() so unset fields keep their defaults.
func Load(path string) (Config, error) {
	const op = "config.Load"
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, ipcerr.Wrap(ipcerr.CodeUnknown, op, err).With("path", path)
	}
	return cfg, nil
}
