package shadow

import (
	"time"

	"github.com/matterkit/shadow/pkg/im"
	"github.com/pion/logging"
)

// Default tuning values applied by NewDevice when the corresponding
// DeviceConfig/SubscriptionConfig field is left at its zero value.
const (
	DefaultSubscriptionMinIntervalSeconds = 0
	DefaultSubscriptionMaxIntervalSeconds = 60
	MaxSubscriptionMaxIntervalSeconds     = 3600

	DefaultInvokeTimedTimeoutMS = uint32(10000)

	DefaultUnreachableTimeout = 10 * time.Second
	DefaultResubscribeGuard   = 10 * time.Minute

	MinBackoff = 1 * time.Second
	MaxBackoff = 1 * time.Hour
)

// Config configures a Controller, the shared factory for a fabric's
// Devices. IMClient and SubscribeClient are the one per-fabric protocol
// stack every Device it creates shares; the rest default as documented
// below.
type Config struct {
	// IMClient issues the reads, writes and invokes every Device's work
	// queue drains onto. Required.
	IMClient *im.Client

	// SubscribeClient establishes and maintains every Device's
	// subscription. Required unless every Device is constructed with
	// TestOverrides.SkipSubscription set.
	SubscribeClient *im.SubscribeClient

	// Acquirer resolves a NodeID to a secure session and peer address for
	// both the subscription engine and the work queue's own network calls.
	// Required.
	Acquirer SessionAcquirer

	// LoggerFactory creates named loggers for every Device and its
	// subsystems. If nil, a default factory at warn level is used.
	LoggerFactory logging.LoggerFactory

	// Storage persists cluster data across sessions. If nil, Devices keep
	// no persisted baseline and always start cold.
	Storage Storage

	// Connectivity reports routability changes that should trigger a fast
	// resubscribe attempt. If nil, a no-op monitor is used.
	Connectivity ConnectivityMonitor
}

// DeviceConfig configures one Device.
type DeviceConfig struct {
	Node NodeID

	// Subscription tunes the subscription engine's proposed intervals.
	Subscription SubscriptionConfig

	// TestOverrides installs unit-test seams. The zero value disables all
	// of them and is what production code should pass.
	TestOverrides TestOverrides
}

// SubscriptionConfig tunes the subscribe request the subscription engine
// issues once a session is available.
type SubscriptionConfig struct {
	// MinIntervalFloorSeconds is the minimum reporting interval proposed
	// to the publisher. Defaults to 0.
	MinIntervalFloorSeconds uint16

	// MaxIntervalCeilingSeconds is the maximum reporting interval
	// proposed. Defaults to DefaultSubscriptionMaxIntervalSeconds, clamped
	// to [1, MaxSubscriptionMaxIntervalSeconds] and to the remote's idle
	// retransmit interval once known.
	MaxIntervalCeilingSeconds uint16
}

func (c SubscriptionConfig) withDefaults() SubscriptionConfig {
	if c.MaxIntervalCeilingSeconds == 0 {
		c.MaxIntervalCeilingSeconds = DefaultSubscriptionMaxIntervalSeconds
	}
	if c.MaxIntervalCeilingSeconds > MaxSubscriptionMaxIntervalSeconds {
		c.MaxIntervalCeilingSeconds = MaxSubscriptionMaxIntervalSeconds
	}
	return c
}

// TestOverrides exposes unit-test seams on a Device, mirroring the
// injectable-seam style used by the protocol stack's own test pairs.
// Production code passes the zero value, which is a no-op on every field.
type TestOverrides struct {
	// ForceReportOnMatch, when set, makes the Device report every ingested
	// attribute value as changed even when it canonically equals the cached
	// value, so tests can assert on report delivery without depending on
	// the peer sending a genuinely new value.
	ForceReportOnMatch bool

	// SkipExpectedValues disables optimistic expected-value installation on
	// WriteAttribute and InvokeCommand entirely.
	SkipExpectedValues bool

	// SubscriptionIntervalOverride, when non-nil, replaces the computed
	// max-interval proposal with a fixed value regardless of remote
	// session parameters.
	SubscriptionIntervalOverride *uint16

	// SkipSubscription disables the subscription engine; SetDelegate only
	// installs the delegate and does not attempt to subscribe.
	SkipSubscription bool
}

func loggerFactory(f logging.LoggerFactory) logging.LoggerFactory {
	if f != nil {
		return f
	}
	return logging.NewDefaultLoggerFactory()
}
