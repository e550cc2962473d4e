package shadow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matterkit/shadow/pkg/im"
	imsg "github.com/matterkit/shadow/pkg/im/message"
	"github.com/matterkit/shadow/pkg/session"
	"github.com/matterkit/shadow/pkg/transport"
	"github.com/pion/logging"
)

// SubscriptionState is the internal subscription lifecycle state. It only
// moves forward (Unsubscribed -> Subscribing -> InitialEstablished); Stop
// leaves it unchanged, so no backward edge is taken on teardown.
type SubscriptionState int

const (
	SubscriptionUnsubscribed SubscriptionState = iota
	SubscriptionSubscribing
	SubscriptionInitialEstablished
)

// ReachabilityState is the publicly observable connectivity state a
// Delegate is told about via StateChanged.
type ReachabilityState int

const (
	ReachabilityUnknown ReachabilityState = iota
	ReachabilityReachable
	ReachabilityUnreachable
)

// SessionAcquirer resolves a live session and peer address for a node.
// Establishing that session (CASE/PASE, address resolution) is outside
// this package's scope; a Controller is expected to supply one backed by
// whatever commissioning/resolution stack it already has.
type SessionAcquirer interface {
	Acquire(ctx context.Context, node NodeID) (*session.SecureContext, transport.PeerAddress, *session.Params, error)
}

// subscriptionHandlers are the callbacks the subscription engine drives;
// Device supplies these at construction and uses them to route data into
// the cluster store, expected-value cache and delegate dispatch.
type subscriptionHandlers struct {
	OnAttributeData   func(path AttributePath, dataVersion *DataVersion, data []byte)
	OnAttributeStatus func(path AttributePath, status imsg.StatusIB)
	OnEventData       func(report imsg.EventReportIB, historical bool)
	OnReportBegin     func()
	OnReportEnd       func()
	OnStateChanged    func(ReachabilityState)
	OnBecameActive    func()
}

// subscriptionEngine is the subscription engine (C4): it establishes and
// maintains one live subscription to a device via im.SubscribeClient, with
// resubscribe backoff and connectivity-triggered recovery.
//
// Its own mutex guards only its own fields; it never blocks holding that
// mutex while waiting on the network, and it posts every callback to
// Device through the subscriptionHandlers given at construction rather
// than mutating Device state directly.
type subscriptionEngine struct {
	node      NodeID
	client    *im.SubscribeClient
	acquirer  SessionAcquirer
	handlers  subscriptionHandlers
	config    SubscriptionConfig
	overrides TestOverrides
	conn      ConnectivityMonitor
	log       logging.LeveledLogger

	dataVersions func() map[ClusterPath]DataVersion

	mu               sync.Mutex
	state            SubscriptionState
	reachability     ReachabilityState
	backoff          time.Duration
	lastFailureAt    time.Time
	lastKickAt       time.Time
	sub              *im.Subscription
	inPriming        bool
	connSub          ConnectivitySubscription
	unreachableTimer *time.Timer
	retryTimer       *time.Timer
	attemptCancel    context.CancelFunc
	generation       uint64 // bumped on every Stop so stale goroutines no-op
}

func newSubscriptionEngine(node NodeID, client *im.SubscribeClient, acquirer SessionAcquirer, handlers subscriptionHandlers, config SubscriptionConfig, overrides TestOverrides, conn ConnectivityMonitor, log logging.LeveledLogger) *subscriptionEngine {
	return &subscriptionEngine{
		node:      node,
		client:    client,
		acquirer:  acquirer,
		handlers:  handlers,
		config:    config.withDefaults(),
		overrides: overrides,
		conn:      connectivityMonitor(conn),
		log:       log,
	}
}

// Reachability returns the current public reachability state.
func (e *subscriptionEngine) Reachability() ReachabilityState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reachability
}

// Start transitions Unsubscribed -> Subscribing and begins the first
// subscribe attempt. dataVersions is called fresh on every attempt to
// build the data-version filter list from the cluster store's current
// knowledge.
func (e *subscriptionEngine) Start(dataVersions func() map[ClusterPath]DataVersion) {
	e.mu.Lock()
	if e.state != SubscriptionUnsubscribed || e.overrides.SkipSubscription {
		e.mu.Unlock()
		return
	}
	e.dataVersions = dataVersions
	e.state = SubscriptionSubscribing
	gen := e.generation
	e.mu.Unlock()

	e.armUnreachableTimer(gen)
	go e.attempt(gen)
}

// Stop tears the subscription down: it stops timers, drops the live
// subscription and the connectivity monitor, and bumps the generation
// counter so any attempt already in flight discards its result instead of
// touching state after teardown. It does not change reachability; the
// Device decides what, if anything, to tell its delegate about that.
func (e *subscriptionEngine) Stop() {
	e.mu.Lock()
	e.generation++
	if e.unreachableTimer != nil {
		e.unreachableTimer.Stop()
		e.unreachableTimer = nil
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	if e.attemptCancel != nil {
		e.attemptCancel()
		e.attemptCancel = nil
	}
	sub := e.sub
	e.sub = nil
	connSub := e.connSub
	e.connSub = nil
	e.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if connSub != nil {
		connSub.Stop()
	}
}

func (e *subscriptionEngine) armUnreachableTimer(gen uint64) {
	timer := time.AfterFunc(DefaultUnreachableTimeout, func() {
		e.mu.Lock()
		if e.generation != gen || e.state != SubscriptionSubscribing {
			e.mu.Unlock()
			return
		}
		e.reachability = ReachabilityUnreachable
		e.mu.Unlock()
		e.fireStateChanged(ReachabilityUnreachable)
	})
	e.mu.Lock()
	e.unreachableTimer = timer
	e.mu.Unlock()
}

func (e *subscriptionEngine) fireStateChanged(s ReachabilityState) {
	if e.handlers.OnStateChanged != nil {
		e.handlers.OnStateChanged(s)
	}
}

// attempt runs one subscribe attempt: acquire a session, build the filter
// list, issue the subscribe request (dropping filter entries on
// StatusResourceExhausted), and transition state on the outcome. It always
// runs off the device loop.
func (e *subscriptionEngine) attempt(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), im.DefaultRequestTimeout)
	defer cancel()

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return
	}
	e.attemptCancel = cancel
	e.mu.Unlock()

	sess, peerAddr, sessParams, err := e.acquirer.Acquire(ctx, e.node)
	if err != nil {
		e.onAttemptFailed(gen, nil)
		return
	}

	versions := e.dataVersions()
	filters := buildFilters(versions)

	maxInterval := e.proposedMaxInterval(sessParams)
	params := im.SubscribeParams{
		AttributeRequests:        []imsg.AttributePathIB{{}}, // wildcard: every attribute
		FabricFiltered:           true,
		KeepSubscriptions:        true,
		MinIntervalFloorSeconds:  e.config.MinIntervalFloorSeconds,
		MaxIntervalCeilingSeconds: maxInterval,
		DataVersionFilters:       filters,
	}

	var sub *im.Subscription
	for {
		sub, err = e.client.Subscribe(ctx, sess, peerAddr, params, e.subscribeCallbacks(gen))
		if err == nil {
			break
		}
		if len(params.DataVersionFilters) == 0 {
			break
		}
		if !isResourceExhausted(err) {
			break
		}
		params.DataVersionFilters = params.DataVersionFilters[:len(params.DataVersionFilters)-1]
	}
	if err != nil {
		e.onAttemptFailed(gen, nil)
		return
	}

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		sub.Close()
		return
	}
	e.sub = sub
	e.state = SubscriptionInitialEstablished
	e.reachability = ReachabilityReachable
	e.backoff = 0
	if e.unreachableTimer != nil {
		e.unreachableTimer.Stop()
		e.unreachableTimer = nil
	}
	connSub := e.startConnectivityLocked(gen)
	e.connSub = connSub
	e.mu.Unlock()

	e.fireStateChanged(ReachabilityReachable)
}

// proposedMaxInterval applies the configured ceiling, clamped to the
// remote's advertised idle retransmit interval once known, and to the test
// override when one is installed.
func (e *subscriptionEngine) proposedMaxInterval(sessParams *session.Params) uint16 {
	if e.overrides.SubscriptionIntervalOverride != nil {
		return *e.overrides.SubscriptionIntervalOverride
	}
	ceiling := e.config.MaxIntervalCeilingSeconds
	if sessParams != nil {
		idleSeconds := uint16(sessParams.IdleInterval / time.Second)
		if idleSeconds > 0 && idleSeconds < ceiling {
			ceiling = idleSeconds
		}
	}
	return ceiling
}

func (e *subscriptionEngine) onAttemptFailed(gen uint64, serverDelay *time.Duration) {
	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return
	}
	e.lastFailureAt = time.Now()
	var delay time.Duration
	if serverDelay != nil {
		e.backoff = 0
		delay = *serverDelay
	} else {
		if e.backoff == 0 {
			e.backoff = MinBackoff
		} else {
			e.backoff *= 2
		}
		if e.backoff > MaxBackoff {
			e.backoff = MaxBackoff
		}
		delay = e.backoff
	}
	// State only moves forward: once InitialEstablished, a failed
	// resubscribe attempt drops reachability but does not regress the
	// lifecycle state back to Subscribing.
	wasEstablished := e.state == SubscriptionInitialEstablished
	if wasEstablished {
		e.reachability = ReachabilityUnknown
	} else {
		e.state = SubscriptionSubscribing
	}
	connSub := e.startConnectivityLocked(gen)
	e.connSub = connSub
	e.retryTimer = time.AfterFunc(delay, func() { e.attempt(gen) })
	e.mu.Unlock()

	if wasEstablished {
		e.fireStateChanged(ReachabilityUnknown)
	}
}

func (e *subscriptionEngine) startConnectivityLocked(gen uint64) ConnectivitySubscription {
	if e.connSub != nil {
		return e.connSub
	}
	return e.conn.Start("", func() {
		e.onConnectivityChanged(gen)
	})
}

// onConnectivityChanged fires an immediate resubscribe attempt without
// advancing the backoff counter for this attempt, per the connectivity
// fast-retry rule.
func (e *subscriptionEngine) onConnectivityChanged(gen uint64) {
	e.mu.Lock()
	if e.generation != gen || e.reachability == ReachabilityReachable {
		e.mu.Unlock()
		return
	}
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()
	go e.attempt(gen)
}

// NeedsResubscribeForReadThrough reports whether a read-through fallback
// should also kick an out-of-band resubscribe attempt: the last failure is
// stale (>10 minutes) and reachability has not recovered. A successful
// call starts a fresh 10-minute guard window so repeated read-throughs
// cannot storm the peer.
func (e *subscriptionEngine) NeedsResubscribeForReadThrough(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reachability == ReachabilityReachable {
		return false
	}
	if e.lastFailureAt.IsZero() || now.Sub(e.lastFailureAt) < DefaultResubscribeGuard {
		return false
	}
	if !e.lastKickAt.IsZero() && now.Sub(e.lastKickAt) < DefaultResubscribeGuard {
		return false
	}
	e.lastKickAt = now
	return true
}

func (e *subscriptionEngine) subscribeCallbacks(gen uint64) im.SubscribeCallbacks {
	return im.SubscribeCallbacks{
		OnReportBegin: func() {
			e.mu.Lock()
			wasUnreachable := e.reachability != ReachabilityReachable
			e.inPriming = wasUnreachable
			if wasUnreachable {
				e.reachability = ReachabilityReachable
			}
			e.mu.Unlock()
			if e.handlers.OnReportBegin != nil {
				e.handlers.OnReportBegin()
			}
			if wasUnreachable {
				e.fireStateChanged(ReachabilityReachable)
			}
		},
		// OnUnsolicitedMessage fires only for a ReportData that arrives
		// after the subscription is already established, which is a more
		// faithful signal for "the device pushed new data on its own"
		// than inferring it from priming/state bookkeeping would be.
		OnUnsolicitedMessage: func() {
			if e.handlers.OnBecameActive != nil {
				e.handlers.OnBecameActive()
			}
		},
		OnReportEnd: func() {
			e.mu.Lock()
			e.inPriming = false
			e.mu.Unlock()
			if e.handlers.OnReportEnd != nil {
				e.handlers.OnReportEnd()
			}
		},
		OnAttributeData: func(path imsg.AttributePathIB, dataVersion imsg.DataVersion, data []byte) {
			if e.handlers.OnAttributeData == nil {
				return
			}
			v := dataVersion
			e.handlers.OnAttributeData(attributePathFromIB(path), &v, data)
		},
		OnAttributeStatus: func(path imsg.AttributePathIB, status imsg.StatusIB) {
			if e.handlers.OnAttributeStatus != nil {
				e.handlers.OnAttributeStatus(attributePathFromIB(path), status)
			}
		},
		OnEventData: func(report imsg.EventReportIB) {
			if e.handlers.OnEventData == nil {
				return
			}
			e.mu.Lock()
			historical := e.inPriming
			e.mu.Unlock()
			e.handlers.OnEventData(report, historical)
		},
		OnError: func(err error) {
			if e.log != nil {
				e.log.Warnf("subscription error for node %d: %v", e.node, err)
			}
		},
		OnResubscribeNeeded: func(err error) {
			if e.log != nil {
				e.log.Warnf("subscription for node %d needs resubscribe: %v", e.node, err)
			}
			e.onAttemptFailed(gen, nil)
		},
		OnDone: func() {
			e.onAttemptFailed(gen, nil)
		},
	}
}

// buildFilters turns the cluster store's known data versions into a
// DataVersionFilterIB list, one entry per known (clusterPath, version)
// pair.
func buildFilters(versions map[ClusterPath]DataVersion) []imsg.DataVersionFilterIB {
	filters := make([]imsg.DataVersionFilterIB, 0, len(versions))
	for cp, v := range versions {
		ep, cl := cp.Endpoint, cp.Cluster
		filters = append(filters, imsg.DataVersionFilterIB{
			Path:        imsg.ClusterPathIB{Endpoint: &ep, Cluster: &cl},
			DataVersion: v,
		})
	}
	return filters
}

func isResourceExhausted(err error) bool {
	var statusErr *im.SubscribeStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == imsg.StatusResourceExhausted
	}
	return false
}
