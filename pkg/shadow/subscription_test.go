package shadow

import (
	"testing"
	"time"

	"github.com/matterkit/shadow/pkg/im"
	imsg "github.com/matterkit/shadow/pkg/im/message"
	"github.com/matterkit/shadow/pkg/session"
	"github.com/pion/logging"
)

func newTestEngine() *subscriptionEngine {
	return newSubscriptionEngine(
		NodeID(1),
		nil,
		stubAcquirer{err: errStubNoSession},
		subscriptionHandlers{},
		SubscriptionConfig{},
		TestOverrides{},
		nil,
		logging.NewDefaultLoggerFactory().NewLogger("test"),
	)
}

func TestBuildFilters(t *testing.T) {
	versions := map[ClusterPath]DataVersion{
		{Endpoint: 1, Cluster: 6}: 3,
	}
	filters := buildFilters(versions)
	if len(filters) != 1 {
		t.Fatalf("len(filters) = %d, want 1", len(filters))
	}
	f := filters[0]
	if f.DataVersion != 3 {
		t.Errorf("DataVersion = %v, want 3", f.DataVersion)
	}
	if f.Path.Endpoint == nil || *f.Path.Endpoint != 1 || f.Path.Cluster == nil || *f.Path.Cluster != 6 {
		t.Errorf("Path = %+v, want endpoint=1 cluster=6", f.Path)
	}
}

func TestBuildFilters_Empty(t *testing.T) {
	filters := buildFilters(map[ClusterPath]DataVersion{})
	if len(filters) != 0 {
		t.Errorf("len(filters) = %d, want 0", len(filters))
	}
}

func TestIsResourceExhausted(t *testing.T) {
	if isResourceExhausted(nil) {
		t.Errorf("isResourceExhausted(nil) should be false")
	}
	if isResourceExhausted(ErrTimedOut) {
		t.Errorf("a plain sentinel error should not be resource-exhausted")
	}
	exhausted := &im.SubscribeStatusError{Status: imsg.StatusResourceExhausted}
	if !isResourceExhausted(exhausted) {
		t.Errorf("a StatusResourceExhausted SubscribeStatusError should be resource-exhausted")
	}
	busy := &im.SubscribeStatusError{Status: imsg.StatusBusy}
	if isResourceExhausted(busy) {
		t.Errorf("a StatusBusy SubscribeStatusError should not be resource-exhausted")
	}
}

func TestSubscriptionEngine_ProposedMaxInterval_ClampsToSessionIdle(t *testing.T) {
	e := newTestEngine()
	e.config.MaxIntervalCeilingSeconds = 60

	got := e.proposedMaxInterval(nil)
	if got != 60 {
		t.Errorf("with no session params, proposedMaxInterval = %d, want 60 (the configured ceiling)", got)
	}

	got = e.proposedMaxInterval(&session.Params{IdleInterval: 5 * time.Second})
	if got != 5 {
		t.Errorf("proposedMaxInterval = %d, want 5 (clamped to the session's idle interval)", got)
	}
}

func TestSubscriptionEngine_ProposedMaxInterval_TestOverrideWins(t *testing.T) {
	e := newTestEngine()
	e.config.MaxIntervalCeilingSeconds = 60
	override := uint16(9)
	e.overrides.SubscriptionIntervalOverride = &override

	got := e.proposedMaxInterval(&session.Params{IdleInterval: 5 * time.Second})
	if got != 9 {
		t.Errorf("proposedMaxInterval = %d, want 9 (the test override)", got)
	}
}

func TestSubscriptionEngine_OnAttemptFailed_BacksOffExponentially(t *testing.T) {
	e := newTestEngine()
	e.state = SubscriptionSubscribing

	e.onAttemptFailed(e.generation, nil)
	first := e.backoff
	if first != MinBackoff {
		t.Fatalf("backoff after first failure = %v, want %v", first, MinBackoff)
	}
	e.retryTimer.Stop()

	e.onAttemptFailed(e.generation, nil)
	second := e.backoff
	if second != MinBackoff*2 {
		t.Errorf("backoff after second failure = %v, want %v", second, MinBackoff*2)
	}
	e.retryTimer.Stop()
}

func TestSubscriptionEngine_OnAttemptFailed_ServerDelayResetsBackoff(t *testing.T) {
	e := newTestEngine()
	e.state = SubscriptionSubscribing
	e.backoff = MinBackoff * 8

	delay := 3 * time.Second
	e.onAttemptFailed(e.generation, &delay)
	if e.backoff != 0 {
		t.Errorf("a server-specified delay should reset backoff to 0, got %v", e.backoff)
	}
	e.retryTimer.Stop()
}

func TestSubscriptionEngine_OnAttemptFailed_EstablishedStateDoesNotRegress(t *testing.T) {
	e := newTestEngine()
	e.state = SubscriptionInitialEstablished
	e.reachability = ReachabilityReachable

	e.onAttemptFailed(e.generation, nil)
	if e.state != SubscriptionInitialEstablished {
		t.Errorf("state after a failed resubscribe from InitialEstablished = %v, want it to stay InitialEstablished", e.state)
	}
	if e.reachability != ReachabilityUnknown {
		t.Errorf("reachability after a failed resubscribe = %v, want ReachabilityUnknown", e.reachability)
	}
	e.retryTimer.Stop()
}

func TestSubscriptionEngine_OnAttemptFailed_StaleGenerationIsANoOp(t *testing.T) {
	e := newTestEngine()
	e.state = SubscriptionSubscribing
	staleGen := e.generation
	e.generation++

	e.onAttemptFailed(staleGen, nil)
	if e.backoff != 0 {
		t.Errorf("onAttemptFailed for a stale generation must not touch backoff, got %v", e.backoff)
	}
	if e.retryTimer != nil {
		t.Errorf("onAttemptFailed for a stale generation must not arm a retry timer")
	}
}

func TestSubscriptionEngine_NeedsResubscribeForReadThrough(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	if e.NeedsResubscribeForReadThrough(now) {
		t.Errorf("no failure recorded yet: should not need a resubscribe kick")
	}

	e.mu.Lock()
	e.lastFailureAt = now.Add(-DefaultResubscribeGuard - time.Second)
	e.mu.Unlock()

	if !e.NeedsResubscribeForReadThrough(now) {
		t.Fatalf("a stale failure with no recovery should need a resubscribe kick")
	}
	if e.NeedsResubscribeForReadThrough(now) {
		t.Errorf("a second call inside the guard window should not need another kick")
	}
	if !e.NeedsResubscribeForReadThrough(now.Add(DefaultResubscribeGuard + time.Second)) {
		t.Errorf("a call after the guard window elapses should need another kick")
	}
}

func TestSubscriptionEngine_NeedsResubscribeForReadThrough_ReachableIsAlwaysFalse(t *testing.T) {
	e := newTestEngine()
	e.mu.Lock()
	e.reachability = ReachabilityReachable
	e.lastFailureAt = time.Now().Add(-DefaultResubscribeGuard - time.Second)
	e.mu.Unlock()

	if e.NeedsResubscribeForReadThrough(time.Now()) {
		t.Errorf("a reachable engine should never need a read-through resubscribe kick")
	}
}

func TestSubscriptionEngine_Reachability(t *testing.T) {
	e := newTestEngine()
	if got := e.Reachability(); got != ReachabilityUnknown {
		t.Errorf("initial Reachability = %v, want ReachabilityUnknown", got)
	}
	e.mu.Lock()
	e.reachability = ReachabilityReachable
	e.mu.Unlock()
	if got := e.Reachability(); got != ReachabilityReachable {
		t.Errorf("Reachability = %v, want ReachabilityReachable", got)
	}
}

func TestSubscriptionEngine_Start_SkipSubscriptionIsANoOp(t *testing.T) {
	e := newTestEngine()
	e.overrides.SkipSubscription = true

	e.Start(func() map[ClusterPath]DataVersion { return nil })
	if e.state != SubscriptionUnsubscribed {
		t.Errorf("Start with SkipSubscription set should leave state at SubscriptionUnsubscribed, got %v", e.state)
	}
}
