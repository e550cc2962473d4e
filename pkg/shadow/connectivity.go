package shadow

// ConnectivityMonitor reports hints that the path to a peer may have
// become routable again, so the subscription engine can retry immediately
// instead of waiting out its backoff window. A hint is a hint, not a
// guarantee: the core treats every signal as "worth trying now", nothing
// stronger.
//
// Production wiring (watching for link-state or route-table changes) is
// out of this package's scope; a no-op monitor is used by default.
type ConnectivityMonitor interface {
	// Start begins watching for connectivity changes relevant to addr.
	// handler is invoked (from any goroutine) whenever a change is
	// observed. Start may be called multiple times with different
	// addresses; each returns an independent subscription to Stop.
	Start(addr string, handler func()) ConnectivitySubscription

	// Stop releases all resources held by the monitor.
	Stop()
}

// ConnectivitySubscription is returned by ConnectivityMonitor.Start and
// cancels that one subscription.
type ConnectivitySubscription interface {
	Stop()
}

// noopConnectivityMonitor never reports a change. It is the default
// ConnectivityMonitor when Config.Connectivity is nil.
type noopConnectivityMonitor struct{}

func (noopConnectivityMonitor) Start(string, func()) ConnectivitySubscription {
	return noopConnectivitySubscription{}
}

func (noopConnectivityMonitor) Stop() {}

type noopConnectivitySubscription struct{}

func (noopConnectivitySubscription) Stop() {}

func connectivityMonitor(m ConnectivityMonitor) ConnectivityMonitor {
	if m != nil {
		return m
	}
	return noopConnectivityMonitor{}
}
