// Package shadow implements the per-node device shadow for a Matter fabric
// controller: a long-lived object that caches one remote node's attribute
// state, maintains a streaming subscription to it, and mediates reads,
// writes and command invocations against it on the caller's behalf.
//
// A Device composes four internal layers:
//
//   - a cluster data store (clusterstore.go) holding reported attribute
//     state and data versions;
//   - an expected-value cache (expectedvalue.go) of short-lived optimistic
//     write/invoke predictions;
//   - a work queue (workqueue.go) that serializes and batches outbound
//     reads, writes and invokes;
//   - a subscription engine (subscription.go) that establishes and
//     maintains a live subscription via pkg/im, with resubscribe backoff
//     and connectivity-triggered recovery.
//
// Device (device.go) is the public facade over all four.
package shadow
