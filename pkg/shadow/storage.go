package shadow

// Storage persists cluster state across sessions. Implementations treat
// ClusterData as opaque beyond structural equality; callers (the cluster
// data store) decide what to load and when to flush.
type Storage interface {
	// Load returns the persisted cluster data for (node, endpoint, cluster),
	// or ok=false if nothing has ever been stored for that path.
	Load(node NodeID, endpoint EndpointID, cluster ClusterID) (data ClusterData, ok bool, err error)

	// Store persists (or overwrites) cluster data for every path in data,
	// all belonging to the given node, in one logical operation.
	Store(node NodeID, data map[ClusterPath]ClusterData) error
}
