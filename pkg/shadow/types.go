package shadow

import (
	imsg "github.com/matterkit/shadow/pkg/im/message"
)

// Identifier aliases mirror the wire types already defined in pkg/im/message,
// so a shadow.AttributePath interoperates directly with IM request/report
// types without conversion.
type (
	NodeID         = imsg.NodeID
	EndpointID     = imsg.EndpointID
	ClusterID      = imsg.ClusterID
	AttributeID    = imsg.AttributeID
	CommandID      = imsg.CommandID
	EventID        = imsg.EventID
	EventNumber    = imsg.EventNumber
	DataVersion    = imsg.DataVersion
	SubscriptionID = imsg.SubscriptionID
)

// ClusterPath identifies one cluster instance on one endpoint.
type ClusterPath struct {
	Endpoint EndpointID
	Cluster  ClusterID
}

// AttributePath identifies one attribute within one cluster instance.
type AttributePath struct {
	Endpoint  EndpointID
	Cluster   ClusterID
	Attribute AttributeID
}

// ClusterPath returns the cluster-level path this attribute belongs to.
func (p AttributePath) ClusterPath() ClusterPath {
	return ClusterPath{Endpoint: p.Endpoint, Cluster: p.Cluster}
}

// CommandPath identifies one command within one cluster instance.
type CommandPath struct {
	Endpoint EndpointID
	Cluster  ClusterID
	Command  CommandID
}

// EventPath identifies one event within one cluster instance.
type EventPath struct {
	Endpoint EndpointID
	Cluster  ClusterID
	Event    EventID
}

// toMessagePath converts an AttributePath to the wire-level AttributePathIB
// used to build read/write/subscribe requests.
func (p AttributePath) toMessagePath() imsg.AttributePathIB {
	ep, cl, at := p.Endpoint, p.Cluster, p.Attribute
	return imsg.AttributePathIB{Endpoint: &ep, Cluster: &cl, Attribute: &at}
}

// attributePathFromIB extracts a concrete AttributePath from a wire path.
// Wildcards (nil fields) decode as zero values; callers only use this on
// paths that are known to be concrete (as reported by the peer).
func attributePathFromIB(p imsg.AttributePathIB) AttributePath {
	var out AttributePath
	if p.Endpoint != nil {
		out.Endpoint = *p.Endpoint
	}
	if p.Cluster != nil {
		out.Cluster = *p.Cluster
	}
	if p.Attribute != nil {
		out.Attribute = *p.Attribute
	}
	return out
}
