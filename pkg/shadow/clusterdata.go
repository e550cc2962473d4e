package shadow

// ClusterData is the unit of persistence and delta-reporting for one
// cluster instance: its data version plus every attribute value reported
// for it so far.
type ClusterData struct {
	DataVersion *DataVersion
	Attributes  map[AttributeID]DataValue
}

// Clone returns a deep copy safe to hand to storage or to mutate
// independently of the original.
func (c ClusterData) Clone() ClusterData {
	out := ClusterData{Attributes: make(map[AttributeID]DataValue, len(c.Attributes))}
	if c.DataVersion != nil {
		v := *c.DataVersion
		out.DataVersion = &v
	}
	for id, v := range c.Attributes {
		out.Attributes[id] = v
	}
	return out
}

// Equal reports structural equality over both the data version and every
// attribute value.
func (c ClusterData) Equal(o ClusterData) bool {
	if (c.DataVersion == nil) != (o.DataVersion == nil) {
		return false
	}
	if c.DataVersion != nil && *c.DataVersion != *o.DataVersion {
		return false
	}
	if len(c.Attributes) != len(o.Attributes) {
		return false
	}
	for id, v := range c.Attributes {
		ov, ok := o.Attributes[id]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// withAttribute returns a copy of c with attribute id set to v.
func (c ClusterData) withAttribute(id AttributeID, v DataValue) ClusterData {
	out := c.Clone()
	out.Attributes[id] = v
	return out
}
