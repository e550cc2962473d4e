package shadow

import (
	"fmt"

	"github.com/matterkit/shadow/pkg/clusters/descriptor"
	"github.com/matterkit/shadow/pkg/datamodel"
)

// configAttribute reports whether an attribute is one the spec calls out as
// "affects device configuration": the descriptor cluster's topology
// attributes, plus four global attributes on every cluster (accepted
// command list, attribute list, cluster revision, feature map). A report
// that changes one of these fires DeviceConfigurationChanged once the
// batch ends.
func configAttribute(path AttributePath) bool {
	switch datamodel.AttributeID(path.Attribute) {
	case datamodel.GlobalAttrAcceptedCommandList, datamodel.GlobalAttrAttributeList,
		datamodel.GlobalAttrClusterRevision, datamodel.GlobalAttrFeatureMap:
		return true
	}
	if ClusterID(descriptor.ClusterID) != path.Cluster {
		return false
	}
	switch datamodel.AttributeID(path.Attribute) {
	case descriptor.AttrDeviceTypeList, descriptor.AttrServerList, descriptor.AttrPartsList:
		return true
	default:
		return false
	}
}

// clusterStore is the cluster data store (C1): the reported attribute
// state and data versions for one device, split into a persisted baseline
// and a dirty overlay that accumulates writes between flushes.
//
// A clusterStore is owned exclusively by one Device and must only be
// touched from that device's private command loop.
type clusterStore struct {
	persisted map[ClusterPath]ClusterData
	dirty     map[ClusterPath]ClusterData

	// knownPersistedKeys records which cluster paths have already been
	// loaded from, looked up in, or flushed to storage. loadFrom only
	// attempts a storage.Load for paths not in this set, so each path is
	// looked up in storage at most once and a known path is never re-loaded.
	knownPersistedKeys map[ClusterPath]bool
}

func newClusterStore() *clusterStore {
	return &clusterStore{
		persisted:          make(map[ClusterPath]ClusterData),
		dirty:              make(map[ClusterPath]ClusterData),
		knownPersistedKeys: make(map[ClusterPath]bool),
	}
}

// preload seeds the persisted baseline from storage-loaded data, used when
// a Device is constructed against a Storage that already has entries for
// this node (the "persisted cache" cold-start path).
func (s *clusterStore) preload(path ClusterPath, data ClusterData) {
	s.persisted[path] = data.Clone()
	s.knownPersistedKeys[path] = true
}

// Get looks up an attribute value: dirty first, then persisted. It does not
// itself consult Storage; callers needing the storage-backed fallback use
// loadFrom.
func (s *clusterStore) Get(path AttributePath) (DataValue, bool) {
	cp := path.ClusterPath()
	if cd, ok := s.dirty[cp]; ok {
		if v, ok := cd.Attributes[path.Attribute]; ok {
			return v, true
		}
	}
	if cd, ok := s.persisted[cp]; ok {
		if v, ok := cd.Attributes[path.Attribute]; ok {
			return v, true
		}
	}
	return DataValue{}, false
}

// loadFrom consults storage for a cluster path not yet known to this store,
// seeding the persisted baseline on a hit. The path is marked known
// whether or not the load found anything, so it is a no-op for any path
// already in knownPersistedKeys.
func (s *clusterStore) loadFrom(storage Storage, node NodeID, path ClusterPath) bool {
	if storage == nil || s.knownPersistedKeys[path] {
		return false
	}
	data, ok, err := storage.Load(node, path.Endpoint, path.Cluster)
	s.knownPersistedKeys[path] = true
	if err != nil || !ok {
		return false
	}
	s.persisted[path] = data
	return true
}

// Set records an attribute value unconditionally in the dirty overlay,
// without going through delta comparison. Only tests call it.
func (s *clusterStore) Set(path AttributePath, value DataValue) {
	cp := path.ClusterPath()
	cd := s.currentCluster(cp)
	s.dirty[cp] = cd.withAttribute(path.Attribute, value)
}

// NoteDataVersion records a cluster's data version without touching its
// attributes, used when a report carries only a version bump.
func (s *clusterStore) NoteDataVersion(cp ClusterPath, v DataVersion) {
	cd := s.currentCluster(cp)
	ver := v
	cd.DataVersion = &ver
	s.dirty[cp] = cd
}

func (s *clusterStore) currentCluster(cp ClusterPath) ClusterData {
	if cd, ok := s.dirty[cp]; ok {
		return cd.Clone()
	}
	if cd, ok := s.persisted[cp]; ok {
		return cd.Clone()
	}
	return ClusterData{Attributes: make(map[AttributeID]DataValue)}
}

// ingestResult is the outcome of ingesting one attribute report item.
type ingestResult struct {
	// Report is true if this ingestion produced a value change that
	// should be surfaced to the delegate.
	Report bool
	// Previous is the value the store held before ingestion, valid when
	// HadPrevious is true. On an error status the cache entry is cleared
	// and Report is true only if a previous value existed, so callers can
	// report that previous value back to the application.
	Previous      DataValue
	HadPrevious   bool
	ConfigChanged bool
}

// IngestAttributeReport applies one delta report to the store following
// the ingestion algorithm: an error status clears the cached entry and
// reports the previous value; otherwise the incoming value is compared
// against the cached value by canonical equality, and only a changed
// value is written and reported. A non-nil dataVersion always updates the
// cluster's data version regardless of whether the attribute itself
// changed.
func (s *clusterStore) IngestAttributeReport(path AttributePath, value *DataValue, dataVersion *DataVersion, errStatus error) ingestResult {
	cp := path.ClusterPath()

	if errStatus != nil {
		prev, hadPrev := s.Get(path)
		if hadPrev {
			cd := s.currentCluster(cp)
			delete(cd.Attributes, path.Attribute)
			s.dirty[cp] = cd
		}
		return ingestResult{Report: hadPrev, Previous: prev, HadPrevious: hadPrev}
	}

	if value == nil {
		return ingestResult{}
	}

	prev, hadPrev := s.Get(path)
	changed := !hadPrev || !prev.Equal(*value)

	cd := s.currentCluster(cp)
	if changed {
		cd.Attributes[path.Attribute] = *value
	}
	if dataVersion != nil {
		ver := *dataVersion
		cd.DataVersion = &ver
	}
	if changed || dataVersion != nil {
		s.dirty[cp] = cd
	}

	return ingestResult{
		Report:        changed,
		Previous:      prev,
		HadPrevious:   hadPrev,
		ConfigChanged: changed && configAttribute(path),
	}
}

// SnapshotDirty returns a deep copy of every cluster touched since the last
// successful FlushTo.
func (s *clusterStore) SnapshotDirty() map[ClusterPath]ClusterData {
	out := make(map[ClusterPath]ClusterData, len(s.dirty))
	for cp, cd := range s.dirty {
		out[cp] = cd.Clone()
	}
	return out
}

// FlushTo persists the current dirty overlay via storage. On success the
// dirty entries are merged into persisted, marked known, and cleared; on
// failure the dirty overlay is left untouched so the next flush attempt
// retries the same data.
func (s *clusterStore) FlushTo(storage Storage, node NodeID) error {
	if storage == nil || len(s.dirty) == 0 {
		return nil
	}
	snapshot := s.SnapshotDirty()
	if err := storage.Store(node, snapshot); err != nil {
		return fmt.Errorf("shadow: flush cluster store: %w", err)
	}
	for cp, cd := range snapshot {
		s.persisted[cp] = cd
		s.knownPersistedKeys[cp] = true
	}
	s.dirty = make(map[ClusterPath]ClusterData)
	return nil
}

// DataVersionMap returns the known data version for every cluster path the
// store has seen, persisted or dirty, used to build subscribe-request
// data-version filters.
func (s *clusterStore) DataVersionMap() map[ClusterPath]DataVersion {
	out := make(map[ClusterPath]DataVersion)
	for cp, cd := range s.persisted {
		if cd.DataVersion != nil {
			out[cp] = *cd.DataVersion
		}
	}
	for cp, cd := range s.dirty {
		if cd.DataVersion != nil {
			out[cp] = *cd.DataVersion
		}
	}
	return out
}
