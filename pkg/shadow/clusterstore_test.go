package shadow

import (
	"testing"

	"github.com/matterkit/shadow/pkg/clusters/descriptor"
)

func testPath(endpoint EndpointID, cluster ClusterID, attr AttributeID) AttributePath {
	return AttributePath{Endpoint: endpoint, Cluster: cluster, Attribute: attr}
}

func TestClusterStore_GetAfterSet(t *testing.T) {
	s := newClusterStore()
	path := testPath(1, 6, 0)

	if _, ok := s.Get(path); ok {
		t.Fatalf("Get on empty store should report ok=false")
	}

	s.Set(path, NewBool(true))
	v, ok := s.Get(path)
	if !ok {
		t.Fatalf("Get after Set should report ok=true")
	}
	if !v.Equal(NewBool(true)) {
		t.Errorf("Get = %+v, want true", v)
	}
}

func TestClusterStore_IngestAttributeReport(t *testing.T) {
	s := newClusterStore()
	path := testPath(1, 6, 0)

	v1 := NewBool(true)
	res := s.IngestAttributeReport(path, &v1, nil, nil)
	if !res.Report {
		t.Fatalf("first ingestion of a new value should report")
	}
	if res.HadPrevious {
		t.Errorf("first ingestion should not have a previous value")
	}

	res = s.IngestAttributeReport(path, &v1, nil, nil)
	if res.Report {
		t.Errorf("re-ingesting an unchanged value should not report")
	}

	v2 := NewBool(false)
	res = s.IngestAttributeReport(path, &v2, nil, nil)
	if !res.Report {
		t.Errorf("ingesting a changed value should report")
	}
	if !res.Previous.Equal(v1) {
		t.Errorf("Previous = %+v, want %+v", res.Previous, v1)
	}

	got, ok := s.Get(path)
	if !ok || !got.Equal(v2) {
		t.Errorf("Get after ingest = %+v, %v; want %+v, true", got, ok, v2)
	}
}

func TestClusterStore_IngestAttributeReport_ErrorStatusClears(t *testing.T) {
	s := newClusterStore()
	path := testPath(1, 6, 0)

	v := NewUint(1)
	s.IngestAttributeReport(path, &v, nil, nil)

	res := s.IngestAttributeReport(path, nil, nil, errTestRemote)
	if !res.Report {
		t.Fatalf("clearing a previously-known value should report")
	}
	if !res.Previous.Equal(v) {
		t.Errorf("Previous = %+v, want %+v", res.Previous, v)
	}

	if _, ok := s.Get(path); ok {
		t.Errorf("value should be cleared after an error-status ingestion")
	}
}

func TestClusterStore_IngestAttributeReport_DataVersionAlwaysUpdates(t *testing.T) {
	s := newClusterStore()
	path := testPath(1, 6, 0)
	cp := path.ClusterPath()

	v := NewUint(1)
	ver := DataVersion(5)
	s.IngestAttributeReport(path, &v, &ver, nil)
	s.IngestAttributeReport(path, &v, &ver, nil) // unchanged value, same version

	ver2 := DataVersion(6)
	res := s.IngestAttributeReport(path, &v, &ver2, nil)
	if res.Report {
		t.Errorf("an unchanged value should not report even when the data version bumps")
	}

	versions := s.DataVersionMap()
	if got := versions[cp]; got != ver2 {
		t.Errorf("DataVersionMap()[cp] = %v, want %v", got, ver2)
	}
}

func TestClusterStore_ConfigAttributeTriggersConfigChanged(t *testing.T) {
	s := newClusterStore()
	path := testPath(0, ClusterID(descriptor.ClusterID), AttributeID(descriptor.AttrPartsList))

	v := NewArray(NewUint(1))
	res := s.IngestAttributeReport(path, &v, nil, nil)
	if !res.ConfigChanged {
		t.Errorf("descriptor PartsList change should set ConfigChanged")
	}
}

func TestClusterStore_FlushAndLoad(t *testing.T) {
	s := newClusterStore()
	path := testPath(1, 6, 0)
	s.Set(path, NewBool(true))

	mem := NewMemoryStorage()
	if err := s.FlushTo(mem, NodeID(1)); err != nil {
		t.Fatalf("FlushTo: %v", err)
	}
	if len(s.SnapshotDirty()) != 0 {
		t.Errorf("dirty overlay should be empty after a successful flush")
	}

	s2 := newClusterStore()
	if ok := s2.loadFrom(mem, NodeID(1), path.ClusterPath()); !ok {
		t.Fatalf("loadFrom should find the flushed cluster")
	}
	v, ok := s2.Get(path)
	if !ok || !v.Equal(NewBool(true)) {
		t.Errorf("Get after loadFrom = %+v, %v; want true, true", v, ok)
	}
}

var errTestRemote = NewRemoteError(0x86)
