package shadow

import "testing"

func newTestController() *Controller {
	return NewController(Config{
		Storage: NewMemoryStorage(),
	})
}

func TestController_DeviceIsCachedPerNode(t *testing.T) {
	c := newTestController()
	deviceCfg := DeviceConfig{Node: NodeID(1), TestOverrides: TestOverrides{SkipSubscription: true}}

	d1 := c.Device(deviceCfg)
	d2 := c.Device(deviceCfg)
	if d1 != d2 {
		t.Errorf("Controller.Device should return the same *Device for an already-created node")
	}
	t.Cleanup(d1.Invalidate)

	other := c.Device(DeviceConfig{Node: NodeID(2), TestOverrides: TestOverrides{SkipSubscription: true}})
	if other == d1 {
		t.Errorf("Controller.Device for a different node must not reuse another node's Device")
	}
	t.Cleanup(other.Invalidate)
}

func TestController_LookupAndForget(t *testing.T) {
	c := newTestController()
	node := NodeID(7)

	if _, ok := c.Lookup(node); ok {
		t.Fatalf("Lookup before Device should report ok=false")
	}

	d := c.Device(DeviceConfig{Node: node, TestOverrides: TestOverrides{SkipSubscription: true}})
	got, ok := c.Lookup(node)
	if !ok || got != d {
		t.Fatalf("Lookup after Device should return the same instance")
	}

	c.Forget(node)
	if _, ok := c.Lookup(node); ok {
		t.Errorf("Lookup after Forget should report ok=false")
	}

	fresh := c.Device(DeviceConfig{Node: node, TestOverrides: TestOverrides{SkipSubscription: true}})
	if fresh == d {
		t.Errorf("Device after Forget should construct a fresh instance")
	}
	t.Cleanup(fresh.Invalidate)
}
