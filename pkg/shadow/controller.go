package shadow

import "sync"

// Controller is the shared, per-fabric factory for Devices, keyed by
// NodeID: it owns the collaborators every Device it creates shares (the IM
// client and subscribe client, storage, connectivity monitor, logger
// factory) and hands out exactly one Device per node, mirroring
// pkg/exchange.Manager's role as the long-lived owner of per-peer state.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	devices map[NodeID]*Device
}

// NewController creates a Controller from cfg. cfg.IMClient and
// cfg.Acquirer are required; cfg.SubscribeClient is required unless every
// Device this Controller creates sets TestOverrides.SkipSubscription.
func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:     cfg,
		devices: make(map[NodeID]*Device),
	}
}

// Device returns the Device for deviceCfg.Node, creating it on first call.
// A later call for an already-created node returns the existing Device
// unchanged; deviceCfg's fields are only consulted the first time.
func (c *Controller) Device(deviceCfg DeviceConfig) *Device {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.devices[deviceCfg.Node]; ok {
		return d
	}

	d := NewDevice(deviceCfg, DeviceDeps{
		IMClient:        c.cfg.IMClient,
		SubscribeClient: c.cfg.SubscribeClient,
		Acquirer:        c.cfg.Acquirer,
		Storage:         c.cfg.Storage,
		Connectivity:    c.cfg.Connectivity,
		LoggerFactory:   c.cfg.LoggerFactory,
	})
	c.devices[deviceCfg.Node] = d
	return d
}

// Lookup returns the already-created Device for node, if any, without
// creating one.
func (c *Controller) Lookup(node NodeID) (*Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[node]
	return d, ok
}

// Forget invalidates and releases the Device for node, if one exists. A
// later call to Device for the same node creates a fresh one.
func (c *Controller) Forget(node NodeID) {
	c.mu.Lock()
	d, ok := c.devices[node]
	if ok {
		delete(c.devices, node)
	}
	c.mu.Unlock()

	if ok {
		d.Invalidate()
	}
}
