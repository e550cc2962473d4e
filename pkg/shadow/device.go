package shadow

import (
	"context"
	"sync"
	"time"

	"github.com/matterkit/shadow/pkg/clusters/descriptor"
	"github.com/matterkit/shadow/pkg/datamodel"
	"github.com/matterkit/shadow/pkg/im"
	imsg "github.com/matterkit/shadow/pkg/im/message"
	"github.com/matterkit/shadow/pkg/session"
	"github.com/matterkit/shadow/pkg/transport"
	"github.com/pion/logging"
)

// Delegate receives asynchronous notifications about a Device. Every
// method is invoked from a bounded delegate-dispatch goroutine, never from
// the device's own command loop, so a slow delegate cannot stall reads,
// writes or report ingestion.
type Delegate interface {
	// StateChanged fires on every effective change of ReachabilityState.
	StateChanged(state ReachabilityState)

	// ReceivedAttributeReport fires once per report batch (and once per
	// expected-value transition) with every attribute that changed.
	ReceivedAttributeReport(items []AttributeReportItem)

	// ReceivedEventReport fires once per report batch carrying events.
	ReceivedEventReport(items []EventReportItem)

	// DeviceCachePrimed fires exactly once per device lifetime.
	DeviceCachePrimed()

	// DeviceConfigurationChanged fires after a batch that touched a
	// configuration-affecting attribute.
	DeviceConfigurationChanged()

	// DeviceBecameActive fires when an unsolicited report arrives from an
	// already-established subscription.
	DeviceBecameActive()
}

// AttributeReportItem is one attribute whose value changed, as delivered
// to Delegate.ReceivedAttributeReport.
type AttributeReportItem struct {
	Path  AttributePath
	Value DataValue
}

// EventReportItem is one event as delivered to Delegate.ReceivedEventReport.
type EventReportItem struct {
	Path         EventPath
	Number       EventNumber
	Data         DataValue
	IsHistorical bool
}

// changesOmittedPaths holds attribute paths a caller has marked as
// changes-omitted: reported by the device as infrequently-changing or
// never-via-subscription in practice (diagnostic counters, uptime, NOC
// list, power-source metering), so a read against one of them always
// enqueues a refresh even while a subscription is live.
//
// It is shared by every Device in the process and, unlike the rest of a
// Device's state, is not confined to one command loop: MarkChangesOmitted
// is a caller-facing API any goroutine may call at any time, so the map
// needs its own lock rather than the single-writer-goroutine discipline
// the rest of this package relies on.
var (
	changesOmittedMu    sync.RWMutex
	changesOmittedPaths = map[AttributePath]bool{}
)

func isChangesOmitted(path AttributePath) bool {
	changesOmittedMu.RLock()
	defer changesOmittedMu.RUnlock()
	return changesOmittedPaths[path]
}

// MarkChangesOmitted records that path should always be treated as
// changes-omitted: ReadAttribute enqueues a refresh for it even while a
// subscription is established and reporting normally.
func MarkChangesOmitted(path AttributePath) {
	changesOmittedMu.Lock()
	defer changesOmittedMu.Unlock()
	changesOmittedPaths[path] = true
}

// Device is the device shadow facade (C5): a long-lived cache of one
// node's attribute state, a maintained subscription to it, and the single
// point through which a caller reads, writes and invokes against it.
//
// All device state is owned by one private command loop goroutine; public
// methods post work to it and, where a caller-visible result is needed,
// block on a per-call result channel. The subscription engine and work
// queue run their network I/O off this goroutine and post completions
// back onto it.
type Device struct {
	node      NodeID
	imClient  *im.Client
	acquirer  SessionAcquirer
	storage   Storage
	overrides TestOverrides
	log       logging.LeveledLogger

	cmdCh    chan func()
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	store       *clusterStore
	expected    *expectedValueCache
	queue       *workQueue
	sub         *subscriptionEngine
	draining    bool
	sweepTimer  *time.Timer
	nextSweepAt time.Time

	timeSync *timeSyncLoop

	delegateMu sync.Mutex
	delegate   Delegate
	delegateCh chan func()
	primed     bool
}

// DeviceDeps are the collaborators a Controller wires into every Device it
// creates.
type DeviceDeps struct {
	IMClient        *im.Client
	SubscribeClient *im.SubscribeClient
	Acquirer        SessionAcquirer
	Storage         Storage
	Connectivity    ConnectivityMonitor
	LoggerFactory   logging.LoggerFactory
}

// NewDevice constructs a Device and starts its command loop. Callers
// normally obtain a Device via Controller.Device rather than calling this
// directly.
func NewDevice(cfg DeviceConfig, deps DeviceDeps) *Device {
	factory := loggerFactory(deps.LoggerFactory)

	d := &Device{
		node:       cfg.Node,
		imClient:   deps.IMClient,
		acquirer:   deps.Acquirer,
		storage:    deps.Storage,
		overrides:  cfg.TestOverrides,
		log:        factory.NewLogger("shadow"),
		cmdCh:      make(chan func(), 64),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		store:      newClusterStore(),
		expected:   newExpectedValueCache(),
		queue:      newWorkQueue(),
		delegateCh: make(chan func(), 64),
	}

	d.sub = newSubscriptionEngine(
		cfg.Node,
		deps.SubscribeClient,
		deps.Acquirer,
		d.subscriptionHandlers(),
		cfg.Subscription,
		cfg.TestOverrides,
		deps.Connectivity,
		factory.NewLogger("shadow.sub"),
	)
	d.timeSync = newTimeSyncLoop(cfg.Node, nil)

	go d.run()
	go d.runDelegateDispatch()
	return d
}

func (d *Device) run() {
	for {
		select {
		case fn := <-d.cmdCh:
			fn()
		case <-d.stopCh:
			close(d.doneCh)
			return
		}
	}
}

func (d *Device) runDelegateDispatch() {
	for {
		select {
		case fn := <-d.delegateCh:
			fn()
		case <-d.doneCh:
			return
		}
	}
}

// post runs fn on the device's command loop, discarding it silently if the
// device has already been torn down.
func (d *Device) post(fn func()) {
	select {
	case d.cmdCh <- fn:
	case <-d.doneCh:
	}
}

// dispatch sends fn to the bounded delegate-dispatch goroutine so a slow
// delegate can never block the command loop.
func (d *Device) dispatch(fn func()) {
	select {
	case d.delegateCh <- fn:
	case <-d.doneCh:
	default:
		// Dispatch queue full: drop rather than block the command loop.
		// A slow or wedged delegate should not be able to apply
		// backpressure to report ingestion.
	}
}

// PreloadCluster seeds the cluster store's persisted baseline for one
// cluster path from storage, for callers that track which paths they
// previously persisted and want the cold-start "persisted cache" path
// from SPEC_FULL's lifecycle description.
func (d *Device) PreloadCluster(path ClusterPath) {
	done := make(chan struct{})
	d.post(func() {
		defer close(done)
		d.store.loadFrom(d.storage, d.node, path)
		d.maybeFirePrimed()
	})
	<-done
}

// SetDelegate installs delegate and, unless TestOverrides.SkipSubscription
// is set, starts the subscription engine if it is not already running.
func (d *Device) SetDelegate(delegate Delegate) {
	d.delegateMu.Lock()
	d.delegate = delegate
	d.delegateMu.Unlock()

	d.post(func() {
		d.maybeFirePrimed()
		d.sub.Start(func() map[ClusterPath]DataVersion { return d.store.DataVersionMap() })
		if !d.overrides.SkipSubscription {
			d.timeSync.writer = timeWriterAdapter{device: d}
		}
	})
}

// Invalidate tears the device down: it stops the subscription engine and
// time-sync loop, drops the delegate, and halts future work-item
// execution. Operations already issued complete normally but no longer
// produce delegate callbacks.
func (d *Device) Invalidate() {
	d.delegateMu.Lock()
	d.delegate = nil
	d.delegateMu.Unlock()

	d.sub.Stop()
	d.timeSync.Stop()
	d.post(func() {
		if d.sweepTimer != nil {
			d.sweepTimer.Stop()
		}
	})

	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}

// ReachabilityState returns the device's current public reachability.
func (d *Device) ReachabilityState() ReachabilityState {
	return d.sub.Reachability()
}

// ReadAttribute returns the best currently-known value for path: an
// unexpired expected value if one exists, else the cached reported value,
// else the zero DataValue with ok=false. If no value is known, or path is
// marked changes-omitted, a refresh read is enqueued; the call itself
// never blocks on the network.
func (d *Device) ReadAttribute(path AttributePath) (DataValue, bool) {
	type result struct {
		value DataValue
		ok    bool
	}
	resultCh := make(chan result, 1)
	d.post(func() {
		now := time.Now()
		if v, ok := d.expected.Lookup(now, path); ok {
			resultCh <- result{v, true}
			d.maybeEnqueueRefresh(path, true)
			return
		}
		v, ok := d.store.Get(path)
		resultCh <- result{v, ok}
		if !ok || isChangesOmitted(path) {
			d.maybeEnqueueRefresh(path, false)
		}
	})
	r := <-resultCh
	return r.value, r.ok
}

func (d *Device) maybeEnqueueRefresh(path AttributePath, haveValue bool) {
	if d.sub.Reachability() == ReachabilityReachable && haveValue && !isChangesOmitted(path) {
		return
	}
	_, dup := d.queue.EnqueueRead(path, ReadParams{FabricFiltered: true}, func(v DataValue, ok bool, err error) {
		d.post(func() {
			if err == nil && ok {
				d.ingestOne(path, &v, nil, nil)
			}
		})
	})
	if !dup {
		d.pumpQueue()
	}
	now := time.Now()
	if d.sub.NeedsResubscribeForReadThrough(now) {
		// Start is a no-op once the engine has left Unsubscribed, so kick an
		// immediate attempt on the engine's current generation instead.
		d.sub.mu.Lock()
		gen := d.sub.generation
		d.sub.mu.Unlock()
		d.sub.onConnectivityChanged(gen)
	}
}

// WriteAttribute issues a write for path. expectedIntervalMS bounds how
// long the optimistic prediction (value) lives in the expected-value
// cache before it is swept; timedTimeoutMS, if non-nil, marks the write as
// a timed interaction with that timeout in milliseconds.
func (d *Device) WriteAttribute(path AttributePath, value DataValue, expectedIntervalMS uint32, timedTimeoutMS *uint32) error {
	if expectedIntervalMS == 0 {
		expectedIntervalMS = 1
	}
	var timeoutMS uint32
	if timedTimeoutMS != nil {
		timeoutMS = clampTimedTimeout(*timedTimeoutMS)
	}

	errCh := make(chan error, 1)
	d.post(func() {
		now := time.Now()
		var gen uint64
		if !d.overrides.SkipExpectedValues {
			shouldReport := d.expected.insertReport(now, path, value, d.store.Get)
			gen = d.expected.Set(now, []ExpectedEntry{{Path: path, Value: value}}, expectedIntervalMS)
			if shouldReport {
				d.fireAttributeReport([]AttributeReportItem{{Path: path, Value: value}})
			}
			d.scheduleSweep(now.Add(time.Duration(expectedIntervalMS) * time.Millisecond))
		}
		d.queue.EnqueueWrite(path, value, gen, timeoutMS, func(err error) {
			d.post(func() {
				if err != nil && !d.overrides.SkipExpectedValues {
					if cv, diverged := d.expected.RemoveWithReport(path, gen, d.store.Get); diverged {
						d.fireAttributeReport([]AttributeReportItem{{Path: path, Value: cv}})
					}
				}
				errCh <- err
			})
		})
		d.pumpQueue()
	})
	return <-errCh
}

// InvokeCommand invokes a command and, if expectedIntervalMS is positive,
// installs expectedValues in the expected-value cache under one shared
// generation before the invoke is sent.
func (d *Device) InvokeCommand(path CommandPath, requestData []byte, expectedValues []ExpectedEntry, expectedIntervalMS uint32, timedTimeoutMS *uint32) (*InvokeResult, error) {
	var timeoutMS uint32
	if timedTimeoutMS != nil {
		timeoutMS = clampTimedTimeout(*timedTimeoutMS)
	} else if len(expectedValues) > 0 {
		timeoutMS = DefaultInvokeTimedTimeoutMS
	}

	type result struct {
		res *InvokeResult
		err error
	}
	resultCh := make(chan result, 1)
	d.post(func() {
		now := time.Now()
		var gen uint64
		if expectedIntervalMS > 0 && len(expectedValues) > 0 && !d.overrides.SkipExpectedValues {
			var items []AttributeReportItem
			for _, e := range expectedValues {
				if d.expected.insertReport(now, e.Path, e.Value, d.store.Get) {
					items = append(items, AttributeReportItem{Path: e.Path, Value: e.Value})
				}
			}
			gen = d.expected.Set(now, expectedValues, expectedIntervalMS)
			d.fireAttributeReport(items)
			d.scheduleSweep(now.Add(time.Duration(expectedIntervalMS) * time.Millisecond))
		}
		cutoff := time.Time{}
		if timeoutMS > 0 {
			cutoff = now.Add(time.Duration(timeoutMS) * time.Millisecond)
		}
		d.queue.EnqueueInvoke(path, requestData, timeoutMS, cutoff, func(res *InvokeResult, err error) {
			d.post(func() {
				if err != nil && gen != 0 {
					var items []AttributeReportItem
					for _, e := range expectedValues {
						if cv, diverged := d.expected.RemoveWithReport(e.Path, gen, d.store.Get); diverged {
							items = append(items, AttributeReportItem{Path: e.Path, Value: cv})
						}
					}
					if len(items) > 0 {
						d.fireAttributeReport(items)
					}
				}
				resultCh <- result{res, err}
			})
		})
		d.pumpQueue()
	})
	r := <-resultCh
	return r.res, r.err
}

// scheduleSweep arms the expected-value sweep timer for at, unless a sweep
// already scheduled for no later than at is pending.
func (d *Device) scheduleSweep(at time.Time) {
	if at.IsZero() {
		return
	}
	if !d.nextSweepAt.IsZero() && !at.Before(d.nextSweepAt) {
		return
	}
	if d.sweepTimer != nil {
		d.sweepTimer.Stop()
	}
	d.nextSweepAt = at
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	d.sweepTimer = time.AfterFunc(delay, func() { d.post(d.runSweep) })
}

// runSweep purges expired expected-value entries and reports any path whose
// expired prediction differed from the cluster store's current value, then
// reschedules for the next pending expiry.
func (d *Device) runSweep() {
	d.nextSweepAt = time.Time{}
	reports, next := d.expected.Sweep(time.Now(), d.store.Get)
	if len(reports) > 0 {
		items := make([]AttributeReportItem, len(reports))
		for i, r := range reports {
			items[i] = AttributeReportItem{Path: r.Path, Value: r.Value}
		}
		d.fireAttributeReport(items)
	}
	d.scheduleSweep(next)
}

func clampTimedTimeout(ms uint32) uint32 {
	if ms < 1 {
		return 1
	}
	if ms > 65535 {
		return 65535
	}
	return ms
}

// pumpQueue drains as much of the work queue as can run without more than
// one operation in flight, posting the next batch's network call off the
// command loop and wiring its completion back through post.
func (d *Device) pumpQueue() {
	if d.draining {
		return
	}
	job, ok := d.queue.PopBatch()
	if !ok {
		return
	}
	d.draining = true
	go d.runBatch(job)
}

func (d *Device) runBatch(job *batchJob) {
	switch job.kind {
	case ItemRead:
		d.runReadBatch(job)
	case ItemWrite:
		d.runWriteBatch(job)
	case ItemInvoke:
		d.runInvokeBatch(job)
	}
}

func (d *Device) finishBatch() {
	d.draining = false
	d.pumpQueue()
}

func (d *Device) runReadBatch(job *batchJob) {
	sess, peerAddr, ok := d.acquireSync()
	if !ok {
		d.post(func() {
			d.completeReadFailure(job, ErrNoSession)
			d.finishBatch()
		})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), im.DefaultRequestTimeout)
	defer cancel()
	report, err := d.imClient.ReadAttributes(ctx, sess, peerAddr, job.readPaths, nil, true)

	d.post(func() {
		if err != nil {
			if IsRetryable(err) && retryBudget(ItemRead, attemptsOf(job.items[0])+1) {
				bumpAttempts(job.items)
				d.queue.requeueFront(job.items)
			} else {
				d.completeReadFailure(job, err)
			}
			d.finishBatch()
			return
		}
		byPath := make(map[AttributePath]imsg.AttributeDataIB)
		statusByPath := make(map[AttributePath]imsg.StatusIB)
		for _, ar := range report.AttributeReports {
			if ar.AttributeData != nil {
				byPath[attributePathFromIB(ar.AttributeData.Path)] = *ar.AttributeData
			} else if ar.AttributeStatus != nil {
				statusByPath[attributePathFromIB(ar.AttributeStatus.Path)] = ar.AttributeStatus.Status
			}
		}
		for i, it := range job.items {
			path := job.readOrder[i]
			if data, ok := byPath[path]; ok {
				value, decErr := DecodeDataValue(data.Data)
				if decErr != nil {
					it.readDone(DataValue{}, false, decErr)
					continue
				}
				v := data.DataVersion
				d.ingestOne(path, &value, &v, nil)
				it.readDone(value, true, nil)
			} else if status, ok := statusByPath[path]; ok {
				remoteErr := NewRemoteError(status.Status)
				d.ingestOne(path, nil, nil, remoteErr)
				it.readDone(DataValue{}, false, remoteErr)
			} else {
				it.readDone(DataValue{}, false, ErrUnexpectedCallback)
			}
		}
		d.finishBatch()
	})
}

func (d *Device) completeReadFailure(job *batchJob, err error) {
	for _, it := range job.items {
		it.readDone(DataValue{}, false, err)
	}
}

func (d *Device) runWriteBatch(job *batchJob) {
	sess, peerAddr, ok := d.acquireSync()
	if !ok {
		d.post(func() {
			d.completeWriteFailure(job, ErrNoSession)
			d.finishBatch()
		})
		return
	}
	data, err := EncodeDataValue(job.writeData)
	if err != nil {
		d.post(func() {
			d.completeWriteFailure(job, err)
			d.finishBatch()
		})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), im.DefaultRequestTimeout)
	defer cancel()
	statuses, callErr := d.imClient.WriteAttributes(ctx, sess, peerAddr, []imsg.AttributeDataIB{
		{Path: job.writePath.toMessagePath(), Data: data},
	}, job.items[0].writeTimeoutMS)

	d.post(func() {
		if callErr != nil {
			d.completeWriteFailure(job, callErr)
			d.finishBatch()
			return
		}
		var opErr error
		if len(statuses) > 0 && statuses[0].Status.Status != imsg.StatusSuccess {
			opErr = NewRemoteError(statuses[0].Status.Status)
		}
		for _, it := range job.items {
			it.writeDone(opErr)
		}
		d.finishBatch()
	})
}

func (d *Device) completeWriteFailure(job *batchJob, err error) {
	for _, it := range job.items {
		it.writeDone(err)
	}
}

func (d *Device) runInvokeBatch(job *batchJob) {
	it := job.items[0]
	now := time.Now()
	if !job.invokeCutoff.IsZero() && now.After(job.invokeCutoff) {
		d.post(func() {
			it.invokeDone(nil, ErrTimedOut)
			d.finishBatch()
		})
		return
	}

	sess, peerAddr, ok := d.acquireSync()
	if !ok {
		d.post(func() {
			it.invokeDone(nil, ErrNoSession)
			d.finishBatch()
		})
		return
	}

	remaining := im.DefaultRequestTimeout
	if !job.invokeCutoff.IsZero() {
		if left := job.invokeCutoff.Sub(now); left > 0 {
			remaining = left
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	var res *InvokeResult
	var err error
	if job.invokeTimeoutMS > 0 {
		res, err = d.imClient.InvokeRequestTimed(ctx, sess, peerAddr, uint16(job.invokePath.Endpoint), uint32(job.invokePath.Cluster), uint32(job.invokePath.Command), job.invokeData, job.invokeTimeoutMS)
	} else {
		res, err = d.imClient.InvokeWithStatus(ctx, sess, peerAddr, uint16(job.invokePath.Endpoint), uint32(job.invokePath.Cluster), uint32(job.invokePath.Command), job.invokeData)
	}

	d.post(func() {
		if err != nil && IsRetryable(err) && retryBudget(ItemInvoke, it.retries+1) {
			it.retries++
			d.queue.requeueFront([]*workItem{it})
			d.finishBatch()
			return
		}
		if err == nil && res != nil && res.HasStatus && res.Status == imsg.StatusBusy && retryBudget(ItemInvoke, it.retries+1) {
			it.retries++
			d.queue.requeueFront([]*workItem{it})
			d.finishBatch()
			return
		}
		it.invokeDone(res, err)
		d.finishBatch()
	})
}

func attemptsOf(it *workItem) int { return it.retries }

func bumpAttempts(items []*workItem) {
	for _, it := range items {
		it.retries++
	}
}

// acquireSync blocks the calling (non-device-loop) goroutine while a
// session is resolved. It must never be called from the command loop.
func (d *Device) acquireSync() (sess *session.SecureContext, peerAddr transport.PeerAddress, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), im.DefaultRequestTimeout)
	defer cancel()
	s, addr, _, err := d.acquirer.Acquire(ctx, d.node)
	if err != nil {
		return nil, transport.PeerAddress{}, false
	}
	return s, addr, true
}

// ingestOne applies one attribute report/result to the cluster store,
// raising delegate notifications for a value change or a config-affecting
// change. A non-nil remoteErr models a status-carrying report.
func (d *Device) ingestOne(path AttributePath, value *DataValue, dataVersion *DataVersion, remoteErr error) {
	var statusErr error
	if remoteErr != nil {
		statusErr = remoteErr
	}
	res := d.store.IngestAttributeReport(path, value, dataVersion, statusErr)
	if d.overrides.ForceReportOnMatch && value != nil {
		res.Report = true
	}
	if res.Report {
		v := res.Previous
		if value != nil && statusErr == nil {
			v = *value
		}
		d.fireAttributeReport([]AttributeReportItem{{Path: path, Value: v}})
	}
	if res.ConfigChanged {
		d.dispatch(func() {
			d.withDelegate(func(del Delegate) { del.DeviceConfigurationChanged() })
		})
	}
	d.maybeFirePrimed()
}

func (d *Device) fireAttributeReport(items []AttributeReportItem) {
	if len(items) == 0 {
		return
	}
	d.dispatch(func() {
		d.withDelegate(func(del Delegate) { del.ReceivedAttributeReport(items) })
	})
}

func (d *Device) withDelegate(fn func(Delegate)) {
	d.delegateMu.Lock()
	del := d.delegate
	d.delegateMu.Unlock()
	if del != nil {
		fn(del)
	}
}

// maybeFirePrimed implements the cache-primed predicate: the root
// endpoint's Descriptor parts-list is present, and every endpoint named in
// it has its own device-type-list present.
func (d *Device) maybeFirePrimed() {
	if d.primed {
		return
	}
	rootPath := AttributePath{
		Endpoint:  EndpointID(datamodel.EndpointRoot),
		Cluster:   ClusterID(descriptor.ClusterID),
		Attribute: AttributeID(descriptor.AttrPartsList),
	}
	partsList, ok := d.store.Get(rootPath)
	if !ok || partsList.Kind != KindArray {
		return
	}
	for _, part := range partsList.Elements {
		if part.Kind != KindUint {
			return
		}
		ep := EndpointID(part.Uint)
		dtPath := AttributePath{Endpoint: ep, Cluster: ClusterID(descriptor.ClusterID), Attribute: AttributeID(descriptor.AttrDeviceTypeList)}
		if _, ok := d.store.Get(dtPath); !ok {
			return
		}
	}
	d.primed = true
	d.dispatch(func() {
		d.withDelegate(func(del Delegate) { del.DeviceCachePrimed() })
	})
}

// subscriptionHandlers wires the subscription engine's callbacks into the
// cluster store, expected-value cache and delegate dispatch, all executed
// on the command loop.
func (d *Device) subscriptionHandlers() subscriptionHandlers {
	var reportItems []AttributeReportItem
	var eventItems []EventReportItem

	return subscriptionHandlers{
		OnReportBegin: func() {
			d.post(func() {
				reportItems = nil
				eventItems = nil
			})
		},
		OnAttributeData: func(path AttributePath, dataVersion *DataVersion, data []byte) {
			d.post(func() {
				value, err := DecodeDataValue(data)
				if err != nil {
					return
				}
				res := d.store.IngestAttributeReport(path, &value, dataVersion, nil)
				if d.overrides.ForceReportOnMatch || res.Report {
					reportItems = append(reportItems, AttributeReportItem{Path: path, Value: value})
				}
				if res.ConfigChanged {
					d.dispatch(func() {
						d.withDelegate(func(del Delegate) { del.DeviceConfigurationChanged() })
					})
				}
			})
		},
		OnAttributeStatus: func(path AttributePath, status imsg.StatusIB) {
			d.post(func() {
				res := d.store.IngestAttributeReport(path, nil, nil, NewRemoteError(status.Status))
				if res.Report {
					reportItems = append(reportItems, AttributeReportItem{Path: path, Value: res.Previous})
				}
			})
		},
		OnEventData: func(report imsg.EventReportIB, historical bool) {
			d.post(func() {
				if report.EventData == nil {
					return
				}
				ed := report.EventData
				value, err := DecodeDataValue(ed.Data)
				if err != nil {
					return
				}
				path := EventPath{}
				if ed.Path.Endpoint != nil {
					path.Endpoint = *ed.Path.Endpoint
				}
				if ed.Path.Cluster != nil {
					path.Cluster = *ed.Path.Cluster
				}
				if ed.Path.Event != nil {
					path.Event = *ed.Path.Event
				}
				eventItems = append(eventItems, EventReportItem{
					Path:         path,
					Number:       ed.EventNumber,
					Data:         value,
					IsHistorical: historical,
				})
			})
		},
		OnReportEnd: func() {
			d.post(func() {
				if len(reportItems) > 0 {
					d.fireAttributeReport(append([]AttributeReportItem{}, reportItems...))
				}
				if len(eventItems) > 0 {
					items := append([]EventReportItem{}, eventItems...)
					d.dispatch(func() {
						d.withDelegate(func(del Delegate) { del.ReceivedEventReport(items) })
					})
				}
				d.maybeFirePrimed()
				if err := d.store.FlushTo(d.storage, d.node); err != nil && d.log != nil {
					d.log.Warnf("flush cluster store for node %d: %v", d.node, err)
				}
			})
		},
		OnStateChanged: func(state ReachabilityState) {
			d.dispatch(func() {
				d.withDelegate(func(del Delegate) { del.StateChanged(state) })
			})
			if state == ReachabilityReachable {
				d.post(func() { d.timeSync.Start() })
			} else {
				d.post(func() { d.timeSync.Stop() })
			}
		},
		OnBecameActive: func() {
			d.dispatch(func() {
				d.withDelegate(func(del Delegate) { del.DeviceBecameActive() })
			})
		},
	}
}

// timeWriterAdapter is the TimeWriter the device hands its time-sync loop.
// It issues no write: WriteUTCTime returns nil without sending anything.
type timeWriterAdapter struct {
	device *Device
}

func (a timeWriterAdapter) WriteUTCTime(ctx context.Context, node NodeID, now time.Time) error {
	// The concrete Time Synchronization cluster command is out of this
	// module's implemented cluster set; wiring it is left to a caller
	// that has that cluster's command ID and field schema.
	return nil
}
