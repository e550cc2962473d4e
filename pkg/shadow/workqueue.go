package shadow

import (
	"time"

	imsg "github.com/matterkit/shadow/pkg/im/message"
)

// ItemKind classifies a work queue item.
type ItemKind int

const (
	ItemRead ItemKind = iota
	ItemWrite
	ItemInvoke
)

// Kind-specific retry budgets. Writes never auto-retry; a failed write
// rolls back its expected-value entry instead.
const (
	maxReadRetries   = 2
	maxInvokeRetries = 5
)

// ReadParams groups the request-shaping flags that must match for two read
// items to be batched into one ReadRequestMessage.
type ReadParams struct {
	FabricFiltered bool
}

// workItem is one queued operation awaiting execution on the device's
// read/write/invoke exchange. Completion callbacks are invoked from the
// device's command loop, never concurrently with other device state
// access.
type workItem struct {
	id   uint64
	kind ItemKind

	// Read
	readPath   AttributePath
	readParams ReadParams
	readDone   func(value DataValue, ok bool, err error)

	// Write
	writePath        AttributePath
	writeValue       DataValue
	writeExpectedGen uint64
	writeTimeoutMS   uint32
	writeDone        func(err error)

	// Invoke
	invokePath     CommandPath
	invokeData     []byte
	invokeTimeoutMS uint32
	invokeCutoff   time.Time
	invokeDone     func(result *InvokeResult, err error)

	retries int
}

// workQueue is the work queue (C3): a FIFO of pending reads, writes and
// invokes, with head-of-line batching and duplicate-read suppression. It
// is not safe for concurrent use; it is driven exclusively from the
// device's private command loop.
type workQueue struct {
	items  []*workItem
	nextID uint64
}

func newWorkQueue() *workQueue {
	return &workQueue{}
}

func (q *workQueue) allocID() uint64 {
	q.nextID++
	return q.nextID
}

// Len reports the number of items currently queued.
func (q *workQueue) Len() int { return len(q.items) }

// EnqueueRead appends a read item unless an already-queued read to the
// same path with the same params makes it a duplicate, in which case it is
// dropped and dup is true: the caller answers the request synchronously
// from its cache instead of issuing a second read. Only reads queued after
// the last queued write to the same path count as duplicates.
func (q *workQueue) EnqueueRead(path AttributePath, params ReadParams, done func(DataValue, bool, error)) (id uint64, dup bool) {
	for i := len(q.items) - 1; i >= 0; i-- {
		it := q.items[i]
		if it.kind == ItemWrite && it.writePath == path {
			break
		}
		if it.kind == ItemRead && it.readPath == path && it.readParams == params {
			return it.id, true
		}
	}
	item := &workItem{
		id:         q.allocID(),
		kind:       ItemRead,
		readPath:   path,
		readParams: params,
		readDone:   done,
	}
	q.items = append(q.items, item)
	return item.id, false
}

// EnqueueWrite appends a write item. Writes are never treated as
// duplicates of a queued read: a read queued behind a write to the same
// path must wait for the write to land, not be dropped.
func (q *workQueue) EnqueueWrite(path AttributePath, value DataValue, expectedGen uint64, timeoutMS uint32, done func(error)) uint64 {
	item := &workItem{
		id:               q.allocID(),
		kind:             ItemWrite,
		writePath:        path,
		writeValue:       value,
		writeExpectedGen: expectedGen,
		writeTimeoutMS:   timeoutMS,
		writeDone:        done,
	}
	q.items = append(q.items, item)
	return item.id
}

// EnqueueInvoke appends an invoke item. If timeoutMS is non-zero, cutoff
// marks the deadline by which the invoke must have been issued (now +
// timeoutMS, computed by the caller); a queue that is too backed up to
// issue it in time fails it with KindTimeout instead of sending a stale
// timed request.
func (q *workQueue) EnqueueInvoke(path CommandPath, data []byte, timeoutMS uint32, cutoff time.Time, done func(*InvokeResult, error)) uint64 {
	item := &workItem{
		id:              q.allocID(),
		kind:            ItemInvoke,
		invokePath:      path,
		invokeData:      data,
		invokeTimeoutMS: timeoutMS,
		invokeCutoff:    cutoff,
		invokeDone:      done,
	}
	q.items = append(q.items, item)
	return item.id
}

// batchJob is the result of merging the queue's head item with any
// subsequent items the batching rules allow combining it with.
type batchJob struct {
	kind  ItemKind
	items []*workItem // original items this job will complete, in order

	readPaths []imsg.AttributePathIB
	readOrder []AttributePath // parallel to readPaths, for fan-out on completion

	writePath AttributePath
	writeData DataValue

	invokePath      CommandPath
	invokeData      []byte
	invokeTimeoutMS uint32
	invokeCutoff    time.Time
}

// PopBatch removes and returns the next unit of work to execute, merging
// as many head-of-line items as the batching rules allow. It reports
// false if the queue is empty.
func (q *workQueue) PopBatch() (*batchJob, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	head := q.items[0]

	switch head.kind {
	case ItemRead:
		return q.popReadBatch(head), true
	case ItemWrite:
		return q.popWriteBatch(head), true
	default:
		q.items = q.items[1:]
		return &batchJob{
			kind:            ItemInvoke,
			items:           []*workItem{head},
			invokePath:      head.invokePath,
			invokeData:      head.invokeData,
			invokeTimeoutMS: head.invokeTimeoutMS,
			invokeCutoff:    head.invokeCutoff,
		}, true
	}
}

const maxBatchedReadPaths = 9

func (q *workQueue) popReadBatch(head *workItem) *batchJob {
	job := &batchJob{kind: ItemRead}
	n := 0
	for n < len(q.items) {
		it := q.items[n]
		if it.kind != ItemRead || it.readParams != head.readParams {
			break
		}
		if len(job.readPaths) >= maxBatchedReadPaths {
			break
		}
		job.items = append(job.items, it)
		job.readPaths = append(job.readPaths, it.readPath.toMessagePath())
		job.readOrder = append(job.readOrder, it.readPath)
		n++
	}
	q.items = q.items[n:]
	return job
}

func (q *workQueue) popWriteBatch(head *workItem) *batchJob {
	job := &batchJob{
		kind:      ItemWrite,
		writePath: head.writePath,
		writeData: head.writeValue,
	}
	job.items = append(job.items, head)
	n := 1
	for n < len(q.items) {
		it := q.items[n]
		if it.kind != ItemWrite || it.writePath != head.writePath {
			break
		}
		job.items = append(job.items, it)
		job.writeData = it.writeValue // last writer wins
		n++
	}
	q.items = q.items[n:]
	return job
}

// requeueFront pushes items back onto the front of the queue, preserving
// their relative order, for a retryable failure that must not lose its
// place in line.
func (q *workQueue) requeueFront(items []*workItem) {
	q.items = append(append([]*workItem{}, items...), q.items...)
}

// retryBudget reports whether kind permits another attempt given the
// number of attempts already made.
func retryBudget(kind ItemKind, attempts int) bool {
	switch kind {
	case ItemRead:
		return attempts <= maxReadRetries
	case ItemInvoke:
		return attempts <= maxInvokeRetries
	default:
		return false
	}
}
