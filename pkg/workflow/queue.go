package workflow

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

const fallbackQueueCapacity = 256

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("workflow queue full")

// ErrQueueClosed is returned when enqueue is attempted after close.
var ErrQueueClosed = errors.New("workflow queue closed")

// Job is a lightweight reference to a durable run awaiting execution.
// Payload may be backed by a pooled ByteBuffer; consumers must call
// Item.Done() when finished.
type Job struct {
	RunID    string
	Workflow string
	Payload  []byte
}

// Item wraps a Job and owns a pooled ByteBuffer if one was used.
// Consumers MUST call Done() exactly once after processing.
type Item struct {
	Job *Job

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
	q    *Queue
}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.q != nil {
			atomic.AddInt64(&it.q.inFlight, -1)
			it.q = nil
		}
		if it.buf != nil {
			bytebufferpool.Put(it.buf)
			it.buf = nil
		}
		if it.Job != nil {
			it.Job.Payload = nil
			jobPool.Put(it.Job)
			it.Job = nil
		}
	})
}

var jobPool = sync.Pool{New: func() any { return &Job{} }}

// Queue is a threadsafe, fixed-size in-memory queue of pending runs.
// Durability lives in the run records; the queue only carries handoff.
// mu guards the channel against a send racing the close: enqueuers hold
// the read side for the send, CloseAndDrain takes the write side.
type Queue struct {
	mu       sync.RWMutex
	ch       chan *Item
	capacity int
	dropped  uint64
	closed   bool
	inFlight int64
}

// NewQueue creates a bounded Queue of given capacity (>0).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = fallbackQueueCapacity
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// TryEnqueue enqueues a job without blocking; returns ErrQueueFull when
// at capacity.
func (q *Queue) TryEnqueue(job *Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	newJob := jobPool.Get().(*Job)
	*newJob = *job

	var bb *bytebufferpool.ByteBuffer
	if len(job.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], job.Payload...)
		newJob.Payload = bb.B[:len(job.Payload)]
	}
	it := &Item{Job: newJob, buf: bb, q: q}

	select {
	case q.ch <- it:
		atomic.AddInt64(&q.inFlight, 1)
		return nil
	default:
		if bb != nil {
			bytebufferpool.Put(bb)
		}
		jobPool.Put(newJob)
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueFull
	}
}

// RunWorker dequeues items and calls handler for each, calling
// Item.Done() always. Exits when stop fires or the queue closes.
func (q *Queue) RunWorker(stop <-chan struct{}, handler func(*Job) error) {
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			func(it *Item) {
				defer it.Done()
				_ = handler(it.Job)
			}(it)
		case <-stop:
			return
		}
	}
}

// CloseAndDrain closes the queue channel and drains remaining items,
// releasing their resources. The write lock excludes every in-flight
// TryEnqueue before the channel closes.
func (q *Queue) CloseAndDrain() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	for it := range q.ch {
		it.Done()
	}
}

// Len returns the current number of items in the queue.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of jobs rejected due to a full queue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
