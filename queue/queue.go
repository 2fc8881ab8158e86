// Package queue implements the pending chunk queue between the tail reader
// and the connection session.
//
// The queue is bounded by bytes. The producer blocks when the queue is full
// rather than dropping data. The consumer uses Peek/Ack so a chunk leaves the
// queue only after it has been fully written to the socket.
package queue

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is the default queue capacity in bytes (8 MiB).
const DefaultCapacity int64 = 8 << 20

// ErrClosed is returned by Push and Peek once the queue has been closed and,
// for Peek, fully drained.
var ErrClosed = errors.New("queue closed")

// ErrInvalidCapacity is returned when capacity is not positive.
var ErrInvalidCapacity = errors.New("invalid capacity: must be > 0")

// Chunk is a contiguous range of bytes read from the monitored file.
type Chunk struct {
	// Data is the raw bytes, exactly as read.
	Data []byte
	// Offset is the file offset of Data[0].
	Offset int64
	// Epoch increments each time the tail reader resets to a new file
	// or to offset 0 after truncation.
	Epoch uint64
}

// Size returns the number of bytes the chunk occupies in the queue.
func (c Chunk) Size() int64 { return int64(len(c.Data)) }

// End returns the file offset just past the chunk.
func (c Chunk) End() int64 { return c.Offset + int64(len(c.Data)) }

// Stats is a point-in-time snapshot of queue accounting.
type Stats struct {
	// Chunks is the number of chunks currently queued.
	Chunks int
	// Bytes is the number of bytes currently queued.
	Bytes int64
	// Capacity is the configured byte bound.
	Capacity int64
	// Pushed is the total number of chunks accepted.
	Pushed int64
	// Acked is the total number of chunks removed by Ack.
	Acked int64
	// BlockedPushes counts pushes that had to wait for capacity.
	BlockedPushes int64
}

// Queue is a bounded FIFO of chunks. Safe for one producer and one consumer.
type Queue struct {
	capacity int64

	mu      sync.Mutex // guards all fields below
	chunks  []Chunk
	bytes   int64
	closed  bool
	changed chan struct{} // closed and replaced on every state change
	pushed  int64
	acked   int64
	blocked int64
}

// New creates a queue bounded to capacity bytes.
func New(capacity int64) (*Queue, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Queue{
		capacity: capacity,
		changed:  make(chan struct{}),
	}, nil
}

// Push appends a chunk, blocking while the queue lacks room for it.
// A chunk larger than the whole capacity is admitted once the queue is empty,
// so an oversized chunk can never wedge the producer.
// Returns ctx.Err() on cancellation and ErrClosed after Close.
func (q *Queue) Push(ctx context.Context, c Chunk) error {
	if len(c.Data) == 0 {
		return nil
	}

	q.mu.Lock()
	waited := false
	for {
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.hasRoomLocked(c.Size()) {
			break
		}
		if !waited {
			q.blocked++
			waited = true
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
		q.mu.Lock()
	}

	q.chunks = append(q.chunks, c)
	q.bytes += c.Size()
	q.pushed++
	q.notifyLocked()
	q.mu.Unlock()
	return nil
}

// TryPush appends a chunk only if there is room right now.
func (q *Queue) TryPush(c Chunk) (bool, error) {
	if len(c.Data) == 0 {
		return true, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrClosed
	}
	if !q.hasRoomLocked(c.Size()) {
		return false, nil
	}
	q.chunks = append(q.chunks, c)
	q.bytes += c.Size()
	q.pushed++
	q.notifyLocked()
	return true, nil
}

// Peek returns the head chunk without removing it, blocking until one is
// available. Repeated calls return the same chunk until Ack.
// After Close, queued chunks are still returned; ErrClosed is returned only
// once the queue is empty.
func (q *Queue) Peek(ctx context.Context) (Chunk, error) {
	q.mu.Lock()
	for len(q.chunks) == 0 {
		if q.closed {
			q.mu.Unlock()
			return Chunk{}, ErrClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		case <-wait:
		}
		q.mu.Lock()
	}
	c := q.chunks[0]
	q.mu.Unlock()
	return c, nil
}

// Ack removes the head chunk. It must follow a successful Peek.
// Ack on an empty queue is a no-op.
func (q *Queue) Ack() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.chunks) == 0 {
		return
	}
	head := q.chunks[0]
	q.chunks[0] = Chunk{}
	q.chunks = q.chunks[1:]
	q.bytes -= head.Size()
	q.acked++
	if len(q.chunks) == 0 {
		// Release the backing array once drained.
		q.chunks = nil
	}
	q.notifyLocked()
}

// Close stops accepting pushes and wakes all waiters.
// Chunks already queued remain readable via Peek.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notifyLocked()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Bytes returns the number of queued bytes.
func (q *Queue) Bytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// Capacity returns the configured byte bound.
func (q *Queue) Capacity() int64 { return q.capacity }

// Stats returns a consistent snapshot of queue accounting.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Chunks:        len(q.chunks),
		Bytes:         q.bytes,
		Capacity:      q.capacity,
		Pushed:        q.pushed,
		Acked:         q.acked,
		BlockedPushes: q.blocked,
	}
}

// hasRoomLocked reports whether size bytes fit. Caller must hold mu.
func (q *Queue) hasRoomLocked(size int64) bool {
	if len(q.chunks) == 0 {
		return true
	}
	return q.bytes+size <= q.capacity
}

// notifyLocked wakes every waiter. Caller must hold mu.
func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
