package client

import (
	"sort"
	"sync"
	"time"

	"github.com/transitops/stationlink/pkg/protocol"
)

// dispatchQueue schedules outbound envelopes by priority tier.
//
//   - TierImmediate (priority >= 8): sent synchronously, skipping the queue.
//   - TierBuffered (5-7): held in a buffer sorted descending by priority
//     (FIFO within equal priority) and drained by a single worker, one
//     envelope at a time with an inter-message throttle.
//   - TierDelayed (< 5): sent via the immediate path after a short fixed
//     delay, letting higher-priority traffic overtake.
//
// The drain worker is a two-state machine (idle/draining); enqueueing while
// a drain is in progress never spawns a second worker.
type dispatchQueue struct {
	mu       sync.Mutex
	buffer   []queuedEnvelope
	seq      uint64
	draining bool
	stopped  bool
	timers   map[*time.Timer]struct{}

	throttle time.Duration
	lowDelay time.Duration
	send     func(*protocol.Envelope)
}

type queuedEnvelope struct {
	env *protocol.Envelope
	seq uint64 // arrival order, breaks ties within a priority
}

func newDispatchQueue(throttle, lowDelay time.Duration, send func(*protocol.Envelope)) *dispatchQueue {
	return &dispatchQueue{
		throttle: throttle,
		lowDelay: lowDelay,
		send:     send,
		timers:   make(map[*time.Timer]struct{}),
	}
}

// enqueue schedules one envelope according to its tier.
func (q *dispatchQueue) enqueue(env *protocol.Envelope) {
	switch protocol.TierFor(env.Priority) {
	case protocol.TierImmediate:
		q.send(env)

	case protocol.TierBuffered:
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}
		q.insert(env)
		startWorker := !q.draining
		if startWorker {
			q.draining = true
		}
		q.mu.Unlock()
		if startWorker {
			go q.drain()
		}

	case protocol.TierDelayed:
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}
		var timer *time.Timer
		timer = time.AfterFunc(q.lowDelay, func() {
			q.mu.Lock()
			delete(q.timers, timer)
			stopped := q.stopped
			q.mu.Unlock()
			if !stopped {
				q.send(env)
			}
		})
		q.timers[timer] = struct{}{}
		q.mu.Unlock()
	}
}

// insert keeps the buffer sorted by priority descending, arrival order
// ascending. Callers hold q.mu.
func (q *dispatchQueue) insert(env *protocol.Envelope) {
	q.seq++
	entry := queuedEnvelope{env: env, seq: q.seq}
	i := sort.Search(len(q.buffer), func(i int) bool {
		return q.buffer[i].env.Priority < env.Priority
	})
	q.buffer = append(q.buffer, queuedEnvelope{})
	copy(q.buffer[i+1:], q.buffer[i:])
	q.buffer[i] = entry
}

// drain sends buffered envelopes one at a time until the buffer empties or
// the queue stops. Exactly one drain worker runs at a time.
func (q *dispatchQueue) drain() {
	for {
		q.mu.Lock()
		if q.stopped || len(q.buffer) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		entry := q.buffer[0]
		q.buffer = q.buffer[1:]
		q.mu.Unlock()

		// Throttle against flooding the channel.
		time.Sleep(q.throttle)

		q.mu.Lock()
		stopped := q.stopped
		q.mu.Unlock()
		if stopped {
			q.mu.Lock()
			q.draining = false
			q.mu.Unlock()
			return
		}
		q.send(entry.env)
	}
}

// pending returns the buffered envelope count.
func (q *dispatchQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// stop halts the worker and every pending delay timer, and discards the
// buffer. Safe to call repeatedly.
func (q *dispatchQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.buffer = nil
	for timer := range q.timers {
		timer.Stop()
		delete(q.timers, timer)
	}
}

// reset re-arms a stopped queue for a fresh connection.
func (q *dispatchQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = false
}
