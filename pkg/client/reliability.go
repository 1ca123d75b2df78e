package client

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/transitops/stationlink/pkg/protocol"
)

// idGenerator produces message ids unique within a client session:
// a monotonic counter plus creation timestamp plus a random suffix.
type idGenerator struct {
	counter atomic.Uint64
}

func (g *idGenerator) next() string {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("msg-%d-%d-%s",
		g.counter.Add(1), time.Now().UnixMilli(), hex.EncodeToString(suffix))
}

// messageCache retains recently sent/received envelopes by id for
// de-duplication hints and diagnostics. Bounded: oldest entries are evicted
// first once the cap is reached.
type messageCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*protocol.Envelope
	order   []string
}

func newMessageCache(max int) *messageCache {
	return &messageCache{
		max:     max,
		entries: make(map[string]*protocol.Envelope, max),
	}
}

// add stores an envelope, evicting the oldest entry when full. Re-adding a
// known id refreshes nothing; the first copy wins.
func (c *messageCache) add(env *protocol.Envelope) {
	if env.MessageID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[env.MessageID]; ok {
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[env.MessageID] = env
	c.order = append(c.order, env.MessageID)
}

// seen reports whether an id is in the cache.
func (c *messageCache) seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// size returns the number of cached envelopes.
func (c *messageCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// retryLedger tracks messages whose send attempt failed. Each entry retries
// with exponential backoff until it succeeds or exceeds the retry budget, at
// which point it is dropped and surfaced through onExhausted.
type retryLedger struct {
	mu      sync.Mutex
	entries map[string]*failedMessage
	stopped bool

	maxRetries int
	baseDelay  time.Duration

	resend      func(*protocol.Envelope) error
	onExhausted func(*protocol.Envelope, int, error)
}

type failedMessage struct {
	env         *protocol.Envelope
	retryCount  int
	lastAttempt time.Time
	timer       *time.Timer
}

func newRetryLedger(maxRetries int, baseDelay time.Duration,
	resend func(*protocol.Envelope) error,
	onExhausted func(*protocol.Envelope, int, error)) *retryLedger {
	return &retryLedger{
		entries:     make(map[string]*failedMessage),
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		resend:      resend,
		onExhausted: onExhausted,
	}
}

// record registers a failed send. A message already in the ledger keeps its
// existing retry schedule.
func (l *retryLedger) record(env *protocol.Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}
	if _, ok := l.entries[env.MessageID]; ok {
		return
	}
	entry := &failedMessage{env: env, lastAttempt: time.Now()}
	entry.timer = time.AfterFunc(l.delayFor(0), func() { l.retry(env.MessageID) })
	l.entries[env.MessageID] = entry
}

// retry re-attempts one ledger entry.
func (l *retryLedger) retry(id string) {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok || l.stopped {
		l.mu.Unlock()
		return
	}
	entry.retryCount++
	entry.lastAttempt = time.Now()
	entry.env.RetryCount = entry.retryCount
	l.mu.Unlock()

	err := l.resend(entry.env)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	if err == nil {
		delete(l.entries, id)
		return
	}
	if entry.retryCount >= l.maxRetries {
		delete(l.entries, id)
		exhausted := l.onExhausted
		attempts := entry.retryCount
		env := entry.env
		go exhausted(env, attempts, err)
		return
	}
	entry.timer = time.AfterFunc(l.delayFor(entry.retryCount), func() { l.retry(id) })
}

func (l *retryLedger) delayFor(retryCount int) time.Duration {
	return l.baseDelay << uint(retryCount)
}

// size returns the number of messages awaiting retry.
func (l *retryLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// stop cancels every pending retry timer and clears the ledger.
func (l *retryLedger) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	for id, entry := range l.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(l.entries, id)
	}
}

// reset re-arms a stopped ledger for a fresh connection.
func (l *retryLedger) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = false
}
