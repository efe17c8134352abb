// Package broadcast fans progress-ledger changes out to live observers.
// Delivery is best-effort per subscriber: a slow observer misses
// intermediate updates, but the terminal record is always delivered, and one
// observer's backlog never blocks another observer or the publisher.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/clipforge/clipforge-agent/internal/ledger"
)

const subscriberBuffer = 16

type subscriber struct {
	ch     chan *ledger.ProgressRecord
	closed bool
}

type topic struct {
	latest *ledger.ProgressRecord
	subs   map[*subscriber]struct{}
}

// Broadcaster delivers ProgressRecord changes per job id. Publish never
// blocks; per-subscriber channels carry the backpressure.
type Broadcaster struct {
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]*topic
}

func New(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger,
		topics: make(map[string]*topic),
	}
}

// Publish pushes a record to every subscriber of its job and retains it for
// late subscribers. When the record is terminal all subscriber channels are
// closed after delivery; the retained record keeps answering late attaches
// until Forget.
func (b *Broadcaster) Publish(rec *ledger.ProgressRecord) {
	rec = rec.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topics[rec.JobID]
	if t == nil {
		t = &topic{subs: make(map[*subscriber]struct{})}
		b.topics[rec.JobID] = t
	}
	t.latest = rec

	terminal := rec.Status.Terminal()
	for s := range t.subs {
		b.deliver(s, rec, terminal)
		if terminal {
			b.closeLocked(s)
			delete(t.subs, s)
		}
	}
}

// deliver sends without blocking. On a full buffer the oldest queued update
// is dropped so the subscriber converges on the newest state; order stays
// non-decreasing because there is a single publisher per job.
func (b *Broadcaster) deliver(s *subscriber, rec *ledger.ProgressRecord, terminal bool) {
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- rec:
			return
		default:
		}
		select {
		case <-s.ch:
			// dropped an intermediate update
		default:
		}
		if !terminal {
			// one retry is enough for intermediates; the next
			// publish supersedes this one anyway
			select {
			case s.ch <- rec:
			default:
				if b.logger != nil {
					b.logger.Debug("dropped progress update for slow subscriber", "job_id", rec.JobID)
				}
			}
			return
		}
	}
}

// Subscribe attaches an observer to a job. The retained latest record, if
// any, is delivered immediately; if it is terminal the channel is closed
// right after, giving late observers exactly the final record. The returned
// cancel func detaches the observer and is safe to call more than once.
func (b *Broadcaster) Subscribe(jobID string) (<-chan *ledger.ProgressRecord, func()) {
	s := &subscriber{ch: make(chan *ledger.ProgressRecord, subscriberBuffer)}

	b.mu.Lock()
	t := b.topics[jobID]
	if t == nil {
		t = &topic{subs: make(map[*subscriber]struct{})}
		b.topics[jobID] = t
	}

	if t.latest != nil {
		s.ch <- t.latest
		if t.latest.Status.Terminal() {
			b.closeLocked(s)
			b.mu.Unlock()
			return s.ch, func() {}
		}
	}

	t.subs[s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if t, ok := b.topics[jobID]; ok {
			delete(t.subs, s)
		}
		b.closeLocked(s)
	}
	return s.ch, cancel
}

// Forget drops the retained record and any subscribers for a job, used when
// the ledger row itself is deleted.
func (b *Broadcaster) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		return
	}
	for s := range t.subs {
		b.closeLocked(s)
	}
	delete(b.topics, jobID)
}

// SubscriberCount reports the live subscribers for a job, used by status
// surfaces and tests.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[jobID]; ok {
		return len(t.subs)
	}
	return 0
}

func (b *Broadcaster) closeLocked(s *subscriber) {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
