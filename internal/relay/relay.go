// Package relay keeps the freshest display frame and signals a single
// consumer that a new one is available.
//
// The relay is a single-slot mailbox. Publish overwrites whatever is in the
// slot and never blocks; the consumer is woken through a channel with
// capacity one, so any number of publishes between two reads collapse into a
// single pending signal. Nothing in the relay can fail: it is either empty,
// holding a frame, or stopped with its last frame frozen.
package relay

import (
	"errors"
	"sync"

	"github.com/zsiec/viewfinder/internal/frame"
)

// ErrAlreadySubscribed is returned when a second consumer tries to subscribe.
var ErrAlreadySubscribed = errors.New("relay already has a subscriber")

// Outcome describes what Publish did with a frame.
type Outcome int

const (
	// Published means the slot was empty or its frame had been observed.
	Published Outcome = iota
	// Replaced means an unobserved frame was discarded in favour of the new one.
	Replaced
	// Ignored means the relay is stopped and the frame was not stored.
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Published:
		return "published"
	case Replaced:
		return "replaced"
	case Ignored:
		return "ignored"
	}
	return "unknown"
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Ignored   uint64 `json:"ignored"`
	HasFrame  bool   `json:"has_frame"`
	LatestSeq uint64 `json:"latest_seq"`
	Stopped   bool   `json:"stopped"`
}

// Relay holds at most one DisplayFrame. Publish is called from the producer
// goroutine, Latest and the notification channel from the consumer.
type Relay struct {
	mu         sync.Mutex
	latest     *frame.DisplayFrame
	observed   bool // latest has been returned by Latest
	subscribed bool
	stopped    bool

	notify chan struct{}
	done   chan struct{}

	published uint64
	dropped   uint64
	ignored   uint64
}

// New returns an empty relay.
func New() *Relay {
	return &Relay{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Publish stores f as the latest frame. It never blocks.
func (r *Relay) Publish(f *frame.DisplayFrame) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		r.ignored++
		return Ignored
	}

	outcome := Published
	if r.latest != nil && !r.observed {
		r.dropped++
		outcome = Replaced
	}

	r.latest = f
	r.observed = false
	r.published++

	// Coalesce: a signal already pending covers this frame too.
	select {
	case r.notify <- struct{}{}:
	default:
	}

	return outcome
}

// Subscribe registers the single consumer. The returned channel receives one
// value whenever at least one frame was published since the consumer last
// drained it, and is closed when the relay stops.
func (r *Relay) Subscribe() (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subscribed {
		return nil, ErrAlreadySubscribed
	}
	r.subscribed = true
	return r.notify, nil
}

// Latest returns the current frame without removing it. The boolean is false
// when nothing has been published yet.
func (r *Relay) Latest() (*frame.DisplayFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.latest == nil {
		return nil, false
	}
	r.observed = true
	return r.latest, true
}

// Stop freezes the relay. Later publishes are ignored and Latest keeps
// returning the last frame. Stop is idempotent.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true
	close(r.done)
	close(r.notify)
}

// Done is closed once the relay has stopped.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Stopped reports whether Stop has been called.
func (r *Relay) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		Published: r.published,
		Dropped:   r.dropped,
		Ignored:   r.ignored,
		HasFrame:  r.latest != nil,
		Stopped:   r.stopped,
	}
	if r.latest != nil {
		s.LatestSeq = r.latest.Seq
	}
	return s
}
