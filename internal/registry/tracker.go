package registry

import (
	"context"
	"errors"
	"time"

	"github.com/zsiec/viewfinder/internal/logger"
	"github.com/zsiec/viewfinder/internal/metrics"
	"github.com/zsiec/viewfinder/internal/pipeline"
)

// finalWriteTimeout bounds the stopped-state write made after ctx is done.
const finalWriteTimeout = 2 * time.Second

// StatsFunc returns the pipeline counters copied into each heartbeat.
type StatsFunc func() pipeline.Stats

// Tracker keeps one session current in a registry. Registry failures are
// logged and counted but never stop the pipeline; a failed registration is
// retried on the next heartbeat.
type Tracker struct {
	reg      Registry
	session  *Session
	stats    StatsFunc
	interval time.Duration
	logger   logger.Logger

	states chan State

	registered bool
}

// NewTracker returns a tracker for session. stats may be nil.
func NewTracker(reg Registry, session *Session, stats StatsFunc, interval time.Duration, log logger.Logger) *Tracker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Tracker{
		reg:      reg,
		session:  session.Clone(),
		stats:    stats,
		interval: interval,
		logger:   logger.WithSession(logger.WithComponent(log, "session_tracker"), session.ID, session.Source),
		states:   make(chan State, 8),
	}
}

// SessionID returns the tracked session id.
func (t *Tracker) SessionID() string {
	return t.session.ID
}

// Hook returns a pipeline state hook. It never blocks; if the tracker falls
// behind, intermediate states are dropped and the next heartbeat carries the
// current one.
func (t *Tracker) Hook() pipeline.StateHook {
	return func(_, to pipeline.State) {
		select {
		case t.states <- stateOf(to):
		default:
			t.logger.WithField("state", to.String()).Warn("Session state update dropped")
		}
	}
}

// Run registers the session and heartbeats until ctx is done, then writes
// the stopped state with fresh counters.
func (t *Tracker) Run(ctx context.Context) {
	t.register(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.finish()
			return
		case state := <-t.states:
			t.setState(ctx, state)
		case <-ticker.C:
			t.heartbeat(ctx)
		}
	}
}

func (t *Tracker) register(ctx context.Context) {
	t.refresh()
	err := t.reg.Register(ctx, t.session)
	if errors.Is(err, ErrSessionExists) {
		// survived an earlier failed heartbeat
		err = t.reg.Update(ctx, t.session)
	}
	if err != nil {
		metrics.IncrementRegistryError("register")
		t.logger.WithError(err).Warn("Failed to register session")
		return
	}
	t.registered = true
	t.logger.Info("Session registered")
}

func (t *Tracker) heartbeat(ctx context.Context) {
	if !t.registered {
		t.register(ctx)
		return
	}
	t.refresh()
	if err := t.reg.Update(ctx, t.session); err != nil {
		metrics.IncrementRegistryError("heartbeat")
		t.logger.WithError(err).Warn("Failed to send session heartbeat")
		// expired or evicted; register again next time
		t.registered = false
	}
}

func (t *Tracker) setState(ctx context.Context, state State) {
	t.session.State = state
	if !t.registered {
		return
	}
	if err := t.reg.UpdateState(ctx, t.session.ID, state); err != nil {
		metrics.IncrementRegistryError("update_state")
		t.logger.WithError(err).Warn("Failed to update session state")
	}
}

func (t *Tracker) finish() {
	ctx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()

	t.refresh()
	t.session.State = StateStopped

	var err error
	if t.registered {
		err = t.reg.Update(ctx, t.session)
	} else {
		err = t.reg.Register(ctx, t.session)
	}
	if err != nil {
		metrics.IncrementRegistryError("stop")
		t.logger.WithError(err).Warn("Failed to mark session stopped")
		return
	}
	t.logger.Info("Session marked stopped")
}

// refresh copies the current pipeline counters into the session.
func (t *Tracker) refresh() {
	if t.stats == nil {
		return
	}
	st := t.stats()
	if st.State != "" {
		t.session.State = State(st.State)
	}
	t.session.FramesCaptured = st.FramesCaptured
	t.session.FramesConverted = st.FramesConverted
	t.session.ConversionErrors = st.ConversionErrors
	t.session.FramesReplaced = st.Replaced
	t.session.LastError = st.LastError
}

func stateOf(s pipeline.State) State {
	switch s {
	case pipeline.Streaming:
		return StateStreaming
	case pipeline.Stopped:
		return StateStopped
	}
	return StateIdle
}
