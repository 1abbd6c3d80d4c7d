// Package registry records capture sessions so that operators and other
// services can see what each viewfinder instance is showing.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/viewfinder/internal/source"
)

var (
	// ErrSessionNotFound is returned when a session is unknown or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when registering an id that is taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry is closed")
)

// State mirrors the pipeline state of a session.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateStopped   State = "stopped"
)

// Session describes one capture run.
type Session struct {
	ID     string `json:"id"`
	Host   string `json:"host"`
	Source string `json:"source"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	State  State  `json:"state"`

	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`

	FramesCaptured   uint64 `json:"frames_captured"`
	FramesConverted  uint64 `json:"frames_converted"`
	ConversionErrors uint64 `json:"conversion_errors"`
	FramesReplaced   uint64 `json:"frames_replaced"`
	LastError        string `json:"last_error,omitempty"`
}

// NewSession returns an idle session with a fresh id.
func NewSession(sourceName string, g source.Geometry) *Session {
	host, _ := os.Hostname()
	return &Session{
		ID:        uuid.New().String(),
		Host:      host,
		Source:    sourceName,
		Format:    g.Format.String(),
		Width:     g.Width,
		Height:    g.Height,
		State:     StateIdle,
		StartedAt: time.Now(),
	}
}

// Resolution formats the frame size as WxH.
func (s *Session) Resolution() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Clone returns a copy that shares nothing with s.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// Registry stores sessions. Entries expire unless refreshed within the
// registry's TTL.
type Registry interface {
	// Register adds a new session. It fails with ErrSessionExists when the id
	// is taken.
	Register(ctx context.Context, s *Session) error

	// Update replaces a registered session and refreshes its TTL.
	Update(ctx context.Context, s *Session) error

	// UpdateState changes only the state and heartbeat of a session.
	UpdateState(ctx context.Context, id string, state State) error

	Get(ctx context.Context, id string) (*Session, error)

	// List returns all live sessions.
	List(ctx context.Context) ([]*Session, error)

	Unregister(ctx context.Context, id string) error

	Close() error
}
