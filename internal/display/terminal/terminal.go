// Package terminal shows the live frame in a terminal. Each cell carries two
// vertical pixels drawn as an upper half block with separate foreground and
// background colours.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/viewfinder/internal/display"
	"github.com/zsiec/viewfinder/internal/frame"
	"github.com/zsiec/viewfinder/internal/logger"
	"github.com/zsiec/viewfinder/internal/metrics"
	"github.com/zsiec/viewfinder/internal/pipeline"
)

const (
	sinkTerminal = "terminal"
	halfBlock    = "▀"

	// header, status line and footer
	chromeLines = 3

	defaultWidth  = 80
	defaultHeight = 24

	statsInterval = time.Second
)

// StatusFunc reports the pipeline counters shown under the picture.
type StatusFunc func() pipeline.Stats

type (
	frameReadyMsg   struct{}
	relayStoppedMsg struct{}
	tickMsg         time.Time
)

// Model is the bubbletea model of the terminal sink. It is the relay's
// single consumer and repaints once per coalesced update.
type Model struct {
	src    display.FrameSource
	notify <-chan struct{}
	status StatusFunc
	mode   display.Mode

	width  int
	height int

	frame   *frame.DisplayFrame
	picture string
	drawn   uint64 // seq of the frame in picture
	renders uint64
	frozen  bool
	stats   pipeline.Stats

	quitting bool
}

// NewModel subscribes to src. status may be nil.
func NewModel(src display.FrameSource, status StatusFunc, mode display.Mode) (*Model, error) {
	notify, err := src.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("terminal sink: %w", err)
	}
	if mode == "" {
		mode = display.ModeFit
	}
	m := &Model{
		src:    src,
		notify: notify,
		status: status,
		mode:   mode,
		width:  defaultWidth,
		height: defaultHeight,
	}
	m.refreshStats()
	return m, nil
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(waitForFrame(m.notify), tickEvery(statsInterval))
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.draw()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case frameReadyMsg:
		m.pull()
		return m, waitForFrame(m.notify)

	case relayStoppedMsg:
		m.pull()
		m.frozen = true
		m.refreshStats()
		return m, nil

	case tickMsg:
		m.refreshStats()
		return m, tickEvery(statsInterval)
	}

	return m, nil
}

// pull takes the latest frame from the relay and repaints if it is new.
func (m *Model) pull() {
	df, ok := m.src.Latest()
	if !ok || (m.frame != nil && df.Seq == m.frame.Seq) {
		return
	}
	m.frame = df
	m.draw()
}

func (m *Model) draw() {
	if m.frame == nil {
		return
	}
	cols := max(1, m.width)
	rows := max(1, m.height-chromeLines)

	img := display.Scale(m.frame.Image, cols, rows*2, m.mode)
	m.picture = RenderHalfBlocks(img)
	m.drawn = m.frame.Seq
	m.renders++
	metrics.IncrementDisplayRenders(sinkTerminal)
	metrics.SetFrameAge(m.frame.Age())
}

func (m *Model) refreshStats() {
	if m.status != nil {
		m.stats = m.status()
	}
}

// View implements tea.Model
func (m *Model) View() string {
	if m.quitting {
		return "Closing viewfinder...\n"
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	if m.picture == "" {
		b.WriteString(MutedStyle.Render("waiting for first frame..."))
	} else {
		b.WriteString(m.picture)
	}
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(MutedStyle.Render("q quit"))
	return b.String()
}

func (m *Model) header() string {
	title := HeaderStyle.Render("viewfinder")
	state := m.stats.State
	if state == "" {
		state = "idle"
	}
	parts := []string{title, StateBadge(state)}
	if m.stats.Source != "" {
		parts = append(parts, MutedStyle.Render(m.stats.Source))
	}
	if m.frozen {
		parts = append(parts, MutedStyle.Render("(frozen)"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, parts...)
}

func (m *Model) statusLine() string {
	metric := func(label string, v uint64) string {
		return MetricStyle.Render(label) + " " + ValueStyle.Render(fmt.Sprint(v))
	}
	line := strings.Join([]string{
		metric("frame", m.drawn),
		metric("captured", m.stats.FramesCaptured),
		metric("replaced", m.stats.Replaced),
		metric("errors", m.stats.ConversionErrors),
		metric("renders", m.renders),
	}, "  ")
	if m.stats.LastError != "" {
		line += "  " + ErrorStyle.Render(m.stats.LastError)
	}
	return line
}

// Renders returns how many times the picture was repainted.
func (m *Model) Renders() uint64 {
	return m.renders
}

// RenderHalfBlocks draws img with one cell per column and two rows per
// line. An odd last row is paired with black.
func RenderHalfBlocks(img *image.RGBA) string {
	b := img.Bounds()
	var sb strings.Builder
	styles := make(map[[2]color.RGBA]lipgloss.Style)

	for y := b.Min.Y; y < b.Max.Y; y += 2 {
		if y > b.Min.Y {
			sb.WriteByte('\n')
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			top := img.RGBAAt(x, y)
			bottom := color.RGBA{A: 0xff}
			if y+1 < b.Max.Y {
				bottom = img.RGBAAt(x, y+1)
			}
			key := [2]color.RGBA{top, bottom}
			st, ok := styles[key]
			if !ok {
				st = lipgloss.NewStyle().
					Foreground(lipgloss.Color(hex(top))).
					Background(lipgloss.Color(hex(bottom)))
				styles[key] = st
			}
			sb.WriteString(st.Render(halfBlock))
		}
	}
	return sb.String()
}

func hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func waitForFrame(notify <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-notify; !ok {
			return relayStoppedMsg{}
		}
		return frameReadyMsg{}
	}
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run shows the terminal sink until the user quits or ctx is cancelled.
// Extra options are passed to the bubbletea program.
func Run(ctx context.Context, src display.FrameSource, status StatusFunc, mode display.Mode, log logger.Logger, opts ...tea.ProgramOption) error {
	log = logger.WithComponent(log, "terminal_sink")

	m, err := NewModel(src, status, mode)
	if err != nil {
		return err
	}

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(m, opts...)

	log.Info("Terminal sink started")
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("terminal sink: %w", err)
	}
	log.WithField("renders", m.Renders()).Info("Terminal sink closed")
	return nil
}
