package terminal

import "github.com/charmbracelet/lipgloss"

// Broadcast palette on a dark background.
var (
	Primary   = lipgloss.Color("#FF6B35")
	Secondary = lipgloss.Color("#1E88E5")
	Warning   = lipgloss.Color("#FFB74D")
	Error     = lipgloss.Color("#F44336")

	Text       = lipgloss.Color("#E0E0E0")
	TextBright = lipgloss.Color("#FFFFFF")
	Muted      = lipgloss.Color("#90A4AE")
	LiveGreen  = lipgloss.Color("#66BB6A")

	PanelBg    = lipgloss.Color("#161B26")
	HeaderBg   = lipgloss.Color("#1C2128")
	BorderDark = lipgloss.Color("#30363D")

	OnAir   = lipgloss.Color("#FF1744")
	Standby = lipgloss.Color("#FFC107")
	Offline = lipgloss.Color("#424242")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Background(HeaderBg).
			Bold(true).
			Padding(0, 1)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDark).
			Foreground(Text).
			Padding(0, 1)

	MetricStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	LiveStyle = lipgloss.NewStyle().
			Foreground(OnAir).
			Bold(true).
			Padding(0, 1)

	StandbyStyle = lipgloss.NewStyle().
			Foreground(Standby).
			Bold(true).
			Padding(0, 1)

	InactiveStyle = lipgloss.NewStyle().
			Foreground(Offline).
			Bold(true).
			Padding(0, 1)
)

// StateBadge renders the pipeline state the way a broadcast tally would.
func StateBadge(state string) string {
	switch state {
	case "streaming":
		return LiveStyle.Render("● LIVE")
	case "idle":
		return StandbyStyle.Render("● STBY")
	case "stopped":
		return InactiveStyle.Render("■ STOPPED")
	default:
		return InactiveStyle.Render("○ " + state)
	}
}
