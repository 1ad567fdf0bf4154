package nexwork

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"nexwork/internal/config"
)

var (
	// Colors (Nord-inspired)
	ColorGreen  = lipgloss.Color("#a3be8c")
	ColorCyan   = lipgloss.Color("#88c0d0")
	ColorBlue   = lipgloss.Color("#81a1c1")
	ColorPurple = lipgloss.Color("#b48ead")
	ColorYellow = lipgloss.Color("#ebcb8b")
	ColorRed    = lipgloss.Color("#bf616a")
	ColorGray   = lipgloss.Color("#4c566a")

	StyleSuccess = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	StyleWarning = lipgloss.NewStyle().
			Foreground(ColorPurple).
			Bold(true)

	StyleInfo = lipgloss.NewStyle().
			Foreground(ColorCyan)

	StyleBold = lipgloss.NewStyle().Bold(true)

	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	StyleBranch = lipgloss.NewStyle().
			Foreground(ColorCyan)

	StyleDim = lipgloss.NewStyle().
			Foreground(ColorGray)

	StylePath = lipgloss.NewStyle().
			Foreground(ColorBlue)

	StyleAdded = lipgloss.NewStyle().
			Foreground(ColorGreen)

	StyleDeleted = lipgloss.NewStyle().
			Foreground(ColorRed)

	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGreen).
			Padding(0, 1)
)

func SuccessMsg(msg string) string {
	return StyleSuccess.Render("✓ ") + msg
}

func ErrorMsg(msg string) string {
	return StyleError.Render("✗ ") + msg
}

func WarnMsg(msg string) string {
	return StyleWarning.Render("! ") + msg
}

func InfoMsg(msg string) string {
	return StyleInfo.Render("• ") + msg
}

// StatusStyle colors a project status.
func StatusStyle(s config.Status) lipgloss.Style {
	switch s {
	case config.StatusCompleted:
		return StyleSuccess
	case config.StatusInProgress:
		return lipgloss.NewStyle().Foreground(ColorYellow)
	default:
		return StyleDim
	}
}

func diffStatusStyle(s string) lipgloss.Style {
	switch s {
	case "A":
		return StyleAdded
	case "D":
		return StyleDeleted
	default:
		return StyleInfo
	}
}

// truncateLeft keeps the tail of s within width display cells.
func truncateLeft(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	const ellipsis = "…"
	keep := width - runewidth.StringWidth(ellipsis)
	runes := []rune(s)
	w := 0
	i := len(runes)
	for i > 0 {
		rw := runewidth.RuneWidth(runes[i-1])
		if w+rw > keep {
			break
		}
		w += rw
		i--
	}
	return ellipsis + string(runes[i:])
}

// pad fills s with spaces up to width display cells.
func pad(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}
