// Package theme holds the lipgloss styles of the command line output.
package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsort/internal/classify"
	"github.com/nhle/mailsort/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for section titles.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// ColumnStyle renders table headers.
var ColumnStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorBlue)

// SummaryStyle frames the run summary.
var SummaryStyle = lipgloss.NewStyle().
	Padding(0, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

var (
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorGray).Italic(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorYellow)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
)

// StatusStyle returns a color-coded style for a connection status.
func StatusStyle(status model.ConnectionStatus) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch status {
	case model.StatusActive:
		return base.Foreground(ColorGreen)
	case model.StatusNeedsReauth:
		return base.Foreground(ColorOrange)
	case model.StatusError:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// ConfidenceStyle colors a confidence by the band it falls in.
func ConfidenceStyle(confidence float64) lipgloss.Style {
	switch {
	case confidence >= classify.HighConfidence:
		return lipgloss.NewStyle().Foreground(ColorGreen)
	case confidence >= classify.MediumConfidence:
		return lipgloss.NewStyle().Foreground(ColorYellow)
	default:
		return lipgloss.NewStyle().Foreground(ColorRed)
	}
}

// Confidence renders a confidence as a colored percentage.
func Confidence(confidence float64) string {
	return ConfidenceStyle(confidence).Render(fmt.Sprintf("%3.0f%%", confidence*100))
}

// OriginStyle returns a color-coded style for a classification origin.
func OriginStyle(origin model.Origin) lipgloss.Style {
	base := lipgloss.NewStyle().Padding(0, 1)

	switch origin {
	case model.OriginRules:
		return base.Foreground(ColorBlue)
	case model.OriginLLM:
		return base.Foreground(ColorMagenta)
	default:
		return base.Foreground(ColorGray)
	}
}
