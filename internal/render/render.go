// Package render turns meal-plan recommendations into terminal text.
package render

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"mealplan/internal/api"
)

const (
	defaultWidth = 76
	// LoadFailedText is shown when recommendations cannot be fetched.
	LoadFailedText = "Failed to load recommendations"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	noteStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// Markdown renders text as terminal-styled markdown via glamour. Falls back
// to the raw text on error.
func Markdown(text string, width int) string {
	if width < 40 {
		width = defaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	rendered, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(rendered, "\n")
}

// Lines is Markdown split into lines for scrolling panes.
func Lines(text string, width int) []string {
	if strings.TrimSpace(text) == "" {
		return []string{"(no recommendations)"}
	}
	return strings.Split(Markdown(text, width), "\n")
}

// Results formats a full results view: heading, rendered plan and a flyer
// note.
func Results(rec api.Recommendations, width int) string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Meal plan"))
	if rec.Timestamp != "" {
		b.WriteString(noteStyle.Render("  generated " + rec.Timestamp))
	}
	b.WriteString("\n\n")
	b.WriteString(strings.Join(Lines(rec.Recommendations, width), "\n"))
	b.WriteString("\n\n")
	b.WriteString(noteStyle.Render(FlyerNote(rec)))
	return b.String()
}

// FlyerNote tells the user whether the stitched flyer can be downloaded.
func FlyerNote(rec api.Recommendations) string {
	if rec.FlyerImage == "" {
		return "No flyer image available."
	}
	return "Flyer image available (mealplan results --flyer <path>)."
}
