// Package color maps event priorities onto display colors.
package color

import "eventcal/internal/model"

const (
	Green  = "green"
	Orange = "orange"
	Blue   = "blue"
	Gray   = "gray"

	// TextColor is the foreground color used for every event.
	TextColor = "#ffffff"
)

// For returns the background color for a priority. It never fails: any
// value outside High/Medium/Low, including the empty priority, is gray.
func For(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return Green
	case model.PriorityMedium:
		return Orange
	case model.PriorityLow:
		return Blue
	default:
		return Gray
	}
}

// ForString is For for raw form input.
func ForString(s string) string {
	return For(model.Priority(s))
}
