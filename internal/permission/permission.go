// Package permission defines action permission levels and their resolution.
package permission

import "strings"

// Level is the authorization tier for one action.
type Level string

const (
	// Off disables the action entirely; it is never advertised.
	Off Level = "off"
	// Copilot gates every invocation behind operator approval.
	Copilot Level = "copilot"
	// Autopilot lets the agent invoke the action without confirmation.
	Autopilot Level = "autopilot"
)

// Valid reports whether l is one of the three known levels.
func (l Level) Valid() bool {
	switch l {
	case Off, Copilot, Autopilot:
		return true
	}
	return false
}

// Parse maps a config string to a Level. Unknown strings come back as Off
// with ok=false so callers can warn instead of silently granting access.
func Parse(s string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case Off:
		return Off, true
	case Copilot:
		return Copilot, true
	case Autopilot:
		return Autopilot, true
	}
	return Off, false
}
