package systemd

import "fmt"

// Mode selects how a job is queued relative to existing jobs.
type Mode int

const (
	// Replace starts the unit and its dependencies, replacing conflicting
	// queued jobs.
	Replace Mode = iota
	// Fail refuses the job if it would affect an existing job.
	Fail
	// Isolate starts the unit and stops every unit that is not a dependency
	// of it.
	Isolate
	// IgnoreDependencies starts the unit alone.
	IgnoreDependencies
	// IgnoreRequirements ignores only requirement dependencies.
	IgnoreRequirements
)

var modeTokens = [...]string{
	Replace:            "replace",
	Fail:               "fail",
	Isolate:            "isolate",
	IgnoreDependencies: "ignore-dependencies",
	IgnoreRequirements: "ignore-requirements",
}

// Token is the wire spelling of m, or "" for an unknown mode.
func (m Mode) Token() string {
	if m < 0 || int(m) >= len(modeTokens) {
		return ""
	}
	return modeTokens[m]
}

func (m Mode) String() string {
	if t := m.Token(); t != "" {
		return t
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode maps a wire token back to its Mode.
func ParseMode(s string) (Mode, error) {
	for m, t := range modeTokens {
		if t == s {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("systemd: unknown job mode %q", s)
}

// Who selects the processes KillUnit signals.
type Who int

const (
	KillAll Who = iota
	KillMain
	KillControl
)

var whoTokens = [...]string{
	KillAll:     "all",
	KillMain:    "main",
	KillControl: "control",
}

func (w Who) Token() string {
	if w < 0 || int(w) >= len(whoTokens) {
		return ""
	}
	return whoTokens[w]
}

func (w Who) String() string {
	if t := w.Token(); t != "" {
		return t
	}
	return fmt.Sprintf("Who(%d)", int(w))
}
