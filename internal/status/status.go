// Package status turns supervisorctl output into a canonical lifecycle state.
//
// Normalization never fails: malformed text, unknown supervisor states and
// failed queries all map to Unknown, with the reason kept in Diagnostic.
package status

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/loykin/gamewatch/internal/logtext"
)

// Lifecycle is the process-manager independent state of the game server.
type Lifecycle string

const (
	Active     Lifecycle = "active"
	Activating Lifecycle = "activating"
	Inactive   Lifecycle = "inactive"
	Failed     Lifecycle = "failed"
	Unknown    Lifecycle = "unknown"
)

// Lifecycles lists every lifecycle value, in display order.
var Lifecycles = []Lifecycle{Active, Activating, Inactive, Failed, Unknown}

// ProcessStatus is derived per query and never persisted.
// The pid is only reachable through PID and is only ever set by the Active
// branch of Normalize, so a pid without Active cannot be constructed.
type ProcessStatus struct {
	Lifecycle Lifecycle
	Substate  string
	// StartedLabel is a display hint taken verbatim from the supervisor
	// output. Empty means the source did not say.
	StartedLabel string
	Diagnostic   string

	pid int
}

// PID returns the main pid when the process is Active.
func (s ProcessStatus) PID() (int, bool) {
	if s.Lifecycle != Active || s.pid <= 0 {
		return 0, false
	}
	return s.pid, true
}

type statusJSON struct {
	Lifecycle    Lifecycle `json:"lifecycle"`
	Substate     string    `json:"substate"`
	PID          *int      `json:"pid"`
	StartedLabel *string   `json:"started_label"`
	Diagnostic   string    `json:"diagnostic,omitempty"`
}

// MarshalJSON emits absent optionals as null rather than zero values.
func (s ProcessStatus) MarshalJSON() ([]byte, error) {
	out := statusJSON{Lifecycle: s.Lifecycle, Substate: s.Substate, Diagnostic: s.Diagnostic}
	if pid, ok := s.PID(); ok {
		out.PID = &pid
	}
	if s.StartedLabel != "" {
		label := s.StartedLabel
		out.StartedLabel = &label
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a status, applying the same pid rule as Normalize.
func (s *ProcessStatus) UnmarshalJSON(b []byte) error {
	var in statusJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*s = ProcessStatus{Lifecycle: in.Lifecycle, Substate: in.Substate, Diagnostic: in.Diagnostic}
	if in.StartedLabel != nil {
		s.StartedLabel = *in.StartedLabel
	}
	if in.Lifecycle == Active && in.PID != nil && *in.PID > 0 {
		s.pid = *in.PID
	}
	return nil
}

func unknown(substate, diagnostic string) ProcessStatus {
	return ProcessStatus{Lifecycle: Unknown, Substate: substate, Diagnostic: diagnostic}
}

// Normalize maps one "<name> <STATE> <detail...>" line to a ProcessStatus.
func Normalize(raw string) ProcessStatus {
	parts := strings.Fields(logtext.Clean(raw))
	if len(parts) < 2 {
		return unknown("unknown", "")
	}
	token := strings.ToUpper(parts[1])
	detail := parts[2:]
	switch token {
	case "RUNNING":
		pid, ok := pidFrom(detail)
		if !ok {
			return unknown("running", "running without a pid in supervisor output")
		}
		return ProcessStatus{
			Lifecycle:    Active,
			Substate:     "running",
			StartedLabel: uptimeLabel(detail),
			pid:          pid,
		}
	case "STOPPED":
		return ProcessStatus{Lifecycle: Inactive, Substate: "dead"}
	case "STARTING":
		return ProcessStatus{Lifecycle: Activating, Substate: "start"}
	case "FATAL":
		return ProcessStatus{Lifecycle: Failed, Substate: "failed"}
	default:
		return unknown(strings.ToLower(token), "")
	}
}

// FromQuery normalizes the combined output of "supervisorctl status <program>".
// A non-zero exit code always yields Unknown, whatever the text says.
func FromQuery(program, output string, exitCode int) ProcessStatus {
	cleaned := strings.TrimSpace(logtext.Clean(output))
	if exitCode != 0 {
		if cleaned == "" {
			cleaned = "status query exited with code " + strconv.Itoa(exitCode)
		}
		return unknown("unknown", cleaned)
	}
	return Normalize(pickLine(program, cleaned))
}

// pickLine prefers the line describing program; supervisorctl may print
// warnings before it when stderr is merged in.
func pickLine(program, output string) string {
	first := ""
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if first == "" {
			first = line
		}
		if program != "" && (fields[0] == program || strings.HasSuffix(fields[0], ":"+program)) {
			return line
		}
	}
	return first
}

func pidFrom(detail []string) (int, bool) {
	for i, part := range detail {
		if part != "pid" || i+1 >= len(detail) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(detail[i+1], ","))
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// uptimeLabel extracts "uptime 1:23:45" or "uptime 2 days, 1:23:45".
func uptimeLabel(detail []string) string {
	for i, part := range detail {
		if part == "uptime" && i+1 < len(detail) {
			return "up " + strings.Join(detail[i+1:], " ")
		}
	}
	return ""
}
