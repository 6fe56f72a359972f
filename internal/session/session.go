// Package session rebuilds player online/offline state from game server log
// lines. The log is the only source of truth: state is recomputed from
// scratch on every read and nothing is stored elsewhere.
package session

import (
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/gamewatch/internal/logtext"
)

// DefaultWorld is recorded for joins whose log line does not name a world.
const DefaultWorld = "default"

// Position is reserved for a future location field and is never populated.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Session is the log-derived record for one player identifier.
type Session struct {
	Identifier  string    `json:"uuid"`
	DisplayName string    `json:"name"`
	Online      bool      `json:"online"`
	LastLogin   *string   `json:"last_login"`
	LastLogout  *string   `json:"last_logout"`
	World       *string   `json:"world"`
	Position    *Position `json:"position"`
}

func (s *Session) clone() *Session {
	c := *s
	c.LastLogin = cloneStr(s.LastLogin)
	c.LastLogout = cloneStr(s.LastLogout)
	c.World = cloneStr(s.World)
	if s.Position != nil {
		p := *s.Position
		c.Position = &p
	}
	return &c
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func strPtr(s string, ok bool) *string {
	if !ok {
		return nil
	}
	return &s
}

// Sessions maps identifier to session. Iteration order carries no meaning.
type Sessions map[string]*Session

// Sorted returns deep copies of the sessions ordered by identifier.
func (s Sessions) Sorted() []Session {
	out := make([]Session, 0, len(s))
	for _, v := range s {
		out = append(out, *v.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// SortedByLogin returns the most recent login first. Sessions without a
// parseable login sort last, by identifier.
func (s Sessions) SortedByLogin() []Session {
	out := s.Sorted()
	sort.SliceStable(out, func(i, j int) bool {
		ti, iok := loginTime(out[i])
		tj, jok := loginTime(out[j])
		if iok != jok {
			return iok
		}
		return iok && ti.After(tj)
	})
	return out
}

func loginTime(s Session) (time.Time, bool) {
	if s.LastLogin == nil {
		return time.Time{}, false
	}
	return logtext.ParseTimestamp(*s.LastLogin)
}

// OnlineCount reports how many sessions are currently online.
func (s Sessions) OnlineCount() int {
	n := 0
	for _, v := range s {
		if v.Online {
			n++
		}
	}
	return n
}

type eventKind int

const (
	joinDetailed eventKind = iota
	joinSimple
	leave
)

func (k eventKind) isJoin() bool { return k == joinDetailed || k == joinSimple }

type pattern struct {
	kind eventKind
	re   *regexp.Regexp
}

// Identifiers are usually UUIDs but older builds and test fixtures use other
// word-like ids, so the class is not restricted to hex.
const idClass = `[\w-]+`

// patterns are evaluated in order; the detailed join is a superset of the
// simple join and must be tried first.
var patterns = []pattern{
	{joinDetailed, regexp.MustCompile(`(?i)Adding player '([^']+)' to world '([^']+)' at location .+\((` + idClass + `)\)`)},
	{joinSimple, regexp.MustCompile(`(?i)Adding player '([^']+)'\s*\((` + idClass + `)\)`)},
	{leave, regexp.MustCompile(`(?i)Removing player '([^']+?)(?:\s*\([^)]+\))?'\s*\((` + idClass + `)\)`)},
}

type event struct {
	kind      eventKind
	name      string
	world     string
	id        string
	timestamp string
	hasTime   bool
}

// classify parses one cleaned line. Lines that are not player events report
// false.
func classify(line string) (event, bool) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ev := event{kind: p.kind, name: m[1]}
		if p.kind == joinDetailed {
			ev.world, ev.id = m[2], m[3]
		} else {
			ev.id = m[2]
		}
		ev.id = canonicalID(ev.id)
		ev.timestamp, ev.hasTime = logtext.ExtractTimestamp(line)
		return ev, true
	}
	return event{}, false
}

// canonicalID folds UUID spellings onto one key; anything else is kept as is.
func canonicalID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

// Reconstructor applies log lines incrementally. It is not safe for
// concurrent use; callers feeding a live tail own one per reader.
type Reconstructor struct {
	sessions Sessions
}

func NewReconstructor() *Reconstructor {
	return &Reconstructor{sessions: make(Sessions)}
}

// Feed applies one raw log line. It reports whether the line was a player
// event.
func (r *Reconstructor) Feed(raw string) bool {
	ev, ok := classify(logtext.Clean(raw))
	if !ok {
		return false
	}
	r.apply(ev)
	return true
}

func (r *Reconstructor) apply(ev event) {
	ts := strPtr(ev.timestamp, ev.hasTime)
	if ev.kind.isJoin() {
		world := ev.world
		if ev.kind == joinSimple {
			world = DefaultWorld
		}
		r.sessions[ev.id] = &Session{
			Identifier:  ev.id,
			DisplayName: ev.name,
			Online:      true,
			LastLogin:   ts,
			World:       &world,
		}
		return
	}
	if s, ok := r.sessions[ev.id]; ok {
		s.Online = false
		s.LastLogout = ts
		return
	}
	// Joined before the retained log window.
	r.sessions[ev.id] = &Session{
		Identifier:  ev.id,
		DisplayName: ev.name,
		Online:      false,
		LastLogout:  ts,
	}
}

// Reconstruct replays lines in order and returns the resulting sessions.
func Reconstruct(lines []string) Sessions {
	r := NewReconstructor()
	for _, l := range lines {
		r.Feed(l)
	}
	return r.sessions
}

// ReconstructReader streams lines from rd. Lines longer than
// logtext.MaxLine are cut to that length. On a read error the sessions built
// so far are returned together with the error.
func ReconstructReader(rd io.Reader) (Sessions, error) {
	r := NewReconstructor()
	err := logtext.EachLine(rd, logtext.MaxLine, func(l string) { r.Feed(l) })
	return r.sessions, err
}

// TransitionKind describes an online flip between two snapshots.
type TransitionKind string

const (
	Joined TransitionKind = "join"
	Left   TransitionKind = "leave"
)

// Transition is one player whose online flag differs between snapshots.
type Transition struct {
	Kind    TransitionKind
	Session Session
}

// Diff reports players that came online or went offline between prev and
// next, ordered by identifier. Players first seen offline are not reported.
func Diff(prev, next Sessions) []Transition {
	var out []Transition
	for _, s := range next.Sorted() {
		before, known := prev[s.Identifier]
		switch {
		case s.Online && (!known || !before.Online):
			out = append(out, Transition{Kind: Joined, Session: s})
		case !s.Online && known && before.Online:
			out = append(out, Transition{Kind: Left, Session: s})
		}
	}
	return out
}

// String is a compact description used in log messages.
func (s Session) String() string {
	state := "offline"
	if s.Online {
		state = "online"
	}
	return strings.Join([]string{s.DisplayName, s.Identifier, state}, " ")
}
