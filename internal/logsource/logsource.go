// Package logsource reads the game server's log files. Every call opens the
// file afresh and reads it once, so concurrent callers never share a cursor
// with each other or with the writing server.
package logsource

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/loykin/gamewatch/internal/logtext"
	"github.com/loykin/gamewatch/internal/session"
)

var (
	// ErrNotFound means the log file does not exist yet.
	ErrNotFound = errors.New("log file not found")
	// ErrUnreadable covers permission and I/O failures.
	ErrUnreadable = errors.New("log file unreadable")
)

const (
	DefaultServerLines  = 150
	DefaultErrorLines   = 50
	DefaultConsoleLines = 50
)

// Layout names the files written by the game server wrapper.
type Layout struct {
	Dir          string
	ServerFile   string
	ErrorFile    string
	ServerLines  int
	ErrorLines   int
	ConsoleLines int
}

// DefaultLayout matches the container image: logs/server.log and
// logs/server-error.log.
func DefaultLayout(dir string) Layout {
	return Layout{
		Dir:          dir,
		ServerFile:   "server.log",
		ErrorFile:    "server-error.log",
		ServerLines:  DefaultServerLines,
		ErrorLines:   DefaultErrorLines,
		ConsoleLines: DefaultConsoleLines,
	}
}

func (l Layout) ServerPath() string { return filepath.Join(l.Dir, l.ServerFile) }

// ErrorPath is empty when no error log is configured.
func (l Layout) ErrorPath() string {
	if l.ErrorFile == "" {
		return ""
	}
	return filepath.Join(l.Dir, l.ErrorFile)
}

func classify(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
}

// Tail returns the last n cleaned lines of path (all lines when n <= 0).
// An empty file yields an empty slice and no error. Lines longer than
// logtext.MaxLine are cut to that length.
func Tail(path string, n int) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, classify(path, err)
	}
	defer func() { _ = f.Close() }()

	ring := newRing(n)
	if err := logtext.EachLine(f, logtext.MaxLine, ring.push); err != nil {
		return nil, classify(path, err)
	}
	return logtext.CleanAll(ring.lines()), nil
}

// Console returns the recent console lines, or exactly one diagnostic line
// when the log cannot be read.
func Console(path string, n int) []string {
	lines, err := Tail(path, n)
	switch {
	case errors.Is(err, ErrNotFound):
		return []string{"[Log file not found - server may not have started yet]"}
	case err != nil:
		return []string{fmt.Sprintf("[Error reading log: %s]", logtext.Clean(err.Error()))}
	}
	return lines
}

// Combined returns the error log (when it has content) followed by the server
// log, each under a header line.
func Combined(l Layout) []string {
	var out []string
	if ep := l.ErrorPath(); ep != "" {
		lines, err := Tail(ep, l.ErrorLines)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			out = append(out, fmt.Sprintf("[Error reading error log: %s]", logtext.Clean(err.Error())))
		case len(lines) > 0:
			out = append(out, "=== Error Log ===")
			out = append(out, lines...)
			out = append(out, "")
		}
	}

	sp := l.ServerPath()
	lines, err := Tail(sp, l.ServerLines)
	switch {
	case errors.Is(err, ErrNotFound):
		out = append(out,
			fmt.Sprintf("[Log file not found: %s]", sp),
			"[Server may not have been started yet]")
	case err != nil:
		out = append(out, fmt.Sprintf("[Error reading server log: %s]", logtext.Clean(err.Error())))
	default:
		out = append(out, "=== Server Log ===")
		out = append(out, lines...)
	}
	return out
}

// Players reconstructs sessions from the whole of path. A file that cannot be
// opened yields empty sessions; a read failure part way through keeps the
// sessions built up to that point. Either way the classified error is
// returned for callers that want to tell the cases apart.
func Players(path string) (session.Sessions, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return session.Sessions{}, classify(path, err)
	}
	defer func() { _ = f.Close() }()
	s, err := session.ReconstructReader(f)
	if err != nil {
		return s, classify(path, err)
	}
	return s, nil
}

// ring keeps the most recent lines without holding the whole file.
type ring struct {
	buf   []string
	limit int
	start int
}

func newRing(limit int) *ring { return &ring{limit: limit} }

func (r *ring) push(s string) {
	if r.limit <= 0 || len(r.buf) < r.limit {
		r.buf = append(r.buf, s)
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % r.limit
}

func (r *ring) lines() []string {
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.start:]...)
	return append(out, r.buf[:r.start]...)
}
