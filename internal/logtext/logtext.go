// Package logtext holds the text cleaning and timestamp helpers shared by the
// status and session parsers.
package logtext

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// orphanColor matches SGR fragments whose ESC byte was dropped somewhere
// between the game server and the log file, e.g. "[0;32m".
var orphanColor = regexp.MustCompile(`\[[0-9;]*m`)

var timestampRe = regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}[T ]\d{2}:\d{2}:\d{2}`)

// timestampLayouts covers every shape timestampRe accepts.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02T15:04:05",
	"2006/01/02 15:04:05",
	"2006-01/02T15:04:05",
	"2006-01/02 15:04:05",
	"2006/01-02T15:04:05",
	"2006/01-02 15:04:05",
}

// Clean repairs invalid UTF-8, removes terminal escape sequences and trims the
// line terminator. It is safe to call on already clean text.
func Clean(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if strings.ContainsRune(s, '\x1b') || strings.ContainsRune(s, '\x9b') {
		s = ansi.Strip(s)
		// A truncated sequence at the end of a partial write can leave a
		// bare ESC behind.
		s = strings.ReplaceAll(s, "\x1b", "")
	}
	if strings.Contains(s, "m") && strings.Contains(s, "[") {
		s = orphanColor.ReplaceAllString(s, "")
	}
	return strings.TrimRight(s, "\r\n")
}

// CleanAll applies Clean to every line and returns a new slice.
func CleanAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = Clean(l)
	}
	return out
}

// ExtractTimestamp returns the first date-time found in line exactly as it
// appears. Lines without one report false; callers must not substitute the
// wall clock.
func ExtractTimestamp(line string) (string, bool) {
	ts := timestampRe.FindString(line)
	return ts, ts != ""
}

// ParseTimestamp converts an extracted timestamp into a UTC instant.
func ParseTimestamp(ts string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, ts, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MaxLine bounds how much of a single log line is kept.
const MaxLine = 1 << 20

// EachLine calls fn for every line of r in order, without the line
// terminator. Only the first max bytes of a longer line are passed to fn; the
// rest of that line is skipped. A final line without a newline is still
// delivered. The returned error is the first read failure other than io.EOF.
func EachLine(r io.Reader, max int, fn func(string)) error {
	if max <= 0 {
		max = MaxLine
	}
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		buf  []byte
		full bool
		seen bool
	)
	emit := func() {
		fn(strings.TrimRight(string(buf), "\r\n"))
		buf, full, seen = buf[:0], false, false
	}
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			seen = true
			if !full {
				if room := max - len(buf); len(chunk) > room {
					chunk, full = chunk[:room], true
				}
				buf = append(buf, chunk...)
			}
		}
		switch {
		case err == nil:
			emit()
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			if seen {
				emit()
			}
			return nil
		default:
			if seen {
				emit()
			}
			return err
		}
	}
}
