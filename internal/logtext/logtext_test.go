package logtext

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

func TestClean(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"sgr", "\x1b[32mINFO\x1b[0m ready", "INFO ready"},
		{"sgr params", "\x1b[1;31mERR\x1b[m boom", "ERR boom"},
		{"orphaned fragments", "[0;32mAdding[0m player", "Adding player"},
		{"crlf", "line\r\n", "line"},
		{"invalid utf8", "bad\xffbyte", "bad\uFFFDbyte"},
		{"brackets untouched", "[2026/01/26 19:00:36   INFO] x", "[2026/01/26 19:00:36   INFO] x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Clean(tc.in); got != tc.want {
				t.Fatalf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestCleanAll(t *testing.T) {
	in := []string{"\x1b[31ma\x1b[0m", "b\n"}
	out := CleanAll(in)
	if out[0] != "a" || out[1] != "b" {
		t.Fatalf("unexpected: %#v", out)
	}
	if in[0] != "\x1b[31ma\x1b[0m" {
		t.Fatalf("input mutated")
	}
}

func TestExtractTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2026-01-26T19:00:36 INFO Adding player", "2026-01-26T19:00:36", true},
		{"[2026/01/26 19:00:36   INFO] Adding player", "2026/01/26 19:00:36", true},
		{"[INFO] Adding player 'x' (u1)", "", false},
		{"2026-01-26 19:00 short", "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractTimestamp(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ExtractTimestamp(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 1, 26, 19, 0, 36, 0, time.UTC)
	for _, s := range []string{"2026-01-26T19:00:36", "2026/01/26 19:00:36", "2026-01-26 19:00:36"} {
		got, ok := ParseTimestamp(s)
		if !ok || !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v,%v", s, got, ok)
		}
	}
	if _, ok := ParseTimestamp("not a time"); ok {
		t.Fatalf("expected failure")
	}
}

func collect(t *testing.T, r io.Reader, max int) ([]string, error) {
	t.Helper()
	var got []string
	err := EachLine(r, max, func(l string) { got = append(got, l) })
	return got, err
}

func TestEachLine(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single no newline", "a", []string{"a"}},
		{"trailing newline", "a\nb\n", []string{"a", "b"}},
		{"blank lines kept", "a\n\nb", []string{"a", "", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"truncated", "0123456789\nok\n", []string{"01234", "ok"}},
		{"exact limit", "01234\nok", []string{"01234", "ok"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := collect(t, strings.NewReader(tc.in), 5)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tc.want, "|") || len(got) != len(tc.want) {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestEachLineLongerThanReaderBuffer(t *testing.T) {
	long := strings.Repeat("x", 3<<20)
	in := "before\n" + long + "\nafter\n"
	got, err := collect(t, strings.NewReader(in), MaxLine)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0] != "before" || got[2] != "after" {
		t.Fatalf("unexpected lines: %d", len(got))
	}
	if len(got[1]) != MaxLine {
		t.Fatalf("long line kept %d bytes, want %d", len(got[1]), MaxLine)
	}
}

func TestEachLineReadError(t *testing.T) {
	boom := errors.New("boom")
	r := io.MultiReader(strings.NewReader("a\npartial"), iotest.ErrReader(boom))
	got, err := collect(t, r, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
	if strings.Join(got, "|") != "a|partial" {
		t.Fatalf("lines before the failure must be delivered: %q", got)
	}
}
