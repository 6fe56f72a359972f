package status

import (
	"encoding/json"
	"testing"
)

func TestNormalizeStates(t *testing.T) {
	cases := []struct {
		name      string
		line      string
		lifecycle Lifecycle
		substate  string
		pid       int
	}{
		{"running", "hytale-server  RUNNING   pid 12345, uptime 1:23:45", Active, "running", 12345},
		{"running lowercase", "hytale-server running pid 7, uptime 0:00:03", Active, "running", 7},
		{"stopped", "hytale-server  STOPPED   Jan 25 12:00 PM", Inactive, "dead", 0},
		{"starting", "hytale-server  STARTING", Activating, "start", 0},
		{"fatal", "hytale-server  FATAL     Exited too quickly (process log may have details)", Failed, "failed", 0},
		{"backoff", "hytale-server  BACKOFF   Exited too quickly", Unknown, "backoff", 0},
		{"exited", "hytale-server  EXITED    Jan 25 12:00 PM", Unknown, "exited", 0},
		{"running without pid", "hytale-server RUNNING", Unknown, "running", 0},
		{"running bad pid", "hytale-server RUNNING pid abc, uptime 0:01:00", Unknown, "running", 0},
		{"running negative pid", "hytale-server RUNNING pid -4, uptime 0:01:00", Unknown, "running", 0},
		{"empty", "", Unknown, "unknown", 0},
		{"one token", "hytale-server", Unknown, "unknown", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := Normalize(tc.line)
			if st.Lifecycle != tc.lifecycle {
				t.Fatalf("lifecycle = %s, want %s", st.Lifecycle, tc.lifecycle)
			}
			if st.Substate != tc.substate {
				t.Fatalf("substate = %q, want %q", st.Substate, tc.substate)
			}
			pid, ok := st.PID()
			if tc.pid == 0 {
				if ok {
					t.Fatalf("expected no pid, got %d", pid)
				}
				return
			}
			if !ok || pid != tc.pid {
				t.Fatalf("pid = %d,%v want %d", pid, ok, tc.pid)
			}
		})
	}
}

func TestNormalizePIDInvariant(t *testing.T) {
	lines := []string{
		"x RUNNING pid 1,",
		"x STOPPED pid 99,",
		"x STARTING pid 99,",
		"x FATAL pid 99,",
		"x WEIRD pid 99,",
		"pid 99",
		"\x1b[31mx\x1b[0m RUNNING pid 42, uptime 0:00:01",
	}
	for _, l := range lines {
		st := Normalize(l)
		_, ok := st.PID()
		if ok != (st.Lifecycle == Active) {
			t.Fatalf("%q: pid present=%v with lifecycle %s", l, ok, st.Lifecycle)
		}
	}
}

func TestNormalizeStartedLabel(t *testing.T) {
	st := Normalize("srv RUNNING pid 10, uptime 2 days, 1:02:03")
	if st.StartedLabel != "up 2 days, 1:02:03" {
		t.Fatalf("label = %q", st.StartedLabel)
	}
	st = Normalize("srv RUNNING pid 10,")
	if st.StartedLabel != "" {
		t.Fatalf("label must stay absent, got %q", st.StartedLabel)
	}
	st = Normalize("srv STOPPED Jan 25 12:00 PM")
	if st.StartedLabel != "" {
		t.Fatalf("stopped label must be absent, got %q", st.StartedLabel)
	}
}

func TestFromQueryNonZeroExit(t *testing.T) {
	st := FromQuery("hytale-server", "hytale-server RUNNING pid 123, uptime 0:10:00", 1)
	if st.Lifecycle != Unknown {
		t.Fatalf("expected unknown, got %s", st.Lifecycle)
	}
	if _, ok := st.PID(); ok {
		t.Fatalf("pid must be absent")
	}
	if st.Diagnostic == "" {
		t.Fatalf("diagnostic should carry the query output")
	}

	st = FromQuery("hytale-server", "", 127)
	if st.Lifecycle != Unknown || st.Diagnostic != "status query exited with code 127" {
		t.Fatalf("unexpected: %+v", st)
	}

	st = FromQuery("x", "\x1b[31munix:///var/run/supervisor.sock no such file\x1b[0m", 7)
	if st.Diagnostic != "unix:///var/run/supervisor.sock no such file" {
		t.Fatalf("diagnostic leaked escapes: %q", st.Diagnostic)
	}
}

func TestFromQueryPicksProgramLine(t *testing.T) {
	out := "other  RUNNING pid 1, uptime 0:00:01\nhytale-server  STOPPED   Jan 25 12:00 PM\n"
	st := FromQuery("hytale-server", out, 0)
	if st.Lifecycle != Inactive {
		t.Fatalf("expected inactive, got %s", st.Lifecycle)
	}

	st = FromQuery("hytale-server", "games:hytale-server RUNNING pid 55, uptime 0:00:09", 0)
	if pid, ok := st.PID(); !ok || pid != 55 {
		t.Fatalf("group-qualified name not matched: %+v", st)
	}

	st = FromQuery("missing", "\nfoo STARTING\n", 0)
	if st.Lifecycle != Activating {
		t.Fatalf("expected fallback to first line, got %s", st.Lifecycle)
	}
}

func TestProcessStatusJSON(t *testing.T) {
	st := Normalize("srv RUNNING pid 321, uptime 0:00:05")
	b, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"lifecycle":"active","substate":"running","pid":321,"started_label":"up 0:00:05"}`
	if string(b) != want {
		t.Fatalf("json = %s\nwant  %s", b, want)
	}

	b, _ = json.Marshal(Normalize("srv STOPPED"))
	if string(b) != `{"lifecycle":"inactive","substate":"dead","pid":null,"started_label":null}` {
		t.Fatalf("json = %s", b)
	}

	var back ProcessStatus
	if err := json.Unmarshal([]byte(`{"lifecycle":"failed","substate":"failed","pid":9}`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := back.PID(); ok {
		t.Fatalf("pid must be dropped for non-active lifecycle")
	}
}

func FuzzNormalize(f *testing.F) {
	f.Add("hytale-server RUNNING pid 12345, uptime 1:23:45")
	f.Add("x STOPPED")
	f.Add("")
	f.Add("pid pid pid")
	f.Fuzz(func(t *testing.T, s string) {
		st := Normalize(s)
		pid, ok := st.PID()
		if ok != (st.Lifecycle == Active) {
			t.Fatalf("invariant broken for %q: %+v", s, st)
		}
		if ok && pid <= 0 {
			t.Fatalf("non-positive pid %d", pid)
		}
	})
}
