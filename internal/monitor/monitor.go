// Package monitor answers dashboard queries about the game server. It caches
// the expensive reads, records metrics and exports observed transitions to
// history sinks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/gamewatch/internal/history"
	"github.com/loykin/gamewatch/internal/logsource"
	"github.com/loykin/gamewatch/internal/metrics"
	"github.com/loykin/gamewatch/internal/procstat"
	"github.com/loykin/gamewatch/internal/session"
	"github.com/loykin/gamewatch/internal/snapshot"
	"github.com/loykin/gamewatch/internal/status"
	"github.com/loykin/gamewatch/internal/supervisor"
)

const sinkTimeout = 5 * time.Second

// Options wires a Service. Zero TTLs disable caching.
type Options struct {
	Controller *supervisor.Controller
	Layout     logsource.Layout
	StatusTTL  time.Duration
	PlayersTTL time.Duration
	Logger     *slog.Logger
	// Sample reads process usage; nil uses procstat.Sample.
	Sample func(ctx context.Context, pid int) (procstat.Usage, error)
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// StatusView is the cached status answer.
type StatusView struct {
	Program    string               `json:"program"`
	Status     status.ProcessStatus `json:"status"`
	Usage      *procstat.Usage      `json:"usage,omitempty"`
	CheckedAt  time.Time            `json:"checked_at"`
	AgeSeconds float64              `json:"age_seconds"`
	Cached     bool                 `json:"cached"`
}

// PlayersView is the cached player list. Error describes why the log could
// not be read in full; the list holds whatever was reconstructed before the
// failure, usually nothing.
type PlayersView struct {
	Players    []session.Session `json:"players"`
	Online     int               `json:"online"`
	Total      int               `json:"total"`
	Error      string            `json:"error,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
	AgeSeconds float64           `json:"age_seconds"`
	Cached     bool              `json:"cached"`
}

type statusSnap struct {
	status status.ProcessStatus
	usage  *procstat.Usage
}

type playersSnap struct {
	sessions session.Sessions
	err      error
}

// Service is safe for concurrent use.
type Service struct {
	ctrl   *supervisor.Controller
	layout logsource.Layout
	log    *slog.Logger
	sample func(ctx context.Context, pid int) (procstat.Usage, error)
	now    func() time.Time

	status  *snapshot.Cache[statusSnap]
	players *snapshot.Cache[playersSnap]

	mu          sync.Mutex
	sinks       []history.Sink
	lastStatus  *status.ProcessStatus
	lastPlayers session.Sessions
	pollStop    chan struct{}
	pollDone    chan struct{}
	cron        *cron.Cron
}

func New(o Options) *Service {
	if o.Controller == nil {
		o.Controller = supervisor.New("", 0)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Sample == nil {
		o.Sample = procstat.Sample
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Service{
		ctrl:    o.Controller,
		layout:  o.Layout,
		log:     o.Logger.With("component", "monitor", "program", o.Controller.Program),
		sample:  o.Sample,
		now:     o.Now,
		status:  snapshot.New[statusSnap](o.StatusTTL, snapshot.WithClock(o.Now)),
		players: snapshot.New[playersSnap](o.PlayersTTL, snapshot.WithClock(o.Now)),
	}
}

// SetHistorySinks configures external history sinks (OpenSearch, ClickHouse, etc.).
// Passing nil or no sinks clears the list.
func (s *Service) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

func (s *Service) Program() string { return s.ctrl.Program }

func (s *Service) Layout() logsource.Layout { return s.layout }

// Status returns the normalized server status, at most StatusTTL old.
func (s *Service) Status(ctx context.Context) (StatusView, error) {
	e, err := s.status.Get(ctx, s.loadStatus)
	if err != nil {
		return StatusView{}, err
	}
	metrics.SetCacheAge("status", e.Age.Seconds())
	return StatusView{
		Program:    s.ctrl.Program,
		Status:     e.Value.status,
		Usage:      e.Value.usage,
		CheckedAt:  e.FetchedAt.UTC(),
		AgeSeconds: e.Age.Seconds(),
		Cached:     e.Cached,
	}, nil
}

func (s *Service) loadStatus(ctx context.Context) (statusSnap, error) {
	st, res := s.ctrl.Status(ctx)
	metrics.IncStatusQuery(st.Lifecycle)
	metrics.SetStatus(st)
	if st.Lifecycle == status.Unknown {
		s.log.Debug("status query inconclusive", "exit_code", res.ExitCode, "diagnostic", st.Diagnostic)
	}

	snap := statusSnap{status: st}
	if pid, ok := st.PID(); ok {
		u, err := s.sample(ctx, pid)
		if err != nil {
			s.log.Debug("sample usage failed", "pid", pid, "error", err)
		} else {
			snap.usage = &u
			metrics.SetUsage(u.CPUPercent, u.RSSMB)
		}
	} else {
		metrics.SetUsage(0, 0)
	}
	s.observeStatus(st)
	return snap, nil
}

func (s *Service) observeStatus(st status.ProcessStatus) {
	s.mu.Lock()
	prev := s.lastStatus
	cur := st
	s.lastStatus = &cur
	s.mu.Unlock()

	if prev == nil {
		s.log.Info("server status", "lifecycle", st.Lifecycle, "substate", st.Substate)
		return
	}
	prevPID, _ := prev.PID()
	pid, _ := st.PID()
	if prev.Lifecycle == st.Lifecycle && prevPID == pid {
		return
	}
	s.log.Info("server lifecycle changed", "from", prev.Lifecycle, "to", st.Lifecycle, "pid", pid)
	s.export(history.LifecycleEvent(s.ctrl.Program, *prev, st, s.now()))
}

// Players returns reconstructed sessions sorted by identifier, at most
// PlayersTTL old. Unreadable logs give an empty list with Error set.
func (s *Service) Players(ctx context.Context) (PlayersView, error) {
	return s.PlayersBy(ctx, ByIdentifier)
}

// PlayerOrder selects how a PlayersView lists sessions.
type PlayerOrder string

const (
	ByIdentifier PlayerOrder = "id"
	// ByLogin lists the most recent login first.
	ByLogin PlayerOrder = "login"
)

// ErrUnknownOrder is returned by ParsePlayerOrder.
var ErrUnknownOrder = errors.New("unknown player order")

// ParsePlayerOrder accepts "id", "login" or empty for the default.
func ParsePlayerOrder(v string) (PlayerOrder, error) {
	switch o := PlayerOrder(strings.ToLower(strings.TrimSpace(v))); o {
	case "", ByIdentifier:
		return ByIdentifier, nil
	case ByLogin:
		return ByLogin, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOrder, v)
}

// Sort orders sessions as o prescribes.
func (o PlayerOrder) Sort(s session.Sessions) []session.Session {
	if o == ByLogin {
		return s.SortedByLogin()
	}
	return s.Sorted()
}

// PlayersBy is Players with an explicit order.
func (s *Service) PlayersBy(ctx context.Context, order PlayerOrder) (PlayersView, error) {
	e, err := s.players.Get(ctx, s.loadPlayers)
	if err != nil {
		return PlayersView{}, err
	}
	metrics.SetCacheAge("players", e.Age.Seconds())
	v := PlayersView{
		Players:    order.Sort(e.Value.sessions),
		Online:     e.Value.sessions.OnlineCount(),
		Total:      len(e.Value.sessions),
		CheckedAt:  e.FetchedAt.UTC(),
		AgeSeconds: e.Age.Seconds(),
		Cached:     e.Cached,
	}
	if v.Players == nil {
		v.Players = []session.Session{}
	}
	if e.Value.err != nil {
		v.Error = e.Value.err.Error()
	}
	return v, nil
}

func (s *Service) loadPlayers(context.Context) (playersSnap, error) {
	sessions, err := logsource.Players(s.layout.ServerPath())
	if err != nil {
		metrics.IncLogReadError(readErrorKind(err))
		s.log.Debug("read server log failed", "path", s.layout.ServerPath(), "error", err)
		return playersSnap{sessions: sessions, err: err}, nil
	}
	metrics.SetPlayers(sessions.OnlineCount(), len(sessions))
	s.observePlayers(sessions)
	return playersSnap{sessions: sessions}, nil
}

func (s *Service) observePlayers(next session.Sessions) {
	s.mu.Lock()
	prev := s.lastPlayers
	s.lastPlayers = next
	s.mu.Unlock()

	// The first scan sees the whole retained log; replaying it as events
	// would duplicate history on every restart.
	if prev == nil {
		return
	}
	for _, tr := range session.Diff(prev, next) {
		s.log.Info("player "+string(tr.Kind), "player", tr.Session.DisplayName, "id", tr.Session.Identifier)
		s.export(history.PlayerEvent(s.ctrl.Program, tr, s.now()))
	}
}

func readErrorKind(err error) string {
	if errors.Is(err, logsource.ErrNotFound) {
		return "not_found"
	}
	return "unreadable"
}

func (s *Service) export(e history.Event) {
	s.mu.Lock()
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for _, h := range sinks {
		if err := h.Send(ctx, e); err != nil {
			s.log.Warn("history export failed", "type", e.Type, "error", err)
		}
	}
}

// Logs returns the combined error and server log tail.
func (s *Service) Logs(context.Context) []string { return logsource.Combined(s.layout) }

// Console returns the most recent server log lines.
func (s *Service) Console(context.Context) []string {
	return logsource.Console(s.layout.ServerPath(), s.layout.ConsoleLines)
}

// Control forwards an action to supervisord and drops the cached status so
// the next query observes its effect.
func (s *Service) Control(ctx context.Context, a supervisor.Action) (supervisor.Result, error) {
	res, err := s.ctrl.Do(ctx, a)
	if err != nil {
		return res, err
	}
	s.status.Invalidate()
	lvl := slog.LevelInfo
	if !res.OK() {
		lvl = slog.LevelWarn
	}
	s.log.Log(ctx, lvl, "control", "action", a, "exit_code", res.ExitCode, "output", res.Output)
	return res, nil
}

// Commands returns the supervisorctl argv for each action.
func (s *Service) Commands() map[supervisor.Action][]string { return s.ctrl.Commands() }

// Refresh loads status and players now, ignoring the caches' age.
func (s *Service) Refresh(ctx context.Context) {
	s.status.Invalidate()
	s.players.Invalidate()
	if _, err := s.Status(ctx); err != nil {
		s.log.Debug("refresh status", "error", err)
	}
	if _, err := s.Players(ctx); err != nil {
		s.log.Debug("refresh players", "error", err)
	}
}

// StartPoller refreshes in the background every interval so transitions are
// exported without a client asking.
func (s *Service) StartPoller(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	if s.pollStop != nil || s.cron != nil {
		s.mu.Unlock()
		return // already running
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.pollStop, s.pollDone = stop, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-stop
			cancel()
		}()
		s.Refresh(ctx)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopPoller stops the background loop or schedule if running and waits for
// it.
func (s *Service) StopPoller() {
	s.stopSchedule()
	s.mu.Lock()
	stop, done := s.pollStop, s.pollDone
	s.pollStop, s.pollDone = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}
