package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/gamewatch/internal/status"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverLifecycle = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gamewatch",
			Subsystem: "server",
			Name:      "lifecycle",
			Help:      "Current lifecycle of the game server (1 for the current state, 0 otherwise).",
		}, []string{"state"},
	)
	serverPID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gamewatch",
			Subsystem: "server",
			Name:      "pid",
			Help:      "Pid of the active game server, 0 when not active.",
		},
	)
	serverCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gamewatch",
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "CPU usage of the game server process.",
		},
	)
	serverMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gamewatch",
			Subsystem: "server",
			Name:      "memory_mb",
			Help:      "Resident memory of the game server process in MiB.",
		},
	)
	playersOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gamewatch",
			Subsystem: "players",
			Name:      "online",
			Help:      "Players currently online according to the server log.",
		},
	)
	playersKnown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gamewatch",
			Subsystem: "players",
			Name:      "known",
			Help:      "Distinct players seen in the server log.",
		},
	)
	statusQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamewatch",
			Subsystem: "status",
			Name:      "queries_total",
			Help:      "Status queries sent to supervisord, by resulting lifecycle.",
		}, []string{"lifecycle"},
	)
	logReadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamewatch",
			Subsystem: "log",
			Name:      "read_errors_total",
			Help:      "Failed log reads by kind (not_found, unreadable).",
		}, []string{"kind"},
	)
	cacheAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gamewatch",
			Subsystem: "cache",
			Name:      "age_seconds",
			Help:      "Age of the value served from each snapshot cache.",
		}, []string{"cache"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverLifecycle, serverPID, serverCPU, serverMemory,
		playersOnline, playersKnown, statusQueries, logReadErrors, cacheAge,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// SetStatus records the lifecycle gauge set and the pid gauge.
func SetStatus(st status.ProcessStatus) {
	if !regOK.Load() {
		return
	}
	for _, l := range status.Lifecycles {
		v := 0.0
		if l == st.Lifecycle {
			v = 1
		}
		serverLifecycle.WithLabelValues(string(l)).Set(v)
	}
	pid, _ := st.PID()
	serverPID.Set(float64(pid))
}

func IncStatusQuery(l status.Lifecycle) {
	if regOK.Load() {
		statusQueries.WithLabelValues(string(l)).Inc()
	}
}

func SetUsage(cpuPercent, memoryMB float64) {
	if regOK.Load() {
		serverCPU.Set(cpuPercent)
		serverMemory.Set(memoryMB)
	}
}

func SetPlayers(online, known int) {
	if regOK.Load() {
		playersOnline.Set(float64(online))
		playersKnown.Set(float64(known))
	}
}

func IncLogReadError(kind string) {
	if regOK.Load() {
		logReadErrors.WithLabelValues(kind).Inc()
	}
}

func SetCacheAge(cache string, seconds float64) {
	if regOK.Load() {
		cacheAge.WithLabelValues(cache).Set(seconds)
	}
}
