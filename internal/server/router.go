package server

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/gamewatch/internal/auth"
	"github.com/loykin/gamewatch/internal/backup"
	"github.com/loykin/gamewatch/internal/config"
	"github.com/loykin/gamewatch/internal/console"
	"github.com/loykin/gamewatch/internal/metrics"
	"github.com/loykin/gamewatch/internal/mods"
	"github.com/loykin/gamewatch/internal/monitor"
	"github.com/loykin/gamewatch/internal/settings"
	"github.com/loykin/gamewatch/internal/supervisor"
	"github.com/loykin/gamewatch/internal/version"
)

// Deps are the services behind the API. Console, Settings and Backup may be
// nil, in which case their endpoints answer 503.
type Deps struct {
	Monitor  *monitor.Service
	Console  *console.Writer
	Settings *settings.Store
	Backup   *backup.Archiver
	GameDir  string
	ModsDir  string

	// Auth guards mutating endpoints, and reads too when ProtectReads is set.
	Auth         *auth.Authenticator
	ProtectReads bool
	Metrics      bool
	Logger       *slog.Logger
}

// Router provides embeddable HTTP handlers for the dashboard.
// Endpoints, relative to basePath:
//
//	GET  /status            normalized supervisor status and usage
//	GET  /players           sessions reconstructed from the server log; ?sort=id|login
//	GET  /logs              error log then server log tail
//	GET  /console           recent server log lines
//	POST /server/:action    start|stop|restart
//	POST /console/command   body: {"command": "..."}
//	GET  /settings          POST /settings
//	GET  /mods              GET /plugins/:id
//	GET  /version
//	POST /backup            GET /backups
//	GET  /metrics           when enabled
type Router struct {
	d        Deps
	basePath string
}

// NewRouter constructs a Router. basePath may be empty or start with '/';
// a trailing slash is dropped.
func NewRouter(d Deps, basePath string) *Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.Logger = d.Logger.With("component", "http")
	return &Router{d: d, basePath: sanitizeBase(basePath)}
}

func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(r.d.Logger))
	r.Register(g.Group(r.basePath))
	return g
}

// Register adds the routes to an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	write := r.d.Auth.GinAuth()
	var read gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if r.d.ProtectReads {
		read = write
	}

	group.GET("/status", read, r.handleStatus)
	group.GET("/players", read, r.handlePlayers)
	group.GET("/logs", read, r.handleLogs)
	group.GET("/console", read, r.handleConsole)
	group.GET("/settings", read, r.handleGetSettings)
	group.GET("/mods", read, r.handleMods)
	group.GET("/plugins/:id", read, r.handlePlugin)
	group.GET("/version", read, r.handleVersion)

	group.POST("/server/:action", write, r.handleControl)
	group.POST("/console/command", write, r.handleCommand)
	group.POST("/settings", write, r.handleUpdateSettings)
	group.GET("/backups", read, r.handleListBackups)
	group.POST("/backup", write, r.handleBackup)

	if r.d.Metrics {
		group.GET("/metrics", read, gin.WrapH(metrics.Handler()))
	}
}

// NewServer builds the HTTP server for c without starting it. tlsConf may be
// nil for plain HTTP.
func NewServer(c config.ServerConfig, h http.Handler, tlsConf *tls.Config) *http.Server {
	return &http.Server{
		Addr:              c.Listen,
		Handler:           h,
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type linesResp struct {
	Lines []string `json:"lines"`
}

type controlResp struct {
	Success bool              `json:"success"`
	Action  supervisor.Action `json:"action"`
	Output  string            `json:"output"`
}

type commandReq struct {
	Command string `json:"command"`
}

type commandResp struct {
	Success bool   `json:"success"`
	Command string `json:"command"`
}

type backupResp struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Backup  backup.Archive `json:"backup"`
}

type backupsResp struct {
	Backups []backup.Archive `json:"backups"`
	Count   int              `json:"count"`
}

type modsResp struct {
	Mods  []mods.Mod `json:"mods"`
	Count int        `json:"count"`
}

func (r *Router) handleStatus(c *gin.Context) {
	v, err := r.d.Monitor.Status(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handlePlayers(c *gin.Context) {
	order, err := monitor.ParsePlayerOrder(c.Query("sort"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	v, err := r.d.Monitor.PlayersBy(c.Request.Context(), order)
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleLogs(c *gin.Context) {
	writeJSON(c, http.StatusOK, linesResp{Lines: r.d.Monitor.Logs(c.Request.Context())})
}

func (r *Router) handleConsole(c *gin.Context) {
	writeJSON(c, http.StatusOK, linesResp{Lines: r.d.Monitor.Console(c.Request.Context())})
}

func (r *Router) handleControl(c *gin.Context) {
	a, err := supervisor.ParseAction(c.Param("action"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	res, err := r.d.Monitor.Control(c.Request.Context(), a)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, controlResp{Success: res.OK(), Action: a, Output: res.Output})
}

func (r *Router) handleCommand(c *gin.Context) {
	if r.d.Console == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "console is not configured"})
		return
	}
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	cmd, err := r.d.Console.Send(req.Command)
	switch {
	case errors.Is(err, console.ErrEmptyCommand):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	case err != nil:
		r.d.Logger.Error("console command failed", "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	r.d.Logger.Info("console command", "command", cmd, "user", c.GetString(auth.UserKey))
	writeJSON(c, http.StatusOK, commandResp{Success: true, Command: cmd})
}

func (r *Router) handleGetSettings(c *gin.Context) {
	if r.d.Settings == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "settings are not configured"})
		return
	}
	s, err := r.d.Settings.Load()
	if err != nil {
		r.d.Logger.Warn("load settings", "path", r.d.Settings.Path(), "error", err)
	}
	writeJSON(c, http.StatusOK, s.Masked())
}

func (r *Router) handleUpdateSettings(c *gin.Context) {
	if r.d.Settings == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "settings are not configured"})
		return
	}
	var u settings.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	s, err := r.d.Settings.Apply(u)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, s.Masked())
}

func (r *Router) handleBackup(c *gin.Context) {
	if r.d.Backup == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "backups are not configured"})
		return
	}
	a, err := r.d.Backup.Run(c.Request.Context())
	switch {
	case errors.Is(err, backup.ErrNoWorld):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	case errors.Is(err, backup.ErrInProgress):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	case err != nil:
		r.d.Logger.Error("backup failed", "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	r.d.Logger.Info("backup created", "file", a.Name, "size", a.Size)
	writeJSON(c, http.StatusOK, backupResp{Success: true, Message: "Backup created: " + a.Name, Backup: a})
}

func (r *Router) handleListBackups(c *gin.Context) {
	if r.d.Backup == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "backups are not configured"})
		return
	}
	list, err := r.d.Backup.List()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, backupsResp{Backups: list, Count: len(list)})
}

func (r *Router) handleMods(c *gin.Context) {
	list, err := mods.List(r.d.ModsDir)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, modsResp{Mods: list, Count: len(list)})
}

func (r *Router) handlePlugin(c *gin.Context) {
	st, err := mods.CheckPlugin(r.d.ModsDir, c.Param("id"))
	switch {
	case errors.Is(err, mods.ErrInvalidPattern):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleVersion(c *gin.Context) {
	writeJSON(c, http.StatusOK, version.Check(r.d.GameDir))
}
