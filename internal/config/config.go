// Package config loads gamewatch settings. Environment variables override the
// TOML file, which overrides built-in defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/loykin/gamewatch/internal/logger"
	"github.com/loykin/gamewatch/internal/logsource"
)

const (
	EnvPrefix      = "GAMEWATCH"
	DefaultGameDir = "/opt/hytale-server"
)

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config represents the top-level TOML structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Logs       LogsConfig       `mapstructure:"logs"`
	Cache      CacheConfig      `mapstructure:"cache"`
	History    HistoryConfig    `mapstructure:"history"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        logger.Config    `mapstructure:"log"`
	Game       GameConfig       `mapstructure:"game"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	BasePath        string        `mapstructure:"base_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
	Auth            AuthConfig    `mapstructure:"auth"`
}

// TLSConfig serves the API over HTTPS. Explicit cert/key files win over Dir;
// with AutoGenerate a self-signed pair is written to Dir when missing.
type TLSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	MinVersion   string   `mapstructure:"min_version"`
	Hosts        []string `mapstructure:"hosts"`
}

// AuthConfig enables HTTP Basic auth for the dashboard. PasswordHash is a
// bcrypt hash (see "gamewatch hash-password"). Reads stay open unless
// ProtectReads is set.
type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	ProtectReads bool   `mapstructure:"protect_reads"`
}

type SupervisorConfig struct {
	Binary  string        `mapstructure:"binary"`
	Program string        `mapstructure:"program"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogsConfig locates the game server's logs. An empty Dir means
// <game.dir>/logs.
type LogsConfig struct {
	Dir          string `mapstructure:"dir"`
	ServerFile   string `mapstructure:"server_file"`
	ErrorFile    string `mapstructure:"error_file"`
	ServerLines  int    `mapstructure:"server_lines"`
	ErrorLines   int    `mapstructure:"error_lines"`
	ConsoleLines int    `mapstructure:"console_lines"`
}

// CacheConfig bounds how stale served snapshots may be. PollInterval > 0 or a
// PollSchedule refreshes both caches in the background so transitions reach
// history and metrics without a client asking.
type CacheConfig struct {
	StatusTTL    time.Duration `mapstructure:"status_ttl"`
	PlayersTTL   time.Duration `mapstructure:"players_ttl"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// PollSchedule is a cron expression, e.g. "*/30 * * * * *" or "@every 1m".
	PollSchedule string `mapstructure:"poll_schedule"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// GameConfig locates the game installation. Empty paths are derived from Dir.
type GameConfig struct {
	Dir          string `mapstructure:"dir"`
	CommandFile  string `mapstructure:"command_file"`
	SettingsFile string `mapstructure:"settings_file"`
	ModsDir      string `mapstructure:"mods_dir"`
	WorldDir     string `mapstructure:"world_dir"`
	BackupDir    string `mapstructure:"backup_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8088")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("server.tls.hosts", []string{"localhost", "127.0.0.1"})
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.protect_reads", false)

	v.SetDefault("supervisor.binary", "supervisorctl")
	v.SetDefault("supervisor.program", "hytale-server")
	v.SetDefault("supervisor.timeout", 10*time.Second)

	v.SetDefault("logs.dir", "")
	v.SetDefault("logs.server_file", "server.log")
	v.SetDefault("logs.error_file", "server-error.log")
	v.SetDefault("logs.server_lines", logsource.DefaultServerLines)
	v.SetDefault("logs.error_lines", logsource.DefaultErrorLines)
	v.SetDefault("logs.console_lines", logsource.DefaultConsoleLines)

	v.SetDefault("cache.status_ttl", 2*time.Second)
	v.SetDefault("cache.players_ttl", 5*time.Second)
	v.SetDefault("cache.poll_interval", time.Duration(0))
	v.SetDefault("cache.poll_schedule", "")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("game.dir", DefaultGameDir)
	v.SetDefault("game.command_file", "")
	v.SetDefault("game.settings_file", "")
	v.SetDefault("game.mods_dir", "")
	v.SetDefault("game.world_dir", "")
	v.SetDefault("game.backup_dir", "")
}

// Load reads path (may be empty for defaults only) and applies environment
// overrides such as GAMEWATCH_SERVER_LISTEN. HYTALE_DIR is honored for
// game.dir when GAMEWATCH_GAME_DIR is unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("game.dir", EnvPrefix+"_GAME_DIR", "HYTALE_DIR"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() {
	if c.Game.Dir == "" {
		c.Game.Dir = DefaultGameDir
	}
	if c.Logs.Dir == "" {
		c.Logs.Dir = filepath.Join(c.Game.Dir, "logs")
	}
	if c.Game.CommandFile == "" {
		c.Game.CommandFile = filepath.Join(c.Game.Dir, ".server_command")
	}
	if c.Game.SettingsFile == "" {
		c.Game.SettingsFile = filepath.Join(c.Game.Dir, ".dashboard_config.json")
	}
	if c.Game.ModsDir == "" {
		c.Game.ModsDir = filepath.Join(c.Game.Dir, "mods")
	}
	if c.Game.WorldDir == "" {
		c.Game.WorldDir = filepath.Join(c.Game.Dir, "universe")
	}
	if c.Game.BackupDir == "" {
		c.Game.BackupDir = filepath.Join(c.Game.Dir, "backups")
	}
}

// Validate reports settings no component could work with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if strings.TrimSpace(c.Supervisor.Program) == "" {
		errs = append(errs, errors.New("supervisor.program is required"))
	}
	if c.Logs.ServerFile == "" {
		errs = append(errs, errors.New("logs.server_file is required"))
	}
	if c.Cache.StatusTTL < 0 || c.Cache.PlayersTTL < 0 || c.Cache.PollInterval < 0 {
		errs = append(errs, errors.New("cache durations must not be negative"))
	}
	if c.Cache.PollSchedule != "" {
		if c.Cache.PollInterval > 0 {
			errs = append(errs, errors.New("cache.poll_interval and cache.poll_schedule are mutually exclusive"))
		}
		if _, err := scheduleParser.Parse(c.Cache.PollSchedule); err != nil {
			errs = append(errs, fmt.Errorf("cache.poll_schedule: %w", err))
		}
	}
	if c.Logs.ServerLines < 0 || c.Logs.ErrorLines < 0 || c.Logs.ConsoleLines < 0 {
		errs = append(errs, errors.New("log line counts must not be negative"))
	}
	if t := c.Server.TLS; t.Enabled && (t.CertFile == "") != (t.KeyFile == "") {
		errs = append(errs, errors.New("server.tls.cert_file and server.tls.key_file must be set together"))
	} else if t.Enabled && t.CertFile == "" && t.Dir == "" {
		errs = append(errs, errors.New("server.tls needs cert_file/key_file or dir"))
	}
	if a := c.Server.Auth; a.Enabled && (a.Username == "" || a.PasswordHash == "") {
		errs = append(errs, errors.New("server.auth needs username and password_hash"))
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	return errors.Join(errs...)
}

// Layout converts the logs section for logsource.
func (c *Config) Layout() logsource.Layout {
	return logsource.Layout{
		Dir:          c.Logs.Dir,
		ServerFile:   c.Logs.ServerFile,
		ErrorFile:    c.Logs.ErrorFile,
		ServerLines:  c.Logs.ServerLines,
		ErrorLines:   c.Logs.ErrorLines,
		ConsoleLines: c.Logs.ConsoleLines,
	}
}
