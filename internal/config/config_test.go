package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gamewatch.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HYTALE_DIR", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.Server.Listen)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, "hytale-server", cfg.Supervisor.Program)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Cache.StatusTTL)
	assert.Equal(t, DefaultGameDir, cfg.Game.Dir)
	assert.Equal(t, filepath.Join(DefaultGameDir, "logs"), cfg.Logs.Dir)
	assert.Equal(t, filepath.Join(DefaultGameDir, ".server_command"), cfg.Game.CommandFile)
	assert.Equal(t, filepath.Join(DefaultGameDir, "mods"), cfg.Game.ModsDir)
	assert.Equal(t, filepath.Join(DefaultGameDir, "universe"), cfg.Game.WorldDir)
	assert.Equal(t, filepath.Join(DefaultGameDir, "backups"), cfg.Game.BackupDir)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.History.Enabled)

	l := cfg.Layout()
	assert.Equal(t, 150, l.ServerLines)
	assert.Equal(t, 50, l.ErrorLines)
	assert.Equal(t, filepath.Join(DefaultGameDir, "logs", "server.log"), l.ServerPath())
}

func TestLoadFile(t *testing.T) {
	p := writeTOML(t, `
[server]
listen = "127.0.0.1:9000"
base_path = "/gw"

[supervisor]
program = "game"
timeout = "3s"

[logs]
dir = "/var/log/game"
server_lines = 20

[cache]
status_ttl = "500ms"
poll_interval = "5s"

[history]
enabled = true
dsn = "sqlite://:memory:"

[log]
level = "debug"
format = "json"

[log.file]
path = "/tmp/gw.log"
max_backups = 9

[game]
dir = "/srv/hytale"
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, "/gw", cfg.Server.BasePath)
	assert.Equal(t, "game", cfg.Supervisor.Program)
	assert.Equal(t, 3*time.Second, cfg.Supervisor.Timeout)
	assert.Equal(t, "/var/log/game", cfg.Logs.Dir)
	assert.Equal(t, 20, cfg.Logs.ServerLines)
	assert.Equal(t, 50, cfg.Logs.ErrorLines, "unset keys keep defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Cache.StatusTTL)
	assert.Equal(t, 5*time.Second, cfg.Cache.PollInterval)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/gw.log", cfg.Log.File.Path)
	assert.Equal(t, 9, cfg.Log.File.MaxBackups)
	assert.Equal(t, 10, cfg.Log.File.MaxSizeMB)
	assert.Equal(t, filepath.Join("/srv/hytale", "mods"), cfg.Game.ModsDir)
	assert.Equal(t, filepath.Join("/srv/hytale", "universe"), cfg.Game.WorldDir)
}

func TestLoadEnvOverrides(t *testing.T) {
	p := writeTOML(t, "[server]\nlisten = \":7000\"\n")
	t.Setenv("GAMEWATCH_SERVER_LISTEN", ":7100")
	t.Setenv("GAMEWATCH_CACHE_PLAYERS_TTL", "1m")
	t.Setenv("HYTALE_DIR", "/data/hytale")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.Server.Listen)
	assert.Equal(t, time.Minute, cfg.Cache.PlayersTTL)
	assert.Equal(t, "/data/hytale", cfg.Game.Dir)
	assert.Equal(t, filepath.Join("/data/hytale", "logs"), cfg.Logs.Dir)

	t.Setenv("GAMEWATCH_GAME_DIR", "/preferred")
	cfg, err = Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/preferred", cfg.Game.Dir)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	p := writeTOML(t, "[server\nlisten=")
	_, err = Load(p)
	assert.Error(t, err)

	p = writeTOML(t, "[history]\nenabled = true\n")
	_, err = Load(p)
	assert.ErrorContains(t, err, "history.dsn")

	p = writeTOML(t, "[cache]\nstatus_ttl = \"-1s\"\n[logs]\nserver_lines = -3\n")
	_, err = Load(p)
	assert.ErrorContains(t, err, "cache durations")
	assert.ErrorContains(t, err, "line counts")

	p = writeTOML(t, "[cache]\npoll_interval = \"5s\"\npoll_schedule = \"@every 5s\"\n")
	_, err = Load(p)
	assert.ErrorContains(t, err, "mutually exclusive")

	p = writeTOML(t, "[cache]\npoll_schedule = \"whenever\"\n")
	_, err = Load(p)
	assert.ErrorContains(t, err, "cache.poll_schedule")

	p = writeTOML(t, "[cache]\npoll_schedule = \"*/30 * * * * *\"\n")
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "*/30 * * * * *", c.Cache.PollSchedule)
}

func TestLoadServerSecurity(t *testing.T) {
	p := writeTOML(t, `
[server.tls]
enabled = true
dir = "/etc/gamewatch/tls"
auto_generate = true

[server.auth]
enabled = true
username = "admin"
password_hash = "$2a$10$abcdefghijklmnopqrstuv"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.True(t, cfg.Server.TLS.AutoGenerate)
	assert.Equal(t, "1.2", cfg.Server.TLS.MinVersion)
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.Server.TLS.Hosts)
	assert.Equal(t, "admin", cfg.Server.Auth.Username)
	assert.False(t, cfg.Server.Auth.ProtectReads)

	p = writeTOML(t, "[server.tls]\nenabled = true\ncert_file = \"/x.crt\"\n[server.auth]\nenabled = true\n")
	_, err = Load(p)
	assert.ErrorContains(t, err, "set together")
	assert.ErrorContains(t, err, "username and password_hash")

	p = writeTOML(t, "[server.tls]\nenabled = true\n")
	_, err = Load(p)
	assert.ErrorContains(t, err, "cert_file/key_file or dir")
}
