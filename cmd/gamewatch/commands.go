package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/loykin/gamewatch"
	"github.com/loykin/gamewatch/internal/auth"
	"github.com/loykin/gamewatch/internal/backup"
	"github.com/loykin/gamewatch/internal/logger"
	"github.com/loykin/gamewatch/internal/logsource"
	"github.com/loykin/gamewatch/internal/mods"
	"github.com/loykin/gamewatch/internal/monitor"
	"github.com/loykin/gamewatch/internal/session"
	"github.com/loykin/gamewatch/internal/supervisor"
	"github.com/loykin/gamewatch/internal/version"
	"github.com/loykin/gamewatch/pkg/client"
)

// openLocal builds an App for one-shot commands. History export and metrics
// registration stay off: a single query has no transitions to report.
func openLocal(globalFlags *GlobalFlags, stderr io.Writer, mutate func(*gamewatch.Config)) (*gamewatch.App, func(), error) {
	cfg, err := gamewatch.LoadConfig(globalFlags.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	cfg.History.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Cache.PollInterval = 0
	if mutate != nil {
		mutate(cfg)
	}
	log, closer := logger.New(cfg.Log, stderr)
	app, err := gamewatch.Open(cfg, log)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return app, func() {
		_ = app.Close()
		_ = closer.Close()
	}, nil
}

func newAPIClient(globalFlags *GlobalFlags) (*client.Client, error) {
	pw := globalFlags.APIPassword
	if pw == "" {
		pw = os.Getenv("GAMEWATCH_API_PASSWORD")
	}
	return client.New(client.Config{
		BaseURL:  globalFlags.APIURL,
		Timeout:  globalFlags.APITimeout,
		Username: globalFlags.APIUser,
		Password: pw,
		Insecure: globalFlags.Insecure,
	})
}

func fetchStatus(cmd *cobra.Command, globalFlags *GlobalFlags) (gamewatch.StatusView, error) {
	if globalFlags.APIURL != "" {
		c, err := newAPIClient(globalFlags)
		if err != nil {
			return gamewatch.StatusView{}, err
		}
		return c.Status(cmd.Context())
	}
	app, done, err := openLocal(globalFlags, cmd.ErrOrStderr(), nil)
	if err != nil {
		return gamewatch.StatusView{}, err
	}
	defer done()
	return app.Monitor.Status(cmd.Context())
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the normalized server status",
		Long: `Query supervisorctl once and print the normalized status together with
process usage when the server is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := fetchStatus(cmd, globalFlags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if globalFlags.JSON {
				return printJSON(out, v)
			}
			tw := newTable(out, table.Row{"Program", "Lifecycle", "Substate", "PID", "Started", "CPU", "Memory", "Diagnostic"})
			pid, cpu, mem := "-", "-", "-"
			if p, ok := v.Status.PID(); ok {
				pid = fmt.Sprint(p)
			}
			if v.Usage != nil {
				cpu = fmt.Sprintf("%.1f%%", v.Usage.CPUPercent)
				mem = humanize.IBytes(uint64(v.Usage.RSSMB * 1024 * 1024))
			}
			started := v.Status.StartedLabel
			if started == "" {
				started = "-"
			}
			tw.AppendRow(table.Row{v.Program, v.Status.Lifecycle, v.Status.Substate, pid, started, cpu, mem, v.Status.Diagnostic})
			tw.Render()
			return nil
		},
	}
}

func createPlayersCommand(globalFlags *GlobalFlags) *cobra.Command {
	playersFlags := &PlayersFlags{}
	cmd := &cobra.Command{
		Use:   "players",
		Short: "List players reconstructed from the server log",
		Long: `Scan the server log from the start and print every player seen, sorted by
identifier.

Examples:
  gamewatch players
  gamewatch players --online
  gamewatch players --log-file ./server.log --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, online, total, err := fetchPlayers(cmd, globalFlags, playersFlags)
			if err != nil {
				return err
			}
			if playersFlags.OnlineOnly {
				filtered := list[:0]
				for _, s := range list {
					if s.Online {
						filtered = append(filtered, s)
					}
				}
				list = filtered
			}
			out := cmd.OutOrStdout()
			if globalFlags.JSON {
				return printJSON(out, list)
			}
			tw := newTable(out, table.Row{"Name", "UUID", "Online", "World", "Last Login", "Last Logout"})
			for _, s := range list {
				tw.AppendRow(table.Row{s.DisplayName, s.Identifier, s.Online, orDash(s.World), orDash(s.LastLogin), orDash(s.LastLogout)})
			}
			tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d online", online), "", "", fmt.Sprintf("%d known", total)})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&playersFlags.LogFile, "log-file", "", "scan this file instead of the configured server log")
	cmd.Flags().BoolVar(&playersFlags.OnlineOnly, "online", false, "only list online players")
	cmd.Flags().StringVar(&playersFlags.Sort, "sort", "id", "order by id or login (most recent first)")
	return cmd
}

func fetchPlayers(cmd *cobra.Command, globalFlags *GlobalFlags, playersFlags *PlayersFlags) ([]session.Session, int, int, error) {
	order, err := monitor.ParsePlayerOrder(playersFlags.Sort)
	if err != nil {
		return nil, 0, 0, err
	}
	if playersFlags.LogFile == "" && globalFlags.APIURL != "" {
		c, err := newAPIClient(globalFlags)
		if err != nil {
			return nil, 0, 0, err
		}
		v, err := c.PlayersBy(cmd.Context(), string(order))
		if err != nil {
			return nil, 0, 0, err
		}
		if v.Error != "" {
			return nil, 0, 0, fmt.Errorf("server log: %s", v.Error)
		}
		return v.Players, v.Online, v.Total, nil
	}

	path := playersFlags.LogFile
	if path == "" {
		app, done, err := openLocal(globalFlags, cmd.ErrOrStderr(), nil)
		if err != nil {
			return nil, 0, 0, err
		}
		defer done()
		path = app.Monitor.Layout().ServerPath()
	}
	sessions, err := logsource.Players(path)
	if err != nil {
		return nil, 0, 0, err
	}
	return order.Sort(sessions), sessions.OnlineCount(), len(sessions), nil
}

func createLogsCommand(globalFlags *GlobalFlags) *cobra.Command {
	logsFlags := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the error and server log tails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lines, err := fetchLogs(cmd, globalFlags, logsFlags)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return printJSON(cmd.OutOrStdout(), map[string][]string{"lines": lines})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(lines, "\n"))
			return err
		},
	}
	cmd.Flags().IntVar(&logsFlags.Lines, "lines", 0, "number of server log lines (0 = configured)")
	cmd.Flags().BoolVar(&logsFlags.Console, "console", false, "print only the recent console lines")
	return cmd
}

func fetchLogs(cmd *cobra.Command, globalFlags *GlobalFlags, logsFlags *LogsFlags) ([]string, error) {
	if globalFlags.APIURL != "" {
		c, err := newAPIClient(globalFlags)
		if err != nil {
			return nil, err
		}
		if logsFlags.Console {
			return c.Console(cmd.Context())
		}
		return c.Logs(cmd.Context())
	}
	app, done, err := openLocal(globalFlags, cmd.ErrOrStderr(), func(c *gamewatch.Config) {
		if logsFlags.Lines > 0 {
			c.Logs.ServerLines = logsFlags.Lines
			c.Logs.ConsoleLines = logsFlags.Lines
		}
	})
	if err != nil {
		return nil, err
	}
	defer done()
	if logsFlags.Console {
		return app.Monitor.Console(cmd.Context()), nil
	}
	return app.Monitor.Logs(cmd.Context()), nil
}

func createControlCommand(globalFlags *GlobalFlags) *cobra.Command {
	controlFlags := &ControlFlags{}
	cmd := &cobra.Command{
		Use:       "server <start|stop|restart>",
		Short:     "Ask supervisord to start, stop or restart the game server",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(supervisor.Start), string(supervisor.Stop), string(supervisor.Restart)},
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := supervisor.ParseAction(args[0])
			if err != nil {
				return err
			}
			res, err := runControl(cmd, globalFlags, controlFlags, action)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else if res.Output != "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Output)
			}
			if !res.OK() {
				return fmt.Errorf("%s failed with exit code %d", action, res.ExitCode)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&controlFlags.Timeout, "timeout", 0, "override supervisor.timeout")
	return cmd
}

func runControl(cmd *cobra.Command, globalFlags *GlobalFlags, controlFlags *ControlFlags, action supervisor.Action) (supervisor.Result, error) {
	if globalFlags.APIURL != "" {
		c, err := newAPIClient(globalFlags)
		if err != nil {
			return supervisor.Result{}, err
		}
		r, err := c.Control(cmd.Context(), string(action))
		if err != nil {
			return supervisor.Result{}, err
		}
		res := supervisor.Result{Output: r.Output}
		if !r.Success {
			res.ExitCode = 1
		}
		return res, nil
	}
	app, done, err := openLocal(globalFlags, cmd.ErrOrStderr(), func(c *gamewatch.Config) {
		if controlFlags.Timeout > 0 {
			c.Supervisor.Timeout = controlFlags.Timeout
		}
	})
	if err != nil {
		return supervisor.Result{}, err
	}
	defer done()
	return app.Monitor.Control(cmd.Context(), action)
}

func createParseStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	parseFlags := &ParseStatusFlags{}
	cmd := &cobra.Command{
		Use:   "parse-status",
		Short: "Normalize supervisorctl status output read from stdin or a file",
		Long: `Normalize captured supervisorctl output without running supervisorctl.

Examples:
  supervisorctl status hytale-server | gamewatch parse-status
  gamewatch parse-status --input status.txt --exit-code 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if parseFlags.Input != "" && parseFlags.Input != "-" {
				f, err := os.Open(filepath.Clean(parseFlags.Input))
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			raw, err := io.ReadAll(bufio.NewReader(in))
			if err != nil {
				return err
			}
			st := gamewatch.NormalizeQuery(parseFlags.Program, string(raw), parseFlags.ExitCode)
			out := cmd.OutOrStdout()
			if globalFlags.JSON {
				return printJSON(out, st)
			}
			pid := "-"
			if p, ok := st.PID(); ok {
				pid = fmt.Sprint(p)
			}
			tw := newTable(out, table.Row{"Lifecycle", "Substate", "PID", "Started", "Diagnostic"})
			tw.AppendRow(table.Row{st.Lifecycle, st.Substate, pid, st.StartedLabel, st.Diagnostic})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&parseFlags.Program, "program", supervisor.DefaultProgram, "program name to pick from multi-line output")
	cmd.Flags().IntVar(&parseFlags.ExitCode, "exit-code", 0, "exit code of the captured supervisorctl run")
	cmd.Flags().StringVar(&parseFlags.Input, "input", "", "read output from file instead of stdin")
	return cmd
}

func createVersionCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game-version",
		Short: "Compare the installed game server build with the latest known one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := gamewatch.LoadConfig(globalFlags.ConfigPath)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			info := version.Check(cfg.Game.Dir)
			out := cmd.OutOrStdout()
			if globalFlags.JSON {
				return printJSON(out, info)
			}
			tw := newTable(out, table.Row{"Installed", "Latest", "Update Available", "Error"})
			tw.AppendRow(table.Row{info.Current, info.Latest, info.UpdateAvailable, info.Error})
			tw.Render()
			return nil
		},
	}
	return cmd
}

func createModsCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mods",
		Short: "List installed mods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := gamewatch.LoadConfig(globalFlags.ConfigPath)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			list, err := mods.List(cfg.Game.ModsDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if globalFlags.JSON {
				return printJSON(out, list)
			}
			tw := newTable(out, table.Row{"Name", "Version", "Enabled", "Type", "Size"})
			for _, m := range list {
				kind := "dir"
				if m.IsJar {
					kind = "jar"
				}
				tw.AppendRow(table.Row{m.Name, m.Version, m.Enabled, kind, m.Size})
			}
			tw.Render()
			return nil
		},
	}
}

func createHashPasswordCommand() *cobra.Command {
	hashFlags := &HashPasswordFlags{}
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash for server.auth.password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && err != io.EOF {
				return err
			}
			h, err := auth.HashPassword(strings.TrimRight(line, "\r\n"), hashFlags.Cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}
	cmd.Flags().IntVar(&hashFlags.Cost, "cost", 0, "bcrypt cost (0 = library default)")
	return cmd
}

func createBackupCommand(globalFlags *GlobalFlags) *cobra.Command {
	backupFlags := &BackupFlags{}
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the world directory or list archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if backupFlags.List {
				list, err := listBackups(cmd, globalFlags)
				if err != nil {
					return err
				}
				if globalFlags.JSON {
					return printJSON(out, list)
				}
				tw := newTable(out, table.Row{"Name", "Size", "Created"})
				for _, a := range list {
					tw.AppendRow(table.Row{a.Name, a.Size, humanize.Time(a.CreatedAt)})
				}
				tw.Render()
				return nil
			}
			a, err := runBackup(cmd, globalFlags)
			if err != nil {
				return err
			}
			if globalFlags.JSON {
				return printJSON(out, a)
			}
			_, err = fmt.Fprintf(out, "Backup created: %s (%s)\n", a.Name, a.Size)
			return err
		},
	}
	cmd.Flags().BoolVar(&backupFlags.List, "list", false, "list existing archives instead of creating one")
	return cmd
}

func localArchiver(globalFlags *GlobalFlags) (*backup.Archiver, error) {
	cfg, err := gamewatch.LoadConfig(globalFlags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return backup.New(cfg.Game.WorldDir, cfg.Game.BackupDir), nil
}

func runBackup(cmd *cobra.Command, globalFlags *GlobalFlags) (gamewatch.BackupArchive, error) {
	if globalFlags.APIURL != "" {
		c, err := newAPIClient(globalFlags)
		if err != nil {
			return gamewatch.BackupArchive{}, err
		}
		r, err := c.Backup(cmd.Context())
		return r.Backup, err
	}
	arc, err := localArchiver(globalFlags)
	if err != nil {
		return gamewatch.BackupArchive{}, err
	}
	return arc.Run(cmd.Context())
}

func listBackups(cmd *cobra.Command, globalFlags *GlobalFlags) ([]gamewatch.BackupArchive, error) {
	if globalFlags.APIURL != "" {
		c, err := newAPIClient(globalFlags)
		if err != nil {
			return nil, err
		}
		return c.Backups(cmd.Context())
	}
	arc, err := localArchiver(globalFlags)
	if err != nil {
		return nil, err
	}
	return arc.List()
}
