package client

import "github.com/loykin/gamewatch"

type StatusView = gamewatch.StatusView

type PlayersView = gamewatch.PlayersView

type BackupArchive = gamewatch.BackupArchive

// BackupResult reports a finished world backup.
type BackupResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Backup  BackupArchive `json:"backup"`
}

type backupsResponse struct {
	Backups []BackupArchive `json:"backups"`
}

// ControlResult is the answer to a start/stop/restart request.
type ControlResult struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	Output  string `json:"output"`
}

// CommandResult echoes the console line that was queued.
type CommandResult struct {
	Success bool   `json:"success"`
	Command string `json:"command"`
}

type linesResponse struct {
	Lines []string `json:"lines"`
}

type commandRequest struct {
	Command string `json:"command"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
