package main

import "time"

// GlobalFlags are the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	// API connection; when APIURL is set commands query a running server.
	APIURL      string
	APIUser     string
	APIPassword string
	APITimeout  time.Duration
	Insecure    bool
}

// ServeFlags override config values for the serve command.
type ServeFlags struct {
	Listen   string
	BasePath string
}

// PlayersFlags select the log scanned by the players command.
type PlayersFlags struct {
	LogFile    string
	OnlineOnly bool
	Sort       string
}

// LogsFlags tune the logs command.
type LogsFlags struct {
	Lines   int
	Console bool
}

// ParseStatusFlags feed raw supervisorctl output to the normalizer.
type ParseStatusFlags struct {
	Program  string
	ExitCode int
	Input    string
}

// ControlFlags bound a start/stop/restart request.
type ControlFlags struct {
	Timeout time.Duration
}

// HashPasswordFlags configure hash-password.
type HashPasswordFlags struct {
	Cost int
}

// BackupFlags select between creating and listing archives.
type BackupFlags struct {
	List bool
}
