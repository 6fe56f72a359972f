// Package console forwards operator commands to the game server. The server
// wrapper tails a command file and feeds each new line to the server's stdin.
package console

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrEmptyCommand is returned when nothing is left after trimming.
var ErrEmptyCommand = errors.New("no command provided")

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Writer appends commands to the command file.
type Writer struct {
	path string
	mu   sync.Mutex
}

func NewWriter(path string) *Writer { return &Writer{path: path} }

func (w *Writer) Path() string { return w.path }

// Sanitize trims cmd and folds line breaks so one request is one line.
func Sanitize(cmd string) (string, error) {
	cmd = strings.TrimSpace(lineBreaks.Replace(cmd))
	if cmd == "" {
		return "", ErrEmptyCommand
	}
	return cmd, nil
}

// Send appends cmd as a single line and returns what was written.
func (w *Writer) Send(cmd string) (string, error) {
	cmd, err := Sanitize(cmd)
	if err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(filepath.Clean(w.path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G302 -- read by the server wrapper
	if err != nil {
		return "", fmt.Errorf("open command file: %w", err)
	}
	if _, err := f.WriteString(cmd + "\n"); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write command: %w", err)
	}
	return cmd, f.Close()
}
