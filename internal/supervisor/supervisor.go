// Package supervisor talks to supervisord through supervisorctl. It only
// queries and forwards start/stop/restart requests; supervision itself stays
// with supervisord.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/gamewatch/internal/status"
)

const (
	DefaultBinary  = "supervisorctl"
	DefaultProgram = "hytale-server"
	DefaultTimeout = 10 * time.Second
)

// ErrUnknownAction is returned for actions other than start, stop, restart.
var ErrUnknownAction = errors.New("unknown action")

// Result is the combined output and exit code of one command.
type Result struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// OK reports a zero exit code.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Runner executes a command. Failures to run at all are folded into Result
// so callers always receive text they can show.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) Result {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- name and args come from configuration, not requests.
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	out := stdout.String()
	if stderr.Len() > 0 {
		out += "\n" + stderr.String()
	}
	out = strings.TrimSpace(out)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{Output: "Command timed out", ExitCode: 1}
	}
	var ee *exec.ExitError
	switch {
	case err == nil:
		return Result{Output: out, ExitCode: 0}
	case errors.As(err, &ee):
		return Result{Output: out, ExitCode: ee.ExitCode()}
	case errors.Is(err, exec.ErrNotFound):
		return Result{Output: "Command not found: " + name, ExitCode: 1}
	default:
		return Result{Output: err.Error(), ExitCode: 1}
	}
}

// Action is a lifecycle request forwarded to supervisord.
type Action string

const (
	Start   Action = "start"
	Stop    Action = "stop"
	Restart Action = "restart"
)

// ParseAction validates a user supplied action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case Start, Stop, Restart:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Controller addresses one supervisord program.
type Controller struct {
	Binary  string
	Program string
	Runner  Runner
}

// New returns a controller using supervisorctl through ExecRunner.
func New(program string, timeout time.Duration) *Controller {
	if program == "" {
		program = DefaultProgram
	}
	return &Controller{Binary: DefaultBinary, Program: program, Runner: ExecRunner{Timeout: timeout}}
}

func (c *Controller) binary() string {
	if c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

// Status queries supervisorctl and normalizes the answer. It never fails;
// query problems surface as an Unknown status with a diagnostic.
func (c *Controller) Status(ctx context.Context) (status.ProcessStatus, Result) {
	res := c.Runner.Run(ctx, c.binary(), "status", c.Program)
	return status.FromQuery(c.Program, res.Output, res.ExitCode), res
}

// Commands returns the argv used for each action.
func (c *Controller) Commands() map[Action][]string {
	out := make(map[Action][]string, 3)
	for _, a := range []Action{Start, Stop, Restart} {
		out[a] = []string{c.binary(), string(a), c.Program}
	}
	return out
}

// Do forwards an action to supervisord.
func (c *Controller) Do(ctx context.Context, a Action) (Result, error) {
	if _, err := ParseAction(string(a)); err != nil {
		return Result{}, err
	}
	return c.Runner.Run(ctx, c.binary(), string(a), c.Program), nil
}
