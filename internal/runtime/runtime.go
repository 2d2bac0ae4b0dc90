// Package runtime abstracts where an agent's tools actually execute. Each
// worker gets its own isolated instance so concurrent agents never share
// process state.
package runtime

import (
	"context"
	"fmt"
	"strings"
)

// CommandResult is the outcome of one shell command.
type CommandResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Success reports whether the command exited cleanly.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// Output renders the result the way an operator would read it in a terminal,
// suitable for feeding back to the model.
func (r CommandResult) Output() string {
	var b strings.Builder
	if r.Stdout != "" {
		b.WriteString(r.Stdout)
	}
	if r.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr]\n")
		b.WriteString(r.Stderr)
	}
	if b.Len() == 0 {
		b.WriteString(fmt.Sprintf("(no output, exit code %d)", r.ExitCode))
	}
	return b.String()
}

// EnvironmentInfo describes the host the runtime executes on.
type EnvironmentInfo struct {
	OS           string   `json:"os"`
	OSVersion    string   `json:"os_version,omitempty"`
	Arch         string   `json:"arch"`
	Shell        string   `json:"shell,omitempty"`
	Hostname     string   `json:"hostname"`
	User         string   `json:"user"`
	WorkDir      string   `json:"work_dir"`
	ToolsPresent []string `json:"tools_present,omitempty"`
}

// Runtime is the execution surface handed to tools. Implementations must be
// safe for sequential use by a single agent; isolation between agents is the
// worker pool's job.
type Runtime interface {
	// Start prepares the runtime for use. Calling Start on a running
	// runtime is a no-op.
	Start(ctx context.Context) error
	// Stop tears the runtime down, killing any processes it still tracks.
	Stop(ctx context.Context) error
	// ExecuteCommand runs a shell command and returns its result. A non-zero
	// exit code is not an error; errors are reserved for failures to run at
	// all (timeout, runtime not started).
	ExecuteCommand(ctx context.Context, command string) (*CommandResult, error)
	// BrowserAction drives an attached browser session, if any.
	BrowserAction(ctx context.Context, action string, args map[string]interface{}) (string, error)
	// ProxyAction drives an attached intercepting proxy, if any.
	ProxyAction(ctx context.Context, action string, args map[string]interface{}) (string, error)
	// IsRunning reports whether Start has succeeded and Stop has not been
	// called.
	IsRunning() bool
	// Environment describes the execution host.
	Environment() EnvironmentInfo
}
