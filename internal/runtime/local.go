package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wraithsec/wraith-cli/internal/observability"
)

// DefaultCommandTimeout bounds a single shell command when the caller's
// context carries no deadline of its own.
const DefaultCommandTimeout = 300 * time.Second

// commonTools are probed on startup so the system prompt can tell the model
// what is actually installed.
var commonTools = []string{
	"nmap", "curl", "wget", "nc", "python3", "ssh", "sqlmap", "nikto",
	"gobuster", "hydra", "msfconsole", "dig", "whois",
}

// LocalRuntime executes commands on the local host via the shell. One
// instance belongs to exactly one agent.
type LocalRuntime struct {
	mu      sync.Mutex
	running bool
	procs   map[int]*exec.Cmd

	timeout time.Duration
	workDir string
	env     EnvironmentInfo
	log     *zap.Logger
}

// NewLocalRuntime builds a runtime that shells out on the local machine.
// A zero timeout falls back to DefaultCommandTimeout.
func NewLocalRuntime(workDir string, timeout time.Duration) *LocalRuntime {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &LocalRuntime{
		procs:   make(map[int]*exec.Cmd),
		timeout: timeout,
		workDir: workDir,
		log:     observability.GetLogger().Named("runtime"),
	}
}

// Start probes the environment and marks the runtime ready.
func (r *LocalRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if r.workDir != "" {
		if err := os.MkdirAll(r.workDir, 0o755); err != nil {
			return fmt.Errorf("creating runtime work dir: %w", err)
		}
	}
	r.env = DetectEnvironment(r.workDir)
	r.running = true
	r.log.Debug("Local runtime started.",
		zap.String("os", r.env.OS),
		zap.Int("tools_present", len(r.env.ToolsPresent)))
	return nil
}

// Stop kills any still-tracked processes and marks the runtime stopped.
// Kill failures are collected but do not abort the teardown.
func (r *LocalRuntime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	procs := make([]*exec.Cmd, 0, len(r.procs))
	for _, cmd := range r.procs {
		procs = append(procs, cmd)
	}
	r.procs = make(map[int]*exec.Cmd)
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, cmd := range procs {
		cmd := cmd
		g.Go(func() error {
			if cmd.Process == nil {
				return nil
			}
			if err := cmd.Process.Kill(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("killing pid %d: %w", cmd.Process.Pid, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Warn("Runtime teardown left processes behind.", zap.Error(err))
		return err
	}
	return nil
}

// ExecuteCommand runs command through the shell, bounded by the runtime's
// timeout. Non-zero exits come back as results, not errors.
func (r *LocalRuntime) ExecuteCommand(ctx context.Context, command string) (*CommandResult, error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil, fmt.Errorf("runtime is not running")
	}
	r.mu.Unlock()

	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cmdCtx, "/bin/sh", "-c", command)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}
	r.track(cmd)
	err := cmd.Wait()
	r.untrack(cmd)

	if cmdCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", r.timeout)
	}
	if cmdCtx.Err() == context.Canceled {
		return nil, context.Canceled
	}

	result := &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("running command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

func (r *LocalRuntime) track(cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd.Process != nil {
		r.procs[cmd.Process.Pid] = cmd
	}
}

func (r *LocalRuntime) untrack(cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd.Process != nil {
		delete(r.procs, cmd.Process.Pid)
	}
}

// BrowserAction reports that no browser is attached to the local runtime.
func (r *LocalRuntime) BrowserAction(ctx context.Context, action string, args map[string]interface{}) (string, error) {
	return "", fmt.Errorf("no browser attached to this runtime")
}

// ProxyAction reports that no intercepting proxy is attached.
func (r *LocalRuntime) ProxyAction(ctx context.Context, action string, args map[string]interface{}) (string, error) {
	return "", fmt.Errorf("no proxy attached to this runtime")
}

// IsRunning reports whether the runtime is started.
func (r *LocalRuntime) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Environment returns the host description captured at Start.
func (r *LocalRuntime) Environment() EnvironmentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.env
}

// DetectEnvironment inspects the local host: platform, identity, and which
// well-known assessment tools are on PATH.
func DetectEnvironment(workDir string) EnvironmentInfo {
	info := EnvironmentInfo{
		OS:      goruntime.GOOS,
		Arch:    goruntime.GOARCH,
		Shell:   os.Getenv("SHELL"),
		WorkDir: workDir,
	}
	if release, err := exec.Command("uname", "-r").Output(); err == nil {
		info.OSVersion = strings.TrimSpace(string(release))
	}
	if host, err := os.Hostname(); err == nil {
		info.Hostname = host
	}
	if u, err := user.Current(); err == nil {
		info.User = u.Username
	}
	for _, tool := range commonTools {
		if _, err := exec.LookPath(tool); err == nil {
			info.ToolsPresent = append(info.ToolsPresent, tool)
		}
	}
	return info
}
