// Package exec implements the "exec" tool: shell command execution with a
// secret-filtered child environment and a process-group kill on timeout,
// grounded on original_source/tools/shell.py.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/nicolasforstinger/lucyd-sub001/internal/config"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools"
)

const (
	defaultTimeout = 120 * time.Second
	maxTimeout     = 600 * time.Second
)

// Args is the JSON argument shape the "exec" tool accepts.
type Args struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
}

// Schema is the tool's input_schema, registered verbatim.
var Schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {"type": "string", "description": "Shell command to execute"},
		"timeout": {"type": "integer", "description": "Timeout in seconds (default: 120, max: 600)"}
	},
	"required": ["command"]
}`)

const Description = "Execute a shell command. Returns stdout, stderr, and exit code."

// Register adds the "exec" tool to reg.
func Register(reg *tools.Registry) {
	reg.Register("exec", Description, Schema, Handle)
}

// Handle runs one shell command in its own process group so a timeout kill
// reaches every descendant it spawned.
func Handle(ctx context.Context, arguments json.RawMessage) (string, error) {
	var args Args
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", tools.InvalidArguments(err)
	}

	timeout := defaultTimeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Second
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", args.Command)
	cmd.Env = safeEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return fmt.Sprintf("Error: Command timed out after %ds", int(timeout.Seconds())), nil
	}

	result := ""
	if stdout.Len() > 0 {
		result += stdout.String()
	}
	if stderr.Len() > 0 {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + stderr.String()
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result += fmt.Sprintf("\n[exit code: %d]", exitErr.ExitCode())
	} else if err != nil {
		return "Error: Command execution failed", nil
	}

	if result == "" {
		return "(no output)", nil
	}
	return result, nil
}

// safeEnv filters the parent environment down to what is safe to hand a
// subprocess, per config.IsSecretEnvName.
func safeEnv() []string {
	parent := os.Environ()
	out := make([]string, 0, len(parent))
	for _, kv := range parent {
		name := kv
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				name = kv[:i]
				break
			}
		}
		if config.IsSecretEnvName(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}
