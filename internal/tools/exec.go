package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

const maxCommandOutput = 64 << 10

// Exec runs a program without a shell.
type Exec struct {
	Dir     string
	Timeout time.Duration
}

func (Exec) Definition() Definition {
	return Definition{
		Name:        "exec",
		Description: "Run a program in the workspace and return its combined output",
		Category:    "System",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"command": {Type: "string", Description: "Program to run"},
				"args":    {Type: "array", Description: "Program arguments", Items: &Property{Type: "string"}},
			},
			Required: []string{"command"},
		},
	}
}

func (t Exec) Execute(ctx context.Context, call Call) (Response, error) {
	command, err := RequireString(call.Args, "command")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	args, err := StringList(call.Args, "args")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = t.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	text := out.String()
	if len(text) > maxCommandOutput {
		text = text[:maxCommandOutput] + "\n... [output truncated]"
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrorResult("Command timed out after %s\n%s", timeout, text), nil
	}
	if runErr != nil {
		return ErrorResult("Command failed: %v\n%s", runErr, text), nil
	}
	return TextResult(text), nil
}
