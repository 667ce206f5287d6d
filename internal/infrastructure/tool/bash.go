package tool

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	domaintool "github.com/tetherhq/tether/gateway/internal/domain/tool"
	"go.uber.org/zap"
)

const (
	// maxToolOutput caps what a single tool execution may feed back into the
	// conversation. Anything longer is cut and marked.
	maxToolOutput = 30000

	// DefaultBashTimeout bounds a shell command when the config does not
	// override it.
	DefaultBashTimeout = 120 * time.Second
)

// BashTool runs a shell command on the gateway host and returns the merged
// stdout+stderr. The timeout is independent of turn aborts: a running command
// is never cancelled mid-flight by Abort, only by its own deadline.
type BashTool struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewBashTool creates the bash tool. A non-positive timeout falls back to
// DefaultBashTimeout.
func NewBashTool(timeout time.Duration, logger *zap.Logger) *BashTool {
	if timeout <= 0 {
		timeout = DefaultBashTimeout
	}
	return &BashTool{
		timeout: timeout,
		logger:  logger,
	}
}

func (t *BashTool) Name() string {
	return "bash"
}

func (t *BashTool) Description() string {
	return "Execute a bash command and return stdout+stderr."
}

func (t *BashTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The bash command to execute.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) *domaintool.Result {
	command, _ := args["command"].(string)
	if command == "" {
		return domaintool.Errorf("No command provided.")
	}

	t.logger.Debug("Running bash command", zap.String("command", command))

	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", command)
	// Children that inherit the pipes must not keep CombinedOutput blocked
	// after the kill.
	cmd.WaitDelay = 5 * time.Second

	out, err := cmd.CombinedOutput()

	if execCtx.Err() == context.DeadlineExceeded {
		return domaintool.Errorf(fmt.Sprintf("Command timed out after %d seconds", int(t.timeout.Seconds())))
	}

	output := string(out)
	if len(output) > maxToolOutput {
		output = output[:maxToolOutput] + "\n... (output truncated)"
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return domaintool.Errorf("Failed to execute command: " + err.Error())
		}
		return &domaintool.Result{
			Output:  fmt.Sprintf("Exit code: %d\n%s", exitErr.ExitCode(), output),
			IsError: true,
		}
	}

	if output == "" {
		output = "(no output)"
	}
	return &domaintool.Result{Output: output}
}
