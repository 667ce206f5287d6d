package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// CommandResult is the decision for one input line.
type CommandResult struct {
	Output string       // local output, printed as-is
	IsQuit bool         // leave the REPL
	Frame  *clientFrame // non-nil: send to the gateway
}

// RouteInput maps an input line to a local action or a gateway frame. Local
// commands are /help and /quit; /abort, /context and /models translate to
// their protocol frames; every other slash command rides a steer frame for
// the gateway to interpret; plain text becomes a prompt.
func RouteInput(input string) CommandResult {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return CommandResult{}
	}
	if !strings.HasPrefix(trimmed, "/") {
		return CommandResult{Frame: &clientFrame{Type: framePrompt, Message: trimmed}}
	}

	switch strings.Fields(trimmed)[0] {
	case "/help", "/h":
		return CommandResult{Output: renderHelp()}
	case "/quit", "/exit", "/q":
		return CommandResult{IsQuit: true}
	case "/abort":
		return CommandResult{Frame: &clientFrame{Type: frameAbort}}
	case "/context":
		return CommandResult{Frame: &clientFrame{Type: frameContextRequest}}
	case "/models":
		return CommandResult{Frame: &clientFrame{Type: frameModelListRequest}}
	default:
		return CommandResult{Frame: &clientFrame{Type: frameSteer, Message: trimmed}}
	}
}

func renderHelp() string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	cmdStyle := lipgloss.NewStyle().Foreground(colorGreen)
	descStyle := lipgloss.NewStyle().Foreground(colorGray)

	cmds := []struct {
		name string
		desc string
	}{
		{"/help", "show this help"},
		{"/models", "list available models"},
		{"/model <id>", "switch model"},
		{"/model-info", "show the active model card"},
		{"/context", "show context window usage"},
		{"/reload", "hot-reload the agent on the gateway"},
		{"/abort", "stop the current turn"},
		{"/quit", "exit"},
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ Commands"))
	sb.WriteString("\n\n")

	for _, c := range cmds {
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			cmdStyle.Render(fmt.Sprintf("%-14s", c.name)),
			descStyle.Render(c.desc),
		))
	}

	sb.WriteString("\n")
	sb.WriteString(descStyle.Render("  Plain text starts an agent turn. Other /commands are sent to the gateway."))
	return sb.String()
}
