package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
	"github.com/tetherhq/tether/gateway/internal/domain/service"
)

// Renderer turns gateway frames into styled terminal output. Assistant turns
// and model cards go through glamour; session status goes through lipgloss.
type Renderer struct {
	glamour *glamour.TermRenderer
	width   int
}

// NewRenderer creates a renderer for the given terminal width.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{
		glamour: r,
		width:   width,
	}
}

// RenderMarkdown renders markdown text to styled terminal output, falling
// back to the raw text if rendering fails.
func (r *Renderer) RenderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// RenderUserEcho renders a prompt echoed by the gateway, as seen when another
// client drives the session.
func (r *Renderer) RenderUserEcho(message string) string {
	promptStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	textStyle := lipgloss.NewStyle().Foreground(colorGray)
	return fmt.Sprintf("%s %s", promptStyle.Render("❯"), textStyle.Render(message))
}

// RenderContextInfo renders the token-usage breakdown from a context_info
// frame.
func (r *Renderer) RenderContextInfo(f ServerFrame) string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)

	rows := []struct {
		label  string
		tokens int
	}{
		{"system", f.System},
		{"tools", f.Tools},
		{"user", f.User},
		{"assistant", f.Assistant},
		{"tool results", f.ToolResults},
	}

	total := 0
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("◇ Context usage"))
	sb.WriteString("\n\n")
	for _, row := range rows {
		total += row.tokens
		sb.WriteString(fmt.Sprintf("  %s %s\n",
			labelStyle.Render(fmt.Sprintf("%-14s", row.label)),
			valueStyle.Render(fmtTokens(row.tokens)),
		))
	}

	summary := fmt.Sprintf("total %s", fmtTokens(total))
	if f.ContextWindow > 0 {
		pct := float64(total) / float64(f.ContextWindow) * 100
		summary = fmt.Sprintf("total %s of %s (%.1f%%)",
			fmtTokens(total), fmtTokens(f.ContextWindow), pct)
	}
	sb.WriteString("\n  ")
	sb.WriteString(labelStyle.Render(summary))
	return sb.String()
}

// RenderModelList renders the model catalog with the active model marked.
func (r *Renderer) RenderModelList(models []service.ModelEntry, current string) string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	activeStyle := lipgloss.NewStyle().Foreground(colorGreen)
	idStyle := lipgloss.NewStyle().Foreground(colorWhite)
	descStyle := lipgloss.NewStyle().Foreground(colorGray)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("◇ Models (%d)", len(models))))
	sb.WriteString("\n\n")

	if len(models) == 0 {
		sb.WriteString(descStyle.Render("  no models available"))
		return sb.String()
	}

	for _, m := range models {
		marker := " "
		if m.ID == current {
			marker = activeStyle.Render("●")
		}
		line := fmt.Sprintf("  %s %s", marker, idStyle.Render(m.ID))
		if m.Name != "" && m.Name != m.ID {
			line += "  " + descStyle.Render(firstLine(m.Name, 48))
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n  ")
	sb.WriteString(descStyle.Render("/model <id> to switch"))
	return sb.String()
}

// RenderModelInfo renders a model_info event: the markdown card when the
// backend provided one, a plain summary otherwise.
func (r *Renderer) RenderModelInfo(info *entity.ModelInfo) string {
	if info == nil {
		return ""
	}
	if info.Markdown != "" {
		return r.RenderMarkdown(info.Markdown)
	}

	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)
	return fmt.Sprintf("  %s %s\n  %s %s",
		labelStyle.Render("model "),
		valueStyle.Render(info.Model),
		labelStyle.Render("window"),
		valueStyle.Render(fmtTokens(info.ContextWindow)),
	)
}

// RenderModelSet renders the model-switch announcement.
func (r *Renderer) RenderModelSet(model string) string {
	okStyle := lipgloss.NewStyle().Foreground(colorGreen)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite).Bold(true)
	return fmt.Sprintf("%s model set to %s", okStyle.Render("✓"), valueStyle.Render(model))
}

// RenderReloadStart renders the reload announcement.
func (r *Renderer) RenderReloadStart() string {
	return lipgloss.NewStyle().Foreground(colorGray).Render("⟳ reloading agent…")
}

// RenderReloadEnd renders the reload outcome.
func (r *Renderer) RenderReloadEnd(success bool, message string) string {
	if success {
		okStyle := lipgloss.NewStyle().Foreground(colorGreen)
		return fmt.Sprintf("%s %s", okStyle.Render("✓"), message)
	}
	failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	return failStyle.Render(fmt.Sprintf("✗ %s", message))
}
