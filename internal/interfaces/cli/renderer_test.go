package cli

import (
	"strings"
	"testing"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
	"github.com/tetherhq/tether/gateway/internal/domain/service"
)

// === Markdown ===

func TestRenderMarkdownKeepsContent(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderMarkdown("plain text answer")
	if !strings.Contains(out, "plain text answer") {
		t.Errorf("output %q lost the content", out)
	}
}

func TestRenderMarkdownNilEngineFallsBack(t *testing.T) {
	r := &Renderer{}
	if got := r.RenderMarkdown("# raw"); got != "# raw" {
		t.Errorf("got %q, want raw passthrough", got)
	}
}

// === Session frames ===

func TestRenderContextInfoTotals(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderContextInfo(ServerFrame{
		Type:          "context_info",
		System:        100,
		Tools:         200,
		User:          50,
		Assistant:     150,
		ToolResults:   500,
		ContextWindow: 10000,
	})
	for _, want := range []string{"Context usage", "system", "tool results", "1.0k", "10.0k", "10.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("context info missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderContextInfoWithoutWindow(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderContextInfo(ServerFrame{System: 10})
	if !strings.Contains(out, "total 10") {
		t.Errorf("expected bare total, got:\n%s", out)
	}
	if strings.Contains(out, "%") && strings.Contains(out, " of ") {
		t.Errorf("percentage should be omitted without a window:\n%s", out)
	}
}

func TestRenderModelListMarksCurrent(t *testing.T) {
	r := NewRenderer(80)
	models := []service.ModelEntry{
		{ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4"},
		{ID: "mistralai/mistral-large-2512", Name: "Mistral Large"},
	}
	out := r.RenderModelList(models, "mistralai/mistral-large-2512")
	for _, want := range []string{"Models (2)", "anthropic/claude-sonnet-4", "mistralai/mistral-large-2512", "●"} {
		if !strings.Contains(out, want) {
			t.Errorf("model list missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderModelListEmpty(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderModelList(nil, "")
	if !strings.Contains(out, "no models available") {
		t.Errorf("got:\n%s", out)
	}
}

func TestRenderModelInfo(t *testing.T) {
	r := NewRenderer(80)

	if got := r.RenderModelInfo(nil); got != "" {
		t.Errorf("nil info rendered %q", got)
	}

	plain := r.RenderModelInfo(&entity.ModelInfo{Model: "openai/gpt-5", ContextWindow: 128000})
	for _, want := range []string{"openai/gpt-5", "128.0k"} {
		if !strings.Contains(plain, want) {
			t.Errorf("plain card missing %q in:\n%s", want, plain)
		}
	}

	md := r.RenderModelInfo(&entity.ModelInfo{Model: "openai/gpt-5", Markdown: "# GPT-5\n\nbig window"})
	if !strings.Contains(md, "GPT-5") {
		t.Errorf("markdown card missing title:\n%s", md)
	}
}

func TestRenderUserEcho(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderUserEcho("run the tests")
	if !strings.Contains(out, "run the tests") || !strings.Contains(out, "❯") {
		t.Errorf("echo = %q", out)
	}
}

func TestRenderReloadFrames(t *testing.T) {
	r := NewRenderer(80)
	if out := r.RenderReloadStart(); !strings.Contains(out, "reloading") {
		t.Errorf("reload start = %q", out)
	}
	ok := r.RenderReloadEnd(true, "Reload complete")
	if !strings.Contains(ok, "✓") || !strings.Contains(ok, "Reload complete") {
		t.Errorf("reload success = %q", ok)
	}
	fail := r.RenderReloadEnd(false, "Agent reload failed: boom")
	if !strings.Contains(fail, "✗") || !strings.Contains(fail, "boom") {
		t.Errorf("reload failure = %q", fail)
	}
}

func TestRenderModelSet(t *testing.T) {
	r := NewRenderer(80)
	out := r.RenderModelSet("openai/gpt-5")
	if !strings.Contains(out, "openai/gpt-5") || !strings.Contains(out, "✓") {
		t.Errorf("model set = %q", out)
	}
}
