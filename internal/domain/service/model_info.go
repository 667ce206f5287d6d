package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// modelInfo assembles the model_info payload for the current model: raw
// backend details plus a rendered markdown card.
func (a *Agent) modelInfo(ctx context.Context, client CompletionClient) *entity.ModelInfo {
	model := a.Model()
	details := a.modelDetails(ctx, client, model)
	window := a.windows.ContextWindow(model)
	return &entity.ModelInfo{
		Model:         model,
		ContextWindow: window,
		Details:       details,
		Markdown:      modelInfoMarkdown(model, window, details),
	}
}

// modelDetails returns backend metadata for the model, cached per id so
// repeated /model-info steers hit the catalog endpoint once.
func (a *Agent) modelDetails(ctx context.Context, client CompletionClient, model string) map[string]interface{} {
	a.detailsMu.Lock()
	cached, ok := a.details[model]
	a.detailsMu.Unlock()
	if ok {
		return cached
	}

	fetched, err := client.ModelDetails(ctx, model)
	if err != nil {
		a.logger.Warn("Failed to fetch model details", zap.Error(err))
		return map[string]interface{}{
			"name":           model,
			"description":    "Failed to fetch model details.",
			"context_length": nil,
			"pricing":        map[string]interface{}{},
			"top_provider":   map[string]interface{}{},
		}
	}

	a.detailsMu.Lock()
	a.details[model] = fetched
	a.detailsMu.Unlock()
	return fetched
}

func modelInfoMarkdown(model string, window int, details map[string]interface{}) string {
	pricing, _ := details["pricing"].(map[string]interface{})
	provider, _ := details["top_provider"].(map[string]interface{})

	var b strings.Builder
	b.WriteString("### Model Info\n\n")
	b.WriteString("| Field | Value |\n")
	b.WriteString("|-------|-------|\n")
	fmt.Fprintf(&b, "| **Model ID** | `%s` |\n", model)
	fmt.Fprintf(&b, "| **Name** | %s |\n", displayValue(details["name"]))
	fmt.Fprintf(&b, "| **Description** | %s |\n", displayValue(details["description"]))
	fmt.Fprintf(&b, "| **Context Window** | %d tokens |\n", window)
	fmt.Fprintf(&b, "| **Prompt Cost** | $%s per 1M tokens |\n", costPerMillion(pricing["prompt"]))
	fmt.Fprintf(&b, "| **Completion Cost** | $%s per 1M tokens |\n", costPerMillion(pricing["completion"]))
	b.WriteString("\n#### Provider Info\n")
	b.WriteString("| Field | Value |\n")
	b.WriteString("|-------|-------|\n")
	fmt.Fprintf(&b, "| **Max Completion Tokens** | %s |\n", displayValue(provider["max_completion_tokens"]))
	fmt.Fprintf(&b, "| **Is Moderated** | %s |\n", displayValue(provider["is_moderated"]))
	return b.String()
}

// costPerMillion converts a per-token price (string or number, as the
// catalog endpoint sends either) to a per-1M-tokens figure.
func costPerMillion(v interface{}) string {
	var perToken float64
	switch price := v.(type) {
	case string:
		if price == "" {
			return "N/A"
		}
		parsed, err := strconv.ParseFloat(price, 64)
		if err != nil {
			return "N/A"
		}
		perToken = parsed
	case float64:
		if price == 0 {
			return "N/A"
		}
		perToken = price
	default:
		return "N/A"
	}
	return strconv.FormatFloat(perToken*1_000_000, 'f', 2, 64)
}

// displayValue renders an arbitrary JSON value for the markdown card.
// Integral floats drop the decimal point so token counts read naturally.
func displayValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "N/A"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
