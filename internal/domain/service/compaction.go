package service

import (
	"context"
	"encoding/json"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
	"github.com/tetherhq/tether/gateway/internal/domain/tool"
	"go.uber.org/zap"
)

const summarizePrompt = "Summarize the following conversation history. " +
	"Cover: the user's goal, progress made, key decisions, files read/modified, " +
	"and what the next steps were. Be concise but preserve all important context."

const compactionAck = "Understood. I have the context from our previous conversation. How can I help?"

// shouldCompact reports whether the estimated prompt size exceeds the
// configured share of the model's context window.
func (a *Agent) shouldCompact() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	window := a.windows.ContextWindow(a.model)
	return a.estimateTokensLocked() > int(float64(window)*a.cfg.CompactionThreshold)
}

// estimateTokensLocked sums serialized chars across the system prompt, tool
// schemas, and all messages, then divides once. Callers hold a.mu.
func (a *Agent) estimateTokensLocked() int {
	total := len(a.system)

	toolsJSON, _ := json.Marshal(schemaObjects(a.tools.Schemas()))
	total += len(toolsJSON)

	for _, msg := range a.messages {
		serialized, _ := json.Marshal(msg)
		total += len(serialized)
	}
	return total / charsPerToken
}

// compact summarizes everything older than the most recent KeepRecentTokens
// worth of messages and rebuilds the conversation as summary + ack + suffix.
// Returns the summary text and the token estimate from before compaction.
func (a *Agent) compact(ctx context.Context, client CompletionClient) (string, int, error) {
	a.mu.Lock()
	tokensBefore := a.estimateTokensLocked()
	model := a.model
	messages := make([]entity.Message, len(a.messages))
	copy(messages, a.messages)
	a.mu.Unlock()

	cut := findCutPoint(messages, a.cfg.KeepRecentTokens)
	if cut <= 0 {
		return "(Nothing to compact - context is small enough)", tokensBefore, nil
	}

	req := &Request{
		Model: model,
		Messages: append(
			append([]entity.Message{entity.SystemMessage(summarizePrompt)}, messages[:cut]...),
			entity.UserMessage("Summarize the conversation so far."),
		),
	}
	summary, err := client.Complete(ctx, req)
	if err != nil {
		return "", 0, err
	}
	if summary == "" {
		summary = "No summary generated."
	}

	rebuilt := make([]entity.Message, 0, len(messages)-cut+2)
	rebuilt = append(rebuilt, entity.UserMessage("[Previous conversation summary]\n"+summary))
	rebuilt = append(rebuilt, entity.AssistantMessage(compactionAck, nil))
	rebuilt = append(rebuilt, messages[cut:]...)

	a.mu.Lock()
	a.messages = rebuilt
	tokensAfter := a.estimateTokensLocked()
	a.mu.Unlock()

	a.logger.Info("Context compacted",
		zap.Int("cut", cut),
		zap.Int("tokens_before", tokensBefore),
		zap.Int("tokens_after", tokensAfter),
	)
	return summary, tokensBefore, nil
}

// findCutPoint walks backward accumulating estimated tokens until keepRecent
// is covered, then forward from there to the first user or assistant message
// so the suffix never opens with an orphaned tool result. Returns 0 when the
// whole conversation fits in the recent budget.
func findCutPoint(messages []entity.Message, keepRecent int) int {
	recentTokens := 0
	for i := len(messages) - 1; i >= 0; i-- {
		serialized, _ := json.Marshal(messages[i])
		recentTokens += len(serialized) / charsPerToken
		if recentTokens >= keepRecent {
			for j := i; j < len(messages); j++ {
				if messages[j].Role == entity.RoleUser || messages[j].Role == entity.RoleAssistant {
					return j
				}
			}
			return 0
		}
	}
	return 0
}

// schemaObjects renders tool definitions in the function-calling wire shape
// used for both requests and token accounting.
func schemaObjects(defs []tool.Definition) []map[string]interface{} {
	objects := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		objects = append(objects, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  def.Parameters,
			},
		})
	}
	return objects
}
