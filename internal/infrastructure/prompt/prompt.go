package prompt

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// DefaultSystemPrompt is used when no override file is configured.
const DefaultSystemPrompt = "You are a helpful coding assistant. Use the provided tools to help the user with their tasks."

// OverrideEnv names the environment variable pointing at a system-prompt
// file. It wins over the configured path.
const OverrideEnv = "TETHER_SYSTEM_PROMPT_FILE"

// Load resolves the system prompt. Precedence: the OverrideEnv file, then
// configPath, then the built-in default. An unreadable or blank file is
// logged and skipped rather than failing startup.
func Load(configPath string, logger *zap.Logger) string {
	path := os.Getenv(OverrideEnv)
	if path == "" {
		path = configPath
	}
	if path == "" {
		return DefaultSystemPrompt
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Failed to read system prompt file, using default",
			zap.String("path", path),
			zap.Error(err),
		)
		return DefaultSystemPrompt
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		logger.Warn("System prompt file is empty, using default",
			zap.String("path", path),
		)
		return DefaultSystemPrompt
	}

	logger.Info("Loaded system prompt", zap.String("path", path))
	return content
}
