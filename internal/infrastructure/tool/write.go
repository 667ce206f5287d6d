package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	domaintool "github.com/tetherhq/tether/gateway/internal/domain/tool"
	"go.uber.org/zap"
)

// WriteTool creates or overwrites a file with the given content.
type WriteTool struct {
	logger *zap.Logger
}

// NewWriteTool creates the write tool.
func NewWriteTool(logger *zap.Logger) *WriteTool {
	return &WriteTool{logger: logger}
}

func (t *WriteTool) Name() string {
	return "write"
}

func (t *WriteTool) Description() string {
	return "Write content to a file. Creates parent directories if needed."
}

func (t *WriteTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute path to the file to write.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write to the file.",
			},
		},
		"required": []string{"file_path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]interface{}) *domaintool.Result {
	filePath, _ := args["file_path"].(string)
	if filePath == "" {
		return domaintool.Errorf("No file_path provided.")
	}
	content, ok := args["content"].(string)
	if !ok {
		return domaintool.Errorf("No content provided.")
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return domaintool.Errorf("Error writing file: " + err.Error())
	}
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		return domaintool.Errorf("Error writing file: " + err.Error())
	}

	t.logger.Debug("Wrote file",
		zap.String("path", filePath),
		zap.Int("bytes", len(content)),
	)
	return &domaintool.Result{Output: fmt.Sprintf("Wrote %d bytes to %s", len(content), filePath)}
}
