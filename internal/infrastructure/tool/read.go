package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	domaintool "github.com/tetherhq/tether/gateway/internal/domain/tool"
	"go.uber.org/zap"
)

// ReadTool reads files and tags every line with its hashline anchor so the
// model can hand the anchors back to the edit tool.
type ReadTool struct {
	logger *zap.Logger
}

// NewReadTool creates the read tool.
func NewReadTool(logger *zap.Logger) *ReadTool {
	return &ReadTool{logger: logger}
}

func (t *ReadTool) Name() string {
	return "read"
}

func (t *ReadTool) Description() string {
	return "Read one or more files and return their contents with line numbers and content hashes. Use the hash to identify lines for editing."
}

func (t *ReadTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_paths": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a file to read.",
				},
				"description": "List of absolute paths to the files to read.",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Line number to start reading from (1-based).",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of lines to read per file.",
			},
		},
		"required": []string{"file_paths"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]interface{}) *domaintool.Result {
	paths := stringSlice(args["file_paths"])
	if len(paths) == 0 {
		return domaintool.Errorf("No file_paths provided.")
	}

	offset, ok := intArg(args, "offset")
	if !ok || offset < 1 {
		offset = 1
	}
	limit, hasLimit := intArg(args, "limit")

	// A bad path is reported inside its own entry; the other files still
	// come back.
	results := make(map[string]string, len(paths))
	for _, path := range paths {
		if path == "" {
			results[path] = "Error: Empty file path provided."
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				results[path] = "Error: File not found: " + path
			} else {
				results[path] = "Error reading file: " + err.Error()
			}
			continue
		}
		if hasLimit {
			results[path] = hashlineView(string(data), offset, limit)
		} else {
			results[path] = hashlineView(string(data), offset, -1)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return domaintool.Errorf("Error encoding results: " + err.Error())
	}
	return &domaintool.Result{Output: strings.TrimRight(buf.String(), "\n")}
}

// hashlineView renders the slice [offset-1, offset-1+limit) of text, one
// "line:hash|content" entry per line. A negative limit means to the end.
func hashlineView(text string, offset, limit int) string {
	lines := splitKeepEnds(text)

	start := offset - 1
	if start > len(lines) {
		start = len(lines)
	}
	end := len(lines)
	if limit >= 0 && start+limit < end {
		end = start + limit
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		if i > start {
			b.WriteByte('\n')
		}
		content := trimEOL(lines[i])
		fmt.Fprintf(&b, "%d:%s|%s", i+1, hashLine(content), content)
	}
	return b.String()
}

// stringSlice coerces a JSON-decoded array argument into []string,
// skipping non-string entries.
func stringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// intArg reads an integer argument that may arrive as a JSON float64 or as a
// native int from tests.
func intArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
