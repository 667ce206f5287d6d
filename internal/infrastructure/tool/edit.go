package tool

import (
	"context"
	"fmt"
	"os"
	"strings"

	domaintool "github.com/tetherhq/tether/gateway/internal/domain/tool"
	"go.uber.org/zap"
)

// EditTool replaces a hashline-anchored region of a file. The anchor carries
// both the line number and the content hash from a previous read, so an edit
// against a file that changed in the meantime fails instead of landing on the
// wrong line.
type EditTool struct {
	logger *zap.Logger
}

// NewEditTool creates the edit tool.
func NewEditTool(logger *zap.Logger) *EditTool {
	return &EditTool{logger: logger}
}

func (t *EditTool) Name() string {
	return "edit"
}

func (t *EditTool) Description() string {
	return "Find and replace text in a file using content hashes. Use the hash from read output to identify lines."
}

func (t *EditTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute path to the file to edit.",
			},
			"hash": map[string]interface{}{
				"type":        "string",
				"description": "Line reference in format 'line:hash' (e.g., '42:ab') or range 'line:hash-line:hash' (e.g., '10:ab-15:cd'). Use the hash from read output.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The replacement text.",
			},
		},
		"required": []string{"file_path", "hash", "content"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}) *domaintool.Result {
	filePath, _ := args["file_path"].(string)
	if filePath == "" {
		return domaintool.Errorf("No file_path provided.")
	}
	ref, _ := args["hash"].(string)
	if ref == "" {
		return domaintool.Errorf("No hash provided. Use format 'line:hash' (e.g., '42:ab') or a 'line:hash-line:hash' range.")
	}
	content, _ := args["content"].(string)
	if content == "" {
		return domaintool.Errorf("No content provided.")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return domaintool.Errorf("File not found: " + filePath)
		}
		return domaintool.Errorf("Error reading file: " + err.Error())
	}
	lines := splitKeepEnds(string(data))

	var startIdx, endIdx int
	if dash := strings.IndexByte(ref, '-'); dash >= 0 {
		startRef, endRef := ref[:dash], ref[dash+1:]
		startLine, startHash, ok := parseAnchor(startRef)
		if !ok {
			return domaintool.Errorf("Invalid hash range format. Use 'line:hash-line:hash'.")
		}
		endLine, endHash, ok := parseAnchor(endRef)
		if !ok {
			return domaintool.Errorf("Invalid hash range format. Use 'line:hash-line:hash'.")
		}
		startIdx = findAnchor(lines, startLine, startHash, 0)
		if startIdx < 0 {
			return domaintool.Errorf(fmt.Sprintf("Start hash %s not found in file. File may have changed since read.", startRef))
		}
		// The end anchor is searched at or after the start, so a reversed
		// range reports the end as missing.
		endIdx = findAnchor(lines, endLine, endHash, startIdx)
		if endIdx < 0 {
			return domaintool.Errorf(fmt.Sprintf("End hash %s not found in file. File may have changed since read.", endRef))
		}
	} else {
		line, hash, ok := parseAnchor(ref)
		if !ok {
			return domaintool.Errorf("Invalid hash format. Use 'line:hash'.")
		}
		startIdx = findAnchor(lines, line, hash, 0)
		if startIdx < 0 {
			return domaintool.Errorf(fmt.Sprintf("Hash %s not found in file. File may have changed since read.", ref))
		}
		endIdx = startIdx
	}

	// Keep the replaced region's trailing-newline discipline: a region that
	// ended with a newline still does, and replacing the unterminated last
	// line does not grow a new one.
	replacement := content
	if strings.HasSuffix(lines[endIdx], "\n") {
		if !strings.HasSuffix(replacement, "\n") {
			replacement += "\n"
		}
	} else {
		replacement = strings.TrimSuffix(replacement, "\n")
	}

	var b strings.Builder
	for _, l := range lines[:startIdx] {
		b.WriteString(l)
	}
	b.WriteString(replacement)
	for _, l := range lines[endIdx+1:] {
		b.WriteString(l)
	}

	if err := os.WriteFile(filePath, []byte(b.String()), 0o644); err != nil {
		return domaintool.Errorf("Error writing file: " + err.Error())
	}

	replaced := endIdx - startIdx + 1
	t.logger.Debug("Applied edit",
		zap.String("path", filePath),
		zap.String("ref", ref),
		zap.Int("lines", replaced),
	)
	return &domaintool.Result{Output: fmt.Sprintf("Edited %s: replaced %d line(s)", filePath, replaced)}
}

// findAnchor resolves a line-number+hash anchor to a slice index at or after
// from. It returns -1 when the line does not exist, sits before from, or its
// current content no longer hashes to the anchor.
func findAnchor(lines []string, lineNum int, hash string, from int) int {
	idx := lineNum - 1
	if idx < from || idx >= len(lines) {
		return -1
	}
	if hashLine(trimEOL(lines[idx])) != hash {
		return -1
	}
	return idx
}
