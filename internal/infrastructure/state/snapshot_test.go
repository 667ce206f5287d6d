package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tetherhq/tether/gateway/internal/domain/entity"
	"github.com/tetherhq/tether/gateway/internal/domain/service"
)

// === Round trip ===

func TestSaveAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())

	snap := &service.Snapshot{
		Model:        "anthropic/claude-sonnet-4",
		SystemPrompt: "be helpful",
		Messages: []entity.Message{
			{Role: "user", Content: "list the files"},
			{Role: "assistant", Content: "", ToolCalls: []entity.ToolCall{
				{ID: "call_1", Type: "function", Function: entity.ToolCallFunction{
					Name:      "bash",
					Arguments: `{"command":"ls"}`,
				}},
			}},
			{Role: "tool", Content: "main.go", ToolCallID: "call_1"},
		},
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil snapshot")
	}
	if got.Model != snap.Model || got.SystemPrompt != snap.SystemPrompt {
		t.Errorf("got %q/%q", got.Model, got.SystemPrompt)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(got.Messages))
	}
	if got.Messages[1].ToolCalls[0].Function.Name != "bash" {
		t.Errorf("tool call = %+v", got.Messages[1].ToolCalls[0])
	}
	if got.Messages[2].ToolCallID != "call_1" {
		t.Errorf("tool result id = %q", got.Messages[2].ToolCallID)
	}
}

// === Edge cases ===

func TestLoadMissingSnapshot(t *testing.T) {
	store := NewStore(t.TempDir())

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap != nil {
		t.Errorf("snap = %+v, want nil", snap)
	}
}

func TestLoadCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if err := os.WriteFile(store.Path(), []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Load(); err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
}

func TestSaveCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", ".tether")
	store := NewStore(dir)

	if err := store.Save(&service.Snapshot{Model: "m"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(store.Path()); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	for i := 0; i < 3; i++ {
		if err := store.Save(&service.Snapshot{Model: "m"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != snapshotFile {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir contents = %v, want just %s", names, snapshotFile)
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := NewStore(t.TempDir())

	if err := store.Save(&service.Snapshot{Model: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(&service.Snapshot{Model: "second"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Model != "second" {
		t.Errorf("model = %q, want second", got.Model)
	}
}
