package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func anchorFor(lineNum int, content string) string {
	return fmt.Sprintf("%d:%s", lineNum, hashLine(content))
}

// === Bash ===

func TestBashCapturesOutput(t *testing.T) {
	bash := NewBashTool(0, zap.NewNop())
	res := bash.Execute(context.Background(), map[string]interface{}{"command": "echo hello"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}
	if res.Output != "hello\n" {
		t.Errorf("output = %q, want %q", res.Output, "hello\n")
	}
}

func TestBashMergesStderr(t *testing.T) {
	bash := NewBashTool(0, zap.NewNop())
	res := bash.Execute(context.Background(), map[string]interface{}{"command": "echo oops 1>&2"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}
	if res.Output != "oops\n" {
		t.Errorf("output = %q, want stderr merged in", res.Output)
	}
}

func TestBashNonZeroExit(t *testing.T) {
	bash := NewBashTool(0, zap.NewNop())
	res := bash.Execute(context.Background(), map[string]interface{}{"command": "echo partial; exit 3"})
	if !res.IsError {
		t.Fatal("expected IsError for non-zero exit")
	}
	if !strings.HasPrefix(res.Output, "Exit code: 3\n") {
		t.Errorf("output = %q, want Exit code prefix", res.Output)
	}
	if !strings.Contains(res.Output, "partial") {
		t.Errorf("output = %q, want captured output after prefix", res.Output)
	}
}

func TestBashEmptyOutput(t *testing.T) {
	bash := NewBashTool(0, zap.NewNop())
	res := bash.Execute(context.Background(), map[string]interface{}{"command": "true"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}
	if res.Output != "(no output)" {
		t.Errorf("output = %q, want (no output)", res.Output)
	}
}

func TestBashTimeout(t *testing.T) {
	bash := NewBashTool(time.Second, zap.NewNop())
	start := time.Now()
	res := bash.Execute(context.Background(), map[string]interface{}{"command": "sleep 5"})
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("command ran %v, timeout did not fire", elapsed)
	}
	if !res.IsError {
		t.Fatal("expected IsError on timeout")
	}
	if res.Output != "Command timed out after 1 seconds" {
		t.Errorf("output = %q", res.Output)
	}
}

func TestBashTruncatesLongOutput(t *testing.T) {
	bash := NewBashTool(0, zap.NewNop())
	res := bash.Execute(context.Background(), map[string]interface{}{"command": "yes | head -c 40000"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}
	if !strings.HasSuffix(res.Output, "\n... (output truncated)") {
		t.Errorf("output missing truncation marker: %q", res.Output[len(res.Output)-40:])
	}
	if got, want := len(res.Output), maxToolOutput+len("\n... (output truncated)"); got != want {
		t.Errorf("output length = %d, want %d", got, want)
	}
}

func TestBashMissingCommand(t *testing.T) {
	bash := NewBashTool(0, zap.NewNop())
	res := bash.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError || res.Output != "No command provided." {
		t.Errorf("result = %+v", res)
	}
}

// === Read ===

func readEntries(t *testing.T, output string) map[string]string {
	t.Helper()
	var entries map[string]string
	if err := json.Unmarshal([]byte(output), &entries); err != nil {
		t.Fatalf("read output is not a JSON map: %v\n%s", err, output)
	}
	return entries
}

func TestReadHashlineFormat(t *testing.T) {
	path := writeFixture(t, "alpha\nbeta\ngamma\n")
	read := NewReadTool(zap.NewNop())

	res := read.Execute(context.Background(), map[string]interface{}{
		"file_paths": []interface{}{path},
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}

	entries := readEntries(t, res.Output)
	lines := strings.Split(entries[path], "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), entries[path])
	}
	want := []string{
		"1:" + hashLine("alpha") + "|alpha",
		"2:" + hashLine("beta") + "|beta",
		"3:" + hashLine("gamma") + "|gamma",
	}
	for i, line := range lines {
		if line != want[i] {
			t.Errorf("line %d = %q, want %q", i, line, want[i])
		}
	}
}

func TestReadOffsetAndLimit(t *testing.T) {
	path := writeFixture(t, "one\ntwo\nthree\nfour\nfive\n")
	read := NewReadTool(zap.NewNop())

	res := read.Execute(context.Background(), map[string]interface{}{
		"file_paths": []interface{}{path},
		"offset":     float64(2),
		"limit":      float64(2),
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}

	entries := readEntries(t, res.Output)
	want := "2:" + hashLine("two") + "|two\n3:" + hashLine("three") + "|three"
	if entries[path] != want {
		t.Errorf("slice = %q, want %q", entries[path], want)
	}
}

func TestReadMissingFileIsPerFileError(t *testing.T) {
	path := writeFixture(t, "here\n")
	missing := filepath.Join(t.TempDir(), "absent.txt")
	read := NewReadTool(zap.NewNop())

	res := read.Execute(context.Background(), map[string]interface{}{
		"file_paths": []interface{}{path, missing},
	})
	if res.IsError {
		t.Fatalf("missing file must not fail the whole call: %s", res.Output)
	}

	entries := readEntries(t, res.Output)
	if !strings.HasPrefix(entries[missing], "Error: File not found: ") {
		t.Errorf("missing entry = %q", entries[missing])
	}
	if !strings.Contains(entries[path], "|here") {
		t.Errorf("good entry = %q", entries[path])
	}
}

func TestReadNoPaths(t *testing.T) {
	read := NewReadTool(zap.NewNop())
	res := read.Execute(context.Background(), map[string]interface{}{"file_paths": []interface{}{}})
	if !res.IsError || res.Output != "No file_paths provided." {
		t.Errorf("result = %+v", res)
	}
}

func TestReadOffsetPastEnd(t *testing.T) {
	path := writeFixture(t, "only\n")
	read := NewReadTool(zap.NewNop())
	res := read.Execute(context.Background(), map[string]interface{}{
		"file_paths": []interface{}{path},
		"offset":     float64(10),
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}
	entries := readEntries(t, res.Output)
	if entries[path] != "" {
		t.Errorf("slice = %q, want empty", entries[path])
	}
}

// === Write ===

func TestWriteCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.txt")
	write := NewWriteTool(zap.NewNop())

	res := write.Execute(context.Background(), map[string]interface{}{
		"file_path": path,
		"content":   "payload",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}
	if want := "Wrote 7 bytes to " + path; res.Output != want {
		t.Errorf("output = %q, want %q", res.Output, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("file content = %q", data)
	}
}

func TestWriteMissingPath(t *testing.T) {
	write := NewWriteTool(zap.NewNop())
	res := write.Execute(context.Background(), map[string]interface{}{"content": "x"})
	if !res.IsError || res.Output != "No file_path provided." {
		t.Errorf("result = %+v", res)
	}
}

// === Edit ===

func TestEditSingleLine(t *testing.T) {
	path := writeFixture(t, "alpha\nbeta\ngamma\n")
	edit := NewEditTool(zap.NewNop())

	res := edit.Execute(context.Background(), map[string]interface{}{
		"file_path": path,
		"hash":      anchorFor(2, "beta"),
		"content":   "BETA",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}
	if want := "Edited " + path + ": replaced 1 line(s)"; res.Output != want {
		t.Errorf("output = %q, want %q", res.Output, want)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "alpha\nBETA\ngamma\n" {
		t.Errorf("file = %q", data)
	}
}

func TestEditReadRoundtrip(t *testing.T) {
	path := writeFixture(t, "func main() {\n\tprintln(1)\n}\n")
	read := NewReadTool(zap.NewNop())
	edit := NewEditTool(zap.NewNop())

	res := read.Execute(context.Background(), map[string]interface{}{
		"file_paths": []interface{}{path},
	})
	entries := readEntries(t, res.Output)

	// Pick the anchor of the middle line straight out of the read output.
	var ref string
	for _, line := range strings.Split(entries[path], "\n") {
		if strings.HasSuffix(line, "|\tprintln(1)") {
			ref = line[:strings.IndexByte(line, '|')]
		}
	}
	if ref == "" {
		t.Fatalf("anchor not found in read output: %q", entries[path])
	}

	res = edit.Execute(context.Background(), map[string]interface{}{
		"file_path": path,
		"hash":      ref,
		"content":   "\tprintln(2)",
	})
	if res.IsError {
		t.Fatalf("edit failed: %s", res.Output)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "func main() {\n\tprintln(2)\n}\n" {
		t.Errorf("file = %q", data)
	}
}

func TestEditStaleAnchorFails(t *testing.T) {
	path := writeFixture(t, "alpha\nbeta\ngamma\n")
	edit := NewEditTool(zap.NewNop())
	ref := anchorFor(2, "beta")

	// The line drifts between read and edit.
	if err := os.WriteFile(path, []byte("alpha\nbets\ngamma\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := edit.Execute(context.Background(), map[string]interface{}{
		"file_path": path,
		"hash":      ref,
		"content":   "BETA",
	})
	if !res.IsError {
		t.Fatal("expected stale anchor to fail")
	}
	want := "Hash " + ref + " not found in file. File may have changed since read."
	if res.Output != want {
		t.Errorf("output = %q, want %q", res.Output, want)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "alpha\nbets\ngamma\n" {
		t.Errorf("file modified despite failed edit: %q", data)
	}
}

func TestEditRange(t *testing.T) {
	path := writeFixture(t, "one\ntwo\nthree\nfour\nfive\n")
	edit := NewEditTool(zap.NewNop())

	res := edit.Execute(context.Background(), map[string]interface{}{
		"file_path": path,
		"hash":      anchorFor(2, "two") + "-" + anchorFor(4, "four"),
		"content":   "middle",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}
	if want := "Edited " + path + ": replaced 3 line(s)"; res.Output != want {
		t.Errorf("output = %q, want %q", res.Output, want)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "one\nmiddle\nfive\n" {
		t.Errorf("file = %q", data)
	}
}

func TestEditReversedRange(t *testing.T) {
	path := writeFixture(t, "one\ntwo\nthree\nfour\n")
	edit := NewEditTool(zap.NewNop())

	endRef := anchorFor(2, "two")
	res := edit.Execute(context.Background(), map[string]interface{}{
		"file_path": path,
		"hash":      anchorFor(4, "four") + "-" + endRef,
		"content":   "x",
	})
	if !res.IsError {
		t.Fatal("expected reversed range to fail")
	}
	want := "End hash " + endRef + " not found in file. File may have changed since read."
	if res.Output != want {
		t.Errorf("output = %q, want %q", res.Output, want)
	}
}

func TestEditRangeStartNotFound(t *testing.T) {
	path := writeFixture(t, "one\ntwo\n")
	edit := NewEditTool(zap.NewNop())

	res := edit.Execute(context.Background(), map[string]interface{}{
		"file_path": path,
		"hash":      "1:zz-2:" + hashLine("two"),
		"content":   "x",
	})
	if !res.IsError {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(res.Output, "Start hash 1:zz not found in file.") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestEditPreservesTrailingNewlineDiscipline(t *testing.T) {
	edit := NewEditTool(zap.NewNop())

	// Replacing a newline-terminated line keeps the newline.
	path := writeFixture(t, "a\nb\n")
	res := edit.Execute(context.Background(), map[string]interface{}{
		"file_path": path, "hash": anchorFor(2, "b"), "content": "B",
	})
	if res.IsError {
		t.Fatalf("edit failed: %s", res.Output)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "a\nB\n" {
		t.Errorf("file = %q, want %q", data, "a\nB\n")
	}

	// Replacing the unterminated last line must not grow a newline.
	path = writeFixture(t, "a\nb")
	res = edit.Execute(context.Background(), map[string]interface{}{
		"file_path": path, "hash": anchorFor(2, "b"), "content": "B\n",
	})
	if res.IsError {
		t.Fatalf("edit failed: %s", res.Output)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "a\nB" {
		t.Errorf("file = %q, want %q", data, "a\nB")
	}
}

func TestEditInvalidReference(t *testing.T) {
	path := writeFixture(t, "a\n")
	edit := NewEditTool(zap.NewNop())

	cases := []struct {
		name string
		ref  string
		want string
	}{
		{"no colon", "abc", "Invalid hash format. Use 'line:hash'."},
		{"uppercase hex", "1:AB", "Invalid hash format. Use 'line:hash'."},
		{"bad range", "1:ab-zz", "Invalid hash range format. Use 'line:hash-line:hash'."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := edit.Execute(context.Background(), map[string]interface{}{
				"file_path": path, "hash": tc.ref, "content": "x",
			})
			if !res.IsError || res.Output != tc.want {
				t.Errorf("result = %+v, want %q", res, tc.want)
			}
		})
	}
}

func TestEditMissingFile(t *testing.T) {
	edit := NewEditTool(zap.NewNop())
	missing := filepath.Join(t.TempDir(), "gone.txt")
	res := edit.Execute(context.Background(), map[string]interface{}{
		"file_path": missing, "hash": "1:ab", "content": "x",
	})
	if !res.IsError || res.Output != "File not found: "+missing {
		t.Errorf("result = %+v", res)
	}
}

// === Search ===

func TestSearchWebComposesSections(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"AbstractText": "Go is a programming language.",
			"Answer": "golang",
			"RelatedTopics": [
				{"Text": "Go <b>tooling</b>"},
				{"Topics": [{"Text": "Goroutines"}, {"Text": "Channels"}, {"Text": "Never seen"}]},
				{"Result": "<a href=\"x\">Generics</a> overview"}
			]
		}`))
	}))
	defer srv.Close()

	search := NewSearchWebTool(zap.NewNop())
	search.baseURL = srv.URL

	res := search.Execute(context.Background(), map[string]interface{}{"query": "go language"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Output)
	}

	if gotQuery.Get("q") != "go language" || gotQuery.Get("format") != "json" || gotQuery.Get("no_html") != "1" {
		t.Errorf("query = %v", gotQuery)
	}

	want := strings.Join([]string{
		"**Summary**: Go is a programming language.",
		"**Answer**: golang",
		"- Go tooling",
		"- Goroutines",
		"- Channels",
		"- Generics overview",
	}, "\n")
	if res.Output != want {
		t.Errorf("output = %q\nwant %q", res.Output, want)
	}
}

func TestSearchWebNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	search := NewSearchWebTool(zap.NewNop())
	search.baseURL = srv.URL

	res := search.Execute(context.Background(), map[string]interface{}{"query": "nothing"})
	if res.IsError || res.Output != "No results found." {
		t.Errorf("result = %+v", res)
	}
}

func TestSearchWebServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	search := NewSearchWebTool(zap.NewNop())
	search.baseURL = srv.URL

	res := search.Execute(context.Background(), map[string]interface{}{"query": "x"})
	if !res.IsError || !strings.Contains(res.Output, "status 502") {
		t.Errorf("result = %+v", res)
	}
}

func TestSearchWebMissingQuery(t *testing.T) {
	search := NewSearchWebTool(zap.NewNop())
	res := search.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError || res.Output != "No query provided." {
		t.Errorf("result = %+v", res)
	}
}

// === Default registry ===

func TestDefaultRegistryOrder(t *testing.T) {
	registry, err := DefaultRegistry(0, zap.NewNop())
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}

	defs := registry.Schemas()
	want := []string{"bash", "read", "write", "edit", "search_web"}
	if len(defs) != len(want) {
		t.Fatalf("got %d tools, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("defs[%d].Name = %q, want %q", i, defs[i].Name, name)
		}
		if defs[i].Parameters["type"] != "object" {
			t.Errorf("%s schema missing object envelope", name)
		}
	}

	if _, ok := registry.Get("edit"); !ok {
		t.Error("edit not resolvable")
	}
}

// === Hashline helpers ===

func TestHashLineStable(t *testing.T) {
	if hashLine("alpha") != hashLine("alpha") {
		t.Error("hash not deterministic")
	}
	h := hashLine("some line")
	if len(h) == 0 || len(h) > 2 {
		t.Errorf("hash %q length out of range", h)
	}
	for _, c := range h {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("hash %q not lowercase hex", h)
		}
	}
}

func TestSplitKeepEnds(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a\n", []string{"a\n"}},
		{"a\nb", []string{"a\n", "b"}},
		{"a\n\nb\n", []string{"a\n", "\n", "b\n"}},
	}
	for _, tc := range cases {
		got := splitKeepEnds(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("splitKeepEnds(%q) = %q, want %q", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("splitKeepEnds(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestParseAnchor(t *testing.T) {
	line, hash, ok := parseAnchor("42:ab")
	if !ok || line != 42 || hash != "ab" {
		t.Errorf("parseAnchor = (%d, %q, %v)", line, hash, ok)
	}
	for _, bad := range []string{"", "42", ":ab", "42:", "42:AB", "x:ab", "42:ab-43:cd"} {
		if _, _, ok := parseAnchor(bad); ok {
			t.Errorf("parseAnchor(%q) accepted", bad)
		}
	}
}
