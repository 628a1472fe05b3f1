package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mcpwire "github.com/tildeworks/go-mcpwire"
)

func newTestServer(t *testing.T) (*Server, *mcpwire.Registry, string) {
	t.Helper()

	root := t.TempDir()
	srv, err := NewServer([]string{root})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	reg := mcpwire.NewRegistry()
	if err := srv.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	return srv, reg, root
}

func callTool(t *testing.T, reg *mcpwire.Registry, name string, args any) mcpwire.CallToolResult {
	t.Helper()

	bs, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal arguments: %v", err)
	}
	res, err := reg.CallTool(context.Background(), mcpwire.CallToolParams{
		Name:      name,
		Arguments: bs,
	})
	if err != nil {
		t.Fatalf("CallTool %s: %v", name, err)
	}
	return res
}

func resultText(res mcpwire.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		b.WriteString(c.Text)
	}
	return b.String()
}

func TestNewServerValidatesRoots(t *testing.T) {
	if _, err := NewServer(nil); err == nil {
		t.Error("expected error for empty roots")
	}
	if _, err := NewServer([]string{"/does/not/exist"}); err == nil {
		t.Error("expected error for missing root")
	}

	file := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewServer([]string{file}); err == nil {
		t.Error("expected error for non-directory root")
	}
}

func TestReadWriteFile(t *testing.T) {
	_, reg, root := newTestServer(t)

	path := filepath.Join(root, "hello.txt")
	res := callTool(t, reg, "write_file", writeFileArgs{Path: path, Content: "hello world"})
	if res.IsError {
		t.Fatalf("write_file failed: %s", resultText(res))
	}

	res = callTool(t, reg, "read_file", readFileArgs{Path: path})
	if res.IsError {
		t.Fatalf("read_file failed: %s", resultText(res))
	}
	if got := resultText(res); got != "hello world" {
		t.Errorf("read back %q, want %q", got, "hello world")
	}
}

func TestReadFileRejectsEscapingPath(t *testing.T) {
	_, reg, root := newTestServer(t)

	res := callTool(t, reg, "read_file", readFileArgs{
		Path: filepath.Join(root, "..", "escape.txt"),
	})
	if !res.IsError {
		t.Fatal("expected access denied")
	}
	if !strings.Contains(resultText(res), "access denied") {
		t.Errorf("unexpected error text: %s", resultText(res))
	}
}

func TestReadFileRejectsMissingPathArgument(t *testing.T) {
	_, reg, _ := newTestServer(t)

	_, err := reg.CallTool(context.Background(), mcpwire.CallToolParams{
		Name:      "read_file",
		Arguments: json.RawMessage(`{}`),
	})
	var schemaErr *mcpwire.SchemaValidationError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
}

func TestEditFileProducesDiff(t *testing.T) {
	_, reg, root := newTestServer(t)

	path := filepath.Join(root, "config.txt")
	if err := os.WriteFile(path, []byte("alpha\nbeta\ngamma\n"), 0600); err != nil {
		t.Fatal(err)
	}

	res := callTool(t, reg, "edit_file", editFileArgs{
		Path:  path,
		Edits: []editOperation{{OldText: "beta", NewText: "delta"}},
	})
	if res.IsError {
		t.Fatalf("edit_file failed: %s", resultText(res))
	}
	diff := resultText(res)
	if !strings.Contains(diff, "\n-beta\n") || !strings.Contains(diff, "\n+delta\n") {
		t.Errorf("diff does not show replaced lines:\n%s", diff)
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(bs); got != "alpha\ndelta\ngamma\n" {
		t.Errorf("file content = %q", got)
	}
}

func TestEditFileDryRunLeavesFileUntouched(t *testing.T) {
	_, reg, root := newTestServer(t)

	path := filepath.Join(root, "config.txt")
	if err := os.WriteFile(path, []byte("alpha\n"), 0600); err != nil {
		t.Fatal(err)
	}

	res := callTool(t, reg, "edit_file", editFileArgs{
		Path:   path,
		Edits:  []editOperation{{OldText: "alpha", NewText: "omega"}},
		DryRun: true,
	})
	if res.IsError {
		t.Fatalf("edit_file failed: %s", resultText(res))
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(bs); got != "alpha\n" {
		t.Errorf("dry run modified file: %q", got)
	}
}

func TestListDirectoryAndTree(t *testing.T) {
	_, reg, root := newTestServer(t)

	if err := os.MkdirAll(filepath.Join(root, "sub"), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("b"), 0600); err != nil {
		t.Fatal(err)
	}

	res := callTool(t, reg, "list_directory", listDirectoryArgs{Path: root})
	text := resultText(res)
	if !strings.Contains(text, "[FILE] a.txt") || !strings.Contains(text, "[DIR] sub") {
		t.Errorf("unexpected listing:\n%s", text)
	}

	res = callTool(t, reg, "directory_tree", directoryTreeArgs{Path: root})
	var entries []treeEntry
	if err := json.Unmarshal([]byte(resultText(res)), &entries); err != nil {
		t.Fatalf("tree output is not JSON: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d top-level entries, want 2", len(entries))
	}
}

func TestMoveFile(t *testing.T) {
	_, reg, root := newTestServer(t)

	src := filepath.Join(root, "old.txt")
	dst := filepath.Join(root, "new.txt")
	if err := os.WriteFile(src, []byte("content"), 0600); err != nil {
		t.Fatal(err)
	}

	res := callTool(t, reg, "move_file", moveFileArgs{Source: src, Destination: dst})
	if res.IsError {
		t.Fatalf("move_file failed: %s", resultText(res))
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source still exists")
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("destination missing: %v", err)
	}
}

func TestMoveFileRefusesExistingDestination(t *testing.T) {
	_, reg, root := newTestServer(t)

	src := filepath.Join(root, "old.txt")
	dst := filepath.Join(root, "new.txt")
	for _, p := range []string{src, dst} {
		if err := os.WriteFile(p, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	res := callTool(t, reg, "move_file", moveFileArgs{Source: src, Destination: dst})
	if !res.IsError {
		t.Fatal("expected error for existing destination")
	}
}

func TestSearchFiles(t *testing.T) {
	_, reg, root := newTestServer(t)

	for i, name := range []string{"report.txt", "notes.md", filepath.Join("deep", "report-final.txt")} {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(fmt.Sprintf("file %d", i)), 0600); err != nil {
			t.Fatal(err)
		}
	}

	res := callTool(t, reg, "search_files", searchFilesArgs{Path: root, Pattern: "report"})
	text := resultText(res)
	if !strings.Contains(text, "report.txt") || !strings.Contains(text, "report-final.txt") {
		t.Errorf("missing matches:\n%s", text)
	}
	if strings.Contains(text, "notes.md") {
		t.Errorf("unexpected match:\n%s", text)
	}

	res = callTool(t, reg, "search_files", searchFilesArgs{
		Path:    root,
		Pattern: "report",
		Exclude: []string{"deep"},
	})
	if strings.Contains(resultText(res), "report-final.txt") {
		t.Errorf("exclude pattern not applied:\n%s", resultText(res))
	}
}

func TestApplyEditsIndentation(t *testing.T) {
	content := "func main() {\n\tfmt.Println(\"old\")\n}\n"
	got, err := applyEdits(content, []editOperation{
		{OldText: "fmt.Println(\"old\")", NewText: "fmt.Println(\"new\")"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "func main() {\n\tfmt.Println(\"new\")\n}\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApplyEditsNoMatch(t *testing.T) {
	_, err := applyEdits("hello\n", []editOperation{{OldText: "absent", NewText: "x"}})
	if err == nil {
		t.Fatal("expected error for unmatched edit")
	}
}

func TestListAllowedDirectories(t *testing.T) {
	_, reg, root := newTestServer(t)

	res := callTool(t, reg, "list_allowed_directories", struct{}{})
	if !strings.Contains(resultText(res), root) {
		t.Errorf("root %s not listed:\n%s", root, resultText(res))
	}
}
