package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"
)

type treeEntry struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"` // "file" or "directory"
	Children []treeEntry `json:"children,omitempty"`
}

// resolve turns a requested path into an absolute one and verifies it stays
// inside the server's roots, following symlinks. Paths that don't exist yet
// are allowed as long as their parent directory resolves inside a root.
func (s *Server) resolve(requested string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(os.ExpandEnv(filepath.FromSlash(requested))))
	if err != nil {
		return "", err
	}

	if !s.inRoots(abs) {
		return "", fmt.Errorf("access denied - path %s outside allowed directories %s",
			requested, strings.Join(s.roots, ", "))
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}

		// The target doesn't exist; the parent has to.
		realParent, err := filepath.EvalSymlinks(filepath.Dir(abs))
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("access denied - parent directory %s does not exist", filepath.Dir(abs))
			}
			return "", err
		}
		if !s.inRoots(filepath.Clean(realParent)) {
			return "", fmt.Errorf("access denied - parent directory %s outside allowed directories %s",
				filepath.Dir(abs), strings.Join(s.roots, ", "))
		}
		return abs, nil
	}

	if !s.inRoots(filepath.Clean(real)) {
		return "", fmt.Errorf("access denied - real path %s outside allowed directories %s",
			real, strings.Join(s.roots, ", "))
	}

	return real, nil
}

func (s *Server) inRoots(path string) bool {
	for _, root := range s.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (s *Server) tree(requested string) ([]treeEntry, error) {
	validPath, err := s.resolve(requested)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(validPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	result := make([]treeEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}

		e := treeEntry{Name: entry.Name(), Type: "file"}
		if entry.IsDir() {
			e.Type = "directory"
			children, err := s.tree(filepath.Join(requested, entry.Name()))
			if err != nil {
				return nil, err
			}
			if children == nil {
				children = []treeEntry{}
			}
			e.Children = children
		}
		result = append(result, e)
	}

	return result, nil
}

// search walks the tree under startPath looking for entries whose name
// contains pattern, case-insensitively. Subdirectories are walked
// concurrently with a bounded number of workers.
func (s *Server) search(startPath, pattern string, excludePatterns []string) ([]string, error) {
	excludes := make([]glob.Glob, 0, len(excludePatterns))
	for _, p := range excludePatterns {
		if !strings.Contains(p, "*") {
			p = "**/" + p + "/**"
		}
		compiled, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		excludes = append(excludes, compiled)
	}

	needle := strings.ToLower(pattern)

	var (
		mu      sync.Mutex
		results []string
		wg      sync.WaitGroup
	)
	workers := make(chan struct{}, 50)

	var walk func(current string)
	walk = func(current string) {
		defer wg.Done()

		validPath, err := s.resolve(current)
		if err != nil {
			return
		}
		entries, err := os.ReadDir(validPath)
		if err != nil {
			return
		}

		for _, entry := range entries {
			fullPath := filepath.Join(current, entry.Name())
			if _, err := s.resolve(fullPath); err != nil {
				continue
			}

			rel, err := filepath.Rel(startPath, fullPath)
			if err != nil {
				continue
			}
			excluded := false
			for _, ex := range excludes {
				if ex.Match(rel) {
					excluded = true
					break
				}
			}
			if excluded {
				continue
			}

			if strings.Contains(strings.ToLower(entry.Name()), needle) {
				mu.Lock()
				results = append(results, fullPath)
				mu.Unlock()
			}

			if entry.IsDir() {
				wg.Add(1)
				go func(path string) {
					workers <- struct{}{}
					walk(path)
					<-workers
				}(fullPath)
			}
		}
	}

	wg.Add(1)
	walk(startPath)
	wg.Wait()

	return results, nil
}

// applyEdits applies each edit to content in order. An edit matches either
// as an exact substring or, failing that, line by line ignoring leading and
// trailing whitespace, preserving the file's original indentation.
func applyEdits(content string, edits []editOperation) (string, error) {
	modified := normalizeLineEndings(content)

	for _, edit := range edits {
		oldText := normalizeLineEndings(edit.OldText)
		newText := normalizeLineEndings(edit.NewText)

		if strings.Contains(modified, oldText) {
			modified = strings.Replace(modified, oldText, newText, 1)
			continue
		}

		replaced, ok := replaceByLines(modified, oldText, newText)
		if !ok {
			return "", fmt.Errorf("could not find exact match for edit:\n%s", edit.OldText)
		}
		modified = replaced
	}

	return modified, nil
}

func replaceByLines(content, oldText, newText string) (string, bool) {
	oldLines := strings.Split(oldText, "\n")
	contentLines := strings.Split(content, "\n")

	for i := 0; i <= len(contentLines)-len(oldLines); i++ {
		if !linesMatch(contentLines[i:i+len(oldLines)], oldLines) {
			continue
		}

		indent := leadingWhitespace(contentLines[i])
		newLines := reindent(indent, oldLines, strings.Split(newText, "\n"))

		result := make([]string, 0, len(contentLines)-len(oldLines)+len(newLines))
		result = append(result, contentLines[:i]...)
		result = append(result, newLines...)
		result = append(result, contentLines[i+len(oldLines):]...)
		return strings.Join(result, "\n"), true
	}

	return content, false
}

func linesMatch(block, oldLines []string) bool {
	for i, line := range oldLines {
		if strings.TrimSpace(line) != strings.TrimSpace(block[i]) {
			return false
		}
	}
	return true
}

// reindent re-bases the replacement lines on the indentation found at the
// match site, keeping each line's indent relative to the matched block.
func reindent(baseIndent string, oldLines, newLines []string) []string {
	result := make([]string, 0, len(newLines))

	for i, line := range newLines {
		if i == 0 {
			result = append(result, baseIndent+strings.TrimLeft(line, " \t"))
			continue
		}
		if strings.TrimSpace(line) == "" {
			result = append(result, baseIndent)
			continue
		}

		oldIndent := ""
		if i < len(oldLines) {
			oldIndent = leadingWhitespace(oldLines[i])
		}
		extra := len(leadingWhitespace(line)) - len(oldIndent)
		if extra < 0 {
			extra = 0
		}
		result = append(result, baseIndent+strings.Repeat(" ", extra)+strings.TrimLeft(line, " \t"))
	}

	return result
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// unifiedDiff renders a git-style diff between the original and modified
// content, fenced so tools displaying markdown keep it intact. The diff runs
// in line mode so every changed line appears whole.
func unifiedDiff(original, modified, path string) string {
	dmp := diffmatchpatch.New()

	src, dst, lines := dmp.DiffLinesToChars(normalizeLineEndings(original), normalizeLineEndings(modified))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(src, dst, false), lines)

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s (original)\n", path)
	fmt.Fprintf(&b, "+++ %s (modified)\n", path)
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	diff := b.String()

	fence := 3
	for strings.Contains(diff, strings.Repeat("`", fence)) {
		fence++
	}
	return fmt.Sprintf("%s\ndiff\n%s%s\n\n",
		strings.Repeat("`", fence), diff, strings.Repeat("`", fence))
}
