package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mcpwire "github.com/tildeworks/go-mcpwire"
)

func textResult(texts ...string) mcpwire.CallToolResult {
	contents := make([]mcpwire.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, mcpwire.Content{
			Type: mcpwire.ContentTypeText,
			Text: t,
		})
	}
	return mcpwire.CallToolResult{Content: contents}
}

func toolError(format string, args ...any) (mcpwire.CallToolResult, error) {
	return mcpwire.CallToolResult{
		Content: []mcpwire.Content{
			{
				Type: mcpwire.ContentTypeText,
				Text: fmt.Sprintf(format, args...),
			},
		},
		IsError: true,
	}, nil
}

func (s *Server) readFile(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args readFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	path, err := s.resolve(args.Path)
	if err != nil {
		return toolError("%s", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return toolError("failed to stat %s: %s", args.Path, err)
	}
	if info.IsDir() {
		return toolError("path %s is a directory, not a file", args.Path)
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		return toolError("failed to read %s: %s", args.Path, err)
	}

	return textResult(string(bs)), nil
}

func (s *Server) readMultipleFiles(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args readMultipleFilesArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	texts := make([]string, 0, len(args.Paths))
	for _, reqPath := range args.Paths {
		path, err := s.resolve(reqPath)
		if err != nil {
			texts = append(texts, fmt.Sprintf("%s: %s", reqPath, err))
			continue
		}
		bs, err := os.ReadFile(path)
		if err != nil {
			texts = append(texts, fmt.Sprintf("%s: failed to read: %s", reqPath, err))
			continue
		}
		texts = append(texts, fmt.Sprintf("File content of %s:\n%s\n", reqPath, string(bs)))
	}

	return textResult(texts...), nil
}

func (s *Server) writeFile(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args writeFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	path, err := s.resolve(args.Path)
	if err != nil {
		return toolError("%s", err)
	}

	if err := os.WriteFile(path, []byte(args.Content), 0600); err != nil {
		return toolError("failed to write %s: %s", args.Path, err)
	}

	s.logger.Debug("wrote file", slog.String("path", path), slog.Int("bytes", len(args.Content)))

	return textResult(fmt.Sprintf("File %s written successfully", args.Path)), nil
}

func (s *Server) editFile(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args editFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	path, err := s.resolve(args.Path)
	if err != nil {
		return toolError("%s", err)
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		return toolError("failed to read %s: %s", args.Path, err)
	}

	modified, err := applyEdits(string(bs), args.Edits)
	if err != nil {
		return toolError("%s", err)
	}

	diff := unifiedDiff(string(bs), modified, args.Path)

	if !args.DryRun {
		if err := os.WriteFile(path, []byte(modified), 0600); err != nil {
			return toolError("failed to write %s: %s", args.Path, err)
		}
	}

	return textResult(diff), nil
}

func (s *Server) createDirectory(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args createDirectoryArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	path, err := s.resolve(args.Path)
	if err != nil {
		return toolError("%s", err)
	}

	if err := os.MkdirAll(path, 0700); err != nil {
		return toolError("failed to create directory %s: %s", args.Path, err)
	}

	return textResult(fmt.Sprintf("Directory %s created successfully", args.Path)), nil
}

func (s *Server) listDirectory(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args listDirectoryArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	path, err := s.resolve(args.Path)
	if err != nil {
		return toolError("%s", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return toolError("failed to read directory %s: %s", args.Path, err)
	}

	var b strings.Builder
	for _, entry := range entries {
		prefix := "[FILE]"
		if entry.IsDir() {
			prefix = "[DIR]"
		}
		fmt.Fprintf(&b, "%s %s\n", prefix, entry.Name())
	}

	return textResult(b.String()), nil
}

func (s *Server) directoryTree(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args directoryTreeArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	entries, err := s.tree(args.Path)
	if err != nil {
		return toolError("%s", err)
	}

	bs, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return mcpwire.CallToolResult{}, fmt.Errorf("failed to marshal tree: %w", err)
	}

	return textResult(string(bs)), nil
}

func (s *Server) moveFile(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args moveFileArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	source, err := s.resolve(args.Source)
	if err != nil {
		return toolError("%s", err)
	}
	destination, err := s.resolve(args.Destination)
	if err != nil {
		return toolError("%s", err)
	}

	if _, err := os.Stat(destination); err == nil {
		return toolError("destination %s already exists", args.Destination)
	}

	if err := os.Rename(source, destination); err != nil {
		return toolError("failed to move %s: %s", args.Source, err)
	}

	return textResult(fmt.Sprintf("File %s moved to %s successfully", args.Source, args.Destination)), nil
}

func (s *Server) searchFiles(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args searchFilesArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	if _, err := s.resolve(args.Path); err != nil {
		return toolError("%s", err)
	}

	matches, err := s.search(args.Path, args.Pattern, args.Exclude)
	if err != nil {
		return toolError("%s", err)
	}

	if len(matches) == 0 {
		return textResult("No files found"), nil
	}

	return textResult(strings.Join(matches, "\n")), nil
}

func (s *Server) getFileInfo(_ context.Context, params mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	var args getFileInfoArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return mcpwire.CallToolResult{}, err
	}

	path, err := s.resolve(args.Path)
	if err != nil {
		return toolError("%s", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return toolError("failed to stat %s: %s", args.Path, err)
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}

	return textResult(fmt.Sprintf(
		"Path: %s\nType: %s\nSize: %d\nLast modified: %s\nPermissions: %s\n",
		args.Path, kind, info.Size(), info.ModTime().Format("2006-01-02 15:04:05"), info.Mode(),
	)), nil
}

func (s *Server) listAllowedDirectories(context.Context, mcpwire.CallToolParams) (mcpwire.CallToolResult, error) {
	return textResult("Allowed directories:\n" + strings.Join(s.roots, "\n")), nil
}
