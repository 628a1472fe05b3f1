// Package filesystem exposes a sandboxed slice of the local filesystem as a
// set of tools. Every operation is validated against the configured root
// directories; paths escaping them, including through symlinks, are refused.
package filesystem

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	mcpwire "github.com/tildeworks/go-mcpwire"
)

// Server provides filesystem tools restricted to a set of root directories.
type Server struct {
	roots  []string
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used by the tool handlers.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a filesystem server rooted at the given directories.
// Each root must exist and be a directory; roots are resolved to absolute
// paths so later sandbox checks compare like with like.
func NewServer(roots []string, options ...Option) (*Server, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root directory is required")
	}

	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root %s is not a directory", root)
		}
		resolved = append(resolved, abs)
	}

	s := &Server{
		roots:  resolved,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("server", "filesystem"))

	return s, nil
}

// Register adds every filesystem tool to the registry.
func (s *Server) Register(reg *mcpwire.Registry) error {
	tools := []struct {
		tool    mcpwire.Tool
		handler mcpwire.ToolHandler
	}{
		{readFileTool, s.readFile},
		{readMultipleFilesTool, s.readMultipleFiles},
		{writeFileTool, s.writeFile},
		{editFileTool, s.editFile},
		{createDirectoryTool, s.createDirectory},
		{listDirectoryTool, s.listDirectory},
		{directoryTreeTool, s.directoryTree},
		{moveFileTool, s.moveFile},
		{searchFilesTool, s.searchFiles},
		{getFileInfoTool, s.getFileInfo},
		{listAllowedDirectoriesTool, s.listAllowedDirectories},
	}

	for _, t := range tools {
		if err := reg.AddTool(t.tool, t.handler); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.tool.Name, err)
		}
	}

	return nil
}
