package filesystem

import mcpwire "github.com/tildeworks/go-mcpwire"

type readFileArgs struct {
	Path string `json:"path"`
}

type readMultipleFilesArgs struct {
	Paths []string `json:"paths"`
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type editFileArgs struct {
	Path   string          `json:"path"`
	Edits  []editOperation `json:"edits"`
	DryRun bool            `json:"dryRun"`
}

type editOperation struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

type createDirectoryArgs struct {
	Path string `json:"path"`
}

type listDirectoryArgs struct {
	Path string `json:"path"`
}

type directoryTreeArgs struct {
	Path string `json:"path"`
}

type moveFileArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type searchFilesArgs struct {
	Path    string   `json:"path"`
	Pattern string   `json:"pattern"`
	Exclude []string `json:"excludePatterns,omitempty"`
}

type getFileInfoArgs struct {
	Path string `json:"path"`
}

var pathOnlySchema = []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      }
    },
    "required": ["path"]
  }
`)

var readFileTool = mcpwire.Tool{
	Name: "read_file",
	Description: "Read the complete contents of a file from the file system. " +
		"Only works within allowed directories.",
	InputSchema: pathOnlySchema,
}

var readMultipleFilesTool = mcpwire.Tool{
	Name: "read_multiple_files",
	Description: "Read the contents of multiple files in one call. Failed reads " +
		"for individual files won't stop the entire operation. Only works within " +
		"allowed directories.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "paths": {
        "type": "array",
        "items": {
          "type": "string"
        }
      }
    },
    "required": ["paths"]
  }
`),
}

var writeFileTool = mcpwire.Tool{
	Name: "write_file",
	Description: "Create a new file or completely overwrite an existing file with " +
		"new content. Only works within allowed directories.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      },
      "content": {
        "type": "string"
      }
    },
    "required": ["path", "content"]
  }
`),
}

var editFileTool = mcpwire.Tool{
	Name: "edit_file",
	Description: "Make text replacements in a file. Each edit replaces an exact " +
		"text sequence with new content; a git-style diff of the changes is " +
		"returned. Set dryRun to preview without writing. Only works within " +
		"allowed directories.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      },
      "edits": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "oldText": {
              "type": "string"
            },
            "newText": {
              "type": "string"
            }
          },
          "required": ["oldText", "newText"]
        }
      },
      "dryRun": {
        "type": "boolean"
      }
    },
    "required": ["path", "edits"]
  }
`),
}

var createDirectoryTool = mcpwire.Tool{
	Name: "create_directory",
	Description: "Create a new directory, including any missing parents. Succeeds " +
		"silently if the directory already exists. Only works within allowed " +
		"directories.",
	InputSchema: pathOnlySchema,
}

var listDirectoryTool = mcpwire.Tool{
	Name: "list_directory",
	Description: "List all files and directories at a path, with [FILE] and [DIR] " +
		"prefixes. Only works within allowed directories.",
	InputSchema: pathOnlySchema,
}

var directoryTreeTool = mcpwire.Tool{
	Name: "directory_tree",
	Description: "Get a recursive tree of files and directories as JSON. Each entry " +
		"has 'name', 'type' and, for directories, 'children'. Only works within " +
		"allowed directories.",
	InputSchema: pathOnlySchema,
}

var moveFileTool = mcpwire.Tool{
	Name: "move_file",
	Description: "Move or rename a file or directory. Fails if the destination " +
		"already exists. Both paths must be within allowed directories.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "source": {
        "type": "string"
      },
      "destination": {
        "type": "string"
      }
    },
    "required": ["source", "destination"]
  }
`),
}

var searchFilesTool = mcpwire.Tool{
	Name: "search_files",
	Description: "Recursively search for files and directories whose name contains " +
		"a pattern, case-insensitively. Glob patterns in excludePatterns prune " +
		"matches. Only searches within allowed directories.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {
      "path": {
        "type": "string"
      },
      "pattern": {
        "type": "string"
      },
      "excludePatterns": {
        "type": "array",
        "items": {
          "type": "string"
        }
      }
    },
    "required": ["path", "pattern"]
  }
`),
}

var getFileInfoTool = mcpwire.Tool{
	Name: "get_file_info",
	Description: "Retrieve metadata about a file or directory: size, timestamps, " +
		"permissions and type. Only works within allowed directories.",
	InputSchema: pathOnlySchema,
}

var listAllowedDirectoriesTool = mcpwire.Tool{
	Name:        "list_allowed_directories",
	Description: "List the root directories this server is allowed to access.",
	InputSchema: []byte(`
  {
    "type": "object",
    "properties": {}
  }
`),
}
