// Package files implements the "read"/"write"/"edit" tools: allowlisted
// filesystem access, grounded on original_source/tools/filesystem.py.
package files

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nicolasforstinger/lucyd-sub001/internal/tools"
)

const maxLineLength = 2000

// Checker validates a resolved path against the configured allowlist.
type Checker struct {
	Allowed []string
}

// Check resolves path and reports an error message if it falls outside
// the allowlist, or "" if the path is permitted.
func (c *Checker) Check(path string) string {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Sprintf("Error: Invalid path: %s", path)
	}
	if len(c.Allowed) == 0 {
		return "Error: No allowed paths configured — filesystem access denied"
	}
	for _, prefix := range c.Allowed {
		if resolved == prefix || strings.HasPrefix(resolved, prefix+string(os.PathSeparator)) {
			return ""
		}
	}
	return fmt.Sprintf("Error: Path not allowed: %s (allowed prefixes: %s)", path, strings.Join(c.Allowed, ", "))
}

func resolvePath(path string) (string, error) {
	expanded := path
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		expanded = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(expanded)
}

// Register adds the "read"/"write"/"edit" tools to reg, scoped to allowed.
func Register(reg *tools.Registry, allowed []string) {
	c := &Checker{Allowed: allowed}

	reg.Register("read",
		"Read a file. Returns numbered lines. Use offset/limit for large files.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Absolute path to the file"},
				"offset": {"type": "integer", "description": "Line offset (0-based)", "default": 0},
				"limit": {"type": "integer", "description": "Max lines to read", "default": 2000}
			},
			"required": ["file_path"]
		}`),
		c.handleRead)

	reg.Register("write",
		"Write content to a file. Creates directories as needed. Overwrites existing files.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Absolute path to the file"},
				"content": {"type": "string", "description": "Content to write"}
			},
			"required": ["file_path", "content"]
		}`),
		c.handleWrite)

	reg.Register("edit",
		"Edit a file by exact string replacement. old_string must be unique unless replace_all is true.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"file_path": {"type": "string", "description": "Absolute path to the file"},
				"old_string": {"type": "string", "description": "Exact text to find"},
				"new_string": {"type": "string", "description": "Replacement text"},
				"replace_all": {"type": "boolean", "description": "Replace all occurrences", "default": false}
			},
			"required": ["file_path", "old_string", "new_string"]
		}`),
		c.handleEdit)
}
