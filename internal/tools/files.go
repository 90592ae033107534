package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxReadBytes = 256 << 10

// protectedNames are workspace entries holding gateway state or secrets.
// The state database stores every profile credential.
var protectedNames = map[string]bool{
	".toolgate":    true,
	".env":         true,
	"toolgate.yml": true,
}

func realRoot(root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}
	return absRoot, nil
}

// resolveInRoot joins rel onto root, follows symlinks and rejects paths
// that escape root or touch a protected entry.
func resolveInRoot(root, rel string) (string, error) {
	absRoot, err := realRoot(root)
	if err != nil {
		return "", err
	}
	target := rel
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, rel)
	}
	target = filepath.Clean(target)
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		target = resolved
	} else if !os.IsNotExist(err) {
		return "", err
	}
	inside, err := filepath.Rel(absRoot, target)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", rel)
	}
	first := strings.SplitN(inside, string(filepath.Separator), 2)[0]
	if protectedNames[strings.ToLower(first)] {
		return "", fmt.Errorf("path %q is not accessible", rel)
	}
	return target, nil
}

// ReadFile reads a text file under Root.
type ReadFile struct {
	Root string
}

func (ReadFile) Definition() Definition {
	return Definition{
		Name:        "read_file",
		Description: "Read the contents of a file in the workspace",
		Category:    "File System",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"path": {Type: "string", Description: "File path relative to the workspace root"},
			},
			Required: []string{"path"},
		},
	}
}

func (t ReadFile) Execute(_ context.Context, call Call) (Response, error) {
	rel, err := RequireString(call.Args, "path")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	path, err := resolveInRoot(t.Root, rel)
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return ErrorResult("Error reading file: %v", err), nil
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return ErrorResult("Error reading file: %v", err), nil
	}
	if len(data) > maxReadBytes {
		return TextResult(string(data[:maxReadBytes]) + "\n... [file truncated]"), nil
	}
	return TextResult(string(data)), nil
}

// ListDirectory lists entries of a directory under Root.
type ListDirectory struct {
	Root string
}

func (ListDirectory) Definition() Definition {
	return Definition{
		Name:        "list_directory",
		Description: "List files and directories in the workspace",
		Category:    "File System",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"path": {Type: "string", Description: "Directory relative to the workspace root (default .)"},
			},
		},
	}
}

func (t ListDirectory) Execute(_ context.Context, call Call) (Response, error) {
	rel, _ := String(call.Args, "path")
	if rel == "" {
		rel = "."
	}
	path, err := resolveInRoot(t.Root, rel)
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return ErrorResult("Error listing directory: %v", err), nil
	}
	absRoot, _ := realRoot(t.Root)
	atRoot := path == absRoot
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if atRoot && protectedNames[strings.ToLower(name)] {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)
	return TextResult(strings.Join(lines, "\n")), nil
}
