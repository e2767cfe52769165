// Package tsproject extracts the TypeScript project context of a session
// directory: the effective compilerOptions after following the tsconfig
// "extends" chain, and the project's source files for the editor's language
// service.
package tsproject

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/broomy/broomy-core/logger"
)

const (
	// MaxExtendsDepth bounds how many "extends" hops are followed, which also
	// stops self-referential chains.
	MaxExtendsDepth = 5
	// MaxFileSize is the largest source file included in a project context.
	MaxFileSize = 1 << 20
	// MaxFiles bounds the number of files in one project context.
	MaxFiles = 2000
)

// SkipDirs are never descended into when collecting files.
var SkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	".next":        true,
	".cache":       true,
	"__pycache__":  true,
	".venv":        true,
}

// SourceExtensions are the file extensions collected into a project context.
var SourceExtensions = map[string]bool{
	".ts":  true,
	".tsx": true,
	".js":  true,
	".jsx": true,
}

// SourceFile is one collected file, with Path relative to the project root.
type SourceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ProjectContext is the result of GetProjectContext.
type ProjectContext struct {
	ProjectRoot     string         `json:"projectRoot"`
	CompilerOptions map[string]any `json:"compilerOptions"`
	Files           []SourceFile   `json:"files"`
	Truncated       bool           `json:"truncated,omitempty"` // MaxFiles was reached
}

// GetProjectContext reads root/tsconfig.json (if any) with its extends chain
// and collects the project's source files.
func GetProjectContext(root string) (*ProjectContext, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}

	ctx := &ProjectContext{ProjectRoot: root, CompilerOptions: map[string]any{}}

	tsconfig := filepath.Join(root, "tsconfig.json")
	if _, err := os.Stat(tsconfig); err == nil {
		opts, err := ResolveCompilerOptions(tsconfig)
		if err != nil {
			// A broken tsconfig should not hide the files from the editor.
			logger.WithComponent("tsproject").Warn("failed to resolve tsconfig", "path", tsconfig, "error", err)
		} else {
			ctx.CompilerOptions = opts
		}
	}

	files, truncated, err := CollectFiles(root, MaxFiles)
	if err != nil {
		return nil, err
	}
	ctx.Files = files
	ctx.Truncated = truncated
	return ctx, nil
}

type tsconfigFile struct {
	Extends         json.RawMessage `json:"extends"`
	CompilerOptions map[string]any  `json:"compilerOptions"`
}

// ResolveCompilerOptions returns the compilerOptions of the tsconfig at path
// merged over everything it extends. Child options override parent options
// key by key.
func ResolveCompilerOptions(path string) (map[string]any, error) {
	return resolve(path, 0)
}

func resolve(path string, depth int) (map[string]any, error) {
	cfg, err := readTSConfig(path)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if depth < MaxExtendsDepth {
		for _, spec := range extendsList(cfg.Extends) {
			parentPath, ok := resolveExtends(filepath.Dir(path), spec)
			if !ok {
				logger.WithComponent("tsproject").Debug("extends target not found", "from", path, "extends", spec)
				continue
			}
			parent, err := resolve(parentPath, depth+1)
			if err != nil {
				logger.WithComponent("tsproject").Debug("failed to read extended tsconfig", "path", parentPath, "error", err)
				continue
			}
			for k, v := range parent {
				merged[k] = v
			}
		}
	}

	for k, v := range cfg.CompilerOptions {
		merged[k] = v
	}
	return merged, nil
}

func readTSConfig(path string) (*tsconfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg tsconfigFile
	if err := json.Unmarshal(StripJSONC(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// extendsList accepts both the string and the array form of "extends".
func extendsList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

// resolveExtends locates an extends target. Relative and absolute specs are
// resolved against fromDir; bare specs are looked up in node_modules
// directories from fromDir upwards. A missing ".json" suffix is tried too.
func resolveExtends(fromDir, spec string) (string, bool) {
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || spec == "." || spec == ".." || filepath.IsAbs(spec) {
		p := spec
		if !filepath.IsAbs(p) {
			p = filepath.Join(fromDir, spec)
		}
		return firstFile(p, p+".json")
	}

	for dir := fromDir; ; {
		base := filepath.Join(dir, "node_modules", filepath.FromSlash(spec))
		if p, ok := firstFile(base, base+".json", filepath.Join(base, "tsconfig.json")); ok {
			return p, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func firstFile(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

// CollectFiles walks root and returns the source files it contains, skipping
// SkipDirs, unknown extensions and files over MaxFileSize. At most max files
// are returned; the second result reports whether more were available.
func CollectFiles(root string, max int) ([]SourceFile, bool, error) {
	files := []SourceFile{}
	truncated := false

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != root && SkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !SourceExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > MaxFileSize {
			return nil
		}
		if len(files) >= max {
			truncated = true
			return filepath.SkipAll
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		files = append(files, SourceFile{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return files, truncated, nil
}
