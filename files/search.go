package files

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MaxSearchResults caps the number of results of one search.
	MaxSearchResults = 500
	// maxSearchFileSize skips large files when matching content.
	maxSearchFileSize = 1 << 20
	// maxLinePreview truncates matched lines in results.
	maxLinePreview = 300
)

// SkipDirs are not descended into by Search and the watcher.
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

// MatchType says whether a result matched the file name or its content.
type MatchType string

const (
	MatchName    MatchType = "name"
	MatchContent MatchType = "content"
)

// SearchResult is one hit of Search.
type SearchResult struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	RelPath   string    `json:"relativePath"`
	MatchType MatchType `json:"matchType"`
	Line      int       `json:"line,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Search looks for query, case-insensitively, in file names and text file
// contents under dir. Name matches for a file come before its content
// matches. At most MaxSearchResults are returned.
func (s *Service) Search(ctx context.Context, dir, query string) ([]SearchResult, error) {
	results := []SearchResult{}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return results, nil
	}
	needleBytes := []byte(needle)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != dir && SkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || hiddenEntries[d.Name()] {
			return nil
		}

		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)
		if strings.Contains(strings.ToLower(d.Name()), needle) {
			results = append(results, SearchResult{Path: path, Name: d.Name(), RelPath: rel, MatchType: MatchName})
			if len(results) >= MaxSearchResults {
				return filepath.SkipAll
			}
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxSearchFileSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || IsBinary(data) {
			return nil
		}
		if !bytes.Contains(bytes.ToLower(data), needleBytes) {
			return nil
		}

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 64*1024), maxSearchFileSize)
		for line := 1; scanner.Scan(); line++ {
			text := scanner.Text()
			if !strings.Contains(strings.ToLower(text), needle) {
				continue
			}
			results = append(results, SearchResult{
				Path:      path,
				Name:      d.Name(),
				RelPath:   rel,
				MatchType: MatchContent,
				Line:      line,
				Text:      preview(text),
			})
			if len(results) >= MaxSearchResults {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func preview(line string) string {
	line = strings.TrimSpace(line)
	if len(line) <= maxLinePreview {
		return line
	}
	cut := maxLinePreview
	// Back up to a rune boundary.
	for cut > 0 && line[cut]&0xC0 == 0x80 {
		cut--
	}
	return line[:cut] + "..."
}
