// Package files implements the explorer and file-viewer filesystem
// operations: directory listings, guarded reads, writes, search and
// recursive change watching.
package files

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/broomy/broomy-core/logger"
)

// DefaultMaxFileSize is used when a Service is created with a zero limit.
const DefaultMaxFileSize int64 = 5 << 20

var (
	// ErrTooLarge is returned when a file exceeds the configured read limit.
	ErrTooLarge = errors.New("file too large")
	// ErrBinary is returned by ReadFile for non-text content.
	ErrBinary = errors.New("file appears to be binary")
)

// hiddenEntries are never listed by ReadDir.
var hiddenEntries = map[string]bool{
	".git":      true,
	".DS_Store": true,
}

// Entry is one item of a directory listing.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
	Size        int64  `json:"size,omitempty"`
}

// Service performs filesystem operations with a read size limit.
type Service struct {
	maxFileSize int64
}

// NewService creates a Service. maxFileSize <= 0 selects DefaultMaxFileSize.
func NewService(maxFileSize int64) *Service {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Service{maxFileSize: maxFileSize}
}

// MaxFileSize returns the read limit in bytes.
func (s *Service) MaxFileSize() int64 {
	return s.maxFileSize
}

// ReadDir lists dir with directories first, then files, each sorted by name.
func (s *Service) ReadDir(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if hiddenEntries[de.Name()] {
			continue
		}
		path := filepath.Join(dir, de.Name())
		isDir := de.IsDir()
		var size int64
		if de.Type()&fs.ModeSymlink != 0 {
			// Follow symlinks so linked directories can be expanded.
			if info, err := os.Stat(path); err == nil {
				isDir = info.IsDir()
				size = info.Size()
			}
		} else if !isDir {
			if info, err := de.Info(); err == nil {
				size = info.Size()
			}
		}
		entries = append(entries, Entry{Name: de.Name(), Path: path, IsDirectory: isDir, Size: size})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDirectory != entries[j].IsDirectory {
			return entries[i].IsDirectory
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func (s *Service) readLimited(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > s.maxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, path, info.Size(), s.maxFileSize)
	}
	return os.ReadFile(path)
}

// ReadFile returns the text content of path.
func (s *Service) ReadFile(path string) (string, error) {
	data, err := s.readLimited(path)
	if err != nil {
		return "", err
	}
	if IsBinary(data) {
		return "", fmt.Errorf("%w: %s", ErrBinary, path)
	}
	return string(data), nil
}

// ReadFileBase64 returns the content of path base64-encoded, for images and
// other binary previews.
func (s *Service) ReadFileBase64(path string) (string, error) {
	data, err := s.readLimited(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// IsBinary reports whether data looks like binary content: a NUL byte in
// the first 8KB or invalid UTF-8.
func IsBinary(data []byte) bool {
	head := data
	cut := len(head) > 8192
	if cut {
		head = head[:8192]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	// Drop a rune split by the cut before validating.
	for i := 0; cut && i < utf8.UTFMax-1 && !utf8.Valid(head); i++ {
		head = head[:len(head)-1]
	}
	return !utf8.Valid(head)
}

// WriteFile writes content to path, creating parent directories.
func (s *Service) WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return os.WriteFile(path, []byte(content), perm)
}

// AppendFile appends content to path, creating it when missing.
func (s *Service) AppendFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Exists reports whether path exists.
func (s *Service) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Mkdir creates path and any missing parents.
func (s *Service) Mkdir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// Remove deletes path recursively. Removing a missing path is not an error.
func (s *Service) Remove(path string) error {
	if filepath.Clean(path) == filepath.Dir(filepath.Clean(path)) {
		return fmt.Errorf("refusing to remove filesystem root %s", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	logger.WithComponent("files").Info("removed path", "path", path)
	return nil
}

// CreateFile creates an empty file, failing when path already exists.
func (s *Service) CreateFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Rename moves oldPath to newPath, refusing to overwrite an existing target.
func (s *Service) Rename(oldPath, newPath string) error {
	if _, err := os.Lstat(newPath); err == nil {
		return fmt.Errorf("%s: %w", newPath, fs.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return err
	}
	return os.Rename(oldPath, newPath)
}
