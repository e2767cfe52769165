package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/broomy/broomy-core/paths"
)

// setupTestLogger creates a temp log file and initializes the logger with it.
func setupTestLogger(t *testing.T) string {
	t.Helper()
	Reset()
	t.Cleanup(Reset)

	logPath := filepath.Join(t.TempDir(), "test.log")
	if err := Init(logPath); err != nil {
		t.Fatalf("Failed to init logger: %v", err)
	}
	return logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestGet_StructuredLogging(t *testing.T) {
	logPath := setupTestLogger(t)

	Get().Info("session created", "branch", "feature", "files", 3)

	content := readLog(t, logPath)
	for _, want := range []string{"session created", "branch=feature", "files=3"} {
		if !strings.Contains(content, want) {
			t.Errorf("log should contain %q, got:\n%s", want, content)
		}
	}
	if Path() != logPath {
		t.Errorf("Path() = %q, want %q", Path(), logPath)
	}
}

func TestReset(t *testing.T) {
	tmpDir := t.TempDir()
	logPath1 := filepath.Join(tmpDir, "log1.log")
	logPath2 := filepath.Join(tmpDir, "log2.log")
	Reset()
	defer Reset()

	if err := Init(logPath1); err != nil {
		t.Fatalf("Failed to init logger: %v", err)
	}
	Get().Info("message to log1")

	Reset()
	if err := Init(logPath2); err != nil {
		t.Fatalf("Failed to reinit logger: %v", err)
	}
	Get().Info("message to log2")

	content1 := readLog(t, logPath1)
	content2 := readLog(t, logPath2)
	if !strings.Contains(content1, "message to log1") || strings.Contains(content1, "message to log2") {
		t.Errorf("log1 has wrong content:\n%s", content1)
	}
	if !strings.Contains(content2, "message to log2") || strings.Contains(content2, "message to log1") {
		t.Errorf("log2 has wrong content:\n%s", content2)
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	logPath := setupTestLogger(t)

	Get().Debug("debug-filtered")
	Get().Info("info-visible")

	SetDebug(true)
	Get().Debug("debug-visible")
	SetDebug(false)

	content := readLog(t, logPath)
	if strings.Contains(content, "debug-filtered") {
		t.Error("Debug message should be filtered at Info level")
	}
	if !strings.Contains(content, "info-visible") {
		t.Error("Info message should be visible at Info level")
	}
	if !strings.Contains(content, "debug-visible") || !strings.Contains(content, "level=DEBUG") {
		t.Error("Debug message should be visible after SetDebug(true)")
	}
}

func TestWithComponentAndSession(t *testing.T) {
	logPath := setupTestLogger(t)

	WithComponent("git").Info("pushed branch", "branch", "feature")
	WithSession("sess-123").With("component", "poller").Info("status refreshed")

	content := readLog(t, logPath)
	for _, want := range []string{"component=git", "branch=feature", "sessionID=sess-123", "component=poller"} {
		if !strings.Contains(content, want) {
			t.Errorf("log should contain %q", want)
		}
	}
}

func TestWithMirror(t *testing.T) {
	Reset()
	defer Reset()

	var mirror bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "mirror.log")
	if err := Init(logPath, WithMirror(&mirror)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Get().Info("to both")

	if !strings.Contains(mirror.String(), "to both") {
		t.Errorf("mirror should receive log lines, got %q", mirror.String())
	}
	if !strings.Contains(readLog(t, logPath), "to both") {
		t.Error("file should receive log lines")
	}
}

func TestEnsureInit_DefaultPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	Reset()
	defer func() {
		Reset()
		paths.Reset()
	}()

	Get().Info("default path test")

	want, _ := DefaultLogPath()
	if Path() != want {
		t.Errorf("Path() = %q, want %q", Path(), want)
	}
	if !strings.Contains(readLog(t, want), "default path test") {
		t.Error("default log should contain the message")
	}
}

func TestConcurrent_InitAndGet(t *testing.T) {
	for range 5 {
		Reset()
		logPath := filepath.Join(t.TempDir(), "concurrent.log")
		done := make(chan bool, 15)

		for range 5 {
			go func() {
				_ = Init(logPath)
				done <- true
			}()
			go func() {
				WithSession("sess").Info("concurrent session")
				done <- true
			}()
			go func() {
				WithComponent("comp").Info("concurrent component")
				done <- true
			}()
		}
		for range 15 {
			<-done
		}
	}
	Reset()
}

func TestClearLogs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	Reset()
	defer paths.Reset()

	mainLog, _ := DefaultLogPath()
	ptyLog, _ := PTYLogPath("abc")
	if err := os.MkdirAll(filepath.Dir(mainLog), 0755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{mainLog, ptyLog} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := ClearLogs()
	if err != nil {
		t.Fatalf("ClearLogs: %v", err)
	}
	if n != 2 {
		t.Errorf("ClearLogs removed %d files, want 2", n)
	}
	if !strings.HasSuffix(ptyLog, "pty-abc.log") {
		t.Errorf("PTYLogPath = %q", ptyLog)
	}
}
