package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scene2video.log")

	log, closeLog, err := New(false, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("probe", zap.String("file", "scene_1.mp3"))
	log.Info("render done", zap.Int("scenes", 2))
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("file has %d lines, want debug and info:\n%s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "render done" || entry["scenes"] != float64(2) {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewLevels(t *testing.T) {
	log, closeLog, err := New(false, "")
	if err != nil {
		t.Fatal(err)
	}
	defer closeLog()
	if log.Core().Enabled(zap.DebugLevel) {
		t.Error("debug enabled without verbose")
	}

	verbose, closeVerbose, err := New(true, "")
	if err != nil {
		t.Fatal(err)
	}
	defer closeVerbose()
	if !verbose.Core().Enabled(zap.DebugLevel) {
		t.Error("debug disabled with verbose")
	}
}
