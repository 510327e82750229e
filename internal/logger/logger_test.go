package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "json")
	defer InitWithWriter(os.Stdout, "INFO", "json")

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("expected debug/info to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("expected warn/error in output, got: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")
	defer InitWithWriter(os.Stdout, "INFO", "json")

	Info("structured", "job_id", "abc", "bytes", 42)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if record["msg"] != "structured" {
		t.Errorf("expected msg=structured, got %v", record["msg"])
	}
	if record["job_id"] != "abc" {
		t.Errorf("expected job_id=abc, got %v", record["job_id"])
	}
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")
	defer InitWithWriter(os.Stdout, "INFO", "json")

	SetLevel("BOGUS")
	Info("still here")
	if !strings.Contains(buf.String(), "still here") {
		t.Error("invalid level should not change filtering")
	}
}

func TestRotatingWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telarch.log")

	w, err := newRotatingWriter(path, 64, 2)
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}

	line := strings.Repeat("x", 40) + "\n"
	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("current log file missing: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("first backup missing: %v", err)
	}
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Error("backup beyond configured count should not exist")
	}
}
