package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildAuditLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	audit, err := buildAuditLogger(AuditConfig{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("build audit logger: %v", err)
	}
	audit.Info("mint_requested", slog.String("tool", "mint_certificate"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(content), `"tool":"mint_certificate"`) {
		t.Fatalf("unexpected audit content: %s", content)
	}
}

func TestBuildAuditLoggerRequiresPath(t *testing.T) {
	if _, err := buildAuditLogger(AuditConfig{Enabled: true}); err == nil {
		t.Fatal("expected error for empty audit path")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOpenOutputsWritesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "certd.log")
	w, err := openOutputs([]string{path, "stderr"})
	if err != nil {
		t.Fatalf("open outputs: %v", err)
	}
	slog.New(slog.NewJSONHandler(w, nil)).Info("service_started", slog.String("addr", ":5000"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), `"addr":":5000"`) {
		t.Fatalf("unexpected log content: %s", content)
	}
}
