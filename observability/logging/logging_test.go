package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupEmitsStructuredKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("factoryd", "test", WithOutput(&buf))
	logger.Info("minted", slog.String("component", "factory"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env", "component"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing key %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" || line["message"] != "minted" {
		t.Fatalf("unexpected line: %v", line)
	}
}

func TestSetupTeesIntoFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "factoryd.log")
	logger := Setup("factoryd", "", WithOutput(&buf), WithFile(FileConfig{Path: path}))
	logger.Warn("cap reached")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "cap reached") {
		t.Fatalf("file missing log line: %s", data)
	}
	if !strings.Contains(buf.String(), "cap reached") {
		t.Fatalf("stdout sink missing log line")
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("jwt_secret", "s3cr3t"); got.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %v", got.Value)
	}
	if got := MaskField("component", "factory"); got.Value.String() != "factory" {
		t.Fatalf("allowlisted key should pass through, got %v", got.Value)
	}
}

func TestMaskDSN(t *testing.T) {
	tests := map[string]string{
		"postgres://factory:hunter2@db:5432/audit?sslmode=disable": "postgres://factory:%5BREDACTED%5D@db:5432/audit?sslmode=disable",
		"host=db user=factory password=hunter2 dbname=audit":        "host=db user=factory password=[REDACTED] dbname=audit",
		"./factory-data/audit.sqlite":                               "./factory-data/audit.sqlite",
	}
	for input, want := range tests {
		if got := MaskDSN(input); got != want {
			t.Fatalf("MaskDSN(%q) = %q, want %q", input, got, want)
		}
	}
}
