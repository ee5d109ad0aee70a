package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-phiguard/internal/audit"
	"github.com/miradorstack/mirador-phiguard/internal/config"
)

func runScan(t *testing.T, stdin string, args ...string) scanOutput {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetArgs(append([]string{"scan"}, args...))
	if err := root.Execute(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	var res scanOutput
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	return res
}

func TestScanStdin(t *testing.T) {
	res := runScan(t, "Patient John Smith, SSN 123-45-6789, reports improvement.", "--correlation-id", "corr-cli")
	if res.Text != "Patient [NAME], SSN [GOVERNMENT_ID], reports improvement." {
		t.Fatalf("unexpected cleaned text %q", res.Text)
	}
	if res.CorrelationID != "corr-cli" || res.Redactions != 2 || len(res.Events) != 2 {
		t.Fatalf("unexpected output: %+v", res)
	}
	for _, ev := range res.Events {
		if ev.CorrelationID != "corr-cli" {
			t.Fatalf("event missing correlation id: %+v", ev)
		}
	}
}

func TestScanFileWithoutPHI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("no identifiers here"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := runScan(t, "", path)
	if res.Text != "no identifiers here" || res.Redactions != 0 || res.Events == nil {
		t.Fatalf("unexpected output: %+v", res)
	}
	if res.CorrelationID == "" {
		t.Fatalf("expected generated correlation id")
	}
}

func TestScanRejectsUnknownSensitivity(t *testing.T) {
	root := newRootCommand()
	root.SetIn(strings.NewReader("text"))
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"scan", "--sensitivity", "paranoid"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error for unknown sensitivity")
	}
}

func TestNewDownstream(t *testing.T) {
	fn, err := newDownstream(config.DownstreamConfig{Provider: "http", BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil)
	if err != nil || fn == nil {
		t.Fatalf("expected http downstream, got %v", err)
	}
	if _, err := newDownstream(config.DownstreamConfig{Provider: "openai"}, nil); err == nil {
		t.Fatalf("expected error without api key")
	}
	fn, err = newDownstream(config.DownstreamConfig{Provider: "openai", APIKey: "sk-test"}, nil)
	if err != nil || fn == nil {
		t.Fatalf("expected openai downstream, got %v", err)
	}
}

func TestNewAuditStore(t *testing.T) {
	store, err := newAuditStore(context.Background(), config.AuditConfig{Backend: "memory", MaxCorrelations: 4})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := store.(*audit.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	if _, err := newAuditStore(context.Background(), config.AuditConfig{Backend: "redis"}); err == nil {
		t.Fatalf("expected error without redis url")
	}
}
