package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	dcquery "github.com/datacommons-io/query-compiler"
	"github.com/datacommons-io/query-compiler/internal/errprompt"
	"github.com/datacommons-io/query-compiler/internal/hooks"
)

func TestDoctorValidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := validServerConfig()
	path := writeConfigFile(t, dir, cfg)

	var buf bytes.Buffer
	if err := doctor(&buf, false, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	if strings.Contains(output, "✗") {
		t.Fatalf("expected all checks to pass, but found failures in output:\n%s", output)
	}
	if !strings.Contains(output, "✓") {
		t.Fatalf("expected pass marks (✓) in output:\n%s", output)
	}
	if !strings.Contains(output, "Config file readable") {
		t.Fatalf("expected 'Config file readable' check in output:\n%s", output)
	}
	if !strings.Contains(output, "Config file is valid JSON") {
		t.Fatalf("expected 'Config file is valid JSON' check in output:\n%s", output)
	}
	if !strings.Contains(output, "connection.database is set") {
		t.Fatalf("expected 'connection.database is set' check in output:\n%s", output)
	}
	if !strings.Contains(output, "server.port is > 0") {
		t.Fatalf("expected 'server.port is > 0' check in output:\n%s", output)
	}
	if !strings.Contains(output, "All regex patterns compile") {
		t.Fatalf("expected 'All regex patterns compile' check in output:\n%s", output)
	}

	if !strings.Contains(output, "Claude Code") {
		t.Fatalf("expected Claude Code snippet in output:\n%s", output)
	}
	if !strings.Contains(output, "claude mcp add --transport http datacommons") {
		t.Fatalf("expected claude mcp add command in output:\n%s", output)
	}
	if !strings.Contains(output, "Gemini CLI") {
		t.Fatalf("expected Gemini CLI snippet in output:\n%s", output)
	}
	if !strings.Contains(output, "Cursor") {
		t.Fatalf("expected Cursor snippet in output:\n%s", output)
	}
	if !strings.Contains(output, "Copilot CLI") {
		t.Fatalf("expected Copilot CLI snippet in output:\n%s", output)
	}
}

func TestDoctorMissingConfig(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := doctor(&buf, false, "/nonexistent/path/config.json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "✗") {
		t.Fatalf("expected failure mark (✗) for missing config:\n%s", output)
	}
	if strings.Contains(output, "Agent Connection Snippets") {
		t.Fatalf("expected no agent snippets when config is missing:\n%s", output)
	}
}

func TestDoctorInvalidJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{invalid json}"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	var buf bytes.Buffer
	if err := doctor(&buf, false, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "✗") {
		t.Fatalf("expected failure mark (✗) for invalid JSON:\n%s", output)
	}
	if strings.Contains(output, "Agent Connection Snippets") {
		t.Fatalf("expected no agent snippets when JSON is invalid:\n%s", output)
	}
}

func TestDoctorMissingDatabase(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := validServerConfig()
	cfg.Connection.Database = ""
	path := writeConfigFile(t, dir, cfg)

	var buf bytes.Buffer
	if err := doctor(&buf, false, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "✗") {
		t.Fatalf("expected failure mark (✗) for missing database:\n%s", output)
	}
	if !strings.Contains(output, "connection.database is set") {
		t.Fatalf("expected 'connection.database is set' check in output:\n%s", output)
	}
	if !strings.Contains(output, "Fix the issues above") {
		t.Fatalf("expected 'Fix the issues above' message in output:\n%s", output)
	}
}

func TestDoctorInvalidRegex(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := validServerConfig()
	cfg.ErrorPrompts = []errprompt.Rule{{Pattern: "[invalid(regex", Message: "test"}}
	path := writeConfigFile(t, dir, cfg)

	var buf bytes.Buffer
	if err := doctor(&buf, false, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "✗") {
		t.Fatalf("expected failure mark (✗) for invalid regex:\n%s", output)
	}
	if !strings.Contains(output, "error_prompts[0] regex compiles") {
		t.Fatalf("expected 'error_prompts[0] regex compiles' check in output:\n%s", output)
	}
}

func TestDoctorPortInSnippets(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := validServerConfig()
	cfg.Server.Port = 9999
	path := writeConfigFile(t, dir, cfg)

	var buf bytes.Buffer
	if err := doctor(&buf, false, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	expectedURL := "http://localhost:9999/mcp"
	count := strings.Count(output, expectedURL)
	// 5 occurrences: Claude Code command + Claude Code .mcp.json + Copilot CLI
	// + Gemini CLI + Cursor.
	if count != 5 {
		t.Fatalf("expected %s to appear 5 times in agent snippets, found %d times:\n%s", expectedURL, count, output)
	}
}

func TestDoctorMissingHealthCheckPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := validServerConfig()
	cfg.Server.HealthCheckEnabled = true
	cfg.Server.HealthCheckPath = ""
	path := writeConfigFile(t, dir, cfg)

	var buf bytes.Buffer
	if err := doctor(&buf, false, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "health_check_path is set") {
		t.Fatalf("expected 'health_check_path is set' check in output:\n%s", output)
	}
	if !strings.Contains(output, "✗") {
		t.Fatalf("expected failure mark (✗) for missing health_check_path:\n%s", output)
	}
}

func TestDoctorInvalidAuditHookRegex(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := validServerConfig()
	cfg.AuditHooks.BeforeExecute = []hooks.Entry{{Pattern: "[invalid(regex", Command: "/bin/true"}}
	path := writeConfigFile(t, dir, cfg)

	var buf bytes.Buffer
	if err := doctor(&buf, false, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "✗") {
		t.Fatalf("expected failure mark (✗) for invalid audit hook regex:\n%s", output)
	}
	if !strings.Contains(output, "audit_hooks.before_execute[0] regex compiles") {
		t.Fatalf("expected 'audit_hooks.before_execute[0] regex compiles' check in output:\n%s", output)
	}
}
