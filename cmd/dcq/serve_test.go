package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	dcquery "github.com/datacommons-io/query-compiler"
)

func validServerConfig() dcquery.ServerConfig {
	cfg := dcquery.DefaultServerConfig()
	cfg.Connection.Database = "testdb"
	cfg.Connection.Hostname = "localhost"
	cfg.Connection.Port = 5432
	return cfg
}

func writeConfigFile(t *testing.T, dir string, config dcquery.ServerConfig) string {
	t.Helper()
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// Note: tests using t.Setenv() cannot use t.Parallel() in Go.

func TestLoadConfigValid(t *testing.T) {
	dir := t.TempDir()
	cfg := validServerConfig()
	path := writeConfigFile(t, dir, cfg)

	t.Setenv("DCQ_CONFIG_PATH", path)

	loaded, err := loadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", loaded.Server.Port)
	}
	if loaded.Query.DefaultTimeoutSeconds != 30 {
		t.Fatalf("expected default_timeout_seconds 30, got %d", loaded.Query.DefaultTimeoutSeconds)
	}
	if loaded.Connection.Hostname != "localhost" {
		t.Fatalf("expected hostname 'localhost', got %q", loaded.Connection.Hostname)
	}
	if loaded.Connection.Database != "testdb" {
		t.Fatalf("expected database 'testdb', got %q", loaded.Connection.Database)
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	cfg := validServerConfig()
	cfg.Server.Port = 9999
	path := writeConfigFile(t, dir, cfg)

	t.Setenv("DCQ_CONFIG_PATH", path)

	loaded, err := loadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Server.Port != 9999 {
		t.Fatalf("expected port 9999 from env path, got %d", loaded.Server.Port)
	}
}

// A missing config file falls back to defaults rather than erroring, since
// the binary must still start on a bare checkout before 'dcq configure' has
// ever been run.
func TestLoadConfigMissingFallsBackToDefaults(t *testing.T) {
	t.Setenv("DCQ_CONFIG_PATH", "/nonexistent/path/config.json")

	loaded, err := loadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Server.Port != dcquery.DefaultServerConfig().Server.Port {
		t.Fatalf("expected default port, got %d", loaded.Server.Port)
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{invalid json}"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	t.Setenv("DCQ_CONFIG_PATH", path)

	_, err := loadServerConfig()
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DB_USERNAME", "alice")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOSTNAME", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_DATABASE", "prod")
	t.Setenv("DOCKER_DEPLOYED", "true")

	conn := dcquery.ConnectionConfig{}
	applyEnvOverrides(&conn)

	if conn.Username != "alice" || conn.Password != "secret" {
		t.Fatalf("expected username/password to be overridden, got %+v", conn)
	}
	if conn.Hostname != "db.internal" {
		t.Fatalf("expected hostname override, got %q", conn.Hostname)
	}
	if conn.Port != 5433 {
		t.Fatalf("expected port override 5433, got %d", conn.Port)
	}
	if conn.Database != "prod" {
		t.Fatalf("expected database override 'prod', got %q", conn.Database)
	}
	if !conn.DockerDeployed {
		t.Fatal("expected DockerDeployed to be true")
	}
}

func TestApplyEnvOverrides_DefaultsHostnameByDockerDeployed(t *testing.T) {
	t.Setenv("DB_USERNAME", "")
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("DB_HOSTNAME", "")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_DATABASE", "")
	t.Setenv("DOCKER_DEPLOYED", "true")

	conn := dcquery.ConnectionConfig{}
	applyEnvOverrides(&conn)
	if conn.Hostname != "postgres" {
		t.Fatalf("expected hostname 'postgres' when docker-deployed, got %q", conn.Hostname)
	}

	t.Setenv("DOCKER_DEPLOYED", "")
	conn2 := dcquery.ConnectionConfig{}
	applyEnvOverrides(&conn2)
	if conn2.Hostname != "localhost" {
		t.Fatalf("expected hostname 'localhost' when not docker-deployed, got %q", conn2.Hostname)
	}
}

func TestBuildConnString(t *testing.T) {
	conn := dcquery.ConnectionConfig{
		Hostname: "localhost",
		Port:     5432,
		Database: "testdb",
		Username: "alice",
		Password: "secret",
	}
	got := buildConnString(conn)
	want := "host=localhost port=5432 dbname=testdb user=alice password=secret"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildConnString_OmitsEmptyFields(t *testing.T) {
	conn := dcquery.ConnectionConfig{Hostname: "localhost", Database: "testdb"}
	got := buildConnString(conn)
	want := "host=localhost dbname=testdb"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
