package configure

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	dcquery "github.com/datacommons-io/query-compiler"
	"github.com/datacommons-io/query-compiler/internal/errprompt"
	"github.com/datacommons-io/query-compiler/internal/hooks"
	"github.com/datacommons-io/query-compiler/internal/sanitize"
)

// Run runs the interactive configuration wizard.
// Reads existing config (if any), prompts for each field,
// writes updated config to the given path.
func Run(configPath string) error {
	return run(configPath, os.Stdin, os.Stderr)
}

func run(configPath string, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	cfg, isNew := loadExisting(configPath)
	if isNew {
		applyDefaults(cfg)
	}

	p := &prompter{
		scanner: scanner,
		output:  output,
		isNew:   isNew,
	}

	fmt.Fprintf(output, "dcq configuration wizard\n")
	fmt.Fprintf(output, "Config file: %s\n\n", configPath)

	// Connection
	fmt.Fprintf(output, "=== Connection (DB_* environment variables override these) ===\n")
	cfg.Connection.Hostname = p.promptString("connection.hostname", cfg.Connection.Hostname)
	cfg.Connection.Port = p.promptPositiveInt("connection.port", cfg.Connection.Port, "must be > 0")
	cfg.Connection.Database = p.promptStringWithHint("connection.database", cfg.Connection.Database, "required")
	cfg.Connection.DockerDeployed = p.promptBool("connection.docker_deployed", cfg.Connection.DockerDeployed)

	// Server
	fmt.Fprintf(output, "\n=== Server ===\n")
	cfg.Server.Port = p.promptPositiveInt("server.port", cfg.Server.Port, "must be > 0")
	cfg.Server.HealthCheckEnabled = p.promptBool("server.health_check_enabled", cfg.Server.HealthCheckEnabled)
	cfg.Server.HealthCheckPath = p.promptStringWithHint("server.health_check_path", cfg.Server.HealthCheckPath, "e.g. /healthz, required when health_check_enabled is true")

	// Logging
	fmt.Fprintf(output, "\n=== Logging ===\n")
	cfg.Logging.Level = p.promptEnum("logging.level", cfg.Logging.Level, logLevels)
	cfg.Logging.Format = p.promptEnum("logging.format", cfg.Logging.Format, logFormats)
	cfg.Logging.Output = p.promptStringWithHint("logging.output", cfg.Logging.Output, "stdout, stderr, or file path")

	// Pool
	fmt.Fprintf(output, "\n=== Pool ===\n")
	cfg.Pool.MaxConns = p.promptPositiveInt("pool.max_conns", cfg.Pool.MaxConns, "must be > 0")
	cfg.Pool.MinConns = p.promptNonNegativeInt("pool.min_conns", cfg.Pool.MinConns, "must be >= 0")
	cfg.Pool.MaxConnLifetime = p.promptDuration("pool.max_conn_lifetime", cfg.Pool.MaxConnLifetime, "Go duration: e.g. 1h, 30m, 1h30m")
	cfg.Pool.MaxConnIdleTime = p.promptDuration("pool.max_conn_idle_time", cfg.Pool.MaxConnIdleTime, "Go duration: e.g. 1h, 30m, 1h30m")
	cfg.Pool.HealthCheckPeriod = p.promptDuration("pool.health_check_period", cfg.Pool.HealthCheckPeriod, "Go duration: e.g. 1m, 30s, 1m30s")

	// Query
	fmt.Fprintf(output, "\n=== Query ===\n")
	cfg.Query.DefaultTimeoutSeconds = p.promptPositiveInt("query.default_timeout_seconds", cfg.Query.DefaultTimeoutSeconds, "seconds, must be > 0")
	cfg.Query.DataTimeoutSeconds = p.promptPositiveInt("query.data_timeout_seconds", cfg.Query.DataTimeoutSeconds, "seconds, must be > 0")
	cfg.Query.SummaryTimeoutSeconds = p.promptPositiveInt("query.summary_timeout_seconds", cfg.Query.SummaryTimeoutSeconds, "seconds, must be > 0")
	cfg.Query.ColumnValuesTimeoutSeconds = p.promptPositiveInt("query.column_values_timeout_seconds", cfg.Query.ColumnValuesTimeoutSeconds, "seconds, must be > 0")
	cfg.Query.MaxResultLength = p.promptPositiveInt("query.max_result_length", cfg.Query.MaxResultLength, "characters, must be > 0")
	cfg.Query.MaxConcurrentQueries = p.promptPositiveInt("query.max_concurrent_queries", cfg.Query.MaxConcurrentQueries, "must be > 0")

	// General
	fmt.Fprintf(output, "\n=== General ===\n")
	cfg.Timezone = p.promptTimezone(cfg.Timezone)

	// Array fields
	fmt.Fprintf(output, "\n=== Error Prompts ===\n")
	cfg.ErrorPrompts = p.promptErrorPrompts(cfg.ErrorPrompts)

	fmt.Fprintf(output, "\n=== Sanitization Rules ===\n")
	cfg.Sanitization = p.promptSanitizationRules(cfg.Sanitization)

	fmt.Fprintf(output, "\n=== Audit Hooks ===\n")
	cfg.AuditHooks.DefaultTimeoutSeconds = p.promptNonNegativeInt("audit_hooks.default_timeout_seconds", cfg.AuditHooks.DefaultTimeoutSeconds, "seconds, 0 uses the 5-second default")
	cfg.AuditHooks.BeforeExecute = p.promptHookEntries("audit_hooks.before_execute", cfg.AuditHooks.BeforeExecute)
	cfg.AuditHooks.AfterExecute = p.promptHookEntries("audit_hooks.after_execute", cfg.AuditHooks.AfterExecute)

	// Write config
	if err := writeConfig(configPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(output, "\nConfiguration saved to %s\n", configPath)
	return nil
}

func loadExisting(configPath string) (*dcquery.ServerConfig, bool) {
	cfg := &dcquery.ServerConfig{}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, true
	}
	// Ignore unmarshal errors, start with whatever was parseable.
	_ = json.Unmarshal(data, cfg)
	return cfg, false
}

// applyDefaults sets sensible default values for a new configuration.
func applyDefaults(cfg *dcquery.ServerConfig) {
	*cfg = dcquery.DefaultServerConfig()
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

func writeConfig(configPath string, cfg *dcquery.ServerConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", configPath, err)
	}
	return nil
}

// prompter handles reading user input and displaying prompts.
type prompter struct {
	scanner *bufio.Scanner
	output  io.Writer
	isNew   bool
}

func (p *prompter) readLine() string {
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	return ""
}

func (p *prompter) valueLabel() string {
	if p.isNew {
		return "default"
	}
	return "current"
}

func (p *prompter) promptString(field string, current string) string {
	fmt.Fprintf(p.output, "%s (%s: %q): ", field, p.valueLabel(), current)
	input := p.readLine()
	if input == "" {
		return current
	}
	return input
}

func (p *prompter) promptStringWithHint(field string, current string, hint string) string {
	fmt.Fprintf(p.output, "%s [%s] (%s: %q): ", field, hint, p.valueLabel(), current)
	input := p.readLine()
	if input == "" {
		return current
	}
	return input
}

func (p *prompter) promptPositiveInt(field string, current int, hint string) int {
	for {
		fmt.Fprintf(p.output, "%s [%s] (%s: %d): ", field, hint, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val <= 0 {
			fmt.Fprintf(p.output, "  Value must be > 0, try again.\n")
			continue
		}
		return val
	}
}

func (p *prompter) promptNonNegativeInt(field string, current int, hint string) int {
	for {
		fmt.Fprintf(p.output, "%s [%s] (%s: %d): ", field, hint, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val < 0 {
			fmt.Fprintf(p.output, "  Value must be >= 0, try again.\n")
			continue
		}
		return val
	}
}

func (p *prompter) promptBool(field string, current bool) bool {
	for {
		fmt.Fprintf(p.output, "%s (%s: %v): ", field, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		switch strings.ToLower(input) {
		case "true", "t", "yes", "y", "1":
			return true
		case "false", "f", "no", "n", "0":
			return false
		default:
			fmt.Fprintf(p.output, "  Invalid value %q, use true/false/yes/no, try again.\n", input)
		}
	}
}

func (p *prompter) promptDuration(field string, current string, hint string) string {
	for {
		fmt.Fprintf(p.output, "%s [%s] (%s: %q): ", field, hint, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		if _, err := time.ParseDuration(input); err != nil {
			fmt.Fprintf(p.output, "  Invalid Go duration %q, try again.\n", input)
			continue
		}
		return input
	}
}

func (p *prompter) promptTimezone(current string) string {
	for {
		fmt.Fprintf(p.output, "timezone [e.g. UTC, America/New_York] (%s: %q): ", p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		if _, err := time.LoadLocation(input); err != nil {
			fmt.Fprintf(p.output, "  Invalid timezone %q, please enter a valid IANA timezone.\n", input)
			continue
		}
		return input
	}
}

func (p *prompter) promptEnum(field string, current string, allowed []string) string {
	for {
		fmt.Fprintf(p.output, "%s (%s: %q, options: %s): ", field, p.valueLabel(), current, strings.Join(allowed, ", "))
		input := p.readLine()
		if input == "" {
			return current
		}
		for _, v := range allowed {
			if input == v {
				return input
			}
		}
		fmt.Fprintf(p.output, "  Invalid value %q, must be one of: %s\n", input, strings.Join(allowed, ", "))
	}
}

// Array field editors

func (p *prompter) promptErrorPrompts(current []errprompt.Rule) []errprompt.Rule {
	rules := current
	for {
		p.displayErrorPrompts(rules)
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		choice := strings.ToLower(p.readLine())
		switch choice {
		case "a":
			pattern := p.promptNewRegexField("pattern")
			message := p.promptNewField("message")
			rules = append(rules, errprompt.Rule{Pattern: pattern, Message: message})
		case "r":
			rules = removeByIndex(p, "error prompt", rules)
		case "c", "":
			return rules
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) displayErrorPrompts(rules []errprompt.Rule) {
	if len(rules) == 0 {
		fmt.Fprintf(p.output, "  (no entries)\n")
		return
	}
	for i, r := range rules {
		fmt.Fprintf(p.output, "  [%d] pattern=%q message=%q\n", i, r.Pattern, r.Message)
	}
}

func (p *prompter) promptSanitizationRules(current []sanitize.Rule) []sanitize.Rule {
	rules := current
	for {
		p.displaySanitizationRules(rules)
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		choice := strings.ToLower(p.readLine())
		switch choice {
		case "a":
			pattern := p.promptNewRegexField("pattern")
			replacement := p.promptNewField("replacement")
			rules = append(rules, sanitize.Rule{Pattern: pattern, Replacement: replacement})
		case "r":
			rules = removeByIndex(p, "sanitization rule", rules)
		case "c", "":
			return rules
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) displaySanitizationRules(rules []sanitize.Rule) {
	if len(rules) == 0 {
		fmt.Fprintf(p.output, "  (no entries)\n")
		return
	}
	for i, r := range rules {
		fmt.Fprintf(p.output, "  [%d] pattern=%q replacement=%q\n", i, r.Pattern, r.Replacement)
	}
}

func (p *prompter) promptHookEntries(field string, current []hooks.Entry) []hooks.Entry {
	entries := current
	for {
		p.displayHookEntries(entries)
		fmt.Fprintf(p.output, "%s [a]dd, [r]emove, [c]ontinue? ", field)
		choice := strings.ToLower(p.readLine())
		switch choice {
		case "a":
			pattern := p.promptNewRegexField("pattern")
			command := p.promptNewField("command")
			argsLine := p.promptNewField("args (comma-separated, optional)")
			var args []string
			if argsLine != "" {
				for _, a := range strings.Split(argsLine, ",") {
					if a = strings.TrimSpace(a); a != "" {
						args = append(args, a)
					}
				}
			}
			entries = append(entries, hooks.Entry{Pattern: pattern, Command: command, Args: args})
		case "r":
			entries = removeByIndex(p, "hook entry", entries)
		case "c", "":
			return entries
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) displayHookEntries(entries []hooks.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(p.output, "  (no entries)\n")
		return
	}
	for i, e := range entries {
		fmt.Fprintf(p.output, "  [%d] pattern=%q command=%q args=%v\n", i, e.Pattern, e.Command, e.Args)
	}
}

func (p *prompter) promptNewField(name string) string {
	fmt.Fprintf(p.output, "  %s: ", name)
	return p.readLine()
}

func (p *prompter) promptNewRegexField(name string) string {
	for {
		fmt.Fprintf(p.output, "  %s (regex): ", name)
		input := p.readLine()
		if input == "" {
			return ""
		}
		if _, err := regexp.Compile(input); err != nil {
			fmt.Fprintf(p.output, "  Invalid regex %q: %v, try again.\n", input, err)
			continue
		}
		return input
	}
}

// removeByIndex is a generic helper for removing an element by index from a slice.
func removeByIndex[T any](p *prompter, label string, items []T) []T {
	if len(items) == 0 {
		fmt.Fprintf(p.output, "  No %s entries to remove.\n", label)
		return items
	}
	fmt.Fprintf(p.output, "  Index to remove: ")
	input := p.readLine()
	idx, err := strconv.Atoi(input)
	if err != nil || idx < 0 || idx >= len(items) {
		fmt.Fprintf(p.output, "  Invalid index.\n")
		return items
	}
	return append(items[:idx], items[idx+1:]...)
}
