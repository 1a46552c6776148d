package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"

	dcquery "github.com/datacommons-io/query-compiler"
	"github.com/datacommons-io/query-compiler/internal/meta"
)

func runDoctor() error {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", ".dcq/config.json", "Path to configuration file")
	fs.Parse(os.Args[2:])

	useColor := isTTY(os.Stderr.Fd())
	return doctor(os.Stderr, useColor, *configPath)
}

func doctor(w io.Writer, useColor bool, configPath string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "dcq %s\n\n", meta.Version)

	config, ok := doctorValidateConfig(w, useColor, configPath)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'dcq doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config)
	return nil
}

// doctorValidateConfig loads and validates the config file, printing check
// results. Returns the parsed config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*dcquery.ServerConfig, bool) {
	allPassed := true

	data, err := os.ReadFile(configPath)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file readable (%s)", configPath))
		allPassed = false
		return nil, allPassed
	}
	printCheck(w, useColor, true, fmt.Sprintf("Config file readable (%s)", configPath))

	config := dcquery.DefaultServerConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file is valid JSON: %v", err))
		allPassed = false
		return nil, allPassed
	}
	printCheck(w, useColor, true, "Config file is valid JSON")

	if config.Connection.Database == "" {
		printCheck(w, useColor, false, "connection.database is set")
		allPassed = false
	} else {
		printCheck(w, useColor, true, fmt.Sprintf("connection.database is set (%s)", config.Connection.Database))
	}

	if config.Server.Port <= 0 {
		printCheck(w, useColor, false, "server.port is > 0")
		allPassed = false
	} else {
		printCheck(w, useColor, true, fmt.Sprintf("server.port is > 0 (%d)", config.Server.Port))
	}

	if config.Server.HealthCheckEnabled {
		if config.Server.HealthCheckPath == "" {
			printCheck(w, useColor, false, "health_check_path is set (required when health_check_enabled)")
			allPassed = false
		} else {
			printCheck(w, useColor, true, fmt.Sprintf("health_check_path is set (%s)", config.Server.HealthCheckPath))
		}
	}

	regexOK := true
	for i, rule := range config.ErrorPrompts {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("error_prompts[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}
	for i, rule := range config.Sanitization {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("sanitization[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}
	for i, entry := range config.AuditHooks.BeforeExecute {
		if _, err := regexp.Compile(entry.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("audit_hooks.before_execute[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}
	for i, entry := range config.AuditHooks.AfterExecute {
		if _, err := regexp.Compile(entry.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("audit_hooks.after_execute[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}
	if regexOK {
		printCheck(w, useColor, true, "All regex patterns compile")
	}

	return &config, allPassed
}

// printCheck prints a colored checkmark or cross line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	if pass {
		if useColor {
			fmt.Fprintf(w, "  \033[32m✓\033[0m %s\n", msg)
		} else {
			fmt.Fprintf(w, "  ✓ %s\n", msg)
		}
	} else {
		if useColor {
			fmt.Fprintf(w, "  \033[31m✗\033[0m %s\n", msg)
		} else {
			fmt.Fprintf(w, "  ✗ %s\n", msg)
		}
	}
}

// printAgentSnippets prints MCP connection config snippets for various AI agents.
func printAgentSnippets(w io.Writer, useColor bool, config *dcquery.ServerConfig) {
	port := config.Server.Port
	url := fmt.Sprintf("http://localhost:%d/mcp", port)

	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}

	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add --transport http datacommons %s\n\n", url)
	fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "datacommons": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	subheading("Copilot CLI (~/.copilot/mcp-config.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "datacommons": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	subheading("Gemini CLI (~/.gemini/settings.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "datacommons": {
        "httpUrl": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	subheading("Cursor (.cursor/mcp.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "datacommons": {
        "url": "%s"
      }
    }
  }
`, url)
}
