// Package hooks runs external command-based governance checks around a
// query's execution: one set matched against the rendered SQL before it
// reaches the database, one set matched against the result document after.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is the hook runner's own config type.
type Config struct {
	DefaultTimeout time.Duration
	BeforeExecute  []Entry
	AfterExecute   []Entry
}

// Entry defines a single command-based hook, fired when Pattern matches the
// text it's checked against.
type Entry struct {
	Pattern string
	Command string
	Args    []string
	Timeout time.Duration // 0 means use Config.DefaultTimeout
}

// BeforeResult is the JSON response a before-execute hook must print to stdout.
type BeforeResult struct {
	Accept       bool   `json:"accept"`
	ModifiedSQL  string `json:"modified_sql,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// AfterResult is the JSON response an after-execute hook must print to stdout.
type AfterResult struct {
	Accept         bool   `json:"accept"`
	ModifiedResult string `json:"modified_result,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

type compiledHook struct {
	pattern *regexp.Regexp
	command string
	args    []string
	timeout time.Duration
}

// Runner executes command-based hooks.
type Runner struct {
	beforeExecute []compiledHook
	afterExecute  []compiledHook
	logger        zerolog.Logger
}

// NewRunner builds a Runner. Panics on an invalid pattern or a missing
// default timeout while hooks are configured, matching the rest of this
// package's fail-fast-at-startup style.
func NewRunner(config Config, logger zerolog.Logger) *Runner {
	if config.DefaultTimeout == 0 && (len(config.BeforeExecute) > 0 || len(config.AfterExecute) > 0) {
		panic("hooks: default timeout must be > 0 when hooks are configured")
	}

	compile := func(entries []Entry) []compiledHook {
		compiled := make([]compiledHook, len(entries))
		for i, e := range entries {
			re, err := regexp.Compile(e.Pattern)
			if err != nil {
				panic(fmt.Sprintf("hooks: invalid regex pattern %q: %v", e.Pattern, err))
			}
			timeout := e.Timeout
			if timeout == 0 {
				timeout = config.DefaultTimeout
			}
			compiled[i] = compiledHook{pattern: re, command: e.Command, args: e.Args, timeout: timeout}
		}
		return compiled
	}

	return &Runner{
		beforeExecute: compile(config.BeforeExecute),
		afterExecute:  compile(config.AfterExecute),
		logger:        logger,
	}
}

// HasAfterExecuteHooks reports whether any after-execute hooks are configured,
// so a caller can skip building a result document to scan when there's
// nothing registered to scan it.
func (r *Runner) HasAfterExecuteHooks() bool {
	return len(r.afterExecute) > 0
}

// RunBeforeExecute runs every BeforeExecute hook whose pattern matches sql,
// in order, each one able to reject the query or rewrite it for the next.
func (r *Runner) RunBeforeExecute(ctx context.Context, sql string) (string, error) {
	current := sql
	for _, hook := range r.beforeExecute {
		if !hook.pattern.MatchString(current) {
			continue
		}
		output, err := r.executeHook(ctx, hook, current)
		if err != nil {
			return "", fmt.Errorf("before-execute hook error: %w", err)
		}
		var result BeforeResult
		if err := json.Unmarshal(output, &result); err != nil {
			return "", fmt.Errorf("before-execute hook returned unparseable response (command: %s): %w", hook.command, err)
		}
		if !result.Accept {
			if result.ErrorMessage != "" {
				return "", errors.New(result.ErrorMessage)
			}
			return "", errors.New("query rejected by hook")
		}
		if result.ModifiedSQL != "" {
			current = result.ModifiedSQL
		}
	}
	return current, nil
}

// RunAfterExecute runs every AfterExecute hook whose pattern matches
// resultJSON, in order, each one able to reject or rewrite the result.
func (r *Runner) RunAfterExecute(ctx context.Context, resultJSON string) (string, error) {
	current := resultJSON
	for _, hook := range r.afterExecute {
		if !hook.pattern.MatchString(current) {
			continue
		}
		output, err := r.executeHook(ctx, hook, current)
		if err != nil {
			return "", fmt.Errorf("after-execute hook error: %w", err)
		}
		var result AfterResult
		if err := json.Unmarshal(output, &result); err != nil {
			return "", fmt.Errorf("after-execute hook returned unparseable response (command: %s): %w", hook.command, err)
		}
		if !result.Accept {
			if result.ErrorMessage != "" {
				return "", errors.New(result.ErrorMessage)
			}
			return "", errors.New("result rejected by hook")
		}
		if result.ModifiedResult != "" {
			current = result.ModifiedResult
		}
	}
	return current, nil
}

func (r *Runner) executeHook(ctx context.Context, hook compiledHook, input string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, hook.timeout)
	defer cancel()

	// Command and args are passed separately — no shell interpretation.
	cmd := exec.CommandContext(ctx, hook.command, hook.args...)
	cmd.Stdin = strings.NewReader(input)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if stderr.Len() > 0 {
			r.logger.Warn().Str("command", hook.command).Str("stderr", stderr.String()).Msg("hook stderr output")
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("hook timed out: %s", hook.command)
		}
		return nil, fmt.Errorf("hook failed (command: %s): %w", hook.command, err)
	}
	if stderr.Len() > 0 {
		r.logger.Debug().Str("command", hook.command).Str("stderr", stderr.String()).Msg("hook stderr output")
	}
	return output, nil
}
