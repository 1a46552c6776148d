package dcquery

import (
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/datacommons-io/query-compiler/internal/hooks"
)

func configTestLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestDefaultServerConfig_HasSaneDefaults(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.Connection.Port != 5432 {
		t.Errorf("expected default port 5432, got %d", cfg.Connection.Port)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Query.DefaultTimeoutSeconds != 30 {
		t.Errorf("expected default timeout 30, got %d", cfg.Query.DefaultTimeoutSeconds)
	}
}

func TestQueryConfig_TimeoutManager_PerOperation(t *testing.T) {
	c := QueryConfig{
		DefaultTimeoutSeconds:      30,
		DataTimeoutSeconds:         60,
		SummaryTimeoutSeconds:      120,
		ColumnValuesTimeoutSeconds: 15,
	}
	mgr := c.timeoutManager()

	cases := map[OperationKind]int{
		OpData:            60,
		OpSummary:         120,
		OpColumnValues:    15,
		OpReleaseMetadata: 15,
	}
	for op, wantSeconds := range cases {
		got := mgr.GetTimeoutForOperation(string(op))
		if int(got.Seconds()) != wantSeconds {
			t.Errorf("op %s: got %v, want %ds", op, got, wantSeconds)
		}
	}
}

func TestQueryConfig_TimeoutManager_FallsBackToDefault(t *testing.T) {
	c := QueryConfig{DefaultTimeoutSeconds: 45}
	mgr := c.timeoutManager()
	got := mgr.GetTimeoutForOperation("data")
	if int(got.Seconds()) != 45 {
		t.Errorf("expected fallback to default 45s, got %v", got)
	}
}

func TestAuditHooksConfig_Runner_NilWhenUnconfigured(t *testing.T) {
	c := AuditHooksConfig{}
	if r := c.runner(configTestLogger()); r != nil {
		t.Error("expected nil runner for empty config")
	}
}

func TestAuditHooksConfig_Runner_BuildsWhenConfigured(t *testing.T) {
	c := AuditHooksConfig{
		DefaultTimeoutSeconds: 5,
		BeforeExecute:         []hooks.Entry{{Pattern: ".*", Command: "true"}},
	}
	if r := c.runner(configTestLogger()); r == nil {
		t.Error("expected non-nil runner when hooks are configured")
	}
}
