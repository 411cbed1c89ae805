package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/erp/commerce-sync/internal/application/pipeline"
	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/mapping"
	"github.com/erp/commerce-sync/internal/domain/record"
	"github.com/erp/commerce-sync/internal/infrastructure/auth"
	"github.com/erp/commerce-sync/internal/infrastructure/config"
	"github.com/erp/commerce-sync/internal/infrastructure/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// workspace is a temp dir holding a config file and a file-backed state dir
type workspace struct {
	dir      string
	stateDir string
	cfgPath  string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &workspace{
		dir:      dir,
		stateDir: filepath.Join(dir, "state"),
		cfgPath:  filepath.Join(dir, "syncctl.toml"),
	}
	cfg := fmt.Sprintf(`[source]
driver = "fake"
fake_seed = 7
fake_records = 8

[sync]
batch_size = 5
requests_per_minute = 600000
burst = 100
retry_base_delay = "1ms"
retry_max_delay = "10ms"

[storage]
backend = "file"
dir = %q

[log]
level = "error"
`, ws.stateDir)
	require.NoError(t, os.WriteFile(ws.cfgPath, []byte(cfg), 0o600))
	return ws
}

// run executes syncctl with the workspace config and returns stdout
func (ws *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	args = append([]string{"--config", ws.cfgPath, "--env-file", filepath.Join(ws.dir, ".env")}, args...)
	return execute(t, args...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"config", fmt.Errorf("load: %w", config.ErrInvalid), exitConfig},
		{"partial", fmt.Errorf("%w: order: boom", errPartial), exitPartialSync},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2024-05-01T10:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC), got)

	_, err = parseSince("yesterday")
	assert.Error(t, err)
}

func TestParseEntities(t *testing.T) {
	all, err := parseEntities(nil)
	require.NoError(t, err)
	assert.Equal(t, integration.DependencyOrder(), all)

	some, err := parseEntities([]string{"order", "product"})
	require.NoError(t, err)
	assert.Equal(t, []integration.EntityType{integration.EntityOrder, integration.EntityProduct}, some)

	_, err = parseEntities([]string{"invoice"})
	assert.Error(t, err)
}

func TestMigrateOptions_Resolve(t *testing.T) {
	opts := &migrateOptions{showPlan: true}
	_, _, err := opts.resolve()
	assert.Error(t, err, "--show-plan without --dry-run")

	opts = &migrateOptions{dryRun: true, delta: true, since: "2024-01-02", batchSize: 10}
	runOpts, entities, err := opts.resolve()
	require.NoError(t, err)
	assert.True(t, runOpts.DryRun)
	assert.True(t, runOpts.Delta)
	assert.Equal(t, 10, runOpts.BatchSize)
	require.NotNil(t, runOpts.Since)
	assert.Equal(t, 2, runOpts.Since.Day())
	assert.Len(t, entities, 5)
}

func TestConfigGenerateAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncctl.toml")
	env := filepath.Join(dir, ".env")

	out, err := execute(t, "config", "generate", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	_, err = execute(t, "config", "generate", "--file", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = execute(t, "--config", path, "--env-file", env, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "5 entity mappings")

	// The default http source has no base URL to migrate from.
	_, err = execute(t, "--config", path, "--env-file", env, "config", "validate", "--migration")
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	ws := newWorkspace(t)
	t.Setenv("SYNC_SOURCE_TOKEN", "very-secret-token")

	out, err := ws.run(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "very-secret-token")
	assert.Contains(t, out, "# source.token is set")
	assert.Contains(t, out, "# admin.jwt_secret is unset")
	assert.Contains(t, out, "fake_records = 8")
}

func TestMigrate_DryRunWithFakeSource(t *testing.T) {
	ws := newWorkspace(t)

	out, err := ws.run(t, "migrate", "--dry-run", "-o", "json")
	require.NoError(t, err)

	var report struct {
		DryRun   bool `json:"dry_run"`
		Entities []struct {
			Entity string `json:"entity"`
			State  string `json:"state"`
		} `json:"entities"`
		Totals checkpoint.Counts `json:"totals"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.DryRun)
	require.Len(t, report.Entities, 5)
	assert.Equal(t, "category", report.Entities[0].Entity)
	for _, e := range report.Entities {
		assert.Equal(t, string(pipeline.StateCompleted), e.State, e.Entity)
	}
	assert.Positive(t, report.Totals.Extracted)

	// Dry runs never advance checkpoints.
	out, err = ws.run(t, "checkpoint", "list", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	out, err = ws.run(t, "report", "--include-dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Overall success rate")
}

func TestMigrate_RequiresTargetUnlessDryRun(t *testing.T) {
	ws := newWorkspace(t)

	_, err := ws.run(t, "migrate", "--entity", "product")
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, exitConfig, exitCode(err))
}

func seedDLQ(t *testing.T, ws *workspace) []*deadletter.Entry {
	t.Helper()
	store, err := filestore.NewDLQStore(ws.stateDir, zap.NewNop())
	require.NoError(t, err)
	entries := []*deadletter.Entry{
		deadletter.NewEntry(integration.EntityProduct, record.Record{"sku": "SKU-1"}, errors.New("missing sku")),
		deadletter.NewEntry(integration.EntityOrder, record.Record{"increment_id": "100"}, errors.New("totals differ")),
	}
	for _, e := range entries {
		require.NoError(t, store.Enqueue(context.Background(), e))
	}
	return entries
}

func TestDLQCommands(t *testing.T) {
	ws := newWorkspace(t)
	entries := seedDLQ(t, ws)

	out, err := ws.run(t, "dlq", "list", "-o", "json", "--entity", "product")
	require.NoError(t, err)
	var listed []deadletter.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, entries[0].ID, listed[0].ID)

	out, err = ws.run(t, "dlq", "stats", "-o", "json")
	require.NoError(t, err)
	var stats pipeline.DLQStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 2, stats.Total)

	_, err = ws.run(t, "dlq", "list", "--kind", "nonsense")
	assert.Error(t, err)

	t.Run("export", func(t *testing.T) {
		file := filepath.Join(ws.dir, "dlq.csv")
		_, err := ws.run(t, "dlq", "export", "--file", file)
		require.NoError(t, err)
		data, err := os.ReadFile(file)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "id,entity,error_kind"))
	})

	t.Run("retry without target", func(t *testing.T) {
		_, err := ws.run(t, "dlq", "retry", entries[0].ID.String())
		assert.ErrorIs(t, err, pipeline.ErrRetryUnavailable)

		_, err = ws.run(t, "dlq", "retry")
		assert.Error(t, err)
	})

	t.Run("purge", func(t *testing.T) {
		_, err := ws.run(t, "dlq", "purge")
		assert.ErrorContains(t, err, "--all")

		_, err = ws.run(t, "dlq", "purge", "--entity", "product")
		assert.ErrorContains(t, err, "--yes")

		out, err := ws.run(t, "dlq", "purge", "--entity", "product", "--yes", "-o", "json")
		require.NoError(t, err)
		assert.JSONEq(t, `{"purged":1}`, out)

		out, err = ws.run(t, "dlq", "list")
		require.NoError(t, err)
		assert.Contains(t, out, entries[1].ID.String())
		assert.NotContains(t, out, entries[0].ID.String())
	})
}

func TestCheckpointReset(t *testing.T) {
	ws := newWorkspace(t)
	store, err := filestore.NewCheckpointStore(ws.stateDir)
	require.NoError(t, err)
	ctx := context.Background()
	for _, e := range []integration.EntityType{integration.EntityProduct, integration.EntityOrder} {
		cp := (*checkpoint.Checkpoint)(nil).Advance("cursor-10", 10, time.Now())
		cp.Entity = e
		require.NoError(t, store.Save(ctx, cp))
	}

	out, err := ws.run(t, "checkpoint", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "cursor-10")

	_, err = ws.run(t, "checkpoint", "reset")
	assert.Error(t, err)

	_, err = ws.run(t, "checkpoint", "reset", "product")
	require.NoError(t, err)
	cps, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, integration.EntityOrder, cps[0].Entity)

	_, err = ws.run(t, "checkpoint", "reset", "--all")
	require.NoError(t, err)
	cps, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestConfigGenerateMapping(t *testing.T) {
	out, err := execute(t, "config", "generate", "--mapping", "products")
	require.NoError(t, err)
	spec, err := mapping.LoadSpec(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, integration.EntityProduct, spec.Entity)

	_, err = execute(t, "config", "generate", "--mapping", "invoice")
	assert.ErrorIs(t, err, integration.ErrUnknownEntity)
	assert.Equal(t, exitConfig, exitCode(err))

	// A generated document is picked up through sync.mapping_dir.
	ws := newWorkspace(t)
	mappingDir := filepath.Join(ws.dir, "mappings")
	require.NoError(t, os.MkdirAll(mappingDir, 0o755))
	path := filepath.Join(mappingDir, "order.yaml")

	out, err = execute(t, "config", "generate", "--mapping", "order", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote order mapping")
	_, err = execute(t, "config", "generate", "--mapping", "order", "--file", path)
	assert.ErrorContains(t, err, "already exists")

	t.Setenv("SYNC_SYNC_MAPPING_DIR", mappingDir)
	out, err = ws.run(t, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "1 entity mappings")
}

func TestStatus(t *testing.T) {
	ws := newWorkspace(t)

	_, err := ws.run(t, "migrate", "--dry-run", "--entity", "category")
	require.NoError(t, err)

	locker, err := filestore.NewFileLocker(ws.stateDir)
	require.NoError(t, err)
	release, err := locker.Acquire(context.Background(), integration.EntityOrder)
	require.NoError(t, err)
	defer release()

	out, err := ws.run(t, "status", "-o", "json")
	require.NoError(t, err)

	var statuses []struct {
		Entity  string                `json:"entity"`
		Status  string                `json:"status"`
		LastRun *checkpoint.RunRecord `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 5)

	byEntity := make(map[string]int, len(statuses))
	for i, s := range statuses {
		byEntity[s.Entity] = i
	}
	category := statuses[byEntity["category"]]
	assert.Equal(t, statusIdle, category.Status)
	require.NotNil(t, category.LastRun)
	assert.True(t, category.LastRun.DryRun)
	assert.Equal(t, string(pipeline.StateCompleted), category.LastRun.State)

	order := statuses[byEntity["order"]]
	assert.Equal(t, statusRunning, order.Status)
	assert.Nil(t, order.LastRun)

	out, err = ws.run(t, "status", "order")
	require.NoError(t, err)
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "never")
}

func TestConnectionTest(t *testing.T) {
	t.Run("fake source without a target", func(t *testing.T) {
		ws := newWorkspace(t)
		out, err := ws.run(t, "test", "-o", "json")
		require.NoError(t, err)

		var checks []connectionCheck
		require.NoError(t, json.Unmarshal([]byte(out), &checks))
		require.Len(t, checks, 2)
		assert.Equal(t, "source", checks[0].Name)
		assert.True(t, checks[0].OK)
		assert.Equal(t, "target", checks[1].Name)
		assert.True(t, checks[1].Skipped)
	})

	t.Run("target rejects the token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		ws := newWorkspace(t)
		t.Setenv("SYNC_TARGET_BASE_URL", server.URL)
		t.Setenv("SYNC_TARGET_TOKEN", "wrong")

		out, err := ws.run(t, "test")
		require.Error(t, err)
		assert.Equal(t, exitFailure, exitCode(err))
		assert.Contains(t, err.Error(), "1 of 2 connection checks failed")
		assert.Contains(t, out, "✓ source")
		assert.Contains(t, out, "✗ target")
	})
}

func TestTokenIssue(t *testing.T) {
	ws := newWorkspace(t)

	_, err := ws.run(t, "token", "issue", "--subject", "ops")
	assert.ErrorIs(t, err, errNoTokenSecret)

	t.Setenv("SYNC_ADMIN_JWT_SECRET", "cli-test-secret")
	_, err = ws.run(t, "token", "issue", "--subject", "ops", "--scope", "admin")
	assert.ErrorContains(t, err, "unknown scope")

	out, err := ws.run(t, "token", "issue", "--subject", "ops", "--scope", "write", "--ttl", "1h")
	require.NoError(t, err)

	tokens, err := auth.NewTokenService("cli-test-secret", "commerce-sync")
	require.NoError(t, err)
	claims, err := tokens.Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.HasScope(auth.ScopeWrite))
}

func TestRenderMigration(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	report := &pipeline.MigrationReport{
		StartedAt:   start,
		FinishedAt:  start.Add(3 * time.Second),
		DLQLocation: "state/dlq",
		Results: []*pipeline.RunResult{{
			Entity:     integration.EntityProduct,
			State:      pipeline.StateCompleted,
			StartedAt:  start,
			FinishedAt: start.Add(time.Second),
			Stats:      checkpoint.Counts{Extracted: 4, Loaded: 3, Created: 3, DLQd: 1, Failed: 1},
		}},
	}

	var buf bytes.Buffer
	renderMigration(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "product")
	assert.Contains(t, out, "Migration finished with 1 failed records")
	assert.Contains(t, out, "state/dlq")

	buf.Reset()
	renderDLQEntries(&buf, nil)
	assert.Contains(t, buf.String(), "Dead letter queue is empty")

	buf.Reset()
	renderCheckpoints(&buf, nil)
	assert.Contains(t, buf.String(), "No checkpoints recorded")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
