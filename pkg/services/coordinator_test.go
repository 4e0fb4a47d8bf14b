package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/apperrors"
	"github.com/datapilot-ai/datapilot-engine/pkg/engine"
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
	"github.com/datapilot-ai/datapilot-engine/pkg/schema"
)

type mockGenerator struct {
	GenerateFunc func(ctx context.Context, req *models.Request, schemaCtx *schema.Context) (*models.Candidate, error)

	mu    sync.Mutex
	Calls int
}

func (m *mockGenerator) Generate(ctx context.Context, req *models.Request, schemaCtx *schema.Context) (*models.Candidate, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req, schemaCtx)
	}
	return models.NewGenerated("SELECT 1"), nil
}

type mockRepairer struct {
	RepairFunc func(ctx context.Context, req *models.Request, schemaCtx *schema.Context, broken *models.Candidate, diags []models.Diagnostic) (*models.Candidate, error)
	Calls      int
}

func (m *mockRepairer) Repair(ctx context.Context, req *models.Request, schemaCtx *schema.Context, broken *models.Candidate, diags []models.Diagnostic) (*models.Candidate, error) {
	m.Calls++
	if m.RepairFunc != nil {
		return m.RepairFunc(ctx, req, schemaCtx, broken, diags)
	}
	return models.NewRepaired(broken, fmt.Sprintf("SELECT %d", m.Calls+1)), nil
}

type mockValidator struct {
	ValidateFunc func(ctx context.Context, candidate *models.Candidate) models.ValidationResult
	Calls        int
}

func (m *mockValidator) Validate(ctx context.Context, candidate *models.Candidate) models.ValidationResult {
	m.Calls++
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, candidate)
	}
	return models.Pass()
}

type mockCache struct {
	LookupFunc           func(ctx context.Context, key string) (*models.CacheEntry, error)
	LookupAnyFunc        func(ctx context.Context, key string) (*models.CacheEntry, error)
	PutFunc              func(ctx context.Context, entry *models.CacheEntry) error
	InvalidateFunc       func(ctx context.Context, key string) (*models.CacheEntry, error)
	InvalidateByRuleFunc func(ctx context.Context, ruleCategory, database string) ([]models.CacheEntry, error)

	LookupCalls     int
	LookupAnyCalls  int
	PutCalls        int
	InvalidateCalls int
	LastPut         *models.CacheEntry
}

func (m *mockCache) Lookup(ctx context.Context, key string) (*models.CacheEntry, error) {
	m.LookupCalls++
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, key)
	}
	return nil, nil
}

func (m *mockCache) LookupAny(ctx context.Context, key string) (*models.CacheEntry, error) {
	m.LookupAnyCalls++
	if m.LookupAnyFunc != nil {
		return m.LookupAnyFunc(ctx, key)
	}
	return nil, nil
}

func (m *mockCache) Put(ctx context.Context, entry *models.CacheEntry) error {
	m.PutCalls++
	m.LastPut = entry
	if m.PutFunc != nil {
		return m.PutFunc(ctx, entry)
	}
	return nil
}

func (m *mockCache) Invalidate(ctx context.Context, key string) (*models.CacheEntry, error) {
	m.InvalidateCalls++
	if m.InvalidateFunc != nil {
		return m.InvalidateFunc(ctx, key)
	}
	return nil, nil
}

func (m *mockCache) InvalidateByRule(ctx context.Context, ruleCategory, database string) ([]models.CacheEntry, error) {
	if m.InvalidateByRuleFunc != nil {
		return m.InvalidateByRuleFunc(ctx, ruleCategory, database)
	}
	return nil, nil
}

type mockRecorder struct {
	Calls     int
	LastError string
	LastFix   string
}

func (m *mockRecorder) Record(ctx context.Context, errorMessage, resolution string) error {
	m.Calls++
	m.LastError = errorMessage
	m.LastFix = resolution
	return nil
}

type mockSchemas struct {
	Ctx *schema.Context
	Err error
}

func (m *mockSchemas) BuildContext(name string, selected map[string][]string) (*schema.Context, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Ctx, nil
}

type fixture struct {
	gen       *mockGenerator
	rep       *mockRepairer
	val       *mockValidator
	eng       *engine.MockEngine
	cache     *mockCache
	knowledge *mockRecorder
	coord     *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gen:       &mockGenerator{},
		rep:       &mockRepairer{},
		val:       &mockValidator{},
		eng:       engine.NewMockEngine(),
		cache:     &mockCache{},
		knowledge: &mockRecorder{},
	}
	schemas := &mockSchemas{Ctx: &schema.Context{
		SchemaName: "geo_schema",
		Database:   "geo_prod",
		DDL:        "CREATE EXTERNAL TABLE roads (id string)",
		Tables:     []string{"roads"},
	}}
	f.coord = NewCoordinator(f.gen, f.rep, f.val, f.eng, f.cache, f.knowledge, schemas,
		Config{MaxRepairAttempts: 5, MaxEngineAttempts: 3}, zap.NewNop())
	return f
}

func newRequest(mode models.ExecutionMode) *models.Request {
	return &models.Request{
		RuleCategory:  "WBL-039",
		NLQuery:       "count roads without names",
		SchemaName:    "geo_schema",
		ExecutionMode: mode,
	}
}

func freshEntry(table string) *models.CacheEntry {
	now := time.Now()
	return &models.CacheEntry{
		Key:         "k",
		SQL:         "SELECT cached",
		ResultTable: table,
		ExecutionID: "exec-1",
		RowCount:    42,
		CreatedAt:   now.Add(-2 * time.Hour),
		ExpiresAt:   now.Add(166 * time.Hour),
	}
}

func TestExecuteGeneratesValidatesAndCaches(t *testing.T) {
	f := newFixture(t)

	result, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)

	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", result.SQL)
	assert.False(t, result.CacheHit)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, f.gen.Calls)
	assert.Equal(t, 1, f.eng.ExecuteCTASCalls)
	require.Equal(t, 1, f.cache.PutCalls)
	assert.Equal(t, "WBL-039", f.cache.LastPut.RuleCategory)
	assert.Equal(t, result.ResultTable, f.cache.LastPut.ResultTable)
	assert.Contains(t, result.ResultTable, "geo_prod.rule_wbl039_")
}

func TestExecuteServesFreshCacheHit(t *testing.T) {
	f := newFixture(t)
	f.cache.LookupFunc = func(ctx context.Context, key string) (*models.CacheEntry, error) {
		return freshEntry("geo_prod.rule_wbl039_geo_prod_20250101_120000"), nil
	}

	result, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)

	require.NoError(t, err)
	assert.True(t, result.CacheHit)
	assert.Equal(t, "SELECT cached", result.SQL)
	assert.Equal(t, 42, result.RowCount)
	assert.InDelta(t, 2.0, result.CacheAgeHours, 0.1)
	assert.Zero(t, f.gen.Calls, "cache hit must not generate")
	assert.Zero(t, f.eng.ExecuteCTASCalls)
	assert.Zero(t, f.cache.PutCalls, "cache hit must not rewrite the entry")
}

func TestExecuteRegeneratesWhenResultTableVanished(t *testing.T) {
	f := newFixture(t)
	f.cache.LookupFunc = func(ctx context.Context, key string) (*models.CacheEntry, error) {
		return freshEntry("geo_prod.rule_wbl039_geo_prod_20250101_120000"), nil
	}
	f.eng.TableExistsFunc = func(ctx context.Context, resultTable string) (bool, error) {
		return false, nil
	}

	result, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)

	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, 1, f.cache.InvalidateCalls, "orphaned entry must be purged")
	assert.Equal(t, 1, f.gen.Calls)
}

func TestExecuteForceModeSkipsLookup(t *testing.T) {
	f := newFixture(t)
	f.cache.LookupFunc = func(ctx context.Context, key string) (*models.CacheEntry, error) {
		t.Fatal("force mode must not consult the cache")
		return nil, nil
	}

	result, err := f.coord.Execute(context.Background(), newRequest(models.ModeForce), nil)

	require.NoError(t, err)
	assert.Zero(t, f.cache.LookupCalls)
	assert.Equal(t, 1, f.gen.Calls)
	assert.Equal(t, 1, f.cache.PutCalls, "force run still refreshes the cache")
	assert.False(t, result.CacheHit)
}

func TestExecuteReexecuteReusesCachedSQL(t *testing.T) {
	f := newFixture(t)
	f.cache.LookupAnyFunc = func(ctx context.Context, key string) (*models.CacheEntry, error) {
		entry := freshEntry("old_table")
		entry.ExpiresAt = time.Now().Add(-time.Hour) // stale is fine for reexecute
		return entry, nil
	}

	result, err := f.coord.Execute(context.Background(), newRequest(models.ModeReexecute), nil)

	require.NoError(t, err)
	assert.Zero(t, f.gen.Calls, "reexecute must reuse cached SQL")
	assert.Equal(t, "SELECT cached", result.SQL)
	assert.True(t, result.Reexecuted)
	assert.Equal(t, 1, f.eng.ExecuteCTASCalls, "reexecute materializes a new table")
	assert.NotEqual(t, "old_table", result.ResultTable)
}

func TestExecuteReexecuteSchemaDriftIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.cache.LookupAnyFunc = func(ctx context.Context, key string) (*models.CacheEntry, error) {
		return freshEntry("old_table"), nil
	}
	f.val.ValidateFunc = func(ctx context.Context, candidate *models.Candidate) models.ValidationResult {
		return models.Fail(models.Diagnostic{Stage: models.StageSyntaxCheck, Message: "TABLE_NOT_FOUND: roads"})
	}

	_, err := f.coord.Execute(context.Background(), newRequest(models.ModeReexecute), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchemaMismatch)
	assert.Zero(t, f.rep.Calls, "drifted cached SQL is not repaired")
	assert.Zero(t, f.eng.ExecuteCTASCalls)
}

func TestExecuteRepairsUntilValid(t *testing.T) {
	f := newFixture(t)
	f.val.ValidateFunc = func(ctx context.Context, candidate *models.Candidate) models.ValidationResult {
		if candidate.Attempt < 3 {
			return models.Fail(models.Diagnostic{Stage: models.StageFunctionCheck, Message: "function GROUP_CONCAT is not supported"})
		}
		return models.Pass()
	}

	result, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)

	require.NoError(t, err)
	assert.Equal(t, 2, f.rep.Calls)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 1, f.knowledge.Calls, "successful repair is recorded")
	assert.Contains(t, f.knowledge.LastError, "GROUP_CONCAT")
	assert.Equal(t, result.SQL, f.knowledge.LastFix)
}

func TestExecuteRepairStagnationIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.val.ValidateFunc = func(ctx context.Context, candidate *models.Candidate) models.ValidationResult {
		return models.Fail(models.Diagnostic{Stage: models.StageSyntaxCheck, Message: "mismatched input"})
	}
	f.rep.RepairFunc = func(ctx context.Context, req *models.Request, schemaCtx *schema.Context, broken *models.Candidate, diags []models.Diagnostic) (*models.Candidate, error) {
		return models.NewRepaired(broken, broken.SQL), nil
	}

	_, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRepairStagnation)
	assert.Equal(t, 1, f.rep.Calls, "stagnation terminates after the first identical repair")
	assert.Zero(t, f.cache.PutCalls, "failed run must not cache")
}

func TestExecuteRepairBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	f.val.ValidateFunc = func(ctx context.Context, candidate *models.Candidate) models.ValidationResult {
		return models.Fail(models.Diagnostic{Stage: models.StageSyntaxCheck, Message: "mismatched input"})
	}

	_, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAttemptsExhausted)
	assert.Equal(t, 5, f.rep.Calls, "exactly the configured repair budget is spent")

	var failure *RunFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 6, failure.Attempts)
	assert.NotEmpty(t, failure.Diagnostics)
}

func TestExecuteEngineFailureReentersRepair(t *testing.T) {
	f := newFixture(t)
	f.eng.ExecuteCTASFunc = func(ctx context.Context, sql, resultTable string) (*engine.ExecutionResult, error) {
		if f.eng.ExecuteCTASCalls == 1 {
			return nil, &engine.Error{Message: "HIVE_PARTITION_SCHEMA_MISMATCH: column type changed"}
		}
		return &engine.ExecutionResult{ExecutionID: "exec-2", RowCount: 7}, nil
	}

	result, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)

	require.NoError(t, err)
	assert.Equal(t, 2, f.eng.ExecuteCTASCalls)
	require.Equal(t, 1, f.rep.Calls, "engine failure feeds the repair loop")
	assert.Equal(t, 7, result.RowCount)
	assert.Equal(t, 1, f.knowledge.Calls)
	assert.Contains(t, f.knowledge.LastError, "HIVE_PARTITION_SCHEMA_MISMATCH")
}

func TestExecuteEngineBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	f.eng.ExecuteCTASFunc = func(ctx context.Context, sql, resultTable string) (*engine.ExecutionResult, error) {
		return nil, &engine.Error{Message: "INTERNAL_ERROR: worker died"}
	}

	_, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAttemptsExhausted)
	assert.Equal(t, 3, f.eng.ExecuteCTASCalls, "exactly the configured engine budget is spent")
}

func TestExecuteGenerationFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.gen.GenerateFunc = func(ctx context.Context, req *models.Request, schemaCtx *schema.Context) (*models.Candidate, error) {
		return nil, errors.New("endpoint unreachable")
	}

	_, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGeneration)
	assert.Zero(t, f.rep.Calls)
	assert.Zero(t, f.cache.PutCalls)
}

func TestExecuteRejectsInjectionInRequestFields(t *testing.T) {
	f := newFixture(t)
	req := newRequest(models.ModeNormal)
	req.Guardrails = "' OR 1=1 --"

	_, err := f.coord.Execute(context.Background(), req, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "guardrails")
	assert.Zero(t, f.gen.Calls)
}

func TestExecuteEmitsProgress(t *testing.T) {
	f := newFixture(t)

	var events []models.ProgressEvent
	_, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), func(ev models.ProgressEvent) {
		events = append(events, ev)
	})

	require.NoError(t, err)
	stages := make([]string, 0, len(events))
	for _, ev := range events {
		stages = append(stages, ev.Stage)
	}
	assert.Contains(t, stages, "generating")
	assert.Contains(t, stages, "validating")
	assert.Contains(t, stages, "executing")
	assert.Contains(t, stages, "caching")
}

func TestInvalidateEntryDropsResultTable(t *testing.T) {
	f := newFixture(t)
	f.cache.InvalidateFunc = func(ctx context.Context, key string) (*models.CacheEntry, error) {
		return freshEntry("geo_prod.rule_wbl039_geo_prod_20250101_120000"), nil
	}

	entry, err := f.coord.InvalidateEntry(context.Background(), "k")

	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []string{"geo_prod.rule_wbl039_geo_prod_20250101_120000"}, f.eng.DropTableCalls)
}

func TestInvalidateEntryMissingKeyIsNotAnError(t *testing.T) {
	f := newFixture(t)

	entry, err := f.coord.InvalidateEntry(context.Background(), "absent")

	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Empty(t, f.eng.DropTableCalls)
}

func TestInvalidateRuleDropsAllTables(t *testing.T) {
	f := newFixture(t)
	f.cache.InvalidateByRuleFunc = func(ctx context.Context, ruleCategory, database string) ([]models.CacheEntry, error) {
		assert.Equal(t, "WBL-039", ruleCategory)
		assert.Equal(t, "geo_prod", database)
		return []models.CacheEntry{
			{Key: "a", ResultTable: "t1"},
			{Key: "b", ResultTable: "t2"},
		}, nil
	}

	removed, err := f.coord.InvalidateRule(context.Background(), "WBL-039", "geo_prod")

	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"t1", "t2"}, f.eng.DropTableCalls)
}

func TestChannelEmitterNeverBlocks(t *testing.T) {
	ch := make(chan models.ProgressEvent, 1)
	emit := ChannelEmitter(ch)

	emit(models.Progress("a", "first"))
	emit(models.Progress("b", "dropped when full"))

	ev := <-ch
	assert.Equal(t, "a", ev.Stage)
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestExecuteConcurrentIdenticalRequestsShareOneRun(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	var generations atomic.Int32
	f.gen.GenerateFunc = func(ctx context.Context, req *models.Request, schemaCtx *schema.Context) (*models.Candidate, error) {
		generations.Add(1)
		<-release
		return models.NewGenerated("SELECT 1"), nil
	}

	type outcome struct {
		result *models.QueryResult
		err    error
	}
	results := make(chan outcome, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)
			results <- outcome{result, err}
		}()
	}

	// Hold the leader inside Generate until the follower has had time to
	// join the same flight. Only the leader runs the pipeline, so the
	// follower never touches the mocks.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), generations.Load(), "identical concurrent requests share one generation")
	assert.Equal(t, 1, f.eng.ExecuteCTASCalls)
	assert.Equal(t, 1, f.cache.PutCalls)

	var tables []string
	for o := range results {
		require.NoError(t, o.err)
		tables = append(tables, o.result.ResultTable)
	}
	require.Len(t, tables, 2)
	assert.Equal(t, tables[0], tables[1], "followers receive the leader's result")
}

func TestExecuteForceModeDoesNotJoinNormalFlight(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	var generations atomic.Int32
	f.gen.GenerateFunc = func(ctx context.Context, req *models.Request, schemaCtx *schema.Context) (*models.Candidate, error) {
		generations.Add(1)
		if req.ExecutionMode == models.ModeNormal {
			<-release
		}
		return models.NewGenerated("SELECT 1"), nil
	}

	normalDone := make(chan error, 1)
	go func() {
		_, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)
		normalDone <- err
	}()
	time.Sleep(50 * time.Millisecond)

	// The normal run is parked inside Generate. A force run for the same
	// key must complete its own flight instead of waiting on it.
	_, err := f.coord.Execute(context.Background(), newRequest(models.ModeForce), nil)
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-normalDone)

	assert.Equal(t, int32(2), generations.Load(), "force runs never collapse into normal runs")
}

func TestExecuteFollowerSurvivesLeaderCancellation(t *testing.T) {
	f := newFixture(t)

	var generations atomic.Int32
	f.gen.GenerateFunc = func(ctx context.Context, req *models.Request, schemaCtx *schema.Context) (*models.Candidate, error) {
		if generations.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return models.NewGenerated("SELECT 1"), nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := f.coord.Execute(leaderCtx, newRequest(models.ModeNormal), nil)
		leaderDone <- err
	}()
	time.Sleep(50 * time.Millisecond)

	followerDone := make(chan error, 1)
	var followerResult *models.QueryResult
	go func() {
		result, err := f.coord.Execute(context.Background(), newRequest(models.ModeNormal), nil)
		followerResult = result
		followerDone <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()

	require.ErrorIs(t, <-leaderDone, context.Canceled)
	require.NoError(t, <-followerDone)
	require.NotNil(t, followerResult)
	assert.Equal(t, "SELECT 1", followerResult.SQL)
	assert.Equal(t, int32(2), generations.Load(), "the follower reruns under its own context")
}
