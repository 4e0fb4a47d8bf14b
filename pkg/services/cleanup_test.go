package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/engine"
	"github.com/datapilot-ai/datapilot-engine/pkg/models"
)

type mockClearer struct {
	Entries []models.CacheEntry
	Err     error
	Calls   int
}

func (m *mockClearer) ClearExpired(ctx context.Context) ([]models.CacheEntry, error) {
	m.Calls++
	return m.Entries, m.Err
}

func TestSweepDropsExpiredResultTables(t *testing.T) {
	clearer := &mockClearer{Entries: []models.CacheEntry{
		{Key: "a", ResultTable: "geo_prod.rule_wbl039_geo_prod_20250101_120000"},
		{Key: "b", ResultTable: ""},
		{Key: "c", ResultTable: "geo_prod.rule_wbl040_geo_prod_20250102_130000"},
		{Key: "d", ResultTable: "geo_prod.customer_accounts"},
	}}
	eng := engine.NewMockEngine()
	j := NewJanitor(clearer, eng, 0, zap.NewNop())

	removed, err := j.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 4, removed)
	assert.Equal(t, []string{
		"geo_prod.rule_wbl039_geo_prod_20250101_120000",
		"geo_prod.rule_wbl040_geo_prod_20250102_130000",
	}, eng.DropTableCalls, "empty and non-result tables are skipped")
}

func TestSweepDropFailureIsNotFatal(t *testing.T) {
	clearer := &mockClearer{Entries: []models.CacheEntry{
		{Key: "a", ResultTable: "geo_prod.rule_wbl039_geo_prod_20250101_120000"},
		{Key: "b", ResultTable: "geo_prod.rule_wbl040_geo_prod_20250102_130000"},
	}}
	eng := engine.NewMockEngine()
	eng.DropTableFunc = func(ctx context.Context, resultTable string) error {
		if resultTable == "geo_prod.rule_wbl039_geo_prod_20250101_120000" {
			return errors.New("table lock held")
		}
		return nil
	}
	j := NewJanitor(clearer, eng, 0, zap.NewNop())

	removed, err := j.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Len(t, eng.DropTableCalls, 2, "remaining tables are still dropped")
}

func TestSweepClearFailurePropagates(t *testing.T) {
	clearer := &mockClearer{Err: errors.New("connection reset")}
	j := NewJanitor(clearer, engine.NewMockEngine(), 0, zap.NewNop())

	_, err := j.Sweep(context.Background())

	require.Error(t, err)
	assert.Empty(t, engine.NewMockEngine().DropTableCalls)
}
