package kb

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapilot-ai/datapilot-engine/pkg/testhelpers"
)

func TestRepositoryInsertAndAll(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	_, err := testDB.DB.Exec(ctx, `TRUNCATE error_knowledge`)
	require.NoError(t, err)

	repo := NewRepository(testDB.DB)

	entry := &Entry{
		ID:           uuid.New(),
		ErrorMessage: "COLUMN_NOT_FOUND: no column \"geom\"",
		Resolution:   "SELECT ST_AsText(geometry) FROM roads",
		Embedding:    []float32{0.1, 0.2, 0.3},
	}
	require.NoError(t, repo.Insert(ctx, entry))

	entries, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, entry.ErrorMessage, entries[0].ErrorMessage)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, entries[0].Embedding)
	assert.False(t, entries[0].CreatedAt.IsZero())
}
