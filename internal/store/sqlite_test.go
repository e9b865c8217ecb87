package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_DuplicateDatasetVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveDataset(ctx, sampleDataset(1, "100")))
	err := st.SaveDataset(ctx, sampleDataset(1, "999"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert dataset AAPL_2024 v1")

	got, err := st.LoadDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, usd("100").Equal(got[0].Cell("Total Revenue", "2024")))
}

func TestSQLite_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ds, err := st.LoadDatasets(ctx)
	require.NoError(t, err)
	assert.Empty(t, ds)

	nodes, err := st.LoadNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	refs, err := st.LoadReferences(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)

	require.NoError(t, st.DeleteReference(ctx, "missing"))
}

func TestSQLite_ClosedStoreFails(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Close())

	_, err := st.LoadNodes(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: query nodes")
}
