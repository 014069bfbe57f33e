package reportstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleReport(reportID, jobID string, createdAt time.Time) *Report {
	return &Report{
		ID:            reportID,
		JobID:         jobID,
		Title:         "Supplier Risk Research: tantalum",
		Markdown:      "# Supplier Risk Research: tantalum\n\n## Overview\n",
		Sections:      5,
		UniqueSources: 42,
		CreatedAt:     createdAt,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	want := sampleReport("rep_1", "job_1", created)
	require.NoError(t, store.Save(ctx, want))

	byJob, err := store.GetByJobID(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, want, byJob)

	byID, err := store.Get(ctx, "rep_1")
	require.NoError(t, err)
	assert.Equal(t, want, byID)
}

func TestStore_NotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetByJobID(ctx, "job_missing")
	assert.ErrorIs(t, err, ErrReportNotFound)

	_, err = store.Get(ctx, "rep_missing")
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestStore_SaveReplacesExisting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	first := sampleReport("rep_1", "job_1", created)
	require.NoError(t, store.Save(ctx, first))

	second := sampleReport("rep_1", "job_1", created.Add(time.Hour))
	second.Title = "Supplier Risk Research: tantalum (revised)"
	second.UniqueSources = 57
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Get(ctx, "rep_1")
	require.NoError(t, err)
	assert.Equal(t, second, got)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, sampleReport("rep_old", "job_old", base)))
	require.NoError(t, store.Save(ctx, sampleReport("rep_mid", "job_mid", base.Add(time.Hour))))
	require.NoError(t, store.Save(ctx, sampleReport("rep_new", "job_new", base.Add(2*time.Hour))))

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "rep_new", all[0].ID)
	assert.Equal(t, "rep_mid", all[1].ID)
	assert.Equal(t, "rep_old", all[2].ID)
}

func TestStore_ListEmpty(t *testing.T) {
	store := openTestStore(t)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	created := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, sampleReport("rep_1", "job_1", created)))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetByJobID(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, "rep_1", got.ID)
}
