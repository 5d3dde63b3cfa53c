package postgres

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phrazzld/lookbook/internal/config"
	"github.com/phrazzld/lookbook/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fsReadFile(name string) ([]byte, error) {
	return fs.ReadFile(Migrations(), name)
}

// testPool connects to DATABASE_URL and migrates it, skipping the test when
// no database is configured
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping PostgreSQL integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Open(ctx, config.DatabaseConfig{URL: url, MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool, testLogger()))
	return pool
}

func newStatus(id string, created time.Time) pipeline.RequestStatus {
	return pipeline.RequestStatus{
		RequestID: id,
		Status:    pipeline.StatusPending,
		Stage:     pipeline.StageQueued,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestStatusStore_RoundTrip(t *testing.T) {
	pool := testPool(t)
	store := NewStatusStore(pool, testLogger())
	ctx := context.Background()

	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = store.Delete(context.Background(), id) })

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Set(ctx, newStatus(id, now)))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusPending, got.Status)
	assert.True(t, now.Equal(got.CreatedAt))

	st := got
	st.Status = pipeline.StatusCompleted
	st.Stage = pipeline.StageDone
	st.Progress = 1
	st.Attempts = 2
	st.Result = &pipeline.Result{
		RequestID:     id,
		PrimaryKey:    "frontside_white_1",
		PrimaryURL:    "https://cdn/original/frontside_white_1.png",
		VariationKeys: []string{"frontside_white_1"},
	}
	st.UpdatedAt = now.Add(time.Second)
	require.NoError(t, store.Set(ctx, st))

	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Result)
	assert.Equal(t, "frontside_white_1", got.Result.PrimaryKey)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, pipeline.ErrRequestNotFound)

	assert.NoError(t, store.Delete(ctx, id), "deleting twice is not an error")
}

func TestStatusStore_ScanOrder(t *testing.T) {
	pool := testPool(t)
	store := NewStatusStore(pool, testLogger())
	ctx := context.Background()

	prefix := "scan-" + uuid.NewString()[:8] + "-"
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	ids := []string{prefix + "a", prefix + "b", prefix + "c"}
	for i, id := range ids {
		id := id
		require.NoError(t, store.Set(ctx, newStatus(id, base.Add(time.Duration(i)*time.Minute))))
		t.Cleanup(func() { _ = store.Delete(context.Background(), id) })
	}

	var seen []string
	require.NoError(t, store.Scan(ctx, func(st pipeline.RequestStatus) bool {
		if len(st.RequestID) > len(prefix) && st.RequestID[:len(prefix)] == prefix {
			seen = append(seen, st.RequestID)
		}
		return true
	}))
	assert.Equal(t, ids, seen)

	var count int
	require.NoError(t, store.Scan(ctx, func(pipeline.RequestStatus) bool {
		count++
		return false
	}))
	assert.Equal(t, 1, count)
}
