package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flumeworks/flume/pkg/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord(id string, startedAt time.Time) *Record {
	return &Record{
		ID:         id,
		Pipeline:   "iris-pipeline",
		Namespace:  "pipelines",
		GitURL:     "https://github.com/org/iris-pipeline",
		GitRef:     "main",
		CommitHash: "abc123",
		State:      string(engine.WorkflowSucceeded),
		Stages:     3,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(2 * time.Minute),
	}
}

func TestInsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := sampleRecord("run-1", time.Now().Truncate(time.Millisecond))
	require.NoError(t, store.Insert(ctx, want))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.Pipeline, got.Pipeline)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.Stages, got.Stages)
	assert.Equal(t, want.StartedAt.UnixMilli(), got.StartedAt.UnixMilli())
	assert.Equal(t, 2*time.Minute, got.Duration())
}

func TestGetMissingRun(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, store.Insert(ctx, sampleRecord("run-old", base)))
	require.NoError(t, store.Insert(ctx, sampleRecord("run-new", base.Add(30*time.Minute))))

	records, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-new", records[0].ID)
	assert.Equal(t, "run-old", records[1].ID)
}

func TestListLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(ctx, sampleRecord(
			"run-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))))
	}

	records, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestNewRecordFromFailedRun(t *testing.T) {
	run := &engine.WorkflowRun{
		ID:        "run-x",
		Pipeline:  "iris-pipeline",
		Namespace: "pipelines",
		State:     engine.WorkflowFailed,
		Err:       errors.New("stage \"train\" failed"),
		Steps: []*engine.StepResult{
			{Stages: []*engine.StageRun{{}, {}}},
			{Stages: []*engine.StageRun{{}}},
		},
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}

	record := NewRecord(run)
	assert.Equal(t, string(engine.WorkflowFailed), record.State)
	assert.Equal(t, 3, record.Stages)
	assert.Contains(t, record.Error, "train")
}
