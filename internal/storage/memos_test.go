package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

func newTestStore(t *testing.T) *MemoStore {
	t.Helper()
	s, err := NewMemoStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *MemoStore, userID string, n int) []string {
	t.Helper()
	base := time.Date(2025, 1, 23, 9, 0, 0, 0, time.UTC)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id, err := s.Create(context.Background(), &types.MemoRecord{
			UserID:              userID,
			Type:                types.MemoAudio,
			Title:               fmt.Sprintf("memo %d", i),
			CreatedAt:           base.Add(time.Duration(i) * time.Minute),
			DurationSeconds:     float64(i),
			TranscriptionStatus: types.StatusPending,
		})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestMemoStoreCreateUpdateGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, &types.MemoRecord{UserID: "u1", Type: types.MemoAudio, TranscriptionStatus: types.StatusPending})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	conf := 0.95
	err = s.Update(ctx, id, types.MemoUpdate{
		Title:               types.String("Standup"),
		DurationSeconds:     types.Float(3),
		TranscriptionStatus: types.String(types.StatusCompleted),
		Transcription: &types.TranscriptionResult{
			Text: "hello", Language: "en", Confidence: &conf,
			Segments: []types.Segment{{Start: 0, End: 1, Text: "hello"}},
		},
	})
	require.NoError(t, err)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Standup", rec.Title)
	assert.Equal(t, 3.0, rec.DurationSeconds)
	assert.Equal(t, types.StatusCompleted, rec.TranscriptionStatus)
	require.NotNil(t, rec.Transcription)
	assert.Equal(t, "hello", rec.Transcription.Text)
	require.Len(t, rec.Transcription.Segments, 1)
	assert.Equal(t, 0.95, *rec.Transcription.Confidence)
}

func TestMemoStoreNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, "missing", types.MemoUpdate{Title: types.String("x")}), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
}

func TestMemoStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ids := seed(t, s, "u1", 1)

	require.NoError(t, s.Delete(context.Background(), ids[0]))
	_, err := s.Get(context.Background(), ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoStoreQueryPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "u1", 5)
	seed(t, s, "u2", 2)

	var titles []string
	cursor := ""
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5)
		res, err := s.Query(ctx, "u1", Filter{}, Sort{Field: "created_at", Desc: true}, Page{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, r := range res.Records {
			titles = append(titles, r.Title)
		}
		if !res.HasMore {
			assert.Empty(t, res.Cursor)
			break
		}
		cursor = res.Cursor
	}
	assert.Equal(t, []string{"memo 4", "memo 3", "memo 2", "memo 1", "memo 0"}, titles)
}

func TestMemoStoreQueryFilterAndSort(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seed(t, s, "u1", 3)
	require.NoError(t, s.Update(ctx, ids[1], types.MemoUpdate{TranscriptionStatus: types.String(types.StatusCompleted)}))

	res, err := s.Query(ctx, "u1", Filter{Status: types.StatusCompleted}, Sort{}, Page{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, ids[1], res.Records[0].ID)

	res, err = s.Query(ctx, "u1", Filter{}, Sort{Field: "duration_seconds"}, Page{})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, ids[0], res.Records[0].ID)

	_, err = s.Query(ctx, "u1", Filter{}, Sort{Field: "title; DROP TABLE memos"}, Page{})
	assert.Error(t, err)

	_, err = s.Query(ctx, "u1", Filter{}, Sort{}, Page{Cursor: "!!"})
	assert.Error(t, err)
}

func TestMemoStoreSubscribe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	results := make(chan *QueryResult, 16)
	stop, err := s.Subscribe(ctx, "u1", Filter{}, Sort{Desc: true}, 10, func(r *QueryResult) { results <- r })
	require.NoError(t, err)
	defer stop()

	first := <-results
	assert.Empty(t, first.Records)

	seed(t, s, "u2", 1) // another user's change is not delivered
	seed(t, s, "u1", 1)

	select {
	case r := <-results:
		require.Len(t, r.Records, 1)
		assert.Equal(t, "u1", r.Records[0].UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}
}

func TestMemoStoreMarkStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return old }
	var ids []string
	for _, status := range []string{types.StatusProcessing, types.StatusCompleted} {
		id, err := s.Create(ctx, &types.MemoRecord{UserID: "u1", Type: types.MemoAudio, TranscriptionStatus: status})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	fresh := seed(t, s, "u1", 1) // created after the cutoff

	s.now = time.Now
	n, err := s.MarkStale(ctx, old.Add(time.Hour), "processing did not finish")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, rec.TranscriptionStatus)
	assert.Equal(t, "processing did not finish", rec.TranscriptionError)

	rec, err = s.Get(ctx, fresh[0])
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, rec.TranscriptionStatus)
}
