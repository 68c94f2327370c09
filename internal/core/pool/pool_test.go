package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MelodifyLabs/melody-call-service/internal/cache"
	"github.com/MelodifyLabs/melody-call-service/internal/domain"
)

type fakeStore struct {
	mu          sync.Mutex
	assignments map[int64]string
	reads       int
	writes      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{assignments: make(map[int64]string)}
}

func (f *fakeStore) Assistant(_ context.Context, chatID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.assignments[chatID], nil
}

func (f *fakeStore) SetAssistant(_ context.Context, chatID int64, assistant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.assignments[chatID] = assistant
	return nil
}

func newTestPool(t *testing.T, store AssignmentStore, sessions ...string) *Pool {
	t.Helper()
	p, err := New(sessions, store, cache.NewAssignmentCache(time.Minute))
	require.NoError(t, err)
	return p
}

func TestNewRequiresSessions(t *testing.T) {
	_, err := New(nil, newFakeStore(), cache.NewAssignmentCache(time.Minute))
	assert.ErrorIs(t, err, domain.ErrNoAssistants)
}

func TestAssistantIDs(t *testing.T) {
	p := newTestPool(t, newFakeStore(), "s1", "s2", "s3")
	got := p.Assistants()
	require.Len(t, got, 3)
	assert.Equal(t, "assistant1", got[0].ID)
	assert.Equal(t, "assistant3", got[2].ID)
	assert.True(t, p.Contains("assistant2"))
	assert.False(t, p.Contains("assistant4"))
}

func TestAssignIsSticky(t *testing.T) {
	store := newFakeStore()
	p := newTestPool(t, store, "s1", "s2", "s3")

	first, err := p.Assign(context.Background(), 100)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		got, err := p.Assign(context.Background(), 100)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
	assert.Equal(t, 1, store.writes, "assignment persisted once")
}

func TestAssignHonorsPersisted(t *testing.T) {
	store := newFakeStore()
	store.assignments[100] = "assistant2"
	p := newTestPool(t, store, "s1", "s2", "s3")

	got, err := p.Assign(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "assistant2", got)
	assert.Equal(t, 0, store.writes)
}

func TestAssignReplacesUnknownPersisted(t *testing.T) {
	store := newFakeStore()
	store.assignments[100] = "assistant9" // pool shrank since this was written
	p := newTestPool(t, store, "s1", "s2")

	got, err := p.Assign(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, p.Contains(got))
	assert.Equal(t, got, store.assignments[100])
}

func TestStatsProbeNeverPersists(t *testing.T) {
	store := newFakeStore()
	p := newTestPool(t, store, "s1", "s2")

	for i := 0; i < 10; i++ {
		got, err := p.Assign(context.Background(), StatsProbeChatID)
		require.NoError(t, err)
		assert.True(t, p.Contains(got))
	}
	assert.Equal(t, 0, store.reads)
	assert.Equal(t, 0, store.writes)
}

func TestConcurrentAssignSingleWrite(t *testing.T) {
	store := newFakeStore()
	p := newTestPool(t, store, "s1", "s2", "s3")

	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := p.Assign(context.Background(), 100)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, results[0], got)
	}
	assert.Equal(t, 1, store.writes)
}

func TestReleaseKeepsPersistedAssignment(t *testing.T) {
	store := newFakeStore()
	p := newTestPool(t, store, "s1", "s2", "s3")

	first, err := p.Assign(context.Background(), 100)
	require.NoError(t, err)

	p.Release(100)

	got, err := p.Assign(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, first, got, "release drops the cache, not the persisted row")
	assert.Equal(t, 1, store.writes)
}
