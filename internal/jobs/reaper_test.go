package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MelodifyLabs/melody-call-service/internal/cache"
	"github.com/MelodifyLabs/melody-call-service/internal/calls"
	"github.com/MelodifyLabs/melody-call-service/internal/core/playback"
	"github.com/MelodifyLabs/melody-call-service/internal/core/pool"
	"github.com/MelodifyLabs/melody-call-service/internal/core/queue"
	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/internal/platform"
)

type fakeTransport struct {
	mu           sync.Mutex
	participants []calls.Participant
	timeSeconds  int
	dialogs      map[string][]int64
	leftChats    []int64
	leaveErrs    []error
	callLeaves   int
}

func (f *fakeTransport) Play(context.Context, string, int64, calls.MediaDescriptor) error {
	return nil
}
func (f *fakeTransport) Pause(context.Context, string, int64) error          { return nil }
func (f *fakeTransport) Resume(context.Context, string, int64) error         { return nil }
func (f *fakeTransport) Mute(context.Context, string, int64) error           { return nil }
func (f *fakeTransport) Unmute(context.Context, string, int64) error         { return nil }
func (f *fakeTransport) SetVolume(context.Context, string, int64, int) error { return nil }

func (f *fakeTransport) Leave(context.Context, string, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callLeaves++
	return nil
}

func (f *fakeTransport) Time(context.Context, string, int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeSeconds, nil
}

func (f *fakeTransport) Participants(context.Context, string, int64) ([]calls.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.participants, nil
}

func (f *fakeTransport) Stats(context.Context, string) (calls.Stats, error) {
	return calls.Stats{}, nil
}
func (f *fakeTransport) AssistantUserID(context.Context, string) (int64, error) { return 777, nil }
func (f *fakeTransport) JoinChat(context.Context, string, string) error         { return nil }

func (f *fakeTransport) LeaveChat(_ context.Context, _ string, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.leaveErrs) > 0 {
		err := f.leaveErrs[0]
		f.leaveErrs = f.leaveErrs[1:]
		if err != nil {
			return err
		}
	}
	f.leftChats = append(f.leftChats, chatID)
	return nil
}

func (f *fakeTransport) Dialogs(_ context.Context, assistant string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialogs[assistant], nil
}

func (f *fakeTransport) Events() <-chan calls.Event { return nil }

type fakeSettings struct {
	autoEnd map[int64]bool
}

func (f *fakeSettings) AutoEnd(_ context.Context, chatID int64) (bool, error) {
	if on, ok := f.autoEnd[chatID]; ok {
		return on, nil
	}
	return true, nil
}

type memoryAssignments struct {
	mu sync.Mutex
	m  map[int64]string
}

func (s *memoryAssignments) Assistant(_ context.Context, chatID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[chatID], nil
}

func (s *memoryAssignments) SetAssistant(_ context.Context, chatID int64, assistant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[chatID] = assistant
	return nil
}

type noopAdapter struct{}

func (noopAdapter) Name() domain.Platform   { return domain.PlatformYouTube }
func (noopAdapter) Matches(string) bool     { return false }
func (noopAdapter) Resolve(context.Context, string) (*domain.PlatformTracks, error) {
	return nil, domain.ErrTrackNotFound
}
func (noopAdapter) Search(context.Context, string) (*domain.PlatformTracks, error) {
	return nil, domain.ErrTrackNotFound
}
func (noopAdapter) Track(context.Context, string) (*domain.ResolvedTrack, error) {
	return nil, domain.ErrTrackNotFound
}
func (noopAdapter) Download(context.Context, *domain.ResolvedTrack, bool) (string, error) {
	return "", domain.ErrDownloadFailed
}

type noopJoiner struct{}

func (noopJoiner) EnsureJoined(context.Context, string, int64) error { return nil }

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) SendMessage(_ context.Context, _ int64, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return 1, nil
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

type reaperFixture struct {
	reaper    *Reaper
	store     *queue.Store
	transport *fakeTransport
	settings  *fakeSettings
	notifier  *fakeNotifier
}

func newFixture(t *testing.T, cfg Config) *reaperFixture {
	t.Helper()
	assistants, err := pool.New([]string{"s1"},
		&memoryAssignments{m: make(map[int64]string)},
		cache.NewAssignmentCache(time.Minute))
	require.NoError(t, err)

	store := queue.NewStore()
	transport := &fakeTransport{dialogs: make(map[string][]int64)}
	engine := playback.NewEngine(store, assistants, noopJoiner{},
		platform.NewRegistry("youtube", noopAdapter{}), transport, nil, nil, 10)

	settings := &fakeSettings{autoEnd: make(map[int64]bool)}
	notifier := &fakeNotifier{}
	return &reaperFixture{
		reaper:    NewReaper(cfg, store, engine, transport, assistants, settings, notifier),
		store:     store,
		transport: transport,
		settings:  settings,
		notifier:  notifier,
	}
}

func activate(store *queue.Store, chatID int64) {
	store.Enqueue(chatID, &domain.QueuedTrack{
		TrackDescriptor: domain.TrackDescriptor{Name: "x"},
	}, 0)
	store.SetActive(chatID, true)
}

func TestUntilHour(t *testing.T) {
	now := time.Date(2026, 8, 30, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, 90*time.Minute, untilHour(now, 3))

	past := time.Date(2026, 8, 30, 5, 0, 0, 0, time.UTC)
	assert.Equal(t, 22*time.Hour, untilHour(past, 3), "already past the hour rolls to tomorrow")

	atHour := time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, 24*time.Hour, untilHour(atHour, 3), "exactly on the hour schedules tomorrow")
}

func TestIdleSweepEndsAbandonedCall(t *testing.T) {
	f := newFixture(t, Config{IdleGracePeriod: 15 * time.Second})
	activate(f.store, 100)
	f.transport.participants = []calls.Participant{{UserID: 777}} // assistant only
	f.transport.timeSeconds = 60

	f.reaper.sweepIdleCalls(context.Background())

	assert.Equal(t, 1, f.transport.callLeaves)
	assert.False(t, f.store.IsActive(100))

	messages := f.notifier.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "No active listeners")
}

func TestIdleSweepSkipsOccupiedCall(t *testing.T) {
	f := newFixture(t, Config{IdleGracePeriod: 15 * time.Second})
	activate(f.store, 100)
	f.transport.participants = []calls.Participant{{UserID: 777}, {UserID: 42}}
	f.transport.timeSeconds = 60

	f.reaper.sweepIdleCalls(context.Background())

	assert.Zero(t, f.transport.callLeaves)
	assert.True(t, f.store.IsActive(100))
	assert.Empty(t, f.notifier.all())
}

func TestIdleSweepHonorsGracePeriod(t *testing.T) {
	f := newFixture(t, Config{IdleGracePeriod: 15 * time.Second})
	activate(f.store, 100)
	f.transport.participants = []calls.Participant{{UserID: 777}}
	f.transport.timeSeconds = 5 // just started

	f.reaper.sweepIdleCalls(context.Background())

	assert.Zero(t, f.transport.callLeaves)
	assert.True(t, f.store.IsActive(100))
}

func TestIdleSweepHonorsAutoEndSetting(t *testing.T) {
	f := newFixture(t, Config{IdleGracePeriod: 15 * time.Second})
	activate(f.store, 100)
	f.settings.autoEnd[100] = false
	f.transport.participants = []calls.Participant{{UserID: 777}}
	f.transport.timeSeconds = 60

	f.reaper.sweepIdleCalls(context.Background())

	assert.Zero(t, f.transport.callLeaves)
	assert.True(t, f.store.IsActive(100))
}

func TestMembershipSweepSkipsActiveChats(t *testing.T) {
	f := newFixture(t, Config{AutoLeave: true})
	f.transport.dialogs["assistant1"] = []int64{100, 200, 300}
	activate(f.store, 200)

	f.reaper.sweepMemberships(context.Background())

	assert.ElementsMatch(t, []int64{100, 300}, f.transport.leftChats)
}

func TestMembershipSweepDisabled(t *testing.T) {
	f := newFixture(t, Config{AutoLeave: false})
	f.transport.dialogs["assistant1"] = []int64{100}

	f.reaper.sweepMemberships(context.Background())

	assert.Empty(t, f.transport.leftChats)
}

func TestLeaveChatRetriesFloodWait(t *testing.T) {
	f := newFixture(t, Config{AutoLeave: true})
	f.transport.leaveErrs = []error{domain.RateLimited(10 * time.Millisecond)}

	require.NoError(t, f.reaper.leaveChat(context.Background(), "assistant1", 100))
	assert.Equal(t, []int64{100}, f.transport.leftChats)
}

func TestLeaveChatPermanentFailure(t *testing.T) {
	f := newFixture(t, Config{AutoLeave: true})
	f.transport.leaveErrs = []error{domain.NewError(400, "cannot leave")}

	assert.Error(t, f.reaper.leaveChat(context.Background(), "assistant1", 100))
	assert.Empty(t, f.transport.leftChats)
}
