package playback

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"time"

	"github.com/MelodifyLabs/melody-call-service/internal/calls"
	"github.com/MelodifyLabs/melody-call-service/internal/core/pool"
	"github.com/MelodifyLabs/melody-call-service/internal/core/queue"
	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/internal/platform"
	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

const (
	minSpeed  = 0.5
	maxSpeed  = 4.0
	minVolume = 1
	maxVolume = 200

	eventTimeout = 2 * time.Minute
)

// Notifier is the slice of the Bot API client the engine posts playback
// updates through.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
}

// UserRegistry records users who request playback, for stats and broadcasts.
type UserRegistry interface {
	Add(ctx context.Context, userID int64) error
}

// Joiner gets an assistant's account into a chat before streaming starts.
type Joiner interface {
	EnsureJoined(ctx context.Context, assistant string, chatID int64) error
}

// Engine drives per-chat playback: starting tracks, advancing the queue when
// a stream ends, and every in-call control operation. One engine serves all
// chats; per-chat state lives in the queue store.
type Engine struct {
	store        *queue.Store
	pool         *pool.Pool
	join         Joiner
	registry     *platform.Registry
	transport    calls.Transport
	notifier     Notifier
	users        UserRegistry
	maxQueueSize int
}

func NewEngine(
	store *queue.Store,
	assistants *pool.Pool,
	joiner Joiner,
	registry *platform.Registry,
	transport calls.Transport,
	notifier Notifier,
	users UserRegistry,
	maxQueueSize int,
) *Engine {
	return &Engine{
		store:        store,
		pool:         assistants,
		join:         joiner,
		registry:     registry,
		transport:    transport,
		notifier:     notifier,
		users:        users,
		maxQueueSize: maxQueueSize,
	}
}

// classify wraps transport and pipeline failures into the typed errors
// command handlers present to users.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrNotInCall),
		errors.Is(err, domain.ErrNoActiveCall),
		errors.Is(err, domain.ErrQueueEmpty):
		return domain.NewError(404, "%v", err)
	case errors.Is(err, domain.ErrServerBusy):
		return domain.NewError(502, "telegram server error, retry shortly")
	case errors.Is(err, domain.ErrUnmuteNeeded):
		return domain.NewError(409, "please unmute the assistant in the voice chat")
	case errors.Is(err, domain.ErrTrackNotFound):
		return domain.NewError(404, "%v", err)
	case errors.Is(err, domain.ErrNoAudioSource),
		errors.Is(err, domain.ErrDownloadFailed),
		errors.Is(err, domain.ErrExtractionFailed):
		return domain.NewError(502, "%v", err)
	case errors.Is(err, domain.ErrNoAssistants):
		return domain.NewError(502, "%v", err)
	case errors.Is(err, domain.ErrInviteExpired):
		return domain.NewError(400, "%v", err)
	}
	return domain.NewError(500, "%v", err)
}

// Enqueue adds a track to the chat's queue and starts playback when nothing
// is playing. It returns the track's queue position; position 0 means it
// started playing immediately.
func (e *Engine) Enqueue(ctx context.Context, chatID int64, track *domain.QueuedTrack) (int, error) {
	pos := e.store.Enqueue(chatID, track, e.maxQueueSize)
	if pos < 0 {
		return 0, domain.NewError(400, "queue limit of %d tracks reached", e.maxQueueSize)
	}

	if e.users != nil && track.Requester.UserID != 0 {
		if err := e.users.Add(ctx, track.Requester.UserID); err != nil {
			logger.L().Warnw("failed to register user", "user_id", track.Requester.UserID, "error", err)
		}
	}

	// Only the caller whose track landed at the head starts playback;
	// everyone else just queued behind it.
	if pos > 0 {
		return pos, nil
	}

	if err := e.startHead(ctx, chatID); err != nil {
		e.store.Clear(chatID, true)
		return 0, err
	}
	return 0, nil
}

// startHead downloads and streams the queue head, advancing past tracks that
// fail to download.
func (e *Engine) startHead(ctx context.Context, chatID int64) error {
	assistant, err := e.pool.Assign(ctx, chatID)
	if err != nil {
		return classify(err)
	}
	if err := e.join.EnsureJoined(ctx, assistant, chatID); err != nil {
		return classify(err)
	}

	for {
		head := e.store.Head(chatID)
		if head == nil {
			return classify(domain.ErrQueueEmpty)
		}
		if err := e.download(ctx, head); err != nil {
			logger.L().Warnw("download failed, skipping track",
				"chat_id", chatID, "track", head.Name, "error", err)
			e.notify(chatID, fmt.Sprintf("⚠️ Skipping <b>%s</b>: download failed", html.EscapeString(head.Name)))
			e.store.PopHead(chatID, true)
			continue
		}
		return e.stream(ctx, assistant, chatID, head, "")
	}
}

// download resolves the track through its platform adapter and fetches the
// file. Already-downloaded tracks are reused.
func (e *Engine) download(ctx context.Context, track *domain.QueuedTrack) error {
	if track.FilePath != "" {
		if _, err := os.Stat(track.FilePath); err == nil {
			return nil
		}
		track.FilePath = ""
	}

	adapter := e.registry.For(track.URL)
	resolved, err := adapter.Track(ctx, track.URL)
	if err != nil {
		return err
	}
	path, err := adapter.Download(ctx, resolved, track.IsVideo)
	if err != nil {
		return err
	}
	track.FilePath = path
	return nil
}

// stream pushes the track into the call and posts the now-playing message.
func (e *Engine) stream(ctx context.Context, assistant string, chatID int64, track *domain.QueuedTrack, ffmpegParams string) error {
	media := calls.MediaDescriptor{
		FilePath:     track.FilePath,
		Video:        track.IsVideo,
		FFmpegParams: ffmpegParams,
	}
	if err := e.transport.Play(ctx, assistant, chatID, media); err != nil {
		return classify(err)
	}
	e.store.SetActive(chatID, true)

	if ffmpegParams == "" {
		e.notify(chatID, nowPlayingText(track))
	}
	logger.L().Infow("streaming track",
		"chat_id", chatID, "assistant", assistant, "track", track.Name, "video", track.IsVideo)
	return nil
}

// Advance moves to the next track after a stream ends. A positive loop count
// on the head replays it; otherwise the head is popped and the next track
// starts. An empty queue ends the call.
func (e *Engine) Advance(ctx context.Context, chatID int64) error {
	assistant, err := e.pool.Assign(ctx, chatID)
	if err != nil {
		return classify(err)
	}

	if loop := e.store.Loop(chatID); loop > 0 {
		e.store.SetLoop(chatID, loop-1)
		head := e.store.Head(chatID)
		if head != nil && head.FilePath != "" {
			return e.stream(ctx, assistant, chatID, head, "")
		}
	}

	e.store.PopHead(chatID, true)
	if e.store.Head(chatID) == nil {
		e.notify(chatID, "✅ Queue finished, leaving the voice chat.")
		return e.End(ctx, chatID)
	}
	return e.startHead(ctx, chatID)
}

// Pause pauses the current stream.
func (e *Engine) Pause(ctx context.Context, chatID int64) error {
	return e.control(ctx, chatID, e.transport.Pause)
}

// Resume resumes a paused stream.
func (e *Engine) Resume(ctx context.Context, chatID int64) error {
	return e.control(ctx, chatID, e.transport.Resume)
}

// Mute mutes the assistant's stream.
func (e *Engine) Mute(ctx context.Context, chatID int64) error {
	return e.control(ctx, chatID, e.transport.Mute)
}

// Unmute unmutes the assistant's stream.
func (e *Engine) Unmute(ctx context.Context, chatID int64) error {
	return e.control(ctx, chatID, e.transport.Unmute)
}

func (e *Engine) control(ctx context.Context, chatID int64, op func(context.Context, string, int64) error) error {
	assistant, err := e.pool.Assign(ctx, chatID)
	if err != nil {
		return classify(err)
	}
	return classify(op(ctx, assistant, chatID))
}

// Seek restarts the current track at the given position by replaying it with
// input trimming.
func (e *Engine) Seek(ctx context.Context, chatID int64, seconds int) error {
	head := e.store.Head(chatID)
	if head == nil || head.FilePath == "" {
		return classify(domain.ErrNoActiveCall)
	}
	if seconds < 0 || (head.Duration > 0 && seconds >= head.Duration) {
		return domain.NewError(400, "seek position %ds out of range", seconds)
	}

	assistant, err := e.pool.Assign(ctx, chatID)
	if err != nil {
		return classify(err)
	}
	params := fmt.Sprintf("-ss %d", seconds)
	if head.Duration > 0 {
		params = fmt.Sprintf("-ss %d -to %d", seconds, head.Duration)
	}
	return e.stream(ctx, assistant, chatID, head, params)
}

// SetSpeed replays the current track with an adjusted tempo. Speed must be
// within the range ffmpeg's atempo filter accepts.
func (e *Engine) SetSpeed(ctx context.Context, chatID int64, speed float64) error {
	if speed < minSpeed || speed > maxSpeed {
		return domain.NewError(400, "speed must be between %.1f and %.1f", minSpeed, maxSpeed)
	}
	head := e.store.Head(chatID)
	if head == nil || head.FilePath == "" {
		return classify(domain.ErrNoActiveCall)
	}

	assistant, err := e.pool.Assign(ctx, chatID)
	if err != nil {
		return classify(err)
	}
	params := fmt.Sprintf("-atend -filter:v setpts=%.2f*PTS -filter:a atempo=%.2f", 1.0/speed, speed)
	return e.stream(ctx, assistant, chatID, head, params)
}

// SetVolume adjusts the stream volume in the 1–200 range.
func (e *Engine) SetVolume(ctx context.Context, chatID int64, volume int) error {
	if volume < minVolume || volume > maxVolume {
		return domain.NewError(400, "volume must be between %d and %d", minVolume, maxVolume)
	}
	assistant, err := e.pool.Assign(ctx, chatID)
	if err != nil {
		return classify(err)
	}
	return classify(e.transport.SetVolume(ctx, assistant, chatID, volume))
}

// End stops playback, clears the chat's queue and downloaded files, and
// leaves the voice chat. A call that already ended is not an error.
func (e *Engine) End(ctx context.Context, chatID int64) error {
	assistant, err := e.pool.Assign(ctx, chatID)
	if err != nil {
		return classify(err)
	}
	e.store.Clear(chatID, true)
	e.pool.Release(chatID)

	err = e.transport.Leave(ctx, assistant, chatID)
	if err != nil && !errors.Is(err, domain.ErrNotInCall) && !errors.Is(err, domain.ErrNoActiveCall) {
		return classify(err)
	}
	logger.L().Infow("ended playback", "chat_id", chatID, "assistant", assistant)
	return nil
}

// PlayedTime reports the seconds streamed of the current track. A chat the
// transport no longer considers in-call gets its stale session cleared and
// reports 0.
func (e *Engine) PlayedTime(ctx context.Context, chatID int64) (int, error) {
	assistant, err := e.pool.Assign(ctx, chatID)
	if err != nil {
		return 0, classify(err)
	}
	seconds, err := e.transport.Time(ctx, assistant, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotInCall) || errors.Is(err, domain.ErrNoActiveCall) {
			e.store.Clear(chatID, true)
			return 0, nil
		}
		return 0, classify(err)
	}
	return seconds, nil
}

// Participants lists who is in the chat's voice call.
func (e *Engine) Participants(ctx context.Context, chatID int64) ([]calls.Participant, error) {
	assistant, err := e.pool.Assign(ctx, chatID)
	if err != nil {
		return nil, classify(err)
	}
	participants, err := e.transport.Participants(ctx, assistant, chatID)
	if err != nil {
		return nil, classify(err)
	}
	return participants, nil
}

// Stats probes bridge health through a random assistant.
func (e *Engine) Stats(ctx context.Context) (calls.Stats, error) {
	assistant, err := e.pool.Assign(ctx, pool.StatsProbeChatID)
	if err != nil {
		return calls.Stats{}, classify(err)
	}
	stats, err := e.transport.Stats(ctx, assistant)
	if err != nil {
		return calls.Stats{}, classify(err)
	}
	return stats, nil
}

// Run consumes the transport's update stream until ctx is cancelled. Stream
// endings advance the queue; a kicked or departed assistant tears the chat's
// session down.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.transport.Events():
			if !ok {
				return
			}
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev calls.Event) {
	evCtx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	switch ev.Type {
	case calls.StreamEnded:
		if !e.store.IsActive(ev.ChatID) {
			return
		}
		if err := e.Advance(evCtx, ev.ChatID); err != nil {
			logger.L().Errorw("failed to advance queue", "chat_id", ev.ChatID, "error", err)
		}
	case calls.KickedOrLeft:
		logger.L().Infow("assistant removed from call", "chat_id", ev.ChatID, "assistant", ev.Assistant)
		e.store.Clear(ev.ChatID, true)
		e.pool.Release(ev.ChatID)
	case calls.ParticipantsChanged:
		logger.L().Debugw("participants changed",
			"chat_id", ev.ChatID, "participants", ev.Participants)
	}
}

func (e *Engine) notify(chatID int64, text string) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := e.notifier.SendMessage(ctx, chatID, text); err != nil {
		logger.L().Warnw("failed to send playback notification", "chat_id", chatID, "error", err)
	}
}

func nowPlayingText(track *domain.QueuedTrack) string {
	text := fmt.Sprintf("▶️ Now playing: <b>%s</b>", html.EscapeString(track.Name))
	if track.Artist != "" {
		text += fmt.Sprintf(" — %s", html.EscapeString(track.Artist))
	}
	if track.Duration > 0 {
		text += fmt.Sprintf(" (%s)", formatDuration(track.Duration))
	}
	if track.Requester.Name != "" {
		text += fmt.Sprintf("\nRequested by %s", html.EscapeString(track.Requester.Name))
	}
	return text
}

func formatDuration(seconds int) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
