package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/MelodifyLabs/melody-call-service/internal/calls"
	"github.com/MelodifyLabs/melody-call-service/internal/core/playback"
	"github.com/MelodifyLabs/melody-call-service/internal/core/pool"
	"github.com/MelodifyLabs/melody-call-service/internal/core/queue"
	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

// sweepConcurrency bounds how many chats one idle sweep inspects at a time.
const sweepConcurrency = 10

// leaveRate paces the membership sweep so bulk leaves never trip flood limits.
var leaveRate = rate.Every(2 * time.Second)

// SettingsReader is the slice of the settings repository the reaper consults.
type SettingsReader interface {
	AutoEnd(ctx context.Context, chatID int64) (bool, error)
}

// Config tunes the reaper's two sweeps.
type Config struct {
	IdleSweepInterval time.Duration
	IdleGracePeriod   time.Duration
	MembershipSweepAt int // hour of day, 0-23
	AutoLeave         bool
}

// Reaper runs the background sweeps: ending calls nobody is listening to and
// leaving chats the assistants no longer serve.
type Reaper struct {
	cfg       Config
	store     *queue.Store
	engine    *playback.Engine
	transport calls.Transport
	pool      *pool.Pool
	settings  SettingsReader
	notifier  playback.Notifier
	limiter   *rate.Limiter
	sweeping  atomic.Bool
}

func NewReaper(
	cfg Config,
	store *queue.Store,
	engine *playback.Engine,
	transport calls.Transport,
	assistants *pool.Pool,
	settings SettingsReader,
	notifier playback.Notifier,
) *Reaper {
	return &Reaper{
		cfg:       cfg,
		store:     store,
		engine:    engine,
		transport: transport,
		pool:      assistants,
		settings:  settings,
		notifier:  notifier,
		limiter:   rate.NewLimiter(leaveRate, 1),
	}
}

// Run schedules both sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.IdleSweepInterval)
	defer ticker.Stop()

	daily := time.NewTimer(untilHour(time.Now(), r.cfg.MembershipSweepAt))
	defer daily.Stop()

	logger.L().Infow("reaper started",
		"idle_interval", r.cfg.IdleSweepInterval,
		"grace_period", r.cfg.IdleGracePeriod,
		"membership_hour", r.cfg.MembershipSweepAt)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepIdleCalls(ctx)
		case <-daily.C:
			r.sweepMemberships(ctx)
			daily.Reset(untilHour(time.Now(), r.cfg.MembershipSweepAt))
		}
	}
}

// untilHour returns the duration until the next occurrence of the given hour.
func untilHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// sweepIdleCalls ends active calls whose only participant is the assistant.
// Overlapping sweeps are skipped rather than queued.
func (r *Reaper) sweepIdleCalls(ctx context.Context) {
	if !r.sweeping.CompareAndSwap(false, true) {
		logger.L().Warnw("idle sweep still running, skipping tick")
		return
	}
	defer r.sweeping.Store(false)

	chats := r.store.ActiveChats()
	if len(chats) == 0 {
		return
	}

	sem := make(chan struct{}, sweepConcurrency)
	var wg sync.WaitGroup
	for _, chatID := range chats {
		wg.Add(1)
		sem <- struct{}{}
		go func(chatID int64) {
			defer wg.Done()
			defer func() { <-sem }()
			r.reapIfIdle(ctx, chatID)
		}(chatID)
	}
	wg.Wait()
}

func (r *Reaper) reapIfIdle(ctx context.Context, chatID int64) {
	autoEnd, err := r.settings.AutoEnd(ctx, chatID)
	if err != nil {
		logger.L().Warnw("auto-end lookup failed", "chat_id", chatID, "error", err)
		return
	}
	if !autoEnd {
		return
	}

	participants, err := r.engine.Participants(ctx, chatID)
	if err != nil {
		logger.L().Warnw("participant lookup failed", "chat_id", chatID, "error", err)
		return
	}
	// The assistant itself counts as one participant.
	if len(participants) > 1 {
		return
	}

	played, err := r.engine.PlayedTime(ctx, chatID)
	if err != nil {
		logger.L().Warnw("played-time lookup failed", "chat_id", chatID, "error", err)
		return
	}
	if time.Duration(played)*time.Second < r.cfg.IdleGracePeriod {
		return
	}

	logger.L().Infow("ending idle call", "chat_id", chatID, "played_seconds", played)
	r.notify(ctx, chatID, "⚠️ No active listeners detected. ⏹️ Leaving voice chat...")
	if err := r.engine.End(ctx, chatID); err != nil {
		logger.L().Errorw("failed to end idle call", "chat_id", chatID, "error", err)
	}
}

func (r *Reaper) notify(ctx context.Context, chatID int64, text string) {
	if r.notifier == nil {
		return
	}
	if _, err := r.notifier.SendMessage(ctx, chatID, text); err != nil {
		logger.L().Warnw("failed to send idle-call notice", "chat_id", chatID, "error", err)
	}
}

// sweepMemberships makes every assistant leave the group chats it sits in
// without an active playback session there.
func (r *Reaper) sweepMemberships(ctx context.Context) {
	if !r.cfg.AutoLeave {
		return
	}

	for _, assistant := range r.pool.Assistants() {
		chats, err := r.transport.Dialogs(ctx, assistant.ID)
		if err != nil {
			logger.L().Warnw("dialog listing failed", "assistant", assistant.ID, "error", err)
			continue
		}

		var left int
		for _, chatID := range chats {
			if r.store.IsActive(chatID) {
				continue
			}
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			if err := r.leaveChat(ctx, assistant.ID, chatID); err != nil {
				logger.L().Warnw("failed to leave chat",
					"assistant", assistant.ID, "chat_id", chatID, "error", err)
				continue
			}
			left++
		}
		logger.L().Infow("membership sweep finished",
			"assistant", assistant.ID, "dialogs", len(chats), "left", left)
	}
}

// leaveChat leaves one chat, honoring a flood-wait hint with a single retry.
func (r *Reaper) leaveChat(ctx context.Context, assistant string, chatID int64) error {
	err := r.transport.LeaveChat(ctx, assistant, chatID)
	if err == nil {
		return nil
	}

	var de *domain.Error
	if errors.As(err, &de) && de.Code == 429 && de.RetryAfter > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(de.RetryAfter):
		}
		return r.transport.LeaveChat(ctx, assistant, chatID)
	}
	return err
}
