package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

const settingsCacheTTL = 20 * time.Minute

type cachedSettings struct {
	settings ChatSettings
	expires  time.Time
}

// ChatSettingsRepository reads and writes per-chat settings with a bounded
// TTL read cache in front of postgres. Reads hand out copies, never the
// cached value itself.
type ChatSettingsRepository struct {
	db    *gorm.DB
	mu    sync.RWMutex
	cache map[int64]cachedSettings
}

func NewChatSettingsRepository(db *gorm.DB) *ChatSettingsRepository {
	return &ChatSettingsRepository{
		db:    db,
		cache: make(map[int64]cachedSettings),
	}
}

// Get returns the chat's settings, creating a default row on first sight.
func (r *ChatSettingsRepository) Get(ctx context.Context, chatID int64) (*ChatSettings, error) {
	r.mu.RLock()
	entry, ok := r.cache[chatID]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		out := &ChatSettings{}
		if err := copier.Copy(out, &entry.settings); err != nil {
			return nil, err
		}
		return out, nil
	}

	var settings ChatSettings
	err := r.db.WithContext(ctx).First(&settings, "chat_id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = ChatSettings{ChatID: chatID}
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&settings).Error; err != nil {
			return nil, err
		}
		logger.L().Infow("registered chat", "chat_id", chatID)
	} else if err != nil {
		return nil, err
	}

	r.store(chatID, settings)
	out := &ChatSettings{}
	if err := copier.Copy(out, &settings); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ChatSettingsRepository) store(chatID int64, settings ChatSettings) {
	r.mu.Lock()
	r.cache[chatID] = cachedSettings{settings: settings, expires: time.Now().Add(settingsCacheTTL)}
	r.mu.Unlock()
}

func (r *ChatSettingsRepository) invalidate(chatID int64) {
	r.mu.Lock()
	delete(r.cache, chatID)
	r.mu.Unlock()
}

func (r *ChatSettingsRepository) updateField(ctx context.Context, chatID int64, column string, value interface{}) error {
	err := r.db.WithContext(ctx).
		Table("chat_settings").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{column, "updated_at"}),
		}).
		Create(map[string]interface{}{
			"chat_id":    chatID,
			column:       value,
			"created_at": time.Now(),
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return err
	}
	r.invalidate(chatID)
	return nil
}

// Assistant returns the persisted sticky assignment, "" when unassigned.
func (r *ChatSettingsRepository) Assistant(ctx context.Context, chatID int64) (string, error) {
	settings, err := r.Get(ctx, chatID)
	if err != nil {
		return "", err
	}
	return settings.Assistant, nil
}

// SetAssistant persists the chat's sticky assistant assignment.
func (r *ChatSettingsRepository) SetAssistant(ctx context.Context, chatID int64, assistant string) error {
	return r.updateField(ctx, chatID, "assistant", assistant)
}

// RemoveAssistant clears the chat's assignment.
func (r *ChatSettingsRepository) RemoveAssistant(ctx context.Context, chatID int64) error {
	return r.updateField(ctx, chatID, "assistant", "")
}

// ClearAllAssistants wipes every persisted assignment, returning the count.
func (r *ChatSettingsRepository) ClearAllAssistants(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&ChatSettings{}).
		Where("assistant <> ''").
		Update("assistant", "")
	if res.Error != nil {
		return 0, res.Error
	}
	r.mu.Lock()
	r.cache = make(map[int64]cachedSettings)
	r.mu.Unlock()
	logger.L().Infow("cleared assistants", "chats", res.RowsAffected)
	return res.RowsAffected, nil
}

// PlayType returns the chat's play-type setting.
func (r *ChatSettingsRepository) PlayType(ctx context.Context, chatID int64) (int, error) {
	settings, err := r.Get(ctx, chatID)
	if err != nil {
		return 0, err
	}
	return settings.PlayType, nil
}

// SetPlayType stores the chat's play-type setting.
func (r *ChatSettingsRepository) SetPlayType(ctx context.Context, chatID int64, playType int) error {
	return r.updateField(ctx, chatID, "play_type", playType)
}

// AutoEnd reports whether idle calls in the chat should be ended by the reaper.
func (r *ChatSettingsRepository) AutoEnd(ctx context.Context, chatID int64) (bool, error) {
	settings, err := r.Get(ctx, chatID)
	if err != nil {
		return true, err
	}
	if settings.AutoEnd == nil {
		return true, nil
	}
	return *settings.AutoEnd, nil
}

// SetAutoEnd stores the chat's auto-end toggle.
func (r *ChatSettingsRepository) SetAutoEnd(ctx context.Context, chatID int64, on bool) error {
	return r.updateField(ctx, chatID, "auto_end", on)
}

// Thumbnails reports whether playback announcements include cover art.
func (r *ChatSettingsRepository) Thumbnails(ctx context.Context, chatID int64) (bool, error) {
	settings, err := r.Get(ctx, chatID)
	if err != nil {
		return true, err
	}
	if settings.Thumbnails == nil {
		return true, nil
	}
	return *settings.Thumbnails, nil
}

// SetThumbnails stores the chat's thumbnail toggle.
func (r *ChatSettingsRepository) SetThumbnails(ctx context.Context, chatID int64, on bool) error {
	return r.updateField(ctx, chatID, "thumbnails", on)
}

// Buttons reports whether playback announcements carry control buttons.
func (r *ChatSettingsRepository) Buttons(ctx context.Context, chatID int64) (bool, error) {
	settings, err := r.Get(ctx, chatID)
	if err != nil {
		return true, err
	}
	if settings.Buttons == nil {
		return true, nil
	}
	return *settings.Buttons, nil
}

// SetButtons stores the chat's control-button toggle.
func (r *ChatSettingsRepository) SetButtons(ctx context.Context, chatID int64, on bool) error {
	return r.updateField(ctx, chatID, "buttons", on)
}

// RemoveChat deletes a chat's settings row (e.g. after the bot is removed).
func (r *ChatSettingsRepository) RemoveChat(ctx context.Context, chatID int64) error {
	if err := r.db.WithContext(ctx).Delete(&ChatSettings{}, "chat_id = ?", chatID).Error; err != nil {
		return err
	}
	r.invalidate(chatID)
	return nil
}

// AllChats lists every known chat id.
func (r *ChatSettingsRepository) AllChats(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&ChatSettings{}).Pluck("chat_id", &ids).Error
	return ids, err
}
