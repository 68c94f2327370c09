package repository

import "time"

// ChatSettings is the per-chat settings document. Assistant is the persisted
// sticky assignment; the toggles control how playback announcements render.
type ChatSettings struct {
	ChatID     int64  `gorm:"primaryKey"`
	Assistant  string `gorm:"size:64;index"`
	PlayType   int    // 0: play first match, 1: ask the user to pick
	AutoEnd    *bool  `gorm:"default:true"`
	Thumbnails *bool  `gorm:"default:true"`
	Buttons    *bool  `gorm:"default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ChatSettings) TableName() string { return "chat_settings" }

// BotUser is one row in the global user registry.
type BotUser struct {
	UserID    int64 `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (BotUser) TableName() string { return "bot_users" }
