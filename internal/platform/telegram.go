package platform

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/internal/telegram"
)

var (
	tgPublicMessagePattern = regexp.MustCompile(
		`^(?:https?://)?t\.me/([a-zA-Z0-9_]{5,})/(\d+)$`)
	tgPrivateMessagePattern = regexp.MustCompile(
		`^(?:https?://)?t\.me/c/(\d+)/(\d+)$`)
)

// TelegramFiles plays media shared inside Telegram itself: a t.me message
// link is resolved to its attachment and downloaded through the Bot API
// file endpoint.
type TelegramFiles struct {
	bot          *telegram.Client
	downloadsDir string
	maxFileSize  int64
}

func NewTelegramFiles(bot *telegram.Client, downloadsDir string, maxFileSize int64) *TelegramFiles {
	return &TelegramFiles{bot: bot, downloadsDir: downloadsDir, maxFileSize: maxFileSize}
}

func (t *TelegramFiles) Name() domain.Platform { return domain.PlatformTelegram }

// Matches implements Adapter.
func (t *TelegramFiles) Matches(query string) bool {
	q := strings.TrimSpace(query)
	return tgPublicMessagePattern.MatchString(q) || tgPrivateMessagePattern.MatchString(q)
}

// parseMessageLink splits a t.me link into a chat reference usable as a Bot
// API chat_id and a message id. Private /c/ links address supergroups by
// their internal id.
func parseMessageLink(link string) (chatRef string, messageID int64, err error) {
	q := strings.TrimSpace(link)
	if m := tgPrivateMessagePattern.FindStringSubmatch(q); m != nil {
		messageID, err = strconv.ParseInt(m[2], 10, 64)
		return "-100" + m[1], messageID, err
	}
	if m := tgPublicMessagePattern.FindStringSubmatch(q); m != nil {
		messageID, err = strconv.ParseInt(m[2], 10, 64)
		return "@" + m[1], messageID, err
	}
	return "", 0, fmt.Errorf("%w: invalid message link %q", domain.ErrTrackNotFound, link)
}

func (t *TelegramFiles) fetchAttachment(ctx context.Context, link string) (*telegram.Attachment, error) {
	chatRef, messageID, err := parseMessageLink(link)
	if err != nil {
		return nil, err
	}
	msg, err := t.bot.GetMessage(ctx, chatRef, messageID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch message %s: %v", domain.ErrTrackNotFound, link, err)
	}
	att := msg.Media()
	if att == nil {
		return nil, fmt.Errorf("%w: message %s has no playable media", domain.ErrTrackNotFound, link)
	}
	if t.maxFileSize > 0 && att.FileSize > t.maxFileSize {
		return nil, domain.NewError(400, "file too large: %d bytes (limit %d)", att.FileSize, t.maxFileSize)
	}
	return att, nil
}

func describeAttachment(link string, att *telegram.Attachment) domain.TrackDescriptor {
	name := att.Title
	if name == "" {
		name = att.FileName
	}
	if name == "" {
		name = "Telegram media"
	}
	return domain.TrackDescriptor{
		Platform: domain.PlatformTelegram,
		ID:       att.FileID,
		URL:      link,
		Name:     name,
		Duration: att.Duration,
	}
}

// Resolve implements Adapter.
func (t *TelegramFiles) Resolve(ctx context.Context, link string) (*domain.PlatformTracks, error) {
	att, err := t.fetchAttachment(ctx, link)
	if err != nil {
		return nil, err
	}
	return &domain.PlatformTracks{
		Tracks: []domain.TrackDescriptor{describeAttachment(link, att)},
	}, nil
}

// Search implements Adapter. Telegram media has no search surface.
func (t *TelegramFiles) Search(ctx context.Context, query string) (*domain.PlatformTracks, error) {
	if t.Matches(query) {
		return t.Resolve(ctx, query)
	}
	return nil, fmt.Errorf("%w: telegram media cannot be searched", domain.ErrTrackNotFound)
}

// Track implements Adapter. The id is the original message link; the file id
// alone cannot be re-fetched without it.
func (t *TelegramFiles) Track(ctx context.Context, link string) (*domain.ResolvedTrack, error) {
	att, err := t.fetchAttachment(ctx, link)
	if err != nil {
		return nil, err
	}
	return &domain.ResolvedTrack{TrackDescriptor: describeAttachment(link, att)}, nil
}

// Download implements Adapter.
func (t *TelegramFiles) Download(ctx context.Context, track *domain.ResolvedTrack, _ bool) (string, error) {
	return t.DownloadByLink(ctx, track.URL, t.downloadsDir)
}

// DownloadByLink implements MessageLinkResolver.
func (t *TelegramFiles) DownloadByLink(ctx context.Context, link, destDir string) (string, error) {
	att, err := t.fetchAttachment(ctx, link)
	if err != nil {
		return "", err
	}
	path, err := t.bot.DownloadAttachment(ctx, att, destDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}
	return path, nil
}
