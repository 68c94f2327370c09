package join

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MelodifyLabs/melody-call-service/internal/calls"
	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/internal/telegram"
	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

// Bot is the slice of the Bot API client the join flow needs.
type Bot interface {
	GetChatMemberStatus(ctx context.Context, chatID, userID int64) (telegram.MemberStatus, error)
	UnbanChatMember(ctx context.Context, chatID, userID int64) error
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	CreateInviteLink(ctx context.Context, chatID int64) (string, error)
}

// Cache stores member statuses and invite links between join attempts.
type Cache interface {
	MemberStatus(ctx context.Context, chatID, userID int64) (telegram.MemberStatus, bool)
	SetMemberStatus(ctx context.Context, chatID, userID int64, status telegram.MemberStatus) error
	InviteLink(ctx context.Context, chatID int64) (string, error)
	SetInviteLink(ctx context.Context, chatID int64, link string) error
	DropInviteLink(ctx context.Context, chatID int64) error
}

// Transport is the slice of the call bridge the join flow needs.
type Transport interface {
	AssistantUserID(ctx context.Context, assistant string) (int64, error)
	JoinChat(ctx context.Context, assistant, inviteLink string) error
}

// Manager gets an assistant's user account into a chat before playback:
// membership check, unban recovery, invite-link join, join-request approval.
type Manager struct {
	bot       Bot
	cache     Cache
	transport Transport
}

func NewManager(bot Bot, cache Cache, transport Transport) *Manager {
	return &Manager{bot: bot, cache: cache, transport: transport}
}

// memberStatus resolves the assistant's membership in a chat, preferring the
// short-TTL cache over a Bot API round trip.
func (m *Manager) memberStatus(ctx context.Context, chatID, userID int64) (telegram.MemberStatus, error) {
	if status, ok := m.cache.MemberStatus(ctx, chatID, userID); ok {
		return status, nil
	}
	status, err := m.bot.GetChatMemberStatus(ctx, chatID, userID)
	if err != nil {
		return "", err
	}
	if err := m.cache.SetMemberStatus(ctx, chatID, userID, status); err != nil {
		logger.L().Warnw("failed to cache member status", "chat_id", chatID, "error", err)
	}
	return status, nil
}

// EnsureJoined makes sure the assistant is a member of the chat, joining via
// invite link when needed. Banned assistants are unbanned first. A chat
// whose invite link has expired fails with a non-retryable error.
func (m *Manager) EnsureJoined(ctx context.Context, assistant string, chatID int64) error {
	userID, err := m.transport.AssistantUserID(ctx, assistant)
	if err != nil {
		return err
	}

	status, err := m.memberStatus(ctx, chatID, userID)
	if err != nil {
		return err
	}

	switch status {
	case telegram.StatusMember, telegram.StatusAdministrator, telegram.StatusCreator:
		return nil
	case telegram.StatusBanned:
		if err := m.bot.UnbanChatMember(ctx, chatID, userID); err != nil {
			return fmt.Errorf("unban assistant %d in chat %d: %w", userID, chatID, err)
		}
	}

	return m.join(ctx, assistant, chatID, userID)
}

func (m *Manager) join(ctx context.Context, assistant string, chatID, userID int64) error {
	link, err := m.inviteLink(ctx, chatID)
	if err != nil {
		return err
	}

	err = m.transport.JoinChat(ctx, assistant, normalizeInviteLink(link))
	switch {
	case err == nil:
	case errors.Is(err, calls.ErrJoinRequestSent):
		if err := m.bot.ApproveJoinRequest(ctx, chatID, userID); err != nil {
			return fmt.Errorf("approve join request for %d in chat %d: %w", userID, chatID, err)
		}
	case errors.Is(err, domain.ErrInviteExpired):
		// A dead link stays dead; make sure the next attempt mints a new one.
		if dropErr := m.cache.DropInviteLink(ctx, chatID); dropErr != nil {
			logger.L().Warnw("failed to drop invite link", "chat_id", chatID, "error", dropErr)
		}
		return fmt.Errorf("%w: chat %d (assistant %d may be banned)", domain.ErrInviteExpired, chatID, userID)
	default:
		return fmt.Errorf("assistant %d failed to join chat %d: %w", userID, chatID, err)
	}

	if err := m.cache.SetMemberStatus(ctx, chatID, userID, telegram.StatusMember); err != nil {
		logger.L().Warnw("failed to cache member status", "chat_id", chatID, "error", err)
	}
	logger.L().Infow("assistant joined chat", "assistant", assistant, "chat_id", chatID)
	return nil
}

func (m *Manager) inviteLink(ctx context.Context, chatID int64) (string, error) {
	link, err := m.cache.InviteLink(ctx, chatID)
	if err != nil {
		logger.L().Warnw("invite link cache read failed", "chat_id", chatID, "error", err)
	}
	if link != "" {
		return link, nil
	}

	link, err = m.bot.CreateInviteLink(ctx, chatID)
	if err != nil {
		return "", err
	}
	if err := m.cache.SetInviteLink(ctx, chatID, link); err != nil {
		logger.L().Warnw("failed to cache invite link", "chat_id", chatID, "error", err)
	}
	return link, nil
}

// normalizeInviteLink rewrites the short "+hash" form into the joinchat form
// user sessions accept.
func normalizeInviteLink(link string) string {
	return strings.Replace(link, "https://t.me/+", "https://t.me/joinchat/", 1)
}
