package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/pkg/httpclient"
)

// MemberStatus is a chat member state as reported by the Bot API.
type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusBanned        MemberStatus = "kicked"
)

// Message is the slice of the Bot API message object this service needs.
type Message struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Audio    *Attachment `json:"audio,omitempty"`
	Voice    *Attachment `json:"voice,omitempty"`
	Video    *Attachment `json:"video,omitempty"`
	Document *Attachment `json:"document,omitempty"`
}

// Attachment is a downloadable file reference inside a message.
type Attachment struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Media returns the message's playable attachment, or nil.
func (m *Message) Media() *Attachment {
	switch {
	case m.Audio != nil:
		return m.Audio
	case m.Voice != nil:
		return m.Voice
	case m.Video != nil:
		return m.Video
	case m.Document != nil:
		return m.Document
	}
	return nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Client is a thin Bot API wrapper covering the calls the orchestration core
// needs: messaging, membership management, invite links, attachment download.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	files   *httpclient.Client
}

// NewClient builds a Bot API client. Attachment downloads go through files.
func NewClient(baseURL, token string, files *httpclient.Client) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		files:   files,
	}
}

func (c *Client) invoke(ctx context.Context, method string, params url.Values, result interface{}) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bot api %s: %w", method, err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return fmt.Errorf("bot api %s: decode: %w", method, err)
	}
	if !api.OK {
		if api.ErrorCode == 429 && api.Parameters != nil {
			return domain.RateLimited(time.Duration(api.Parameters.RetryAfter) * time.Second)
		}
		return domain.NewError(api.ErrorCode, "bot api %s: %s", method, api.Description)
	}
	if result != nil {
		return json.Unmarshal(api.Result, result)
	}
	return nil
}

// SendMessage sends an HTML-formatted text message and returns its id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)
	params.Set("parse_mode", "HTML")
	params.Set("disable_web_page_preview", "true")
	var msg Message
	if err := c.invoke(ctx, "sendMessage", params, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessageText replaces a previously sent message's text.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("message_id", strconv.FormatInt(messageID, 10))
	params.Set("text", text)
	params.Set("parse_mode", "HTML")
	params.Set("disable_web_page_preview", "true")
	return c.invoke(ctx, "editMessageText", params, nil)
}

// GetChatMemberStatus looks up a user's membership state in a chat. A 400
// from the API is treated as "left" to match how supergroups report
// never-seen users.
func (c *Client) GetChatMemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("user_id", strconv.FormatInt(userID, 10))
	var out struct {
		Status MemberStatus `json:"status"`
	}
	if err := c.invoke(ctx, "getChatMember", params, &out); err != nil {
		if domain.ErrorCode(err) == 400 {
			return StatusLeft, nil
		}
		return "", err
	}
	if out.Status == "" {
		return StatusLeft, nil
	}
	return out.Status, nil
}

// CreateInviteLink creates a fresh invite link for a chat.
func (c *Client) CreateInviteLink(ctx context.Context, chatID int64) (string, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("name", "MelodyBot")
	var out struct {
		InviteLink string `json:"invite_link"`
	}
	if err := c.invoke(ctx, "createChatInviteLink", params, &out); err != nil {
		return "", err
	}
	if out.InviteLink == "" {
		return "", domain.NewError(400, "failed to get invite link for chat %d", chatID)
	}
	return out.InviteLink, nil
}

// ApproveJoinRequest approves a user's pending join request.
func (c *Client) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("user_id", strconv.FormatInt(userID, 10))
	return c.invoke(ctx, "approveChatJoinRequest", params, nil)
}

// UnbanChatMember lifts a ban so the assistant can rejoin.
func (c *Client) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("only_if_banned", "true")
	return c.invoke(ctx, "unbanChatMember", params, nil)
}

// GetMessage fetches a single message. chatRef is a numeric chat id or a
// public @username.
func (c *Client) GetMessage(ctx context.Context, chatRef string, messageID int64) (*Message, error) {
	params := url.Values{}
	params.Set("chat_id", chatRef)
	params.Set("message_id", strconv.FormatInt(messageID, 10))
	var msg Message
	if err := c.invoke(ctx, "getMessage", params, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DownloadAttachment resolves a file id and streams the file into destDir.
func (c *Client) DownloadAttachment(ctx context.Context, att *Attachment, destDir string) (string, error) {
	params := url.Values{}
	params.Set("file_id", att.FileID)
	var out struct {
		FilePath string `json:"file_path"`
	}
	if err := c.invoke(ctx, "getFile", params, &out); err != nil {
		return "", err
	}
	if out.FilePath == "" {
		return "", fmt.Errorf("%w: empty file path for %s", domain.ErrDownloadFailed, att.FileID)
	}

	fileURL := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, out.FilePath)
	name := att.FileName
	if name == "" {
		name = filepath.Base(out.FilePath)
	}
	return c.files.DownloadFile(ctx, fileURL, filepath.Join(destDir, name), false)
}
