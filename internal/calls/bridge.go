package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

// ErrJoinRequestSent is returned by JoinChat when the chat requires admin
// approval; the caller is expected to approve the pending request.
var ErrJoinRequestSent = errors.New("join request pending approval")

var errAlreadyParticipant = errors.New("already a participant")

const (
	dialTimeout      = 10 * time.Second
	requestTimeout   = 30 * time.Second
	reconnectBackoff = 2 * time.Second
	eventBufferSize  = 256
)

// Bridge error codes, mirrored from the call-bridge daemon's protocol.
const (
	codeNotInCall          = "NOT_IN_CALL"
	codeNoActiveCall       = "NO_ACTIVE_CALL"
	codeServerError        = "SERVER_ERROR"
	codeUnmuteNeeded       = "UNMUTE_NEEDED"
	codeNoAudioSource      = "NO_AUDIO_SOURCE"
	codeSessionNotReady    = "SESSION_NOT_READY"
	codeAlreadyParticipant = "ALREADY_PARTICIPANT"
	codeJoinRequestSent    = "JOIN_REQUEST_SENT"
	codeInviteExpired      = "INVITE_EXPIRED"
	codeFloodWait          = "FLOOD_WAIT"
)

type bridgeRequest struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Assistant string          `json:"assistant,omitempty"`
	ChatID    int64           `json:"chat_id,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

type bridgeError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds, FLOOD_WAIT only
}

type bridgeFrame struct {
	// Response fields: present when ID != 0.
	ID     int64           `json:"id,omitempty"`
	Error  *bridgeError    `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	// Event fields: present when Type != "".
	Type         EventType `json:"type,omitempty"`
	ChatID       int64     `json:"chat_id,omitempty"`
	Assistant    string    `json:"assistant,omitempty"`
	Participants int       `json:"participants,omitempty"`
}

// Bridge is a websocket client for the external call-bridge daemon that owns
// the assistant MTProto sessions and their live voice-call connections.
// Requests are correlated by id; unsolicited frames become Events.
type Bridge struct {
	url string

	mu      sync.Mutex // guards conn and writes
	conn    *websocket.Conn
	pending sync.Map // request id -> chan bridgeFrame
	nextID  atomic.Int64

	events chan Event
	closed chan struct{}
}

// NewBridge creates an unconnected Bridge for the given websocket URL.
func NewBridge(url string) *Bridge {
	return &Bridge{
		url:    url,
		events: make(chan Event, eventBufferSize),
		closed: make(chan struct{}),
	}
}

// Connect dials the bridge and starts the read loop. The loop reconnects on
// failure until Close is called.
func (b *Bridge) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial call bridge %s: %w", b.url, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	go b.readLoop()
	logger.L().Infow("connected to call bridge", "url", b.url)
	return nil
}

// Close stops the read loop and drops the connection.
func (b *Bridge) Close() error {
	select {
	case <-b.closed:
		return nil
	default:
		close(b.closed)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Events implements Transport.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

func (b *Bridge) readLoop() {
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}

		var frame bridgeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-b.closed:
				return
			default:
			}
			logger.Base().Warn("bridge connection lost, reconnecting", zap.Error(err))
			b.failPending(err)
			if !b.reconnect() {
				return
			}
			continue
		}

		switch {
		case frame.ID != 0:
			if ch, ok := b.pending.LoadAndDelete(frame.ID); ok {
				ch.(chan bridgeFrame) <- frame
			}
		case frame.Type != "":
			ev := Event{
				Type:         frame.Type,
				ChatID:       frame.ChatID,
				Assistant:    frame.Assistant,
				Participants: frame.Participants,
			}
			select {
			case b.events <- ev:
			default:
				logger.Base().Warn("event buffer full, dropping update",
					zap.String("type", string(ev.Type)), zap.Int64("chat_id", ev.ChatID))
			}
		}
	}
}

func (b *Bridge) reconnect() bool {
	for {
		select {
		case <-b.closed:
			return false
		case <-time.After(reconnectBackoff):
		}
		conn, _, err := websocket.DefaultDialer.Dial(b.url, nil)
		if err != nil {
			logger.Base().Warn("bridge reconnect failed", zap.Error(err))
			continue
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		logger.L().Infow("reconnected to call bridge", "url", b.url)
		return true
	}
}

func (b *Bridge) failPending(err error) {
	b.pending.Range(func(key, value any) bool {
		b.pending.Delete(key)
		value.(chan bridgeFrame) <- bridgeFrame{
			Error: &bridgeError{Code: codeServerError, Message: err.Error()},
		}
		return true
	})
}

func (b *Bridge) call(ctx context.Context, method, assistant string, chatID int64, params, result interface{}) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = data
	}

	id := b.nextID.Add(1)
	respCh := make(chan bridgeFrame, 1)
	b.pending.Store(id, respCh)
	defer b.pending.Delete(id)

	req := bridgeRequest{ID: id, Method: method, Assistant: assistant, ChatID: chatID, Params: raw}

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return fmt.Errorf("bridge not connected")
	}
	err := conn.WriteJSON(req)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("bridge request %s: %w", method, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case frame := <-respCh:
		if frame.Error != nil {
			return mapBridgeError(frame.Error)
		}
		if result != nil && frame.Result != nil {
			return json.Unmarshal(frame.Result, result)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("bridge request %s timed out", method)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func mapBridgeError(be *bridgeError) error {
	switch be.Code {
	case codeNotInCall:
		return fmt.Errorf("%w: %s", domain.ErrNotInCall, be.Message)
	case codeNoActiveCall:
		return fmt.Errorf("%w: %s", domain.ErrNoActiveCall, be.Message)
	case codeServerError:
		return fmt.Errorf("%w: %s", domain.ErrServerBusy, be.Message)
	case codeUnmuteNeeded:
		return fmt.Errorf("%w: %s", domain.ErrUnmuteNeeded, be.Message)
	case codeNoAudioSource:
		return fmt.Errorf("%w: %s", domain.ErrNoAudioSource, be.Message)
	case codeSessionNotReady:
		return fmt.Errorf("%w: %s", domain.ErrAssistantNotReady, be.Message)
	case codeJoinRequestSent:
		return ErrJoinRequestSent
	case codeAlreadyParticipant:
		return errAlreadyParticipant
	case codeInviteExpired:
		return fmt.Errorf("%w: %s", domain.ErrInviteExpired, be.Message)
	case codeFloodWait:
		return domain.RateLimited(time.Duration(be.RetryAfter) * time.Second)
	default:
		return fmt.Errorf("bridge error %s: %s", be.Code, be.Message)
	}
}

// Play implements Transport.
func (b *Bridge) Play(ctx context.Context, assistant string, chatID int64, media MediaDescriptor) error {
	return b.call(ctx, "call.play", assistant, chatID, media, nil)
}

// Pause implements Transport.
func (b *Bridge) Pause(ctx context.Context, assistant string, chatID int64) error {
	return b.call(ctx, "call.pause", assistant, chatID, nil, nil)
}

// Resume implements Transport.
func (b *Bridge) Resume(ctx context.Context, assistant string, chatID int64) error {
	return b.call(ctx, "call.resume", assistant, chatID, nil, nil)
}

// Mute implements Transport.
func (b *Bridge) Mute(ctx context.Context, assistant string, chatID int64) error {
	return b.call(ctx, "call.mute", assistant, chatID, nil, nil)
}

// Unmute implements Transport.
func (b *Bridge) Unmute(ctx context.Context, assistant string, chatID int64) error {
	return b.call(ctx, "call.unmute", assistant, chatID, nil, nil)
}

// SetVolume implements Transport.
func (b *Bridge) SetVolume(ctx context.Context, assistant string, chatID int64, volume int) error {
	return b.call(ctx, "call.set_volume", assistant, chatID, map[string]int{"volume": volume}, nil)
}

// Leave implements Transport.
func (b *Bridge) Leave(ctx context.Context, assistant string, chatID int64) error {
	return b.call(ctx, "call.leave", assistant, chatID, nil, nil)
}

// Time implements Transport.
func (b *Bridge) Time(ctx context.Context, assistant string, chatID int64) (int, error) {
	var out struct {
		Seconds int `json:"seconds"`
	}
	if err := b.call(ctx, "call.time", assistant, chatID, nil, &out); err != nil {
		return 0, err
	}
	return out.Seconds, nil
}

// Participants implements Transport.
func (b *Bridge) Participants(ctx context.Context, assistant string, chatID int64) ([]Participant, error) {
	var out struct {
		Participants []Participant `json:"participants"`
	}
	if err := b.call(ctx, "call.participants", assistant, chatID, nil, &out); err != nil {
		return nil, err
	}
	return out.Participants, nil
}

// Stats implements Transport.
func (b *Bridge) Stats(ctx context.Context, assistant string) (Stats, error) {
	var out Stats
	err := b.call(ctx, "bridge.stats", assistant, 0, nil, &out)
	return out, err
}

// AssistantUserID implements Transport.
func (b *Bridge) AssistantUserID(ctx context.Context, assistant string) (int64, error) {
	var out struct {
		UserID int64 `json:"user_id"`
	}
	if err := b.call(ctx, "session.user_id", assistant, 0, nil, &out); err != nil {
		return 0, err
	}
	if out.UserID == 0 {
		return 0, domain.ErrAssistantNotReady
	}
	return out.UserID, nil
}

// JoinChat implements Transport. An already-joined assistant is success.
func (b *Bridge) JoinChat(ctx context.Context, assistant string, inviteLink string) error {
	err := b.call(ctx, "session.join_chat", assistant, 0,
		map[string]string{"invite_link": inviteLink}, nil)
	if errors.Is(err, errAlreadyParticipant) {
		return nil
	}
	return err
}

// RegisterSession hands an assistant's session string to the bridge so it
// can authenticate the account. Called once per assistant at startup;
// registering an already-known session is a no-op on the bridge side.
func (b *Bridge) RegisterSession(ctx context.Context, assistant, sessionString string) error {
	return b.call(ctx, "session.register", assistant, 0,
		map[string]string{"session_string": sessionString}, nil)
}

// LeaveChat implements Transport.
func (b *Bridge) LeaveChat(ctx context.Context, assistant string, chatID int64) error {
	return b.call(ctx, "session.leave_chat", assistant, chatID, nil, nil)
}

// Dialogs implements Transport.
func (b *Bridge) Dialogs(ctx context.Context, assistant string) ([]int64, error) {
	var out struct {
		ChatIDs []int64 `json:"chat_ids"`
	}
	if err := b.call(ctx, "session.dialogs", assistant, 0, nil, &out); err != nil {
		return nil, err
	}
	return out.ChatIDs, nil
}
