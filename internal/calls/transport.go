package calls

import "context"

// MediaDescriptor tells the bridge what to stream into a call.
type MediaDescriptor struct {
	FilePath     string `json:"file_path"`
	Video        bool   `json:"video"`
	FFmpegParams string `json:"ffmpeg_params,omitempty"`
}

// Stats is a bridge health probe result.
type Stats struct {
	PingMs   float64 `json:"ping_ms"`
	CPUUsage float64 `json:"cpu_usage"`
}

// Transport is the voice-call capability consumed by the playback engine.
// Every method is addressed to one assistant session owned by the bridge;
// chatID selects the group call that assistant is connected to. WebRTC and
// the MTProto wire protocol live entirely on the far side of this interface.
type Transport interface {
	Play(ctx context.Context, assistant string, chatID int64, media MediaDescriptor) error
	Pause(ctx context.Context, assistant string, chatID int64) error
	Resume(ctx context.Context, assistant string, chatID int64) error
	Mute(ctx context.Context, assistant string, chatID int64) error
	Unmute(ctx context.Context, assistant string, chatID int64) error
	SetVolume(ctx context.Context, assistant string, chatID int64, volume int) error
	Leave(ctx context.Context, assistant string, chatID int64) error

	// Time reports the played seconds of the current stream.
	Time(ctx context.Context, assistant string, chatID int64) (int, error)
	Participants(ctx context.Context, assistant string, chatID int64) ([]Participant, error)
	Stats(ctx context.Context, assistant string) (Stats, error)

	// AssistantUserID resolves the Telegram user id behind an assistant
	// session; it fails until the session has authenticated.
	AssistantUserID(ctx context.Context, assistant string) (int64, error)
	// JoinChat makes the assistant's user account join via an invite link.
	JoinChat(ctx context.Context, assistant string, inviteLink string) error
	// LeaveChat makes the assistant's user account leave a chat entirely.
	LeaveChat(ctx context.Context, assistant string, chatID int64) error
	// Dialogs lists the group chat ids the assistant is currently a member of.
	Dialogs(ctx context.Context, assistant string) ([]int64, error)

	// Events exposes the bridge's update stream.
	Events() <-chan Event
}
