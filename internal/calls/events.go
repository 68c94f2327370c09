package calls

// EventType represents the type of update emitted by the call bridge.
type EventType string

const (
	// StreamEnded fires when the current media for a chat finished playing.
	StreamEnded EventType = "stream.ended"
	// ParticipantsChanged fires when someone joins or leaves the voice chat.
	ParticipantsChanged EventType = "call.participants_changed"
	// KickedOrLeft fires when the assistant was removed from the call or the
	// video chat was closed.
	KickedOrLeft EventType = "call.kicked_or_left"
)

// Event is one update from the bridge's stream, scoped to a single chat.
type Event struct {
	Type         EventType `json:"type"`
	ChatID       int64     `json:"chat_id"`
	Assistant    string    `json:"assistant"`
	Participants int       `json:"participants,omitempty"`
}

// Participant is one member of a live voice chat.
type Participant struct {
	UserID int64 `json:"user_id"`
	Muted  bool  `json:"muted"`
	Video  bool  `json:"video"`
}
