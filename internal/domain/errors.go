package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error is the typed failure surfaced to command handlers. Code follows
// HTTP-ish semantics: 400 bad request, 404 no active call / not found,
// 409 unmute needed, 429 rate limited, 500 internal, 502 upstream.
type Error struct {
	Code    int
	Message string
	// RetryAfter is set only for rate-limited (429) errors.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// NewError builds a typed error with a formatted message.
func NewError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RateLimited builds a 429 error carrying the provider's retry-after hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Code:       429,
		Message:    fmt.Sprintf("rate limited, retry after %s", retryAfter),
		RetryAfter: retryAfter,
	}
}

// ErrorCode extracts the code from a typed error, or 500 for anything else.
func ErrorCode(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return 500
}

// Sentinel errors. These are wrapped into typed errors at the controller
// boundary; internal callers test them with errors.Is.
var (
	ErrNoAssistants      = errors.New("no assistants available")
	ErrAssistantNotReady = errors.New("assistant session not initialized")
	ErrInviteExpired     = errors.New("invite link expired")
	ErrQueueEmpty        = errors.New("queue is empty")
	ErrNotInCall         = errors.New("not in a call")
	ErrNoActiveCall      = errors.New("no active voice chat")
	ErrServerBusy        = errors.New("upstream server error")
	ErrUnmuteNeeded      = errors.New("stream requires unmute")
	ErrNoAudioSource     = errors.New("no audio source found")
	ErrTrackNotFound     = errors.New("track not found")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrDownloadFailed    = errors.New("download failed")
)
