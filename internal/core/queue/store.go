package queue

import (
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

type session struct {
	active bool
	queue  []*domain.QueuedTrack
}

// Store holds every chat's in-memory playback session: the ordered track
// queue and the active flag. Nothing here is persisted; an active call
// cannot survive a process restart anyway.
type Store struct {
	mu    sync.RWMutex
	chats map[int64]*session
}

func NewStore() *Store {
	return &Store{chats: make(map[int64]*session)}
}

func (s *Store) session(chatID int64) *session {
	sess, ok := s.chats[chatID]
	if !ok {
		sess = &session{}
		s.chats[chatID] = sess
	}
	return sess
}

// Enqueue appends a track to the chat's queue, creating the session if
// needed, and returns the track's position. When limit is positive and the
// queue already holds that many tracks, nothing is appended and -1 is
// returned. Position and append happen under one lock so concurrent callers
// can rely on exactly one of them landing at position 0.
func (s *Store) Enqueue(chatID int64, track *domain.QueuedTrack, limit int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session(chatID)
	if limit > 0 && len(sess.queue) >= limit {
		return -1
	}
	sess.queue = append(sess.queue, track)
	return len(sess.queue) - 1
}

// Head returns the currently playing track, or nil.
func (s *Store) Head(chatID int64) *domain.QueuedTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.chats[chatID]; ok && len(sess.queue) > 0 {
		return sess.queue[0]
	}
	return nil
}

// Next returns the track that would play after the head, or nil.
func (s *Store) Next(chatID int64) *domain.QueuedTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.chats[chatID]; ok && len(sess.queue) > 1 {
		return sess.queue[1]
	}
	return nil
}

// PopHead removes and returns the head track. When diskClear is set, the
// head's downloaded file is deleted best-effort; failures are logged only.
func (s *Store) PopHead(chatID int64, diskClear bool) *domain.QueuedTrack {
	s.mu.Lock()
	sess, ok := s.chats[chatID]
	if !ok || len(sess.queue) == 0 {
		s.mu.Unlock()
		return nil
	}
	removed := sess.queue[0]
	sess.queue = sess.queue[1:]
	s.mu.Unlock()

	if diskClear {
		removeTrackFile(removed)
	}
	return removed
}

// IsActive reports whether the chat has a live session.
func (s *Store) IsActive(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.chats[chatID]
	return ok && sess.active
}

// SetActive flips the chat's active flag, creating the session if needed.
func (s *Store) SetActive(chatID int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(chatID).active = active
}

// Clear drops the chat's session entirely. When diskClear is set, every
// queued track's downloaded file is deleted best-effort.
func (s *Store) Clear(chatID int64, diskClear bool) {
	s.mu.Lock()
	sess, ok := s.chats[chatID]
	if ok {
		delete(s.chats, chatID)
	}
	s.mu.Unlock()

	if ok && diskClear {
		for _, track := range sess.queue {
			removeTrackFile(track)
		}
	}
}

// Len returns the queue length for a chat.
func (s *Store) Len(chatID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.chats[chatID]; ok {
		return len(sess.queue)
	}
	return 0
}

// Loop returns the head track's remaining loop count, 0 when the queue is empty.
func (s *Store) Loop(chatID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.chats[chatID]; ok && len(sess.queue) > 0 {
		return sess.queue[0].Loop
	}
	return 0
}

// SetLoop sets the head track's loop count. Returns false on an empty queue.
func (s *Store) SetLoop(chatID int64, loop int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.chats[chatID]; ok && len(sess.queue) > 0 {
		sess.queue[0].Loop = loop
		return true
	}
	return false
}

// RemoveAt removes the track at the given queue index.
func (s *Store) RemoveAt(chatID int64, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.chats[chatID]
	if !ok || index < 0 || index >= len(sess.queue) {
		return false
	}
	sess.queue = append(sess.queue[:index], sess.queue[index+1:]...)
	return true
}

// Tracks returns a snapshot of the chat's queue in playback order.
func (s *Store) Tracks(chatID int64) []*domain.QueuedTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	out := make([]*domain.QueuedTrack, len(sess.queue))
	copy(out, sess.queue)
	return out
}

// ActiveChats enumerates chats whose sessions are active, for the reaper.
func (s *Store) ActiveChats() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for chatID, sess := range s.chats {
		if sess.active {
			out = append(out, chatID)
		}
	}
	return out
}

func removeTrackFile(track *domain.QueuedTrack) {
	if track == nil || track.FilePath == "" {
		return
	}
	if err := os.Remove(track.FilePath); err != nil && !os.IsNotExist(err) {
		logger.Base().Warn("failed to remove track file",
			zap.String("path", track.FilePath), zap.Error(err))
	}
}
