package pool

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/MelodifyLabs/melody-call-service/internal/cache"
	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

// StatsProbeChatID is the sentinel chat id used for global stats probes.
// Probes pick a random assistant and never persist an assignment.
const StatsProbeChatID int64 = 1

// AssignmentStore is the persisted chat→assistant mapping. Assignments
// outlive process restarts so a chat keeps its assistant.
type AssignmentStore interface {
	Assistant(ctx context.Context, chatID int64) (string, error)
	SetAssistant(ctx context.Context, chatID int64, assistant string) error
}

// Pool owns the fixed set of assistant sessions and hands out sticky
// per-chat assignments. The pool never grows or shrinks at runtime.
type Pool struct {
	assistants []Assistant
	store      AssignmentStore
	cache      *cache.AssignmentCache
	group      singleflight.Group
}

// Assistant is one pooled worker session.
type Assistant struct {
	ID            string // stable identifier, addressed by the call bridge
	SessionString string
}

// New builds the pool from configured session strings. An empty pool is a
// misconfiguration the process must not start with.
func New(sessionStrings []string, store AssignmentStore, assignCache *cache.AssignmentCache) (*Pool, error) {
	if len(sessionStrings) == 0 {
		return nil, domain.ErrNoAssistants
	}
	assistants := make([]Assistant, len(sessionStrings))
	for i, s := range sessionStrings {
		assistants[i] = Assistant{
			ID:            "assistant" + strconv.Itoa(i+1),
			SessionString: s,
		}
	}
	return &Pool{
		assistants: assistants,
		store:      store,
		cache:      assignCache,
	}, nil
}

// Assistants returns the pool members in configuration order.
func (p *Pool) Assistants() []Assistant {
	out := make([]Assistant, len(p.assistants))
	copy(out, p.assistants)
	return out
}

// Contains reports whether an assistant id belongs to the pool.
func (p *Pool) Contains(id string) bool {
	for _, a := range p.assistants {
		if a.ID == id {
			return true
		}
	}
	return false
}

func (p *Pool) random() string {
	return p.assistants[rand.Intn(len(p.assistants))].ID
}

// Assign resolves the chat's sticky assistant. An existing persisted
// assignment wins as long as that assistant is still pooled; otherwise a
// uniformly random member is chosen and persisted. Concurrent misses for the
// same chat collapse into one fill so two callers can never race distinct
// random picks onto the same chat.
func (p *Pool) Assign(ctx context.Context, chatID int64) (string, error) {
	if len(p.assistants) == 0 {
		return "", domain.ErrNoAssistants
	}

	if chatID == StatsProbeChatID {
		return p.random(), nil
	}

	if id, ok := p.cache.Get(chatID); ok && p.Contains(id) {
		return id, nil
	}

	v, err, _ := p.group.Do(strconv.FormatInt(chatID, 10), func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have filled it.
		if id, ok := p.cache.Get(chatID); ok && p.Contains(id) {
			return id, nil
		}

		persisted, err := p.store.Assistant(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("read assignment for chat %d: %w", chatID, err)
		}
		if persisted != "" && p.Contains(persisted) {
			p.cache.Set(chatID, persisted)
			return persisted, nil
		}

		id := p.random()
		if err := p.store.SetAssistant(ctx, chatID, id); err != nil {
			return nil, fmt.Errorf("persist assignment for chat %d: %w", chatID, err)
		}
		p.cache.Set(chatID, id)
		logger.L().Infow("assigned assistant", "chat_id", chatID, "assistant", id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Release drops the chat's cached assignment; the persisted record stays so
// the chat keeps its assistant on the next call.
func (p *Pool) Release(chatID int64) {
	p.cache.Delete(chatID)
}
