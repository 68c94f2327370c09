package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MelodifyLabs/melody-call-service/internal/telegram"
)

const (
	keyMemberStatus = "melody:member_status"
	keyInviteLink   = "melody:invite_link"

	// TTLs keep redundant Bot API lookups down without holding stale
	// membership state for long.
	memberStatusTTL = 15 * time.Minute
	inviteLinkTTL   = 15 * time.Minute
)

// RedisCache holds the short-TTL lookaside caches shared by the join manager:
// last-known assistant membership per chat and the chat's invite link.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to redis and verifies the connection.
func NewRedisCache(host, port, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemberStatus returns the cached membership state for (chat, user), or
// ok=false on a miss. Cache errors are treated as misses.
func (c *RedisCache) MemberStatus(ctx context.Context, chatID, userID int64) (telegram.MemberStatus, bool) {
	key := fmt.Sprintf("%s:%d:%d", keyMemberStatus, chatID, userID)
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return telegram.MemberStatus(val), true
}

// SetMemberStatus records the membership state for (chat, user).
func (c *RedisCache) SetMemberStatus(ctx context.Context, chatID, userID int64, status telegram.MemberStatus) error {
	key := fmt.Sprintf("%s:%d:%d", keyMemberStatus, chatID, userID)
	return c.client.Set(ctx, key, string(status), memberStatusTTL).Err()
}

// InviteLink returns the cached invite link for a chat, or "" on a miss.
func (c *RedisCache) InviteLink(ctx context.Context, chatID int64) (string, error) {
	key := fmt.Sprintf("%s:%d", keyInviteLink, chatID)
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// SetInviteLink caches a chat's invite link.
func (c *RedisCache) SetInviteLink(ctx context.Context, chatID int64, link string) error {
	key := fmt.Sprintf("%s:%d", keyInviteLink, chatID)
	return c.client.Set(ctx, key, link, inviteLinkTTL).Err()
}

// DropInviteLink invalidates a cached invite link (e.g. after expiry).
func (c *RedisCache) DropInviteLink(ctx context.Context, chatID int64) error {
	key := fmt.Sprintf("%s:%d", keyInviteLink, chatID)
	return c.client.Del(ctx, key).Err()
}
