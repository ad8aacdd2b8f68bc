package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nomadeum/nomadeum/internal/domain"
)

// Keys shared by all conversations. activityKey scores conversation ids by
// their last update in milliseconds; ownersKey maps ids to their owner so a
// conversation whose record already expired can still be swept.
const (
	activityKey = "conv:activity"
	ownersKey   = "conv:owners"
)

// RedisStore implements Repository on Redis. Every conversation key expires
// after the conversation TTL; the activity index lets the TTL worker find
// those conversations and close their streams.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// conversationKey returns the key holding a conversation record.
func conversationKey(id string) string {
	return fmt.Sprintf("conv:%s", id)
}

// conversationIndexKey returns the key mapping a user's tab to its conversation id.
func conversationIndexKey(userID, sessionID string) string {
	return fmt.Sprintf("conv:index:%s:%s", userID, sessionID)
}

// messagesKey returns the key of a conversation's message list.
func messagesKey(id string) string {
	return fmt.Sprintf("conv:%s:messages", id)
}

type owner struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// GetConversation retrieves the conversation of a user's tab.
func (s *RedisStore) GetConversation(ctx context.Context, userID, sessionID string) (*domain.Conversation, error) {
	id, err := s.client.Get(ctx, conversationIndexKey(userID, sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation index: %w", err)
	}

	data, err := s.client.Get(ctx, conversationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	var conv domain.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &conv, nil
}

// UpsertConversation creates or updates a conversation record and refreshes its TTL.
func (s *RedisStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	ownerData, err := json.Marshal(owner{UserID: conv.UserID, SessionID: conv.SessionID})
	if err != nil {
		return fmt.Errorf("encode owner: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, conversationKey(conv.ID), data, s.ttl)
	pipe.Set(ctx, conversationIndexKey(conv.UserID, conv.SessionID), conv.ID, s.ttl)
	pipe.Expire(ctx, messagesKey(conv.ID), s.ttl)
	pipe.HSet(ctx, ownersKey, conv.ID, ownerData)
	pipe.ZAdd(ctx, activityKey, redis.Z{Score: float64(conv.UpdatedAt.UnixMilli()), Member: conv.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// AppendMessages pushes messages onto the conversation's list.
func (s *RedisStore) AppendMessages(ctx context.Context, conversationID string, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		m.ConversationID = conversationID
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, data)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, messagesKey(conversationID), values...)
	pipe.Expire(ctx, messagesKey(conversationID), s.ttl)
	pipe.Expire(ctx, conversationKey(conversationID), s.ttl)
	pipe.ZAddXX(ctx, activityKey, redis.Z{Score: float64(time.Now().UnixMilli()), Member: conversationID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in insertion order.
func (s *RedisStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	raw, err := s.client.LRange(ctx, messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// DeleteConversation removes a conversation, its index entry and its messages.
func (s *RedisStore) DeleteConversation(ctx context.Context, conversationID string) error {
	ownerData, err := s.client.HGet(ctx, ownersKey, conversationID).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get conversation owner: %w", err)
	}

	keys := []string{conversationKey(conversationID), messagesKey(conversationID)}
	if err == nil {
		var o owner
		if json.Unmarshal(ownerData, &o) == nil {
			keys = append(keys, conversationIndexKey(o.UserID, o.SessionID))
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.HDel(ctx, ownersKey, conversationID)
	pipe.ZRem(ctx, activityKey, conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// GetExpiredConversations returns conversations idle for longer than ttl.
// Only the id and owner are set when Redis already expired the record.
func (s *RedisStore) GetExpiredConversations(ctx context.Context, ttl time.Duration) ([]*domain.Conversation, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, activityKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", threshold),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query expired conversations: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	owners, err := s.client.HMGet(ctx, ownersKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("get conversation owners: %w", err)
	}

	convs := make([]*domain.Conversation, 0, len(ids))
	for i, id := range ids {
		conv := &domain.Conversation{ID: id}
		if raw, ok := owners[i].(string); ok {
			var o owner
			if err := json.Unmarshal([]byte(raw), &o); err != nil {
				return nil, fmt.Errorf("decode conversation owner: %w", err)
			}
			conv.UserID = o.UserID
			conv.SessionID = o.SessionID
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
