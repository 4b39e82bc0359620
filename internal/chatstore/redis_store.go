package chatstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const activityKey = "chat:activity"

// RedisStore keeps each user's history in a capped list plus a metadata hash,
// and indexes last activity in a sorted set for the follow-up sweep.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	limit  int
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store. A non-positive limit uses DefaultLimit.
func NewRedisStore(client *redis.Client, limit int, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("chatstore: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("concierge.internal.chatstore.redis")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &RedisStore{redis: client, tracer: tracer, limit: limit, now: time.Now}
}

func (s *RedisStore) Append(ctx context.Context, userID string, msgs []Message, touch bool) error {
	ctx, span := s.tracer.Start(ctx, "chatstore.append")
	defer span.End()

	if len(msgs) == 0 {
		return nil
	}
	now := s.now().UTC()
	values := make([]any, 0, len(msgs))
	for _, m := range stamp(msgs, now) {
		data, err := json.Marshal(m)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("chatstore: failed to marshal message: %w", err)
		}
		values = append(values, data)
	}

	created, err := s.redis.HSetNX(ctx, metaKey(userID), "created_at", now.Unix()).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("chatstore: failed to write metadata: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, messagesKey(userID), values...)
	pipe.LTrim(ctx, messagesKey(userID), int64(-s.limit), -1)
	if created || touch {
		pipe.HSet(ctx, metaKey(userID), "updated_at", now.Unix())
		pipe.ZAdd(ctx, activityKey, redis.Z{Score: float64(now.Unix()), Member: userID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("chatstore: failed to persist messages: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, userID string) ([]Message, error) {
	ctx, span := s.tracer.Start(ctx, "chatstore.recent")
	defer span.End()

	raw, err := s.redis.LRange(ctx, messagesKey(userID), int64(-s.limit), -1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chatstore: failed to load history: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("chatstore: failed to decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) ListInactive(ctx context.Context, before time.Time) ([]Activity, error) {
	ctx, span := s.tracer.Start(ctx, "chatstore.list_inactive")
	defer span.End()

	members, err := s.redis.ZRangeByScoreWithScores(ctx, activityKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chatstore: failed to scan activity: %w", err)
	}
	out := make([]Activity, 0, len(members))
	for _, z := range members {
		userID, _ := z.Member.(string)
		act := Activity{UserID: userID, UpdatedAt: time.Unix(int64(z.Score), 0).UTC()}
		if createdAt, err := s.redis.HGet(ctx, metaKey(userID), "created_at").Int64(); err == nil {
			act.CreatedAt = time.Unix(createdAt, 0).UTC()
		}
		out = append(out, act)
	}
	return out, nil
}

func messagesKey(userID string) string {
	return fmt.Sprintf("chat:%s:messages", userID)
}

func metaKey(userID string) string {
	return fmt.Sprintf("chat:%s:meta", userID)
}
