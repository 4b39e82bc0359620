package inbound

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// RedisLedger shares dedup state between replicas using SET NX with a TTL.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *logging.Logger
}

// NewRedisLedger creates a Redis-backed ledger.
func NewRedisLedger(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisLedger {
	if client == nil {
		panic("inbound: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisLedger{
		client: client,
		ttl:    ttl,
		prefix: "inbound:mid:",
		logger: logger,
	}
}

// SeenOrMark implements Ledger.
func (l *RedisLedger) SeenOrMark(ctx context.Context, messageID string) bool {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		l.logger.Debug("inbound: message without id treated as new")
		return false
	}
	created, err := l.client.SetNX(ctx, l.key(messageID), 1, l.ttl).Result()
	if err != nil {
		l.logger.Warn("inbound: redis ledger unavailable, treating message as new",
			"message_id", messageID,
			"error", err,
		)
		return false
	}
	return !created
}

func (l *RedisLedger) key(messageID string) string {
	return fmt.Sprintf("%s%s", l.prefix, messageID)
}
