package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"statusbot/internal/notify"
	"statusbot/pkg/logx"
)

const defaultKeyPrefix = "statusbot:"

// redisStore keeps subscriptions as JSON members of one list (insertion
// order) plus one set per chat holding that chat's members, so removal
// does not scan the whole list. Both are written in one MULTI and removed in
// one script. Dedup entries are plain keys with a TTL.
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

type redisSub struct {
	ID        string `json:"id"`
	ChatID    int64  `json:"chatId"`
	Category  string `json:"notificationType"`
	CreatedAt int64  `json:"createdAt"`
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, wrapErr("open", fmt.Errorf("redis PING %s: %w", addr, err))
	}
	log.Info("redis store ready", logx.String("addr", addr))
	return newRedisStore(client, cfg.KeyPrefix, log), nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultKeyPrefix
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) listKey() string { return s.prefix + "subscriptions" }
func (s *redisStore) chatKey(chatID int64) string { return s.prefix + "chat:" + strconv.FormatInt(chatID, 10) }
func (s *redisStore) dedupKey(key string) string { return s.prefix + "dedup:" + key }

func (s *redisStore) Insert(ctx context.Context, chatID int64, category notify.Category) (notify.Subscription, error) {
	if err := validCategory(category); err != nil {
		return notify.Subscription{}, wrapErr("insert", err)
	}
	sub := newSubscription(chatID, category)
	data, err := json.Marshal(redisSub{ID: sub.ID, ChatID: sub.ChatID, Category: string(sub.Category), CreatedAt: sub.CreatedAt.UnixMilli()})
	if err != nil {
		return notify.Subscription{}, wrapErr("insert", fmt.Errorf("marshal subscription: %w", err))
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, s.listKey(), string(data))
		p.SAdd(ctx, s.chatKey(chatID), string(data))
		return nil
	})
	if err != nil {
		return notify.Subscription{}, wrapErr("insert", fmt.Errorf("redis RPUSH %s: %w", s.listKey(), err))
	}
	return sub, nil
}

func (s *redisStore) ListAll(ctx context.Context) ([]notify.Subscription, error) {
	members, err := s.client.LRange(ctx, s.listKey(), 0, -1).Result()
	if err != nil {
		return nil, wrapErr("list", fmt.Errorf("redis LRANGE %s: %w", s.listKey(), err))
	}
	out := make([]notify.Subscription, 0, len(members))
	for _, m := range members {
		var r redisSub
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			s.log.Warn("skipping malformed subscription entry", logx.Err(err))
			continue
		}
		c, err := notify.ParseCategory(r.Category)
		if err != nil {
			s.log.Warn("skipping subscription with unknown category", logx.String("id", r.ID), logx.String("category", r.Category))
			continue
		}
		out = append(out, notify.Subscription{ID: r.ID, ChatID: r.ChatID, Category: c, CreatedAt: time.UnixMilli(r.CreatedAt).UTC()})
	}
	return out, nil
}

// deleteChatScript removes every member of the chat set from the list and
// drops the set in one step, so an Insert for the same chat cannot land
// between the read and the removal.
var deleteChatScript = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[2])
local n = 0
for _, m in ipairs(members) do
	n = n + redis.call("LREM", KEYS[1], 0, m)
end
redis.call("DEL", KEYS[2])
return n
`)

func (s *redisStore) DeleteByChat(ctx context.Context, chatID int64) (int, error) {
	key := s.chatKey(chatID)
	n, err := deleteChatScript.Run(ctx, s.client, []string{s.listKey(), key}).Int()
	if err != nil {
		return 0, wrapErr("delete", fmt.Errorf("redis delete %s: %w", key, err))
	}
	return n, nil
}

func (s *redisStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return wrapErr("put_dedup", s.client.Del(ctx, s.dedupKey(key)).Err())
	}
	err := s.client.Set(ctx, s.dedupKey(key), until.UnixMilli(), ttl).Err()
	if err != nil {
		return wrapErr("put_dedup", fmt.Errorf("redis SET %s: %w", s.dedupKey(key), err))
	}
	return nil
}

func (s *redisStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	ms, err := s.client.Get(ctx, s.dedupKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapErr("get_dedup", fmt.Errorf("redis GET %s: %w", s.dedupKey(key), err))
	}
	return time.UnixMilli(ms), true, nil
}

func (s *redisStore) Close() error { return s.client.Close() }
