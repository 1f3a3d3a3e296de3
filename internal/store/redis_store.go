package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store backed by a single Redis database.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at addr/db using password (empty for none).
func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SetInfo(ctx context.Context, autoID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return s.client.HSet(ctx, infoKey(autoID), values).Err()
}

func (s *RedisStore) GetInfo(ctx context.Context, autoID string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, infoKey(autoID)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *RedisStore) SetInfoField(ctx context.Context, autoID, field, value string) error {
	return s.client.HSet(ctx, infoKey(autoID), field, value).Err()
}

func (s *RedisStore) DeleteAutomation(ctx context.Context, autoID string) error {
	pattern := "a:" + autoID + ":*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (s *RedisStore) ScanAutomationIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "a:*:info", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			// a:<aid>:info -> <aid>
			id := k[len("a:") : len(k)-len(":info")]
			ids = append(ids, id)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

func (s *RedisStore) SetScopes(ctx context.Context, autoID string, scopes []string) error {
	if len(scopes) == 0 {
		return nil
	}
	members := make([]interface{}, len(scopes))
	for i, sc := range scopes {
		members[i] = sc
	}
	return s.client.SAdd(ctx, scopeKey(autoID), members...).Err()
}

func (s *RedisStore) GetScopes(ctx context.Context, autoID string) ([]string, error) {
	return s.client.SMembers(ctx, scopeKey(autoID)).Result()
}

// entrySep separates the hops count from the URL in a frontier list entry.
// NUL cannot appear in a URL, so the split is unambiguous.
const entrySep = "\x00"

func encodeEntry(url string, hops int) string {
	return strconv.Itoa(hops) + entrySep + url
}

func decodeEntry(raw string) (url string, hops int, err error) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == entrySep[0] {
			hops, err = strconv.Atoi(raw[:i])
			if err != nil {
				return "", 0, fmt.Errorf("store: malformed frontier entry %q: %w", raw, err)
			}
			return raw[i+1:], hops, nil
		}
	}
	return "", 0, fmt.Errorf("store: malformed frontier entry %q", raw)
}

func (s *RedisStore) Enqueue(ctx context.Context, autoID string, url string, hops int) error {
	return s.client.RPush(ctx, queueKey(autoID), encodeEntry(url, hops)).Err()
}

func (s *RedisStore) RequeueFront(ctx context.Context, autoID string, url string, hops int) error {
	return s.client.LPush(ctx, queueKey(autoID), encodeEntry(url, hops)).Err()
}

func (s *RedisStore) PopBlocking(ctx context.Context, autoID string, timeout time.Duration) (string, int, bool, error) {
	res, err := s.client.BLPop(ctx, timeout, queueKey(autoID)).Result()
	if err == redis.Nil {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	// res[0] is the key name, res[1] is the value.
	url, hops, err := decodeEntry(res[1])
	if err != nil {
		return "", 0, false, err
	}
	return url, hops, true, nil
}

func (s *RedisStore) SnapshotQueue(ctx context.Context, autoID string) ([]QueueEntry, error) {
	raw, err := s.client.LRange(ctx, queueKey(autoID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]QueueEntry, 0, len(raw))
	for _, r := range raw {
		url, hops, err := decodeEntry(r)
		if err != nil {
			continue
		}
		entries = append(entries, QueueEntry{URL: url, Hops: hops})
	}
	return entries, nil
}

func (s *RedisStore) AddBrowser(ctx context.Context, autoID, reqid string) error {
	return s.client.SAdd(ctx, brKey(autoID), reqid).Err()
}

func (s *RedisStore) RemoveBrowser(ctx context.Context, autoID, reqid string) error {
	return s.client.SRem(ctx, brKey(autoID), reqid).Err()
}

func (s *RedisStore) ListBrowsers(ctx context.Context, autoID string) ([]string, error) {
	return s.client.SMembers(ctx, brKey(autoID)).Result()
}

func (s *RedisStore) SetTabURL(ctx context.Context, autoID, reqid, tabID, url string) error {
	return s.client.HSet(ctx, tabKey(autoID, reqid), tabID, url).Err()
}

func (s *RedisStore) ClearTabURL(ctx context.Context, autoID, reqid, tabID string) error {
	return s.client.HSet(ctx, tabKey(autoID, reqid), tabID, "").Err()
}

func (s *RedisStore) GetTabs(ctx context.Context, autoID, reqid string) (BrowserTabs, error) {
	m, err := s.client.HGetAll(ctx, tabKey(autoID, reqid)).Result()
	if err != nil {
		return nil, err
	}
	return BrowserTabs(m), nil
}

func (s *RedisStore) DeleteTabs(ctx context.Context, autoID, reqid string) error {
	return s.client.Del(ctx, tabKey(autoID, reqid)).Err()
}

func (s *RedisStore) SnapshotAllTabs(ctx context.Context, autoID string) (map[string]BrowserTabs, error) {
	reqids, err := s.ListBrowsers(ctx, autoID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]BrowserTabs, len(reqids))
	for _, r := range reqids {
		tabs, err := s.GetTabs(ctx, autoID, r)
		if err != nil {
			return nil, err
		}
		out[r] = tabs
	}
	return out, nil
}

func (s *RedisStore) PushNewAuto(ctx context.Context, autoID string) error {
	return s.client.RPush(ctx, newAutoKey, autoID).Err()
}

func (s *RedisStore) PushDelAuto(ctx context.Context, autoID string) error {
	return s.client.RPush(ctx, delAutoKey, autoID).Err()
}

func (s *RedisStore) drain(ctx context.Context, key string) ([]string, error) {
	var ids []string
	for {
		id, err := s.client.LPop(ctx, key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *RedisStore) DrainNewAuto(ctx context.Context) ([]string, error) {
	return s.drain(ctx, newAutoKey)
}

func (s *RedisStore) DrainDelAuto(ctx context.Context) ([]string, error) {
	return s.drain(ctx, delAutoKey)
}

func (s *RedisStore) NextAutomationID(ctx context.Context) (string, error) {
	n, err := s.client.Incr(ctx, idCounterKey).Result()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for msg := range ch {
			out <- []byte(msg.Payload)
		}
	}()

	return &redisSubscription{pubsub: pubsub, out: out}, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
}

func (r *redisSubscription) Messages() <-chan []byte { return r.out }
func (r *redisSubscription) Close() error            { return r.pubsub.Close() }
