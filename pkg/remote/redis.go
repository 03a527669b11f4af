package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const defaultRedisPrefix = "chatsync"

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// RedisBackend keeps every conversation as one JSON document and orders them
// with a sorted set scored by creation time.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, s RedisSettings) (*RedisBackend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", s.Addr)
	}
	return NewRedisBackend(rdb, s.Prefix), nil
}

func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (r *RedisBackend) indexKey() string {
	return r.prefix + ":conversations"
}

func (r *RedisBackend) conversationKey(id string) string {
	return r.prefix + ":conversation:" + id
}

func (r *RedisBackend) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "listing conversation ids")
	}
	if len(ids) == 0 {
		return []chat.Conversation{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.conversationKey(id))
	}
	docs, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "loading conversations")
	}

	ret := make([]chat.Conversation, 0, len(docs))
	for i, doc := range docs {
		s, ok := doc.(string)
		if !ok {
			// index entry without document
			continue
		}
		var c chat.Conversation
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			return nil, errors.Wrapf(err, "decoding conversation %s", ids[i])
		}
		if c.Messages == nil {
			c.Messages = []chat.Message{}
		}
		ret = append(ret, c)
	}
	return ret, nil
}

func (r *RedisBackend) CreateConversation(ctx context.Context, title string) (string, error) {
	c := chat.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []chat.Message{},
		CreatedAt: time.Now().UTC(),
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "encoding conversation")
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.conversationKey(c.ID), b, 0)
		pipe.ZAdd(ctx, r.indexKey(), &redis.Z{Score: float64(c.CreatedAt.UnixNano()), Member: c.ID})
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "creating conversation")
	}
	return c.ID, nil
}

// update applies fn to the stored document under an optimistic lock.
func (r *RedisBackend) update(ctx context.Context, id string, fn func(c *chat.Conversation)) error {
	key := r.conversationKey(id)
	txf := func(tx *redis.Tx) error {
		s, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return errors.Wrapf(ErrNotFound, "conversation %s", id)
		}
		if err != nil {
			return err
		}
		var c chat.Conversation
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			return errors.Wrapf(err, "decoding conversation %s", id)
		}
		fn(&c)
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return errors.Errorf("conversation %s: too much contention", id)
}

func (r *RedisBackend) UpdateConversationTitle(ctx context.Context, id, title string) error {
	return r.update(ctx, id, func(c *chat.Conversation) {
		c.Title = title
	})
}

func (r *RedisBackend) DeleteConversation(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, r.conversationKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "deleting conversation")
	}
	if removed.Val() == 0 {
		return errors.Wrapf(ErrNotFound, "conversation %s", id)
	}
	return nil
}

// AppendMessage is idempotent on the message id, so a retried append whose
// first response got lost does not duplicate the message.
func (r *RedisBackend) AppendMessage(ctx context.Context, conversationID string, message chat.Message) error {
	if err := validateMessage(message); err != nil {
		return err
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	return r.update(ctx, conversationID, func(c *chat.Conversation) {
		for _, m := range c.Messages {
			if m.ID == message.ID {
				return
			}
		}
		c.Messages = append(c.Messages, message)
	})
}

func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}

var _ Backend = &RedisBackend{}
