package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fansqz/trace-debugger/backend"
	e "github.com/fansqz/trace-debugger/error"
	"github.com/fansqz/trace-debugger/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// maxIndexSize 索引中最多保留的trace数量
const maxIndexSize = 100

// RedisStore 将trace保存到redis，同时维护最近保存的trace列表
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type Option func(*RedisStore)

// WithTTL 设置trace的过期时间，0表示不过期
func WithTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

func WithPrefix(prefix string) Option {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

func NewRedisStore(address string, opts ...Option) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: address}), opts...)
}

func NewRedisStoreFromClient(client *redis.Client, opts ...Option) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: "trace:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Write 保存trace，返回 redis://<key>
func (s *RedisStore) Write(ctx context.Context, trace *backend.BackendTrace, sourcePath string) (string, error) {
	data, err := json.Marshal(trace)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trace: %w", err)
	}
	key := s.prefix + utils.GetUUID()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.LPush(ctx, s.indexKey(), key)
	pipe.LTrim(ctx, s.indexKey(), 0, maxIndexSize-1)
	if _, err = pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to save trace to redis: %w", err)
	}
	logrus.Infof("[RedisStore] trace saved, key = %s, source = %s", key, sourcePath)
	return RedisScheme + key, nil
}

// Load 位置可以是 redis://<key> 或者直接是key
func (s *RedisStore) Load(ctx context.Context, location string) (*backend.BackendTrace, error) {
	key := strings.TrimPrefix(location, RedisScheme)
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", e.ErrTraceNotFound, key)
		}
		return nil, fmt.Errorf("failed to get trace from redis: %w", err)
	}
	trace := &backend.BackendTrace{}
	if err = json.Unmarshal(val, trace); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace: %w", err)
	}
	return trace, nil
}

// List 最近保存的trace位置，过期的trace会从索引中清理
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.client.LRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	locations := make([]string, 0, len(keys))
	for _, key := range keys {
		exists, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if exists == 0 {
			s.client.LRem(ctx, s.indexKey(), 0, key)
			continue
		}
		locations = append(locations, RedisScheme+key)
	}
	return locations, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
