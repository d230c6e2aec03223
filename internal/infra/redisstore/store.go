package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"linkdigest/internal/config"
	"linkdigest/internal/ports"
)

var _ ports.Store = (*Store)(nil)

// Store implements ports.Store on Redis.
type Store struct {
	cfg config.Redis
	rdb *redis.Client
}

func New(cfg config.Redis) *Store {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{cfg: cfg, rdb: c}
}

func (s *Store) Connect(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *Store) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string) error {
	m := make(map[string]any, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return s.rdb.HSet(ctx, key, m).Err()
}

func (s *Store) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, key, fields...).Err()
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *Store) SortedAdd(ctx context.Context, key, member string, score float64) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *Store) SortedScore(ctx context.Context, key, member string) (float64, bool, error) {
	sc, err := s.rdb.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return sc, true, nil
}

func (s *Store) SortedRangeByScore(ctx context.Context, key string, min, max float64, count int64) ([]string, error) {
	rng := &redis.ZRangeBy{
		Min: fmtScore(min),
		Max: fmtScore(max),
	}
	if count > 0 {
		rng.Count = count
	}
	return s.rdb.ZRangeByScore(ctx, key, rng).Result()
}

func (s *Store) SortedRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ms := make([]any, len(members))
	for i, m := range members {
		ms[i] = m
	}
	return s.rdb.ZRem(ctx, key, ms...).Err()
}

func (s *Store) SortedRemoveRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	return s.rdb.ZRemRangeByScore(ctx, key, fmtScore(min), fmtScore(max)).Result()
}

func fmtScore(f float64) string {
	switch {
	case f > maxFinite:
		return "+inf"
	case f < -maxFinite:
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

const maxFinite = 1e308
