package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warranty_auth/internal/config"
	"warranty_auth/internal/models"
	"warranty_auth/internal/storage"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "oauth2:state:"

var ErrStateExists = errors.New("oauth state already exists")

// StateStore keeps single-use OAuth2 state values until the provider redirects back.
type StateStore struct {
	client *redis.Client
}

func New(ctx context.Context, cfg config.Redis) (*StateStore, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &StateStore{
		client: client,
	}, nil
}

// * Save сохраняет state с провайдером (атомарно через SETNX)
func (s *StateStore) Save(ctx context.Context, state string, provider models.Provider, ttl time.Duration) error {
	const op = "storage.redis.Save"

	ok, err := s.client.SetNX(ctx, stateKeyPrefix+state, string(provider), ttl).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrStateExists)
	}

	return nil
}

// * Consume возвращает провайдера и удаляет state; повторное использование невозможно
func (s *StateStore) Consume(ctx context.Context, state string) (models.Provider, error) {
	const op = "storage.redis.Consume"

	val, err := s.client.GetDel(ctx, stateKeyPrefix+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", storage.ErrOAuthStateNotFound
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return models.Provider(val), nil
}

// * Close закрывает соединение с Redis.
func (s *StateStore) Close() {
	_ = s.client.Close()
}
