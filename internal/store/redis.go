package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mochaeng/barq/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	paymentPrefix  = "payment:"
	attemptsPrefix = "attempts:"
	lockPrefix     = "lock:"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	return &RedisStore{
		client: client,
	}, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// SavePayment writes the payment header and replaces its attempt list in one
// transaction.
func (r *RedisStore) SavePayment(ctx context.Context, payment *models.Payment) error {
	header := *payment
	header.Attempts = nil
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal payment: %w", err)
	}

	attempts := make([]any, 0, len(payment.Attempts))
	for _, a := range payment.Attempts {
		raw, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal attempt: %w", err)
		}
		attempts = append(attempts, raw)
	}

	attemptsKey := attemptsPrefix + payment.PaymentHash
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, paymentPrefix+payment.PaymentHash, data, 0)
		pipe.Del(ctx, attemptsKey)
		if len(attempts) > 0 {
			pipe.RPush(ctx, attemptsKey, attempts...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (r *RedisStore) GetPayment(ctx context.Context, paymentHash string) (*models.Payment, error) {
	data, err := r.client.Get(ctx, paymentPrefix+paymentHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: payment %s", models.ErrNotFound, paymentHash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	var payment models.Payment
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	attempts, err := r.Attempts(ctx, paymentHash)
	if err != nil {
		return nil, err
	}
	payment.Attempts = attempts
	return &payment, nil
}

func (r *RedisStore) AppendAttempt(ctx context.Context, paymentHash string, attempt *models.PaymentAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}
	return r.client.RPush(ctx, attemptsPrefix+paymentHash, data).Err()
}

func (r *RedisStore) Attempts(ctx context.Context, paymentHash string) ([]*models.PaymentAttempt, error) {
	raw, err := r.client.LRange(ctx, attemptsPrefix+paymentHash, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	attempts := make([]*models.PaymentAttempt, 0, len(raw))
	for _, item := range raw {
		var a models.PaymentAttempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, nil
}

// Acquire marks paymentHash as being paid. It fails with
// models.ErrPaymentInProgress if another caller holds it.
func (r *RedisStore) Acquire(ctx context.Context, paymentHash string) error {
	ok, err := r.client.SetNX(ctx, lockPrefix+paymentHash, 1, lockTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire payment lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrPaymentInProgress, paymentHash)
	}
	return nil
}

func (r *RedisStore) Release(ctx context.Context, paymentHash string) error {
	return r.client.Del(ctx, lockPrefix+paymentHash).Err()
}
