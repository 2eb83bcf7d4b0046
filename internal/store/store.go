// Package store archives payments by payment hash and guards against two
// concurrent pay requests for the same hash.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mochaeng/barq/internal/models"
)

// lockTTL bounds how long a crashed payer can block a hash.
const lockTTL = 10 * time.Minute

type PaymentStore interface {
	SavePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, paymentHash string) (*models.Payment, error)
	AppendAttempt(ctx context.Context, paymentHash string, attempt *models.PaymentAttempt) error
	Attempts(ctx context.Context, paymentHash string) ([]*models.PaymentAttempt, error)
	Acquire(ctx context.Context, paymentHash string) error
	Release(ctx context.Context, paymentHash string) error
}

var (
	_ PaymentStore = (*RedisStore)(nil)
	_ PaymentStore = (*MemoryStore)(nil)
)

// MemoryStore keeps JSON copies so callers never share state with the
// archive.
type MemoryStore struct {
	mu       sync.Mutex
	payments map[string][]byte
	attempts map[string][][]byte
	locks    map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string][]byte),
		attempts: make(map[string][][]byte),
		locks:    make(map[string]struct{}),
	}
}

func (m *MemoryStore) SavePayment(ctx context.Context, payment *models.Payment) error {
	header := *payment
	header.Attempts = nil
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal payment: %w", err)
	}

	attempts := make([][]byte, 0, len(payment.Attempts))
	for _, a := range payment.Attempts {
		raw, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal attempt: %w", err)
		}
		attempts = append(attempts, raw)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.PaymentHash] = data
	m.attempts[payment.PaymentHash] = attempts
	return nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, paymentHash string) (*models.Payment, error) {
	m.mu.Lock()
	data, ok := m.payments[paymentHash]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", models.ErrNotFound, paymentHash)
	}

	var payment models.Payment
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	attempts, err := m.Attempts(ctx, paymentHash)
	if err != nil {
		return nil, err
	}
	payment.Attempts = attempts
	return &payment, nil
}

func (m *MemoryStore) AppendAttempt(ctx context.Context, paymentHash string, attempt *models.PaymentAttempt) error {
	raw, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[paymentHash] = append(m.attempts[paymentHash], raw)
	return nil
}

func (m *MemoryStore) Attempts(ctx context.Context, paymentHash string) ([]*models.PaymentAttempt, error) {
	m.mu.Lock()
	raw := append([][]byte(nil), m.attempts[paymentHash]...)
	m.mu.Unlock()

	attempts := make([]*models.PaymentAttempt, 0, len(raw))
	for _, item := range raw {
		var a models.PaymentAttempt
		if err := json.Unmarshal(item, &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, nil
}

func (m *MemoryStore) Acquire(ctx context.Context, paymentHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[paymentHash]; held {
		return fmt.Errorf("%w: %s", models.ErrPaymentInProgress, paymentHash)
	}
	m.locks[paymentHash] = struct{}{}
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, paymentHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, paymentHash)
	return nil
}
