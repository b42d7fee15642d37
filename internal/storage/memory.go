package storage

import (
	"context"
	"sync"
	"time"

	"statusbot/internal/notify"
)

// Memory keeps everything in process. Used by tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	subs   []notify.Subscription
	dedup  map[string]time.Time
	closed bool
}

func NewMemory() *Memory {
	return &Memory{dedup: map[string]time.Time{}}
}

func (m *Memory) Insert(ctx context.Context, chatID int64, category notify.Category) (notify.Subscription, error) {
	if err := validCategory(category); err != nil {
		return notify.Subscription{}, wrapErr("insert", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return notify.Subscription{}, wrapErr("insert", ErrDisabled)
	}
	sub := newSubscription(chatID, category)
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *Memory) ListAll(ctx context.Context) ([]notify.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, wrapErr("list", ErrDisabled)
	}
	out := make([]notify.Subscription, len(m.subs))
	copy(out, m.subs)
	return out, nil
}

func (m *Memory) DeleteByChat(ctx context.Context, chatID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, wrapErr("delete", ErrDisabled)
	}
	kept := m.subs[:0]
	n := 0
	for _, s := range m.subs {
		if s.ChatID == chatID {
			n++
			continue
		}
		kept = append(kept, s)
	}
	m.subs = kept
	return n, nil
}

func (m *Memory) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup[key] = until
	return nil
}

func (m *Memory) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.dedup[key]
	return until, ok, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
