package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"statusbot/internal/notify"
	"statusbot/pkg/logx"
)

// fileStore keeps one JSON document on disk. Every call re-reads it and every
// mutation rewrites it via tmp+rename, so an external edit is picked up and a
// crash never leaves a half-written file.
type fileStore struct {
	path string
	log  logx.Logger

	mu     sync.Mutex
	closed bool
}

type fileDoc struct {
	Subscriptions []fileSub        `json:"subscriptions"`
	Dedup         map[string]int64 `json:"dedup,omitempty"` // unix milli
}

type fileSub struct {
	ID        string `json:"id"`
	ChatID    int64  `json:"chatId"`
	Category  string `json:"notificationType"`
	CreatedAt int64  `json:"createdAt"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrapErr("open", err)
	}
	s := &fileStore{path: path, log: log}
	// Fail fast on an unreadable or corrupt document.
	if _, err := s.load(); err != nil {
		return nil, wrapErr("open", err)
	}
	return s, nil
}

func (s *fileStore) Insert(ctx context.Context, chatID int64, category notify.Category) (notify.Subscription, error) {
	if err := validCategory(category); err != nil {
		return notify.Subscription{}, wrapErr("insert", err)
	}
	var sub notify.Subscription
	err := s.update(func(d *fileDoc) {
		sub = newSubscription(chatID, category)
		d.Subscriptions = append(d.Subscriptions, fileSub{
			ID:        sub.ID,
			ChatID:    sub.ChatID,
			Category:  string(sub.Category),
			CreatedAt: sub.CreatedAt.UnixMilli(),
		})
	})
	if err != nil {
		return notify.Subscription{}, wrapErr("insert", err)
	}
	return sub, nil
}

func (s *fileStore) ListAll(ctx context.Context) ([]notify.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, wrapErr("list", ErrDisabled)
	}
	d, err := s.load()
	if err != nil {
		return nil, wrapErr("list", err)
	}
	out := make([]notify.Subscription, 0, len(d.Subscriptions))
	for _, r := range d.Subscriptions {
		c, err := notify.ParseCategory(r.Category)
		if err != nil {
			s.log.Warn("skipping subscription with unknown category", logx.String("id", r.ID), logx.String("category", r.Category))
			continue
		}
		out = append(out, notify.Subscription{ID: r.ID, ChatID: r.ChatID, Category: c, CreatedAt: time.UnixMilli(r.CreatedAt).UTC()})
	}
	return out, nil
}

func (s *fileStore) DeleteByChat(ctx context.Context, chatID int64) (int, error) {
	n := 0
	err := s.update(func(d *fileDoc) {
		kept := d.Subscriptions[:0]
		for _, r := range d.Subscriptions {
			if r.ChatID == chatID {
				n++
				continue
			}
			kept = append(kept, r)
		}
		d.Subscriptions = kept
	})
	if err != nil {
		return 0, wrapErr("delete", err)
	}
	return n, nil
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return wrapErr("put_dedup", s.update(func(d *fileDoc) {
		if d.Dedup == nil {
			d.Dedup = map[string]int64{}
		}
		pruneExpiredDedup(d.Dedup)
		d.Dedup[key] = until.UnixMilli()
	}))
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, wrapErr("get_dedup", ErrDisabled)
	}
	d, err := s.load()
	if err != nil {
		return time.Time{}, false, wrapErr("get_dedup", err)
	}
	ms, ok := d.Dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) update(fn func(d *fileDoc)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	d, err := s.load()
	if err != nil {
		return err
	}
	fn(&d)
	return s.write(d)
}

func (s *fileStore) load() (fileDoc, error) {
	var d fileDoc
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return d, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return d, nil
}

func (s *fileStore) write(d fileDoc) error {
	if d.Subscriptions == nil {
		d.Subscriptions = []fileSub{}
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
