package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"statusbot/internal/notify"
	"statusbot/pkg/logx"
)

// Store is the subscription registry plus alert suppression state.
//
// Insert does not enforce (chat, category) uniqueness. ListAll returns
// records in insertion order and skips rows whose category is unknown.
type Store interface {
	Insert(ctx context.Context, chatID int64, category notify.Category) (notify.Subscription, error)
	ListAll(ctx context.Context) ([]notify.Subscription, error)
	DeleteByChat(ctx context.Context, chatID int64) (int, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store. Disabled storage returns ErrDisabled:
// the subscription registry is not optional.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "none":
		return nil, ErrDisabled
	case "memory", "mem":
		return NewMemory(), nil
	case "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func newSubscription(chatID int64, category notify.Category) notify.Subscription {
	return notify.Subscription{
		ID:        newID(),
		ChatID:    chatID,
		Category:  category,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func validCategory(c notify.Category) error {
	if !c.Valid() {
		return notify.ErrUnknownCategory
	}
	return nil
}
