package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"statusbot/internal/notify"
	"statusbot/pkg/logx"
)

//go:embed migrations_*.sql
var migrationsFS embed.FS

// dialect is the only thing that differs between the SQL drivers.
type dialect struct {
	name       string
	migrations string
	// bind returns the placeholder for the n-th (1-based) argument.
	bind func(n int) string
}

var (
	sqliteDialect = dialect{
		name:       "sqlite",
		migrations: "migrations_sqlite.sql",
		bind:       func(int) string { return "?" },
	}
	postgresDialect = dialect{
		name:       "postgres",
		migrations: "migrations_postgres.sql",
		bind:       func(n int) string { return "$" + strconv.Itoa(n) },
	}
)

// rebind rewrites '?' placeholders for the dialect.
func (d dialect) rebind(q string) string {
	if d.name == sqliteDialect.name {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString(d.bind(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *sqlStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqlStore{db: db, d: d, log: log, pruneEvery: 200}
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(s.d.migrations)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Insert(ctx context.Context, chatID int64, category notify.Category) (notify.Subscription, error) {
	if err := validCategory(category); err != nil {
		return notify.Subscription{}, wrapErr("insert", err)
	}
	sub := newSubscription(chatID, category)
	_, err := s.db.ExecContext(ctx,
		s.d.rebind(`INSERT INTO subscriptions(id, chat_id, category, created_at) VALUES(?,?,?,?)`),
		sub.ID, sub.ChatID, string(sub.Category), sub.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return notify.Subscription{}, wrapErr("insert", err)
	}
	return sub, nil
}

func (s *sqlStore) ListAll(ctx context.Context) ([]notify.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, category, created_at FROM subscriptions ORDER BY seq`)
	if err != nil {
		return nil, wrapErr("list", err)
	}
	defer rows.Close()

	var out []notify.Subscription
	for rows.Next() {
		var (
			id, cat string
			chatID  int64
			created int64
		)
		if err := rows.Scan(&id, &chatID, &cat, &created); err != nil {
			return nil, wrapErr("list", err)
		}
		c, err := notify.ParseCategory(cat)
		if err != nil {
			s.log.Warn("skipping subscription with unknown category", logx.String("id", id), logx.String("category", cat))
			continue
		}
		out = append(out, notify.Subscription{ID: id, ChatID: chatID, Category: c, CreatedAt: time.UnixMilli(created).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list", err)
	}
	return out, nil
}

func (s *sqlStore) DeleteByChat(ctx context.Context, chatID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`DELETE FROM subscriptions WHERE chat_id = ?`), chatID)
	if err != nil {
		return 0, wrapErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("delete", err)
	}
	return int(n), nil
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		s.d.rebind(`INSERT INTO dedup(key, until) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET until = excluded.until`),
		key, until.UnixMilli(),
	)
	if err != nil {
		return wrapErr("put_dedup", err)
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if _, err := s.db.ExecContext(pctx, s.d.rebind(`DELETE FROM dedup WHERE until < ?`), time.Now().UnixMilli()); err != nil {
			s.log.Debug("dedup prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT until FROM dedup WHERE key = ?`), key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapErr("get_dedup", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
