package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"statusbot/internal/notify"
	"statusbot/pkg/logx"
)

func openForTest(t *testing.T, driver string) Store {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{Driver: driver}
	switch driver {
	case "file":
		cfg.Path = filepath.Join(dir, "subs.json")
	case "sqlite":
		cfg.Path = filepath.Join(dir, "subs.db")
		cfg.BusyTimeout = time.Second
	case "redis":
		cfg.Addr = os.Getenv(redisAddrEnv)
		cfg.KeyPrefix = "statusbot-test:" + uuid.NewString() + ":"
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() {
		if rs, ok := st.(*redisStore); ok {
			flushPrefix(rs)
		}
		_ = st.Close()
	})
	return st
}

// redisAddrEnv points the store tests at a live redis; unset skips it.
const redisAddrEnv = "STATUSBOT_TEST_REDIS_ADDR"

func contractDrivers() []string {
	drivers := []string{"memory", "file", "sqlite"}
	if os.Getenv(redisAddrEnv) != "" {
		drivers = append(drivers, "redis")
	}
	return drivers
}

func TestStoreContract(t *testing.T) {
	for _, driver := range contractDrivers() {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openForTest(t, driver)
			ctx := context.Background()

			a, err := st.Insert(ctx, -100, notify.PerpsDailyReport)
			if err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if a.ID == "" || a.ChatID != -100 || a.Category != notify.PerpsDailyReport {
				t.Fatalf("unexpected subscription: %+v", a)
			}
			if _, err := st.Insert(ctx, -200, notify.TWAP); err != nil {
				t.Fatalf("Insert: %v", err)
			}
			// Duplicates are accepted.
			if _, err := st.Insert(ctx, -100, notify.PerpsDailyReport); err != nil {
				t.Fatalf("duplicate Insert: %v", err)
			}

			all, err := st.ListAll(ctx)
			if err != nil {
				t.Fatalf("ListAll: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("len(ListAll) = %d, want 3", len(all))
			}
			if all[0].ID != a.ID || all[1].ChatID != -200 {
				t.Fatalf("insertion order not preserved: %+v", all)
			}

			n, err := st.DeleteByChat(ctx, -100)
			if err != nil || n != 2 {
				t.Fatalf("DeleteByChat = %d, %v; want 2", n, err)
			}
			all, _ = st.ListAll(ctx)
			for _, s := range all {
				if s.ChatID == -100 {
					t.Fatalf("chat -100 still subscribed: %+v", s)
				}
			}
			if n, err := st.DeleteByChat(ctx, 12345); err != nil || n != 0 {
				t.Fatalf("DeleteByChat(unknown) = %d, %v", n, err)
			}
		})
	}
}

func TestStoreDedup(t *testing.T) {
	for _, driver := range contractDrivers() {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openForTest(t, driver)
			ctx := context.Background()

			if _, ok, err := st.GetDedup(ctx, "k"); ok || err != nil {
				t.Fatalf("GetDedup(missing) = %v, %v", ok, err)
			}
			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "k", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			got, ok, err := st.GetDedup(ctx, "k")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("GetDedup = %v, %v, %v; want %v", got, ok, err, until)
			}
			later := until.Add(time.Hour)
			if err := st.PutDedup(ctx, "k", later); err != nil {
				t.Fatalf("PutDedup overwrite: %v", err)
			}
			if got, _, _ := st.GetDedup(ctx, "k"); !got.Equal(later) {
				t.Fatalf("overwrite not applied: %v", got)
			}
		})
	}
}

func TestInsertRejectsUnknownCategory(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	_, err := st.Insert(context.Background(), 1, notify.Category("Nope"))
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "insert" {
		t.Fatalf("err = %v, want *StorageError{Op: insert}", err)
	}
	if !errors.Is(err, notify.ErrUnknownCategory) {
		t.Fatalf("err should wrap ErrUnknownCategory: %v", err)
	}
}

func TestClosedMemoryReportsStorageError(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	_ = st.Close()
	_, err := st.ListAll(context.Background())
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("ListAll after Close = %v", err)
	}
}

func TestFileStoreRereadsOnEveryList(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "subs.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	if _, err := st.Insert(ctx, 7, notify.TWAP); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Another writer replaces the document, including a row this build does not know.
	doc := `{"subscriptions":[
		{"id":"a","chatId":1,"notificationType":"LiquidityHub","createdAt":0},
		{"id":"b","chatId":2,"notificationType":"Retired","createdAt":0}
	]}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	all, err := st.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 || all[0].ID != "a" || all[0].Category != notify.LiquidityHub {
		t.Fatalf("ListAll = %+v", all)
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "subs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "open" {
		t.Fatalf("Open(corrupt) = %v", err)
	}
}

func TestOpenDriverErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"disabled", Config{}},
		{"unknown", Config{Driver: "cassandra"}},
		{"file without path", Config{Driver: "file"}},
		{"sqlite without path", Config{Driver: "sqlite"}},
		{"postgres without dsn", Config{Driver: "postgres"}},
		{"redis without addr", Config{Driver: "redis"}},
	}
	for _, tt := range tests {
		if _, err := Open(tt.cfg, logx.Nop()); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
	if _, err := Open(Config{Driver: "none"}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("none driver = %v, want ErrDisabled", err)
	}
}
