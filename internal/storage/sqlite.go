package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	logx "tipbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection: every query (commands and the tip loop) is serialized here.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("database migrated", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateTip(ctx context.Context, t Tip) (Tip, error) {
	t.Tags = NormalizeTags(t.Tags)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tips(title, content, tags) VALUES(?,?,?)`,
		t.Title, t.Content, t.Tags,
	)
	if err != nil {
		return Tip{}, mapSQLiteErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Tip{}, err
	}
	t.ID = id
	return t, nil
}

func (s *sqliteStore) GetTip(ctx context.Context, id int64) (Tip, error) {
	var t Tip
	err := s.db.QueryRowContext(ctx, `SELECT id, title, content, tags FROM tips WHERE id = ?`, id).
		Scan(&t.ID, &t.Title, &t.Content, &t.Tags)
	if errors.Is(err, sql.ErrNoRows) {
		return Tip{}, ErrNotFound
	}
	if err != nil {
		return Tip{}, err
	}
	return t, nil
}

func (s *sqliteStore) ListTips(ctx context.Context) ([]Tip, error) {
	return s.queryTips(ctx, `SELECT id, title, content, tags FROM tips ORDER BY id`)
}

func (s *sqliteStore) ListTipsByTags(ctx context.Context, tags []string) ([]Tip, error) {
	tags = SplitTags(strings.Join(tags, ","))
	if len(tags) == 0 {
		return s.ListTips(ctx)
	}
	conds := make([]string, 0, len(tags))
	args := make([]any, 0, len(tags))
	for _, tag := range tags {
		conds = append(conds, `(',' || tags || ',') LIKE ('%,' || ? || ',%')`)
		args = append(args, tag)
	}
	q := `SELECT id, title, content, tags FROM tips WHERE ` + strings.Join(conds, " OR ") + ` ORDER BY id`
	return s.queryTips(ctx, q, args...)
}

func (s *sqliteStore) queryTips(ctx context.Context, q string, args ...any) ([]Tip, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tip
	for rows.Next() {
		var t Tip
		if err := rows.Scan(&t.ID, &t.Title, &t.Content, &t.Tags); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateTip(ctx context.Context, id int64, p TipPatch) (Tip, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *p.Content)
	}
	if p.Tags != nil {
		sets = append(sets, "tags = ?")
		args = append(args, NormalizeTags(*p.Tags))
	}
	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, `UPDATE tips SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return Tip{}, mapSQLiteErr(err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return Tip{}, ErrNotFound
		}
	}
	return s.GetTip(ctx, id)
}

func (s *sqliteStore) DeleteTip(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tips WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) LoadSchedule(ctx context.Context) (Schedule, error) {
	var sc Schedule
	err := s.db.QueryRowContext(ctx, `SELECT chat_id, hour, minute FROM scheduler_config WHERE id = 1`).
		Scan(&sc.ChatID, &sc.Hour, &sc.Minute)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	if err != nil {
		return Schedule{}, err
	}
	return sc, nil
}

func (s *sqliteStore) SaveSchedule(ctx context.Context, sc Schedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_config(id, chat_id, hour, minute) VALUES(1,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET chat_id=excluded.chat_id, hour=excluded.hour, minute=excluded.minute`,
		sc.ChatID, sc.Hour, sc.Minute,
	)
	return mapSQLiteErr(err)
}

func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")) {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	return err
}
