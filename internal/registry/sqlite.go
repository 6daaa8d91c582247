package registry

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

	_ "modernc.org/sqlite"

	"relaybot/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the sqlite registry at cfg.Path and
// applies the schema idempotently.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("registry path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if log.IsZero() {
		log = logx.Nop()
	}
	s := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) ensureSchema(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) RegisterIfAbsent(ctx context.Context, userID int64, username, fullName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, username, full_name, registered_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, nullStr(username), nullStr(fullName), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) SetDepartment(ctx context.Context, userID int64, dept string) error {
	// The admin flag is derived, never stored independently.
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET department = ?, is_admin = ? WHERE user_id = ?`,
		dept, boolInt(IsAdminDepartment(dept)), userID,
	)
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

func (s *sqliteStore) GetUser(ctx context.Context, userID int64) (User, error) {
	var (
		u          User
		username   sql.NullString
		fullName   sql.NullString
		department sql.NullString
		isAdmin    int
		registered string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, full_name, department, is_admin, registered_at
		 FROM users WHERE user_id = ?`, userID,
	).Scan(&u.ID, &username, &fullName, &department, &isAdmin, &registered)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.FullName = fullName.String
	u.Department = department.String
	u.IsAdmin = isAdmin != 0
	u.RegisteredAt = parseTime(registered)
	return u, nil
}

func (s *sqliteStore) ListUserIDsByDepartment(ctx context.Context, dept string) ([]int64, error) {
	return s.listIDs(ctx, `SELECT user_id FROM users WHERE department = ? ORDER BY user_id`, dept)
}

func (s *sqliteStore) ListAllUserIDs(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, `SELECT user_id FROM users ORDER BY user_id`)
}

func (s *sqliteStore) listIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) RecordBroadcast(ctx context.Context, adminID int64, target, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(admin_id, target, message, created_at) VALUES(?,?,?,?)`,
		adminID, target, message, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ListBroadcasts(ctx context.Context, limit int) ([]BroadcastRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, admin_id, target, message, created_at
		 FROM broadcasts ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BroadcastRecord
	for rows.Next() {
		var (
			r       BroadcastRecord
			created string
		)
		if err := rows.Scan(&r.ID, &r.AdminID, &r.Target, &r.Message, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneBroadcasts(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM broadcasts WHERE created_at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
