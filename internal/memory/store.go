// Package memory persists users, rooms and the append-only message log in a
// SQL database: SQLite through modernc.org/sqlite or PostgreSQL through pgx.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"docchat/internal/domain"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// dialect hides the placeholder difference between the two drivers.
type dialect struct {
	driver string
}

// rebind rewrites ? placeholders to $1..$n for PostgreSQL.
func (d dialect) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Config struct {
	Driver string
	DSN    string
	Logger *slog.Logger
}

// Store implements domain.MessageStore.
type Store struct {
	db     *sql.DB
	d      dialect
	logger *slog.Logger

	mu       sync.Mutex
	lastNano int64 // newest message timestamp handed out
}

var _ domain.MessageStore = (*Store)(nil)

// Open connects to the configured database, runs migrations and returns a
// ready store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		db, err = openSQLite(cfg.DSN)
	case DriverPostgres:
		db, err = sql.Open(DriverPostgres, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, d: dialect{driver: cfg.Driver}, logger: cfg.Logger}
	if cfg.Driver == "" {
		s.d.driver = DriverSQLite
	}
	if err := migrate(ctx, db, s.d, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(created_at), 0) FROM messages").Scan(&s.lastNano); err != nil {
		db.Close()
		return nil, fmt.Errorf("read message clock: %w", err)
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}
	db, err := sql.Open(DriverSQLite, path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return appliedVersion(ctx, s.db)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(query), args...)
	return err
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(query), args...)
}

// UpsertUser inserts the user or refreshes its mutable fields.
func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	err := s.exec(ctx,
		`INSERT INTO users (id, name, role, is_temp, temp_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, role = excluded.role,
		 is_temp = excluded.is_temp, temp_id = excluded.temp_id`,
		u.ID, u.Name, string(u.Role), u.IsTemp, u.TempID, u.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser returns nil, nil when the user does not exist.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.scanUser(s.queryRow(ctx,
		`SELECT id, name, role, is_temp, temp_id, created_at FROM users WHERE id = ?`, id))
}

func (s *Store) GetUserByTempID(ctx context.Context, tempID string) (*domain.User, error) {
	if tempID == "" {
		return nil, nil
	}
	return s.scanUser(s.queryRow(ctx,
		`SELECT id, name, role, is_temp, temp_id, created_at FROM users
		 WHERE temp_id = ? ORDER BY created_at LIMIT 1`, tempID))
}

func (s *Store) scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u       domain.User
		role    string
		created int64
	)
	err := row.Scan(&u.ID, &u.Name, &role, &u.IsTemp, &u.TempID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = domain.UserRole(role)
	u.CreatedAt = time.Unix(0, created)
	return &u, nil
}

// UpsertRoom creates the room or updates its name and privacy. The owner of
// an existing room never changes.
func (s *Store) UpsertRoom(ctx context.Context, r domain.Room) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	err := s.exec(ctx,
		`INSERT INTO rooms (id, name, owner_id, is_private, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, is_private = excluded.is_private`,
		r.ID, r.Name, r.OwnerID, r.IsPrivate, r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	var (
		r       domain.Room
		created int64
	)
	err := s.queryRow(ctx,
		`SELECT id, name, owner_id, is_private, created_at FROM rooms WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.OwnerID, &r.IsPrivate, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	r.CreatedAt = time.Unix(0, created)
	return &r, nil
}

// nextTimestamp returns t, or one nanosecond past the last issued timestamp
// when t would not sort strictly after it.
func (s *Store) nextTimestamp(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := t.UnixNano()
	if n <= s.lastNano {
		n = s.lastNano + 1
	}
	s.lastNano = n
	return time.Unix(0, n)
}

// AddMessage appends msg to its room's log, filling ID and CreatedAt.
func (s *Store) AddMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = s.nextTimestamp(msg.CreatedAt)

	var userID sql.NullString
	if msg.UserID != "" {
		userID = sql.NullString{String: msg.UserID, Valid: true}
	}
	err := s.exec(ctx,
		`INSERT INTO messages (id, room_id, user_id, temp_id, text, file_url, file_name, type, is_ai, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, userID, msg.TempID, msg.Text, msg.FileURL, msg.FileName,
		string(msg.Type), msg.IsAI, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("add message to room %s: %w", msg.RoomID, err)
	}
	return nil
}

// ListMessages returns up to limit messages of a room, newest first,
// skipping the offset newest ones.
func (s *Store) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT id, room_id, user_id, temp_id, text, file_url, file_name, type, is_ai, created_at
		 FROM messages WHERE room_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`), roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages of room %s: %w", roomID, err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m       domain.Message
			userID  sql.NullString
			typ     string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &userID, &m.TempID, &m.Text,
			&m.FileURL, &m.FileName, &typ, &m.IsAI, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.UserID = userID.String
		m.Type = domain.MessageType(typ)
		m.CreatedAt = time.Unix(0, created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
