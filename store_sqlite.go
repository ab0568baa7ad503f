package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqlitePragmas are set on every connection the pool opens.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS confessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		love INTEGER NOT NULL DEFAULT 0 CHECK(love >= 0),
		sad INTEGER NOT NULL DEFAULT 0 CHECK(sad >= 0),
		laugh INTEGER NOT NULL DEFAULT 0 CHECK(laugh >= 0),
		created_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS confession_tags (
		confession_id TEXT NOT NULL REFERENCES confessions(id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		PRIMARY KEY(confession_id, tag)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_confession_tags_tag ON confession_tags(tag);`,
	`CREATE TABLE IF NOT EXISTS reactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		confession_id TEXT NOT NULL REFERENCES confessions(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK(kind IN ('love','sad','laugh')),
		created_at INTEGER NOT NULL,
		UNIQUE(confession_id, user_id)
	);`,
}

// SQLiteStore provides confession persistence in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the
// tables exist.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	// a single connection serializes writers and keeps shared-cache memory DBs alive
	db.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteDSN appends the connection pragmas to path, which may already carry
// query parameters.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqlitePragmas
	}
	return path + "?" + sqlitePragmas
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const confessionColumns = `c.id, c.title, c.body, c.tags, c.love, c.sad, c.laugh, c.created_at`

// CreateConfession inserts the row and its tag index in one transaction.
func (s *SQLiteStore) CreateConfession(ctx context.Context, c *Confession) (err error) {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO confessions (id, title, body, tags, love, sad, laugh, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, c.ID, c.Title, c.Body, string(tags), c.Reactions.Love, c.Reactions.Sad, c.Reactions.Laugh, c.CreatedAt.UnixNano())
	if err != nil {
		return err
	}
	for _, tag := range c.Tags {
		if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO confession_tags (confession_id, tag) VALUES (?, ?)`, c.ID, tag); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetConfession retrieves a confession by ID.
func (s *SQLiteStore) GetConfession(ctx context.Context, id string) (*Confession, error) {
	return getConfession(ctx, s.db, id)
}

// SampleConfessions returns up to n distinct confessions picked at random.
func (s *SQLiteStore) SampleConfessions(ctx context.Context, n int) ([]*Confession, error) {
	return queryConfessions(ctx, s.db, `SELECT `+confessionColumns+` FROM confessions c ORDER BY RANDOM() LIMIT ?`, n)
}

// ConfessionsByTag returns every confession tagged with tag in insertion order.
func (s *SQLiteStore) ConfessionsByTag(ctx context.Context, tag string) ([]*Confession, error) {
	return queryConfessions(ctx, s.db, `
SELECT `+confessionColumns+`
FROM confessions c
JOIN confession_tags t ON t.confession_id = c.id
WHERE t.tag = ?
ORDER BY c.rowid
`, tag)
}

// AddReaction records the reactor and bumps the counter in one transaction.
// The UNIQUE(confession_id, user_id) index rejects a second reaction.
func (s *SQLiteStore) AddReaction(ctx context.Context, id string, kind ReactionKind, userID string) (c *Confession, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var one int
	if err = tx.QueryRowContext(ctx, `SELECT 1 FROM confessions WHERE id = ?`, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO reactions (confession_id, user_id, kind, created_at)
VALUES (?, ?, ?, ?)
`, id, userID, kind.String(), time.Now().UTC().UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicateReaction
		}
		return nil, err
	}
	col, err := reactionColumn(kind)
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE confessions SET `+col+` = `+col+` + 1 WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if c, err = getConfession(ctx, tx, id); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// reactionColumn maps k onto its counter column.
func reactionColumn(k ReactionKind) (string, error) {
	switch k {
	case Love:
		return "love", nil
	case Sad:
		return "sad", nil
	case Laugh:
		return "laugh", nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidReaction, k)
}

// getConfession loads one confession through q or returns ErrNotFound.
func getConfession(ctx context.Context, q querier, id string) (*Confession, error) {
	out, err := queryConfessions(ctx, q, `SELECT `+confessionColumns+` FROM confessions c WHERE c.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out[0], nil
}

// queryConfessions runs query and attaches reactors to every row. Rows are
// drained before the reactor lookups because the pool holds one connection.
func queryConfessions(ctx context.Context, q querier, query string, args ...any) ([]*Confession, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := []*Confession{}
	for rows.Next() {
		var (
			c       Confession
			tags    string
			created int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.Body, &tags, &c.Reactions.Love, &c.Reactions.Sad, &c.Reactions.Laugh, &created); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
			rows.Close()
			return nil, fmt.Errorf("confession %s: decode tags: %w", c.ID, err)
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, c := range out {
		users, err := reactors(ctx, q, c.ID)
		if err != nil {
			return nil, err
		}
		c.Reactions.UserReactions = users
		c.normalize()
	}
	return out, nil
}

// reactors lists the users that reacted to confession id in reaction order.
func reactors(ctx context.Context, q querier, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM reactions WHERE confession_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
