package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat has a fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// parseTime reads a created_at value. The driver returns DATETIME columns as
// RFC 3339 with trailing fractional zeros trimmed, so the fixed-width layout
// cannot be used here.
func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

// Store keeps per-session post history and chat messages in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) instra.db in dataDir and applies pending migrations.
// Pass ":memory:" for an in-memory database.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "instra.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single writer avoids "database is locked"; an in-memory database
	// also only exists on the connection that created it.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}
		if err := s.applyMigration(version, entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, name string) error {
	var applied int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
		return fmt.Errorf("checking migration %d: %w", version, err)
	}
	if applied > 0 {
		return nil
	}

	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", name, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Posts ---

const postColumns = `id, session_key, created_at, likes, saves, comments, shares, follows,
	profile_visits, caption_length, hashtags, reposts, predicted_impressions, viral_score,
	eng_rate, follow_rate, viral_label`

// SavePost inserts p, assigning an ID and timestamp when they are empty.
// It returns the stored record.
func (s *Store) SavePost(p Post) (Post, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()

	c := p.Counts
	_, err := s.db.Exec(`INSERT INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Session, p.CreatedAt.Format(timeFormat),
		c.Likes, c.Saves, c.Comments, c.Shares, c.Follows, c.ProfileVisits, c.CaptionLength, c.Hashtags, c.Reposts,
		p.PredictedImpressions, p.ViralScore, p.EngRate, p.FollowRate, p.ViralLabel,
	)
	if err != nil {
		return Post{}, fmt.Errorf("inserting post: %w", err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (Post, error) {
	var (
		p         Post
		createdAt string
	)
	c := &p.Counts
	err := row.Scan(&p.ID, &p.Session, &createdAt,
		&c.Likes, &c.Saves, &c.Comments, &c.Shares, &c.Follows, &c.ProfileVisits, &c.CaptionLength, &c.Hashtags, &c.Reposts,
		&p.PredictedImpressions, &p.ViralScore, &p.EngRate, &p.FollowRate, &p.ViralLabel,
	)
	if err != nil {
		return Post{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Post{}, err
	}
	return p, nil
}

// ListPosts returns the session's posts oldest first.
func (s *Store) ListPosts(session string) ([]Post, error) {
	rows, err := s.db.Query(`SELECT `+postColumns+` FROM posts
		WHERE session_key = ? ORDER BY created_at ASC, rowid ASC`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// LatestPost returns the session's most recent post, or ErrNotFound.
func (s *Store) LatestPost(session string) (Post, error) {
	row := s.db.QueryRow(`SELECT `+postColumns+` FROM posts
		WHERE session_key = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, session)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return Post{}, ErrNotFound
	}
	return p, err
}

// CountPosts returns how many posts the session has analyzed.
func (s *Store) CountPosts(session string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM posts WHERE session_key = ?", session).Scan(&n)
	return n, err
}

// ClearSession deletes the session's posts and messages and returns how many
// posts were removed.
func (s *Store) ClearSession(session string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning clear transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM posts WHERE session_key = ?", session)
	if err != nil {
		return 0, fmt.Errorf("deleting posts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE session_key = ?", session); err != nil {
		return 0, fmt.Errorf("deleting messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing clear: %w", err)
	}
	return int(n), nil
}

// --- Messages ---

// SaveMessage appends a chat message to the session's conversation.
func (s *Store) SaveMessage(m Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO messages (id, session_key, created_at, role, content, source)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Session, m.CreatedAt.UTC().Format(timeFormat), m.Role, m.Content, m.Source,
	)
	return err
}

// RecentMessages returns up to limit of the session's latest messages,
// oldest first.
func (s *Store) RecentMessages(session string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`SELECT id, session_key, created_at, role, content, source FROM (
			SELECT rowid AS rid, * FROM messages WHERE session_key = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at ASC, rid ASC`, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m         Message
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.Session, &createdAt, &m.Role, &m.Content, &m.Source); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
