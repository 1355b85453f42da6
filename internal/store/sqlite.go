package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mofodox/skywriter/internal/domain"
	"github.com/mofodox/skywriter/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	// Deliberately no UNIQUE(post_id, session_id) on reactions: the
	// toggle engine owns the one-reaction-per-session invariant via
	// its delete-then-insert protocol.
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		category TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at);
	CREATE INDEX IF NOT EXISTS idx_posts_category ON posts(category, created_at);

	CREATE TABLE IF NOT EXISTS reactions (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL,
		reaction_type TEXT NOT NULL,
		session_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reactions_post ON reactions(post_id);
	CREATE INDEX IF NOT EXISTS idx_reactions_post_session ON reactions(post_id, session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreatePost inserts a new post record.
func (s *SQLiteStore) CreatePost(ctx context.Context, post *domain.Post) error {
	query := `INSERT INTO posts (id, content, category, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		post.ID, post.Content, string(post.Category), post.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// GetPost retrieves a post by ID.
func (s *SQLiteStore) GetPost(ctx context.Context, postID string) (*domain.Post, error) {
	query := `SELECT id, content, category, created_at FROM posts WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, postID)

	var post domain.Post
	var createdAt int64

	err := row.Scan(&post.ID, &post.Content, &post.Category, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan post row: %w", err)
	}

	post.CreatedAt = time.Unix(createdAt, 0)
	return &post, nil
}

// ListPosts retrieves posts ordered newest-first, optionally filtered
// by category.
func (s *SQLiteStore) ListPosts(ctx context.Context, category domain.Category) ([]domain.Post, error) {
	query := `SELECT id, content, category, created_at FROM posts`
	args := []interface{}{}

	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close posts rows", "error", closeErr)
		}
	}()

	var posts []domain.Post
	for rows.Next() {
		var post domain.Post
		var createdAt int64

		if err := rows.Scan(&post.ID, &post.Content, &post.Category, &createdAt); err != nil {
			return nil, fmt.Errorf("scan post row: %w", err)
		}

		post.CreatedAt = time.Unix(createdAt, 0)
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	return posts, nil
}

// InsertReaction inserts a new reaction record.
func (s *SQLiteStore) InsertReaction(ctx context.Context, reaction *domain.Reaction) error {
	query := `
	INSERT INTO reactions (id, post_id, reaction_type, session_id, created_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		reaction.ID, reaction.PostID, string(reaction.Type),
		reaction.SessionID, reaction.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert reaction: %w", err)
	}
	return nil
}

// ListReactions retrieves all reaction records for a post in creation order.
func (s *SQLiteStore) ListReactions(ctx context.Context, postID string) ([]domain.Reaction, error) {
	query := `
		SELECT id, post_id, reaction_type, session_id, created_at
		FROM reactions WHERE post_id = ?
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close reactions rows", "error", closeErr)
		}
	}()

	return scanReactions(rows)
}

// ListSessionReactions retrieves the reaction records one session holds
// on a post.
func (s *SQLiteStore) ListSessionReactions(ctx context.Context, postID, sessionID string) ([]domain.Reaction, error) {
	query := `
		SELECT id, post_id, reaction_type, session_id, created_at
		FROM reactions WHERE post_id = ? AND session_id = ?
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, postID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session reactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session reactions rows", "error", closeErr)
		}
	}()

	return scanReactions(rows)
}

func scanReactions(rows *sql.Rows) ([]domain.Reaction, error) {
	var reactions []domain.Reaction
	for rows.Next() {
		var reaction domain.Reaction
		var createdAt int64

		if err := rows.Scan(
			&reaction.ID, &reaction.PostID, &reaction.Type,
			&reaction.SessionID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan reaction row: %w", err)
		}

		reaction.CreatedAt = time.Unix(createdAt, 0)
		reactions = append(reactions, reaction)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}

	return reactions, nil
}

// DeleteSessionReactions removes every reaction record a session holds
// on a post. Retries with exponential backoff on SQLITE_BUSY since the
// toggle path issues deletes under write contention.
func (s *SQLiteStore) DeleteSessionReactions(ctx context.Context, postID, sessionID string) (int64, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		deleted, err := s.deleteSessionReactionsOnce(ctx, postID, sessionID)
		if err == nil {
			return deleted, nil
		}
		lastErr = err

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("DeleteSessionReactions failed with SQLITE_BUSY, retrying",
				"post_id", postID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		break
	}

	return 0, fmt.Errorf("delete session reactions for post %s: %w", postID, lastErr)
}

func (s *SQLiteStore) deleteSessionReactionsOnce(ctx context.Context, postID, sessionID string) (int64, error) {
	query := `DELETE FROM reactions WHERE post_id = ? AND session_id = ?`
	result, err := s.db.ExecContext(ctx, query, postID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete reactions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
