// internal/database/queries.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Error definitions
var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrSchemaTooNew      = errors.New("store schema is newer than this build")
	ErrInvalidStoreName  = errors.New("invalid store name")
	ErrDuplicateFilename = errors.New("filename already tracked for another post")
	ErrExcluded          = errors.New("post is excluded")
)

// Post is a feed submission known to the registry
type Post struct {
	ID        int64     `db:"id"`
	Title     string    `db:"title"`
	User      string    `db:"user"`
	Subreddit string    `db:"subreddit"`
	URL       string    `db:"url"`
	Postcode  string    `db:"postcode"`
	LastSeen  time.Time `db:"lastseen"`
}

const postColumns = `p.id, p.title, p.user, p.subreddit, p.url, p.postcode, p.lastseen`

// RegisterPost inserts a post the first time its url or postcode is seen and
// refreshes lastseen for url on every call. Existing rows keep their fields.
func (db *DB) RegisterPost(ctx context.Context, url, title, user, subreddit, postcode string) error {
	if url == "" || postcode == "" {
		return fmt.Errorf("%w: url and postcode are required", ErrInvalidInput)
	}
	now := db.timestamp()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO posts (title, user, subreddit, url, postcode, lastseen)
		VALUES (?, ?, ?, ?, ?, ?)`,
		title, user, subreddit, url, postcode, now,
	)
	if err != nil {
		return fmt.Errorf("error inserting post %s: %w", postcode, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE posts SET lastseen = ? WHERE url = ? AND lastseen < ?`,
		now, url, now,
	)
	if err != nil {
		return fmt.Errorf("error refreshing post %s: %w", postcode, err)
	}

	return tx.Commit()
}

// NextUndecided returns the oldest post with neither a local file nor an exclusion.
func (db *DB) NextUndecided(ctx context.Context) (Post, error) {
	var p Post
	err := db.GetContext(ctx, &p,
		`SELECT `+postColumns+`
		FROM posts p
		LEFT JOIN localfiles l ON l.post_id = p.id
		LEFT JOIN excluded e ON e.post_id = p.id
		WHERE l.post_id IS NULL AND e.post_id IS NULL
		ORDER BY p.id
		LIMIT 1`,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	return p, err
}

// CountDownloaded returns the number of posts with a tracked local file.
func (db *DB) CountDownloaded(ctx context.Context) (int, error) {
	var n int
	err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM localfiles`)
	return n, err
}

// PostByURL looks a post up by its feed-supplied link.
func (db *DB) PostByURL(ctx context.Context, url string) (Post, error) {
	var p Post
	err := db.GetContext(ctx, &p, `SELECT `+postColumns+` FROM posts p WHERE p.url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	return p, err
}

// CountPosts returns the number of registered posts.
func (db *DB) CountPosts(ctx context.Context) (int, error) {
	var n int
	err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM posts`)
	return n, err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
