// internal/database/ledger.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Exclusion reasons
const (
	ReasonOld           = "old"
	ReasonUnpopular     = "unpopular"
	ReasonExplicit      = "explicit"
	ReasonDownloadError = "download-error"
	ReasonDuplicate     = "duplicate"
	ReasonUnresolvable  = "unresolvable"
)

// Exclusion records why a post is no longer eligible for download
type Exclusion struct {
	PostID   int64  `db:"post_id"`
	Sequence int64  `db:"sequence"`
	Reason   string `db:"reason"`
}

// ExcludedPost identifies a post removed by a ledger batch
type ExcludedPost struct {
	PostID   int64  `db:"post_id"`
	URL      string `db:"url"`
	Postcode string `db:"postcode"`
	Title    string `db:"title"`
}

// LedgerEntry is one exclusion joined with its post
type LedgerEntry struct {
	PostID   int64  `db:"post_id"`
	URL      string `db:"url"`
	Postcode string `db:"postcode"`
	Title    string `db:"title"`
	Sequence int64  `db:"sequence"`
	Reason   string `db:"reason"`
}

func nextSequence(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	var seq int64
	if err := tx.GetContext(ctx, &seq, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM excluded`); err != nil {
		return 0, fmt.Errorf("error reading ledger sequence: %w", err)
	}
	return seq, nil
}

// PurgeVeryOld deletes posts not seen for maxAgeDays together with their
// exclusions and local files.
func (db *DB) PurgeVeryOld(ctx context.Context, maxAgeDays int) ([]ExcludedPost, error) {
	cutoff := db.cutoff(maxAgeDays)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var purged []ExcludedPost
	err = tx.SelectContext(ctx, &purged,
		`SELECT id AS post_id, url, postcode, title FROM posts WHERE lastseen < ? ORDER BY id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("error selecting old posts: %w", err)
	}
	if len(purged) == 0 {
		return nil, tx.Commit()
	}

	for _, stmt := range []string{
		`DELETE FROM excluded WHERE post_id IN (SELECT id FROM posts WHERE lastseen < ?)`,
		`DELETE FROM localfiles WHERE post_id IN (SELECT id FROM posts WHERE lastseen < ?)`,
		`DELETE FROM posts WHERE lastseen < ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, cutoff); err != nil {
			return nil, fmt.Errorf("error purging old posts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	db.logger.Debug("purged old posts", zap.Int("count", len(purged)), zap.String("cutoff", cutoff))
	return purged, nil
}

// ExcludeAged excludes, with reason old, every post whose local file was
// written before maxAgeDays ago and drops the local file record.
func (db *DB) ExcludeAged(ctx context.Context, maxAgeDays int) ([]ExcludedPost, error) {
	cutoff := db.cutoff(maxAgeDays)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	seq, err := nextSequence(ctx, tx)
	if err != nil {
		return nil, err
	}

	var aged []ExcludedPost
	err = tx.SelectContext(ctx, &aged,
		`SELECT p.id AS post_id, p.url, p.postcode, p.title
		FROM posts p
		JOIN localfiles l ON l.post_id = p.id
		WHERE l.timestamp < ?
		ORDER BY p.id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("error selecting aged files: %w", err)
	}
	if len(aged) == 0 {
		return nil, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO excluded (post_id, sequence, reason)
		SELECT post_id, ?, ? FROM localfiles WHERE timestamp < ?`,
		seq, ReasonOld, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("error excluding aged posts: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM localfiles WHERE timestamp < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("error dropping aged files: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return aged, nil
}

// ExcludeUnlisted excludes, with reason unpopular, every post not already
// excluded whose url is missing from currentURLs.
func (db *DB) ExcludeUnlisted(ctx context.Context, currentURLs []string) ([]ExcludedPost, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	seq, err := nextSequence(ctx, tx)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS temp.current_urls`); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE current_urls (url TEXT PRIMARY KEY)`); err != nil {
		return nil, fmt.Errorf("error creating url table: %w", err)
	}

	if err := stageURLs(ctx, tx, currentURLs); err != nil {
		return nil, err
	}

	var unlisted []ExcludedPost
	err = tx.SelectContext(ctx, &unlisted,
		`SELECT p.id AS post_id, p.url, p.postcode, p.title
		FROM posts p
		LEFT JOIN excluded e ON e.post_id = p.id
		WHERE e.post_id IS NULL
		  AND p.url NOT IN (SELECT url FROM temp.current_urls)
		ORDER BY p.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("error selecting unlisted posts: %w", err)
	}

	for _, p := range unlisted {
		if err := excludeLocked(ctx, tx, p.PostID, seq, ReasonUnpopular); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE temp.current_urls`); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return unlisted, nil
}

// ExcludeExplicit excludes the post with the given url for reason,
// replacing any earlier exclusion and dropping its local file record.
// It returns the batch sequence used.
func (db *DB) ExcludeExplicit(ctx context.Context, url, reason string) (int64, error) {
	if reason == "" {
		return 0, fmt.Errorf("%w: exclusion reason is required", ErrInvalidInput)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.GetContext(ctx, &id, `SELECT id FROM posts WHERE url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: no post for %s", ErrNotFound, url)
	}
	if err != nil {
		return 0, err
	}

	seq, err := nextSequence(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := excludeLocked(ctx, tx, id, seq, reason); err != nil {
		return 0, err
	}
	return seq, tx.Commit()
}

func stageURLs(ctx context.Context, tx *sqlx.Tx, urls []string) error {
	insert, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO temp.current_urls (url) VALUES (?)`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for _, u := range urls {
		if _, err := insert.ExecContext(ctx, u); err != nil {
			return fmt.Errorf("error staging url %s: %w", u, err)
		}
	}
	return nil
}

func excludeLocked(ctx context.Context, tx *sqlx.Tx, postID, seq int64, reason string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO excluded (post_id, sequence, reason) VALUES (?, ?, ?)`,
		postID, seq, reason,
	)
	if err != nil {
		return fmt.Errorf("error excluding post %d: %w", postID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM localfiles WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("error dropping local file of post %d: %w", postID, err)
	}
	return nil
}

// LastSequence returns the newest ledger batch number, 0 if the ledger is empty.
func (db *DB) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := db.GetContext(ctx, &seq, `SELECT COALESCE(MAX(sequence), 0) FROM excluded`)
	return seq, err
}

// ExclusionsInBatch lists the posts excluded by batch seq.
func (db *DB) ExclusionsInBatch(ctx context.Context, seq int64) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := db.SelectContext(ctx, &entries,
		`SELECT p.id AS post_id, p.url, p.postcode, p.title, e.sequence, e.reason
		FROM excluded e
		JOIN posts p ON p.id = e.post_id
		WHERE e.sequence = ?
		ORDER BY p.id`,
		seq,
	)
	return entries, err
}

// ExclusionFor returns the live exclusion of the post with the given url.
func (db *DB) ExclusionFor(ctx context.Context, url string) (Exclusion, error) {
	var e Exclusion
	err := db.GetContext(ctx, &e,
		`SELECT e.post_id, e.sequence, e.reason
		FROM excluded e
		JOIN posts p ON p.id = e.post_id
		WHERE p.url = ?`,
		url,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Exclusion{}, ErrNotFound
	}
	return e, err
}
