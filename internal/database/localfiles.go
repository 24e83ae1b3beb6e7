// internal/database/localfiles.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LocalFile records media fetched, rendered and written for a post
type LocalFile struct {
	PostID    int64     `db:"post_id"`
	Filename  string    `db:"filename"`
	Timestamp time.Time `db:"timestamp"`
	Checksum  string    `db:"checksum"`
}

// RecordDownload associates filename with the post for url. checksum may be empty.
func (db *DB) RecordDownload(ctx context.Context, url, filename, checksum string) error {
	if filename == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.GetContext(ctx, &id, `SELECT id FROM posts WHERE url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: no post for %s", ErrNotFound, url)
	}
	if err != nil {
		return err
	}

	var excluded int
	if err := tx.GetContext(ctx, &excluded, `SELECT COUNT(*) FROM excluded WHERE post_id = ?`, id); err != nil {
		return err
	}
	if excluded > 0 {
		return fmt.Errorf("%w: cannot track %s for %s", ErrExcluded, filename, url)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM localfiles WHERE post_id = ?`, id); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO localfiles (post_id, filename, timestamp, checksum)
		VALUES (?, ?, ?, NULLIF(?, ''))`,
		id, filename, db.timestamp(), checksum,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateFilename, filename)
	}
	if err != nil {
		return fmt.Errorf("error tracking %s: %w", filename, err)
	}

	return tx.Commit()
}

func (db *DB) trackedNames(ctx context.Context) (map[string]struct{}, error) {
	var names []string
	err := db.SelectContext(ctx, &names,
		`SELECT l.filename
		FROM localfiles l
		LEFT JOIN excluded e ON e.post_id = l.post_id
		WHERE e.post_id IS NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("error listing tracked files: %w", err)
	}

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}

// ReconcileDirectory returns the files on disk that belong to a tracked,
// non-excluded post. Store files are never part of the result.
func (db *DB) ReconcileDirectory(ctx context.Context, filesOnDisk []string) ([]string, error) {
	tracked, err := db.trackedNames(ctx)
	if err != nil {
		return nil, err
	}

	var keep []string
	for _, f := range filesOnDisk {
		if IsStoreFile(f) {
			continue
		}
		if _, ok := tracked[f]; ok {
			keep = append(keep, f)
		}
	}
	return keep, nil
}

// StaleFiles returns the files on disk that should be deleted: everything
// not kept by ReconcileDirectory, except store files.
func (db *DB) StaleFiles(ctx context.Context, filesOnDisk []string) ([]string, error) {
	keep, err := db.ReconcileDirectory(ctx, filesOnDisk)
	if err != nil {
		return nil, err
	}
	kept := make(map[string]struct{}, len(keep))
	for _, f := range keep {
		kept[f] = struct{}{}
	}

	var stale []string
	for _, f := range filesOnDisk {
		if IsStoreFile(f) {
			continue
		}
		if _, ok := kept[f]; !ok {
			stale = append(stale, f)
		}
	}
	return stale, nil
}

// ChecksumTracked reports whether media with this checksum is already tracked.
func (db *DB) ChecksumTracked(ctx context.Context, checksum string) (bool, error) {
	if checksum == "" {
		return false, nil
	}
	var exists bool
	err := db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM localfiles WHERE checksum = ?)`, checksum)
	return exists, err
}

// TrackedFiles lists every local file record, oldest first.
func (db *DB) TrackedFiles(ctx context.Context) ([]LocalFile, error) {
	var files []LocalFile
	err := db.SelectContext(ctx, &files,
		`SELECT post_id, filename, timestamp, COALESCE(checksum, '') AS checksum
		FROM localfiles
		ORDER BY timestamp, post_id`,
	)
	return files, err
}

// LocalFileFor returns the local file record of the post with the given url.
func (db *DB) LocalFileFor(ctx context.Context, url string) (LocalFile, error) {
	var f LocalFile
	err := db.GetContext(ctx, &f,
		`SELECT l.post_id, l.filename, l.timestamp, COALESCE(l.checksum, '') AS checksum
		FROM localfiles l
		JOIN posts p ON p.id = l.post_id
		WHERE p.url = ?`,
		url,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return LocalFile{}, ErrNotFound
	}
	return f, err
}
