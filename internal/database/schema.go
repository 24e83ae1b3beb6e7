// internal/database/schema.go
// Store schema, versioned migrations and maintenance
package database

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	// SchemaVersion is the store layout this build reads and writes.
	SchemaVersion = 3

	// StoreExt is the required suffix of the store file. Any file whose
	// extension starts with it (.db-wal, .db-shm, .db-journal) belongs to the store.
	StoreExt = ".db"

	timestampFormat = "2006-01-02 15:04:05.000"
)

const Schema = `
-- Posts seen in feed harvests
CREATE TABLE IF NOT EXISTS posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    user TEXT NOT NULL,
    subreddit TEXT NOT NULL,
    url TEXT NOT NULL UNIQUE,
    postcode TEXT NOT NULL UNIQUE,
    lastseen TIMESTAMP NOT NULL
);

-- Exclusion ledger, one live row per post
CREATE TABLE IF NOT EXISTS excluded (
    post_id INTEGER NOT NULL UNIQUE,
    sequence INTEGER NOT NULL,
    reason TEXT NOT NULL,
    FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
);

-- Files written to the images directory
CREATE TABLE IF NOT EXISTS localfiles (
    post_id INTEGER NOT NULL UNIQUE,
    filename TEXT NOT NULL UNIQUE,
    timestamp TIMESTAMP NOT NULL,
    checksum TEXT,
    FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
);`

const Indexes = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_url ON posts(url);
CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_postcode ON posts(postcode);
CREATE INDEX IF NOT EXISTS idx_posts_lastseen ON posts(lastseen);
CREATE INDEX IF NOT EXISTS idx_excluded_sequence ON excluded(sequence);
CREATE INDEX IF NOT EXISTS idx_localfiles_timestamp ON localfiles(timestamp);
CREATE INDEX IF NOT EXISTS idx_localfiles_checksum ON localfiles(checksum);`

// DB is the post store: registry, exclusion ledger and local file tracker
type DB struct {
	*sqlx.DB
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// Configuration for the database
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// Clock returns the current time; nil means time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the default database configuration.
// The store has a single writer, so one connection is enough and keeps
// temp tables and transactions on the same handle.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// IsStoreFile reports whether name is the store file or one of its companions.
func IsStoreFile(name string) bool {
	return strings.HasPrefix(filepath.Ext(name), StoreExt)
}

// Open opens the store at path, migrating it to SchemaVersion.
func Open(path string, cfg Config, logger *zap.Logger) (*DB, error) {
	if filepath.Ext(path) != StoreExt {
		return nil, fmt.Errorf("%w: store must end in %s but is configured as %s", ErrInvalidStoreName, StoreExt, path)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON&_synchronous=NORMAL", path)
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db := newDB(conn, path, cfg, logger)
	if err := db.prepare(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func newDB(conn *sqlx.DB, path string, cfg Config, logger *zap.Logger) *DB {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &DB{DB: conn, path: path, logger: logger, now: now}
}

// Path returns the store file location.
func (db *DB) Path() string {
	return db.path
}

// Version reads the schema version persisted in the store.
func (db *DB) Version(ctx context.Context) (int, error) {
	var version int
	if err := db.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return 0, fmt.Errorf("error reading schema version: %w", err)
	}
	return version, nil
}

func (db *DB) prepare(ctx context.Context) error {
	version, err := db.Version(ctx)
	if err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: store %s is version %d, this build supports %d",
			ErrSchemaTooNew, db.path, version, SchemaVersion)
	}

	for v := version; v < SchemaVersion; v++ {
		if err := db.migrate(ctx, v); err != nil {
			return fmt.Errorf("error migrating schema from version %d: %w", v, err)
		}
		db.logger.Info("migrated store schema", zap.Int("from", v), zap.Int("to", v+1))
	}

	return db.clean(ctx)
}

// migrations[v] upgrades a store from version v to v+1.
var migrations = []func(ctx context.Context, tx *sqlx.Tx) error{
	migrateFromV0,
	migrateFromV1,
	migrateFromV2,
}

func (db *DB) migrate(ctx context.Context, from int) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migrations[from](ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", from+1)); err != nil {
		return fmt.Errorf("error bumping schema version: %w", err)
	}
	return tx.Commit()
}

// migrateFromV0 creates the single-table layout used by version 1 stores.
func migrateFromV0(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS images (
            rowid INTEGER PRIMARY KEY AUTOINCREMENT,
            filename TEXT UNIQUE,
            title TEXT NOT NULL,
            user TEXT NOT NULL,
            subreddit TEXT NOT NULL,
            url TEXT UNIQUE NOT NULL,
            postid TEXT UNIQUE NOT NULL,
            created DATETIME DEFAULT(CURRENT_TIMESTAMP),
            excluded INTEGER DEFAULT(0)
        )`)
	if err != nil {
		return fmt.Errorf("error creating images table: %w", err)
	}
	return nil
}

// migrateFromV1 splits the images table into posts, excluded and localfiles.
func migrateFromV1(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx, `
        CREATE TABLE posts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            user TEXT NOT NULL,
            subreddit TEXT NOT NULL,
            url TEXT NOT NULL UNIQUE,
            postcode TEXT NOT NULL UNIQUE,
            lastseen TIMESTAMP NOT NULL
        );

        CREATE TABLE excluded (
            post_id INTEGER NOT NULL UNIQUE,
            sequence INTEGER NOT NULL,
            reason TEXT NOT NULL,
            FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
        );

        CREATE TABLE localfiles (
            post_id INTEGER NOT NULL UNIQUE,
            filename TEXT NOT NULL UNIQUE,
            timestamp TIMESTAMP NOT NULL,
            FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
        );

        INSERT INTO posts (id, title, user, subreddit, url, postcode, lastseen)
            SELECT rowid, title, user, subreddit, url, postid,
                   strftime('%Y-%m-%d %H:%M:%f', COALESCE(created, CURRENT_TIMESTAMP))
            FROM images;

        INSERT INTO excluded (post_id, sequence, reason)
            SELECT rowid, 1, 'explicit' FROM images WHERE excluded != 0;

        INSERT INTO localfiles (post_id, filename, timestamp)
            SELECT rowid, filename, strftime('%Y-%m-%d %H:%M:%f', COALESCE(created, CURRENT_TIMESTAMP))
            FROM images
            WHERE filename IS NOT NULL AND excluded = 0;

        DROP TABLE images;`)
	if err != nil {
		return fmt.Errorf("error splitting images table: %w", err)
	}
	return nil
}

// migrateFromV2 adds media checksums to localfiles.
func migrateFromV2(ctx context.Context, tx *sqlx.Tx) error {
	exists, err := columnExists(ctx, tx, "localfiles", "checksum")
	if err != nil {
		return fmt.Errorf("error checking column localfiles.checksum: %w", err)
	}
	if exists {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE localfiles ADD COLUMN checksum TEXT"); err != nil {
		return fmt.Errorf("error adding column localfiles.checksum: %w", err)
	}
	return nil
}

func columnExists(ctx context.Context, q sqlx.QueryerContext, tableName, columnName string) (bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s);", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}
	return false, rows.Err()
}

// clean ensures the current layout, rebuilds indexes, compacts the file and
// persists the schema version.
func (db *DB) clean(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, Indexes); err != nil {
		return fmt.Errorf("error creating indexes: %w", err)
	}
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("error compacting store: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("error persisting schema version: %w", err)
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

func (db *DB) timestamp() string {
	return formatTimestamp(db.now())
}

// cutoff returns the formatted instant maxAgeDays before now.
func (db *DB) cutoff(maxAgeDays int) string {
	return formatTimestamp(db.now().AddDate(0, 0, -maxAgeDays))
}
