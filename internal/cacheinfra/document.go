package cacheinfra

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goliatone/go-cache-connector/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"
)

// deleteBatch bounds the size of IN (...) lists.
const deleteBatch = 500

// Document persists entries as rows of a dedicated table.
//
// Entries live in <table> (cache_key, value, expires_at, created_at) and tag
// membership in <table>_tags (cache_key, tag). Set and InvalidateByTags run in a
// transaction so an entry and its tags change together. Timestamps are stored as
// unix milliseconds.
type Document struct {
	db            *bun.DB
	table         string
	tagTable      string
	maxValueBytes int
	scheduler     *cron.Cron
	ownsDB        bool
	opts          *options
}

// OpenDocument opens cfg.DSN with cfg.Driver, prepares the schema and starts the
// cleanup schedule.
func OpenDocument(ctx context.Context, cfg cache.DocumentSettings, opts ...Option) (*Document, error) {
	if cfg.DSN == "" {
		return nil, &cache.ConfigError{Field: "Document.DSN", Message: "is required"}
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, cache.Unavailable(cache.ProviderDocument, "open", "", err)
	}

	var db *bun.DB
	switch cfg.Driver {
	case "sqlite3":
		// sqlite allows a single writer; one connection also keeps :memory: databases shared.
		sqlDB.SetMaxOpenConns(1)
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	case "postgres":
		db = bun.NewDB(sqlDB, pgdialect.New())
	default:
		sqlDB.Close()
		return nil, &cache.ConfigError{Field: "Document.Driver", Message: "unsupported driver " + cfg.Driver}
	}

	doc, err := NewDocument(ctx, db, cfg, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	doc.ownsDB = true
	return doc, nil
}

// NewDocument uses an existing bun database. The caller keeps ownership of db.
func NewDocument(ctx context.Context, db *bun.DB, cfg cache.DocumentSettings, opts ...Option) (*Document, error) {
	if cfg.Table == "" {
		return nil, &cache.ConfigError{Field: "Document.Table", Message: "is required"}
	}
	if cfg.MaxValueBytes <= 0 {
		return nil, &cache.ConfigError{Field: "Document.MaxValueBytes", Message: "must be greater than 0"}
	}

	d := &Document{
		db:            db,
		table:         cfg.Table,
		tagTable:      cfg.Table + "_tags",
		maxValueBytes: cfg.MaxValueBytes,
		opts:          applyOptions(opts),
	}

	if err := d.createSchema(ctx); err != nil {
		return nil, cache.Unavailable(cache.ProviderDocument, "migrate", "", err)
	}

	if cfg.CleanupSchedule != "" {
		d.scheduler = cron.New()
		if _, err := d.scheduler.AddFunc(cfg.CleanupSchedule, d.scheduledCleanup); err != nil {
			return nil, &cache.ConfigError{Field: "Document.CleanupSchedule", Message: err.Error()}
		}
		d.scheduler.Start()
	}

	return d, nil
}

func (d *Document) createSchema(ctx context.Context) error {
	blobType := "BLOB"
	if d.db.Dialect().Name() == dialect.PG {
		blobType = "BYTEA"
	}

	stmts := []struct {
		query string
		args  []any
	}{
		{
			query: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ? (
				cache_key TEXT PRIMARY KEY,
				value %s NOT NULL,
				expires_at BIGINT NOT NULL,
				created_at BIGINT NOT NULL
			)`, blobType),
			args: []any{bun.Ident(d.table)},
		},
		{
			query: `CREATE TABLE IF NOT EXISTS ? (
				cache_key TEXT NOT NULL,
				tag TEXT NOT NULL,
				PRIMARY KEY (cache_key, tag)
			)`,
			args: []any{bun.Ident(d.tagTable)},
		},
		{
			query: `CREATE INDEX IF NOT EXISTS ? ON ? (tag)`,
			args:  []any{bun.Ident(d.tagTable + "_tag_idx"), bun.Ident(d.tagTable)},
		},
		{
			query: `CREATE INDEX IF NOT EXISTS ? ON ? (expires_at)`,
			args:  []any{bun.Ident(d.table + "_expires_idx"), bun.Ident(d.table)},
		},
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return errors.Wrapf(err, "create schema for %s", d.table)
		}
	}
	return nil
}

func (d *Document) Kind() cache.ProviderKind {
	return cache.ProviderDocument
}

func (d *Document) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	row := d.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM ? WHERE cache_key = ?", bun.Ident(d.table), key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, cache.Unavailable(cache.ProviderDocument, "get", key, err)
	}

	if d.opts.now().UnixMilli() >= expiresAt {
		// expired rows read as misses until the sweep removes them
		return nil, false, nil
	}
	return value, true, nil
}

func (d *Document) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	entry, err := cache.NewEntry(key, value, ttl, tags, d.opts.now())
	if err != nil {
		return err
	}
	if len(entry.Value) > d.maxValueBytes {
		// A rejected overwrite still drops the previous value.
		if err := d.Delete(ctx, key); err != nil {
			return err
		}
		return cache.ErrEntryTooLarge
	}

	err = d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ? (cache_key, value, expires_at, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (cache_key) DO UPDATE SET
				value = EXCLUDED.value,
				expires_at = EXCLUDED.expires_at,
				created_at = EXCLUDED.created_at`,
			bun.Ident(d.table), entry.Key, entry.Value,
			entry.ExpiresAt.UnixMilli(), entry.CreatedAt.UnixMilli(),
		); err != nil {
			return errors.Wrap(err, "upsert entry")
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM ? WHERE cache_key = ?", bun.Ident(d.tagTable), entry.Key,
		); err != nil {
			return errors.Wrap(err, "clear tags")
		}

		for _, tag := range entry.Tags {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO ? (cache_key, tag) VALUES (?, ?)", bun.Ident(d.tagTable), entry.Key, tag,
			); err != nil {
				return errors.Wrapf(err, "insert tag %s", tag)
			}
		}
		return nil
	})
	return cache.Unavailable(cache.ProviderDocument, "set", key, err)
}

func (d *Document) Delete(ctx context.Context, key string) error {
	err := d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return d.deleteKeys(ctx, tx, []string{key})
	})
	return cache.Unavailable(cache.ProviderDocument, "delete", key, err)
}

func (d *Document) InvalidateByTags(ctx context.Context, tags []string) error {
	tags = cache.DedupeTags(tags)
	if len(tags) == 0 {
		return nil
	}

	err := d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		keys, err := d.selectKeys(ctx, tx,
			"SELECT DISTINCT cache_key FROM ? WHERE tag IN (?)", bun.Ident(d.tagTable), bun.In(tags))
		if err != nil {
			return errors.Wrap(err, "select tagged keys")
		}
		return d.deleteKeys(ctx, tx, keys)
	})
	return cache.Unavailable(cache.ProviderDocument, "invalidate", "", err)
}

// Cleanup deletes every expired entry and returns how many were removed.
func (d *Document) Cleanup(ctx context.Context) (int, error) {
	var removed int
	err := d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		keys, err := d.selectKeys(ctx, tx,
			"SELECT cache_key FROM ? WHERE expires_at <= ?", bun.Ident(d.table), d.opts.now().UnixMilli())
		if err != nil {
			return errors.Wrap(err, "select expired keys")
		}
		removed = len(keys)
		return d.deleteKeys(ctx, tx, keys)
	})
	if err != nil {
		return 0, cache.Unavailable(cache.ProviderDocument, "cleanup", "", err)
	}
	return removed, nil
}

// Close stops the cleanup schedule and closes the database when it was opened here.
func (d *Document) Close() error {
	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
	}
	if d.ownsDB {
		return d.db.Close()
	}
	return nil
}

func (d *Document) scheduledCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := d.Cleanup(ctx)
	if err != nil {
		d.opts.logger.Warn("document cache cleanup failed",
			zap.String("table", d.table),
			zap.Error(err),
		)
		return
	}
	d.opts.logger.Debug("document cache cleanup",
		zap.String("table", d.table),
		zap.Int("removed", removed),
	)
}

func (d *Document) selectKeys(ctx context.Context, tx bun.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (d *Document) deleteKeys(ctx context.Context, tx bun.Tx, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		batch := bun.In(keys[start:end])

		if _, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE cache_key IN (?)", bun.Ident(d.table), batch); err != nil {
			return errors.Wrap(err, "delete entries")
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE cache_key IN (?)", bun.Ident(d.tagTable), batch); err != nil {
			return errors.Wrap(err, "delete tags")
		}
	}
	return nil
}

var _ cache.Provider = (*Document)(nil)
