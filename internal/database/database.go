package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"signalsync/internal/config"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNotClaimed        = errors.New("queue item is not claimed by this worker")
	ErrActiveItemExists  = errors.New("an active queue item already exists for this entity")
	ErrInvalidTransition = errors.New("invalid queue status transition")
	ErrForeignKey        = errors.New("referenced row does not exist")
	ErrDuplicate         = errors.New("duplicate value")
	ErrInvalidItem       = errors.New("invalid queue item")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs statements against either the pool or an open transaction.
type Queries struct {
	q  querier
	dl dialect
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.dl.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, q.dl.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.dl.rebind(query), args...)
}

type DB struct {
	*sql.DB
	*Queries
	logger     *zerolog.Logger
	maxRetries int
}

// NewDB opens (creating if needed) a sqlite database at path.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	return Open(config.DatabaseConfig{Driver: "sqlite3", Path: path}, logger)
}

func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	var (
		dl  dialect
		dsn string
	)
	switch cfg.Driver {
	case "", "sqlite3":
		dl = sqliteDialect
		dsn = sqliteDSN(cfg.Path)
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	case "postgres":
		dl = postgresDialect
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(dl.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dl.driver == "sqlite3" {
		// A single connection serializes writers; every read is drained before the next statement.
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, Queries: &Queries{q: sqlDB, dl: dl}, logger: logger}

	if err := db.createTables(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := db.seed(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to seed reference data: %w", err)
	}

	logger.Info().Str("driver", dl.driver).Msg("database initialized")
	return db, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return ":memory:?_foreign_keys=on"
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// WithTx runs fn inside one transaction, committing when fn returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				db.logger.Error().Err(rbErr).Msg("rollback failed")
			}
		}
	}()

	if err = fn(&Queries{q: tx, dl: db.Queries.dl}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DriverName reports the sql driver in use.
func (db *DB) DriverName() string {
	return db.Queries.dl.driver
}

type dialect struct {
	driver     string
	numbered   bool
	types      *strings.Replacer
	skipLocked string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite3",
		types: strings.NewReplacer(
			"{{PK}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{DEC}}", "TEXT",
			"{{TS}}", "DATETIME",
		),
	}
	postgresDialect = dialect{
		driver:   "postgres",
		numbered: true,
		types: strings.NewReplacer(
			"{{PK}}", "BIGSERIAL PRIMARY KEY",
			"{{DEC}}", "NUMERIC",
			"{{TS}}", "TIMESTAMPTZ",
		),
		skipLocked: " FOR UPDATE SKIP LOCKED",
	}
)

// rebind rewrites ? placeholders to $n for drivers that need numbered ones.
func (d dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (db *DB) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS roles (
            id {{PK}},
            code TEXT NOT NULL UNIQUE,
            libelle TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS users (
            id {{PK}},
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL DEFAULT '',
            name TEXT NOT NULL DEFAULT '',
            role_id BIGINT REFERENCES roles(id),
            is_locked BOOLEAN NOT NULL DEFAULT FALSE,
            created_at {{TS}} NOT NULL,
            updated_at {{TS}} NOT NULL,
            remote_id TEXT UNIQUE,
            synced BOOLEAN NOT NULL DEFAULT FALSE,
            last_synced_at {{TS}},
            last_sync_error TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS signalement_status (
            id {{PK}},
            code TEXT NOT NULL UNIQUE,
            libelle TEXT NOT NULL,
            description TEXT,
            couleur TEXT,
            ordre INTEGER NOT NULL DEFAULT 0,
            created_at {{TS}} NOT NULL,
            updated_at {{TS}} NOT NULL,
            remote_id TEXT UNIQUE,
            synced BOOLEAN NOT NULL DEFAULT FALSE,
            last_synced_at {{TS}},
            last_sync_error TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS entreprises (
            id {{PK}},
            nom TEXT NOT NULL UNIQUE,
            siret TEXT UNIQUE,
            telephone TEXT,
            email TEXT,
            adresse TEXT,
            specialites TEXT NOT NULL DEFAULT '[]',
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            note_moyenne {{DEC}},
            nombre_interventions INTEGER NOT NULL DEFAULT 0,
            created_at {{TS}} NOT NULL,
            updated_at {{TS}} NOT NULL,
            remote_id TEXT UNIQUE,
            synced BOOLEAN NOT NULL DEFAULT FALSE,
            last_synced_at {{TS}},
            last_sync_error TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS signalements (
            id {{PK}},
            user_id BIGINT NOT NULL REFERENCES users(id),
            status_id BIGINT NOT NULL REFERENCES signalement_status(id),
            entreprise_id BIGINT REFERENCES entreprises(id),
            latitude {{DEC}} NOT NULL,
            longitude {{DEC}} NOT NULL,
            budget {{DEC}} NOT NULL,
            surface {{DEC}} NOT NULL,
            adresse TEXT,
            description TEXT NOT NULL,
            niveau INTEGER,
            date_signalement {{TS}} NOT NULL,
            created_at {{TS}} NOT NULL,
            updated_at {{TS}} NOT NULL,
            remote_id TEXT UNIQUE,
            synced BOOLEAN NOT NULL DEFAULT FALSE,
            last_synced_at {{TS}},
            last_sync_error TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id {{PK}},
            entity_type TEXT NOT NULL,
            entity_id BIGINT NOT NULL,
            remote_id TEXT,
            action TEXT NOT NULL,
            direction TEXT NOT NULL,
            status TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            max_retries INTEGER NOT NULL DEFAULT 3,
            priority INTEGER NOT NULL DEFAULT 5,
            scheduled_at {{TS}} NOT NULL,
            processing_started_at {{TS}},
            processed_at {{TS}},
            data_snapshot TEXT,
            error_message TEXT,
            synced_by TEXT,
            claim_token TEXT,
            follow_up INTEGER NOT NULL DEFAULT 0,
            created_at {{TS}} NOT NULL,
            updated_at {{TS}} NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_history (
            id {{PK}},
            sync_queue_id BIGINT,
            entity_type TEXT NOT NULL,
            entity_id BIGINT NOT NULL,
            remote_id TEXT,
            action TEXT NOT NULL,
            direction TEXT NOT NULL,
            status TEXT NOT NULL,
            error_category TEXT,
            error_message TEXT,
            remote_response TEXT,
            duration_ms BIGINT NOT NULL DEFAULT 0,
            synced_by TEXT,
            synced_at {{TS}} NOT NULL,
            next_retry_at {{TS}}
        )`,

		`CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_queue_active ON sync_queue(entity_type, entity_id) WHERE status IN ('PENDING', 'PROCESSING')`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_claim ON sync_queue(status, priority, scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_history_entity ON sync_history(entity_type, entity_id, synced_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_history_status ON sync_history(status, synced_at)`,
		`CREATE INDEX IF NOT EXISTS idx_users_synced ON users(synced)`,
		`CREATE INDEX IF NOT EXISTS idx_signalements_synced ON signalements(synced)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, db.Queries.dl.types.Replace(query)); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

type seedStatus struct {
	code, libelle, couleur string
	ordre                  int
}

var defaultStatuses = []seedStatus{
	{"NOUVEAU", "Nouveau", "#3B82F6", 1},
	{"EN_COURS", "En cours", "#F59E0B", 2},
	{"TERMINE", "Terminé", "#10B981", 3},
}

var defaultRoles = [][2]string{
	{"MANAGER", "Manager"},
	{"UTILISATEUR", "Utilisateur"},
}

func (db *DB) seed(ctx context.Context) error {
	now := time.Now().UTC()
	for _, r := range defaultRoles {
		if _, err := db.exec(ctx,
			`INSERT INTO roles (code, libelle) VALUES (?, ?) ON CONFLICT (code) DO NOTHING`,
			r[0], r[1]); err != nil {
			return fmt.Errorf("seed role %s: %w", r[0], err)
		}
	}
	for _, s := range defaultStatuses {
		if _, err := db.exec(ctx,
			`INSERT INTO signalement_status (code, libelle, couleur, ordre, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (code) DO NOTHING`,
			s.code, s.libelle, s.couleur, s.ordre, now, now); err != nil {
			return fmt.Errorf("seed status %s: %w", s.code, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}

// translate maps constraint violations onto package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", ErrForeignKey, err)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
