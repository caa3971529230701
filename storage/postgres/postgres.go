// Package postgres implements the storage port backed by PostgreSQL.
//
// Entity tables are owned by the application and provisioned through its
// own migrations; the adapter only manages the shared relations table.
// Write groups execute inside a single transaction, so the audit snapshot
// and the guarded write of a versioned save land atomically.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/cadencehq/strata/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Options tune the connection pool and let the caller ship its entity
// table migrations alongside the adapter's own.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Migrations, when set, is a migration source for the application's
	// entity and audit tables, applied after the adapter's own. Dir is
	// the path of the migration files within it.
	Migrations    fs.FS
	MigrationsDir string
}

// Store implements storage.Port backed by a PostgreSQL database.
type Store struct {
	db *sql.DB
}

var _ storage.Port = (*Store)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", storage.ErrUnavailable)
	}

	if err := runMigrations(db, migrationsFS, "migrations", "strata_schema_migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run adapter migrations: %w", err)
	}
	if opts.Migrations != nil {
		if err := runMigrations(db, opts.Migrations, opts.MigrationsDir, "schema_migrations"); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an existing database handle without touching pool
// settings or migrations. Intended for tests and callers that manage the
// schema themselves.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func runMigrations(db *sql.DB, src fs.FS, dir, table string) error {
	sourceDriver, err := iofs.New(src, dir)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: table})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, table, key string) (storage.Row, error) {
	return queryGet(ctx, s.db, table, key)
}

func (s *Store) BatchGet(ctx context.Context, table string, keys []string) ([]storage.Row, error) {
	return queryBatchGet(ctx, s.db, table, keys)
}

func (s *Store) Query(ctx context.Context, table string, filter storage.Filter) ([]storage.Row, error) {
	return queryFilter(ctx, s.db, table, filter)
}

// Apply runs the operation group in one transaction. The first failing
// operation aborts the group and nothing is kept.
func (s *Store) Apply(ctx context.Context, ops []storage.Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Relate(ctx context.Context, edge storage.Edge) error {
	return queryRelate(ctx, s.db, edge)
}

func (s *Store) Unrelate(ctx context.Context, edge storage.Edge) error {
	return queryUnrelate(ctx, s.db, edge)
}

func (s *Store) RelatedIDs(ctx context.Context, relation, table, id string, dir storage.Direction) ([]string, error) {
	return queryRelatedIDs(ctx, s.db, relation, table, id, dir)
}
