package kvstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Credentials address a Postgres server.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// SQLStore keeps keys in the kv_entries table. The same queries run on
// SQLite and Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens the database file at path, ":memory:" for a private one.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := pingOrClose(db); err != nil {
		return nil, err
	}

	// a second connection to ":memory:" would be a different database
	db.SetMaxOpenConns(1)
	return &SQLStore{db: db, dialect: DialectSQLite}, nil
}

// OpenPostgres connects with sslmode disabled.
func OpenPostgres(cred *Credentials) (*SQLStore, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := pingOrClose(db); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	return &SQLStore{db: db, dialect: DialectPostgres}, nil
}

// pingOrClose releases the pool when the database is unreachable.
func pingOrClose(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// RunMigrations applies the embedded schema migrations for the dialect.
func (r *SQLStore) RunMigrations() error {
	var (
		driver database.Driver
		err    error
	)
	switch r.dialect {
	case DialectSQLite:
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{})
	case DialectPostgres:
		driver, err = postgres.WithInstance(r.db, &postgres.Config{
			MigrationsTable: "storefront_schema_migrations",
		})
	default:
		return fmt.Errorf("unknown dialect %q", r.dialect)
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+string(r.dialect))
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(r.dialect), driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *SQLStore) Get(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM kv_entries WHERE name = $1`

	var value string
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query %s: %w", key, err)
	}
	return value, nil
}

func (r *SQLStore) Set(ctx context.Context, key, value string) error {
	query := `INSERT INTO kv_entries (name, value, updated_at)
	          VALUES ($1, $2, CURRENT_TIMESTAMP)
	          ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`

	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (r *SQLStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM kv_entries WHERE name = $1`

	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (r *SQLStore) Close() error {
	return r.db.Close()
}
