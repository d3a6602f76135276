package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresBackend keeps snapshots in a single-row table keyed by engine name.
type PostgresBackend struct {
	db   *sql.DB
	name string
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Name distinguishes engines sharing one database.
	Name string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresBackend opens the database and creates the snapshot table if needed.
func NewPostgresBackend(config *PostgresConfig) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	name := config.Name
	if name == "" {
		name = "default"
	}
	b := &PostgresBackend{db: db, name: name}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return b, nil
}

func (b *PostgresBackend) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS engine_snapshots (
		name VARCHAR(128) PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		snapshot BYTEA NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`
	_, err := b.db.ExecContext(ctx, schema)
	return err
}

func (b *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		"SELECT snapshot FROM engine_snapshots WHERE name = $1", b.name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", b.name, err)
	}
	return data, nil
}

func (b *PostgresBackend) Save(ctx context.Context, snapshot []byte) error {
	version := uint32(0)
	if l, err := Decode(snapshot); err == nil {
		version = l.Schema.Version
	}

	query := `
	INSERT INTO engine_snapshots (name, schema_version, snapshot, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (name) DO UPDATE SET
		schema_version = EXCLUDED.schema_version,
		snapshot = EXCLUDED.snapshot,
		updated_at = NOW()
	`
	if _, err := b.db.ExecContext(ctx, query, b.name, int64(version), snapshot); err != nil {
		return fmt.Errorf("saving snapshot %s: %w", b.name, err)
	}
	return nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
