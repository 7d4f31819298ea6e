package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"

	_ "github.com/lib/pq"
)

var schemaUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)

// -----------------------------------------------------------------------------

type PostgresCheckpointStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

// NewPostgresCheckpointStore keeps each relay instance in its own schema,
// named after the application.
func NewPostgresCheckpointStore(cfg *models.MConfig, log *logger.Logger) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{
		Config: cfg,
		Schema: SchemaName(cfg.Name),
		Logger: log,
	}
}

// SchemaName lowercases name and replaces anything outside [a-z0-9_].
func SchemaName(name string) string {
	schema := schemaUnsafe.ReplaceAllString(strings.ToLower(name), "_")
	schema = strings.Trim(schema, "_")
	if schema == "" {
		return "laserstream_relay"
	}
	return schema
}

// -----------------------------------------------------------------------------

func (d *PostgresCheckpointStore) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	d.DB = db

	// Create Schema
	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."checkpoints" (
			origin TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			slot BIGINT,
			payload JSONB NOT NULL,
			updated_at BIGINT NOT NULL
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create checkpoints: %w", err)
	}

	d.Logger.Info("Postgres checkpoint store ready (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresCheckpointStore) SaveLatest(ctx context.Context, origin string, msg models.Message) error {
	row, err := newCheckpointRow(msg)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO "%s"."checkpoints" (origin, type, slot, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (origin) DO UPDATE SET
			type = EXCLUDED.type,
			slot = EXCLUDED.slot,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, d.Schema)
	if _, err := d.DB.ExecContext(ctx, query, origin, row.Type, row.Slot, row.Payload, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresCheckpointStore) LoadLatest(ctx context.Context, origin string) (models.Message, error) {
	var payload []byte
	query := fmt.Sprintf(`SELECT payload FROM "%s"."checkpoints" WHERE origin = $1`, d.Schema)
	err := d.DB.QueryRowContext(ctx, query, origin).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return models.Decode(payload)
}

// -----------------------------------------------------------------------------

func (d *PostgresCheckpointStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
