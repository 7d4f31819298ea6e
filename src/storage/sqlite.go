package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type SQLiteCheckpointStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteCheckpointStore(cfg *models.MConfig, log *logger.Logger) *SQLiteCheckpointStore {
	return &SQLiteCheckpointStore{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *SQLiteCheckpointStore) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	// One writer at a time; there is one row per upstream
	db.SetMaxOpenConns(1)
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	query := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			origin TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			slot INTEGER,
			payload TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create checkpoints: %w", err)
	}

	d.Logger.Info("SQLite checkpoint store ready at %s", dsn)
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteCheckpointStore) SaveLatest(ctx context.Context, origin string, msg models.Message) error {
	row, err := newCheckpointRow(msg)
	if err != nil {
		return err
	}

	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO checkpoints (origin, type, slot, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(origin) DO UPDATE SET
			type = excluded.type,
			slot = excluded.slot,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, origin, row.Type, row.Slot, row.Payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteCheckpointStore) LoadLatest(ctx context.Context, origin string) (models.Message, error) {
	var payload string
	err := d.DB.QueryRowContext(ctx, "SELECT payload FROM checkpoints WHERE origin = ?", origin).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return models.Decode([]byte(payload))
}

// -----------------------------------------------------------------------------

func (d *SQLiteCheckpointStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
