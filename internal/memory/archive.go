package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"eldritch/internal/logging"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Archive persists memory snapshots to SQLite so a session can resume.
type Archive struct {
	db     *sql.DB
	path   string
	driver string
}

// dsn builds the connection string for each driver's pragma syntax.
func dsn(driver, path string) (string, error) {
	switch driver {
	case "sqlite", "":
		return path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", nil
	case "sqlite3":
		return path + "?_journal_mode=WAL&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unsupported archive driver: %s", driver)
	}
}

// OpenArchive opens or creates the archive at path. driver is "sqlite"
// (pure Go, default) or "sqlite3" (cgo).
func OpenArchive(path, driver string) (*Archive, error) {
	if driver == "" {
		driver = "sqlite"
	}
	conn, err := dsn(driver, path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open(driver, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &Archive{db: db, path: path, driver: driver}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("Archive opened: %s (driver=%s)", path, driver)
	return a, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Path returns the database file path.
func (a *Archive) Path() string {
	return a.path
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_records (
		agent_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		importance INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		metadata_json TEXT,
		PRIMARY KEY (agent_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_records_agent ON memory_records(agent_id);

	CREATE TABLE IF NOT EXISTS archive_meta (
		agent_id TEXT PRIMARY KEY,
		saved_at TEXT NOT NULL,
		record_count INTEGER NOT NULL
	);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Save replaces the agent's archived records in one transaction.
func (a *Archive) Save(ctx context.Context, agentID string, records []Record) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_records WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("clear %s: %w", agentID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO memory_records
		(agent_id, seq, id, content, type, importance, timestamp, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		var meta sql.NullString
		if len(r.Metadata) > 0 {
			b, err := json.Marshal(r.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
			}
			meta = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, agentID, i, r.ID, r.Content, r.Type, r.Importance,
			r.Timestamp.UTC().Format(time.RFC3339Nano), meta); err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO archive_meta (agent_id, saved_at, record_count)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET saved_at = excluded.saved_at, record_count = excluded.record_count`,
		agentID, time.Now().UTC().Format(time.RFC3339Nano), len(records)); err != nil {
		return fmt.Errorf("update meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logging.Store("Archived %d records for %s", len(records), agentID)
	return nil
}

// Load returns the agent's archived records in insertion order.
func (a *Archive) Load(ctx context.Context, agentID string) ([]Record, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, content, type, importance, timestamp, metadata_json
		FROM memory_records WHERE agent_id = ? ORDER BY seq`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", agentID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r    Record
			ts   string
			meta sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Content, &r.Type, &r.Importance, &ts, &meta); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp of %s: %w", r.ID, err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("parse metadata of %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Agents lists the agents with archived records, sorted.
func (a *Archive) Agents(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT agent_id FROM archive_meta ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveRegistry archives every store in the registry.
func (a *Archive) SaveRegistry(ctx context.Context, reg *Registry) error {
	for _, id := range reg.Agents() {
		if err := a.Save(ctx, id, reg.Store(id).Export()); err != nil {
			logging.StoreError("Failed to archive %s: %v", id, err)
			return err
		}
	}
	return nil
}

// LoadRegistry imports every archived agent into the registry and returns
// how many records were restored.
func (a *Archive) LoadRegistry(ctx context.Context, reg *Registry) (int, error) {
	ids, err := a.Agents(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		recs, err := a.Load(ctx, id)
		if err != nil {
			logging.StoreError("Failed to restore %s: %v", id, err)
			return total, err
		}
		store := reg.Store(id)
		store.Import(recs)
		total += store.Len()
	}
	logging.Store("Restored %d records across %d agents", total, len(ids))
	return total, nil
}
