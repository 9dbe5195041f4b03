package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/stepline/stepline/pkg/schema"
)

// LibSQLStore implements StateStore on libSQL (embedded SQLite fork).
// Each state is one JSON document in the execution_states table; the
// upsert runs in an implicit transaction, which gives the atomic-write
// contract for free.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and runs
// pending migrations. The path should be a file URI, e.g.
// "file:/path/to/stepline.db".
func NewLibSQLStore(ctx context.Context, dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) Load(ctx context.Context, instanceID string) (*ExecutionState, error) {
	if err := validInstanceID(instanceID); err != nil {
		return nil, err
	}

	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM execution_states WHERE instance_id = ?`, instanceID,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, stateNotFound(instanceID)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "load state %s: %s", instanceID, err.Error()).WithCause(err)
	}

	state := &ExecutionState{}
	if err := json.Unmarshal([]byte(doc), state); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "decode state %s: %s", instanceID, err.Error()).WithCause(err)
	}
	return state, nil
}

func (s *LibSQLStore) Save(ctx context.Context, state *ExecutionState) error {
	if state == nil {
		return schema.NewError(schema.ErrCodePersistence, "state is nil")
	}
	if err := validInstanceID(state.InstanceID); err != nil {
		return err
	}

	state.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(state)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodePersistence, "encode state %s: %s", state.InstanceID, err.Error()).WithCause(err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_states (instance_id, workflow, document, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(instance_id) DO UPDATE SET
		   workflow = excluded.workflow,
		   document = excluded.document,
		   updated_at = excluded.updated_at`,
		state.InstanceID, state.Workflow, string(doc), state.UpdatedAt,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodePersistence, "save state %s: %s", state.InstanceID, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) Delete(ctx context.Context, instanceID string) error {
	if err := validInstanceID(instanceID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM execution_states WHERE instance_id = ?`, instanceID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodePersistence, "delete state %s: %s", instanceID, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id FROM execution_states ORDER BY instance_id`)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "list states: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodePersistence, "scan state id: %s", err.Error()).WithCause(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "iterate states: %s", err.Error()).WithCause(err)
	}
	return ids, nil
}
