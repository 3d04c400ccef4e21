package object

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/bsblan-bridge/internal/infrastructure/database"
)

// Repository defines the persistence operations of the object store.
// The SQLite implementation is used in production; tests may substitute
// an in-memory mock.
type Repository interface {
	// Get retrieves an object by ID.
	// Returns ErrObjectNotFound if it does not exist.
	Get(ctx context.Context, id string) (*Object, error)

	// List retrieves all objects ordered by ID.
	List(ctx context.Context) ([]Object, error)

	// Create inserts a new object.
	// Returns ErrObjectExists if the ID is taken.
	Create(ctx context.Context, obj *Object) error

	// Update replaces the descriptor of an existing object.
	// Returns ErrObjectNotFound if it does not exist.
	Update(ctx context.Context, obj *Object) error

	// Delete removes an object and its state.
	// Returns ErrObjectNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// GetState retrieves the current value of an object.
	// Returns ErrStateNotFound if no value was ever set.
	GetState(ctx context.Context, id string) (*State, error)

	// ListStates retrieves every stored value keyed by object ID.
	ListStates(ctx context.Context) (map[string]State, error)

	// SetState stores the value of an existing object.
	// Returns ErrObjectNotFound if the object does not exist.
	SetState(ctx context.Context, id string, state State) error
}

// SQLiteRepository implements Repository using the objects and states
// tables. Descriptors are stored as JSON columns.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectObjects = `
		SELECT id, type, common, native, created_at, updated_at
		FROM objects`

// Get retrieves an object by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Object, error) {
	row := r.db.QueryRowContext(ctx, selectObjects+" WHERE id = ?", id)
	obj, err := scanObject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("querying object by id: %w", err)
	}
	return obj, nil
}

// List retrieves all objects ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Object, error) {
	rows, err := r.db.QueryContext(ctx, selectObjects+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying objects: %w", err)
	}
	defer rows.Close()

	var objects []Object
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning object: %w", err)
		}
		objects = append(objects, *obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating objects: %w", err)
	}
	return objects, nil
}

// Create inserts a new object.
func (r *SQLiteRepository) Create(ctx context.Context, obj *Object) error {
	commonJSON, nativeJSON, err := marshalDescriptor(obj)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = now
	}
	obj.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO objects (id, type, common, native, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		obj.ID,
		string(obj.Type),
		commonJSON,
		nativeJSON,
		obj.CreatedAt.Format(time.RFC3339Nano),
		obj.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintError(err) {
			return ErrObjectExists
		}
		return fmt.Errorf("inserting object: %w", err)
	}
	return nil
}

// Update replaces the descriptor of an existing object.
func (r *SQLiteRepository) Update(ctx context.Context, obj *Object) error {
	commonJSON, nativeJSON, err := marshalDescriptor(obj)
	if err != nil {
		return err
	}

	obj.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE objects
		SET type = ?, common = ?, native = ?, updated_at = ?
		WHERE id = ?`,
		string(obj.Type),
		commonJSON,
		nativeJSON,
		obj.UpdatedAt.Format(time.RFC3339Nano),
		obj.ID,
	)
	if err != nil {
		return fmt.Errorf("updating object: %w", err)
	}
	return expectOneRow(result, ErrObjectNotFound)
}

// Delete removes an object; its state goes with it via ON DELETE CASCADE.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM objects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	return expectOneRow(result, ErrObjectNotFound)
}

// GetState retrieves the current value of an object.
func (r *SQLiteRepository) GetState(ctx context.Context, id string) (*State, error) {
	row := r.db.QueryRowContext(ctx, "SELECT id, value, ack, updated_at FROM states WHERE id = ?", id)
	_, state, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("querying state: %w", err)
	}
	return state, nil
}

// ListStates retrieves every stored value keyed by object ID.
func (r *SQLiteRepository) ListStates(ctx context.Context) (map[string]State, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, value, ack, updated_at FROM states")
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]State)
	for rows.Next() {
		id, state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning state: %w", err)
		}
		states[id] = *state
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating states: %w", err)
	}
	return states, nil
}

// SetState upserts the value of an existing object.
func (r *SQLiteRepository) SetState(ctx context.Context, id string, state State) error {
	valueJSON, err := json.Marshal(state.Value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}
	if state.Timestamp.IsZero() {
		state.Timestamp = time.Now().UTC()
	}

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM objects WHERE id = ?", id).Scan(&count); err != nil {
			return fmt.Errorf("checking object exists: %w", err)
		}
		if count == 0 {
			return ErrObjectNotFound
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO states (id, value, ack, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				value = excluded.value,
				ack = excluded.ack,
				updated_at = excluded.updated_at`,
			id,
			string(valueJSON),
			boolToInt(state.Ack),
			state.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("storing state: %w", err)
		}
		return nil
	})
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(scanner rowScanner) (*Object, error) {
	var obj Object
	var objType, commonJSON, nativeJSON, createdAt, updatedAt string

	if err := scanner.Scan(&obj.ID, &objType, &commonJSON, &nativeJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	obj.Type = Type(objType)

	if err := json.Unmarshal([]byte(commonJSON), &obj.Common); err != nil {
		return nil, fmt.Errorf("unmarshalling common: %w", err)
	}
	if err := json.Unmarshal([]byte(nativeJSON), &obj.Native); err != nil {
		return nil, fmt.Errorf("unmarshalling native: %w", err)
	}

	var err error
	if obj.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if obj.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &obj, nil
}

func scanState(scanner rowScanner) (string, *State, error) {
	var id, updatedAt string
	var valueJSON sql.NullString
	var ack int

	if err := scanner.Scan(&id, &valueJSON, &ack, &updatedAt); err != nil {
		return "", nil, err
	}

	state := State{Ack: ack != 0}
	if valueJSON.Valid && valueJSON.String != "" {
		if err := json.Unmarshal([]byte(valueJSON.String), &state.Value); err != nil {
			return "", nil, fmt.Errorf("unmarshalling value: %w", err)
		}
	}

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	state.Timestamp = ts
	return id, &state, nil
}

func marshalDescriptor(obj *Object) (common, native string, err error) {
	c, err := json.Marshal(obj.Common)
	if err != nil {
		return "", "", fmt.Errorf("marshalling common: %w", err)
	}
	n, err := json.Marshal(obj.Native)
	if err != nil {
		return "", "", fmt.Errorf("marshalling native: %w", err)
	}
	return string(c), string(n), nil
}

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isConstraintError reports a primary key or unique violation.
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
