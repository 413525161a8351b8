package constraint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	_ "github.com/lib/pq"
)

// PostgresRegistry implements Registry backed by PostgreSQL. Stored
// definitions are compiled to CEL constraints on first use and the compiled
// programs are kept until the definition changes.
type PostgresRegistry struct {
	db       *sql.DB
	env      *cel.Env
	compiled map[string]*CELConstraint
	mu       sync.RWMutex
}

var _ Registry = (*PostgresRegistry)(nil)

func NewPostgresRegistry(db *sql.DB) (*PostgresRegistry, error) {
	env, err := NewCELEnv()
	if err != nil {
		return nil, err
	}
	return &PostgresRegistry{
		db:       db,
		env:      env,
		compiled: make(map[string]*CELConstraint),
	}, nil
}

const definitionColumns = `id, name, kind, priority, expression, violation_message, violation_severity, metadata, active, created_at, updated_at`

func scanDefinition(row interface{ Scan(...any) error }) (Definition, error) {
	var def Definition
	var metadataJSON []byte
	err := row.Scan(
		&def.ID,
		&def.Name,
		&def.Kind,
		&def.Priority,
		&def.Expression,
		&def.ViolationMessage,
		&def.ViolationSeverity,
		&metadataJSON,
		&def.Active,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return def, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &def.Metadata); err != nil {
			return def, fmt.Errorf("failed to decode metadata for constraint %s: %w", def.ID, err)
		}
	}
	return def, nil
}

// Get returns the constraint for id, compiling its stored definition if the
// compiled copy is stale or missing.
func (r *PostgresRegistry) Get(id string) (Constraint, error) {
	def, err := r.getDefinition(id)
	if err != nil {
		return nil, err
	}
	return r.materialize(def)
}

func (r *PostgresRegistry) getDefinition(id string) (Definition, error) {
	row := r.db.QueryRow(`
		SELECT `+definitionColumns+`
		FROM constraints
		WHERE id = $1
	`, id)

	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return def, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return def, fmt.Errorf("failed to get constraint: %w", err)
	}
	return def, nil
}

// Definition returns the stored definition for id without compiling it.
func (r *PostgresRegistry) Definition(id string) (Definition, error) {
	return r.getDefinition(id)
}

// materialize returns the cached compiled constraint when its definition is
// unchanged, recompiling otherwise.
func (r *PostgresRegistry) materialize(def Definition) (*CELConstraint, error) {
	r.mu.RLock()
	cached, ok := r.compiled[def.ID]
	r.mu.RUnlock()
	if ok && cached.def.UpdatedAt.Equal(def.UpdatedAt) {
		return cached, nil
	}

	c, err := Compile(r.env, def)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.compiled[def.ID] = c
	r.mu.Unlock()
	return c, nil
}

func (r *PostgresRegistry) queryConstraints(where string, args ...any) ([]Constraint, error) {
	rows, err := r.db.Query(`
		SELECT `+definitionColumns+`
		FROM constraints
		WHERE `+where+`
		ORDER BY id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list constraints: %w", err)
	}
	defer rows.Close()

	var out []Constraint
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan constraint: %w", err)
		}
		c, err := r.materialize(def)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating constraints: %w", err)
	}
	return out, nil
}

func (r *PostgresRegistry) ByKind(kind Kind) ([]Constraint, error) {
	return r.queryConstraints(`kind = $1 AND active = true`, string(kind))
}

func (r *PostgresRegistry) ByPriority(priority int) ([]Constraint, error) {
	return r.queryConstraints(`priority = $1 AND active = true`, priority)
}

// ListActive returns all active definitions, for API listings.
func (r *PostgresRegistry) ListActive() ([]Definition, error) {
	rows, err := r.db.Query(`
		SELECT ` + definitionColumns + `
		FROM constraints
		WHERE active = true
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active constraints: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan constraint: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating constraints: %w", err)
	}
	return defs, nil
}

// Register persists a constraint. Only CEL constraints have a storable
// definition; anything else must live in a code-backed registry.
func (r *PostgresRegistry) Register(c Constraint) error {
	cc, ok := c.(*CELConstraint)
	if !ok {
		return fmt.Errorf("postgres registry can only store CEL constraints, got %T", c)
	}
	return r.Add(cc.Definition())
}

// Add validates, compiles and inserts a definition.
func (r *PostgresRegistry) Add(def Definition) error {
	if _, err := Compile(r.env, def); err != nil {
		return fmt.Errorf("constraint validation failed: %w", err)
	}

	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM constraints WHERE id = $1)`, def.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check constraint existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, def.ID)
	}

	now := time.Now()
	metadataJSON, err := json.Marshal(def.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO constraints (id, name, kind, priority, expression, violation_message, violation_severity, metadata, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, def.ID, def.Name, def.Kind, def.Priority, def.Expression,
		def.ViolationMessage, def.ViolationSeverity, metadataJSON, def.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert constraint: %w", err)
	}
	return nil
}

// Update modifies a stored definition, recompiling to validate first.
func (r *PostgresRegistry) Update(def Definition) error {
	if _, err := Compile(r.env, def); err != nil {
		return fmt.Errorf("constraint validation failed: %w", err)
	}

	metadataJSON, err := json.Marshal(def.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	result, err := r.db.Exec(`
		UPDATE constraints
		SET name = $1, kind = $2, priority = $3, expression = $4,
		    violation_message = $5, violation_severity = $6, metadata = $7,
		    active = $8, updated_at = $9
		WHERE id = $10
	`, def.Name, def.Kind, def.Priority, def.Expression,
		def.ViolationMessage, def.ViolationSeverity, metadataJSON,
		def.Active, time.Now(), def.ID)
	if err != nil {
		return fmt.Errorf("failed to update constraint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, def.ID)
	}

	r.mu.Lock()
	delete(r.compiled, def.ID)
	r.mu.Unlock()
	return nil
}

// Delete removes a definition and its compiled program.
func (r *PostgresRegistry) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM constraints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete constraint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	r.mu.Lock()
	delete(r.compiled, id)
	r.mu.Unlock()
	return nil
}
