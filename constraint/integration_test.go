//go:build integration
// +build integration

package constraint_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/schedulekit/constraints/constraint"

	_ "github.com/lib/pq"
)

// setupTestDB starts a PostgreSQL container, applies the schema migration and
// returns a live connection.
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "constraints_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=constraints_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_create_constraints.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		container.Terminate(ctx)
	}
	return db, cleanup
}

func testDefinition(id string) constraint.Definition {
	return constraint.Definition{
		ID:                id,
		Name:              "Max teams",
		Kind:              constraint.KindHard,
		Priority:          5,
		Expression:        `schedule.teams <= 8`,
		ViolationMessage:  "too many teams",
		ViolationSeverity: constraint.SeverityError,
		Metadata:          map[string]any{"type": "capacity"},
		Active:            true,
	}
}

func TestPostgresRegistry_CRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	reg, err := constraint.NewPostgresRegistry(db)
	if err != nil {
		t.Fatalf("NewPostgresRegistry() failed: %v", err)
	}

	def := testDefinition("max-teams")
	if err := reg.Add(def); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	stored, err := reg.Definition("max-teams")
	if err != nil {
		t.Fatalf("Definition() failed: %v", err)
	}
	if stored.Expression != def.Expression {
		t.Errorf("stored expression = %q, want %q", stored.Expression, def.Expression)
	}
	if stored.Metadata["type"] != "capacity" {
		t.Errorf("stored metadata = %v, want capacity type tag", stored.Metadata)
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Error("timestamps should be set on insert")
	}

	stored.Priority = 9
	stored.Expression = `schedule.teams <= 16`
	if err := reg.Update(stored); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	updated, err := reg.Definition("max-teams")
	if err != nil {
		t.Fatalf("Definition() after update failed: %v", err)
	}
	if updated.Priority != 9 {
		t.Errorf("priority = %d after update, want 9", updated.Priority)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Error("UpdatedAt should move forward on update")
	}

	if err := reg.Delete("max-teams"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := reg.Definition("max-teams"); !errors.Is(err, constraint.ErrNotFound) {
		t.Errorf("Definition() after delete error = %v, want ErrNotFound", err)
	}
}

func TestPostgresRegistry_DuplicateID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	reg, err := constraint.NewPostgresRegistry(db)
	if err != nil {
		t.Fatalf("NewPostgresRegistry() failed: %v", err)
	}

	if err := reg.Add(testDefinition("dup")); err != nil {
		t.Fatalf("first Add() failed: %v", err)
	}
	if err := reg.Add(testDefinition("dup")); !errors.Is(err, constraint.ErrDuplicate) {
		t.Errorf("second Add() error = %v, want ErrDuplicate", err)
	}
}

func TestPostgresRegistry_GetCompilesAndEvaluates(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	reg, err := constraint.NewPostgresRegistry(db)
	if err != nil {
		t.Fatalf("NewPostgresRegistry() failed: %v", err)
	}
	if err := reg.Add(testDefinition("max-teams")); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	c, err := reg.Get("max-teams")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	ok, _, err := c.Evaluate(context.Background(), constraint.Context{"teams": 4})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !ok {
		t.Error("4 teams should satisfy the constraint")
	}

	ok, violations, err := c.Evaluate(context.Background(), constraint.Context{"teams": 12})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if ok || len(violations) != 1 {
		t.Errorf("12 teams should violate, got ok=%v violations=%d", ok, len(violations))
	}
}

func TestPostgresRegistry_RecompilesAfterUpdate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	reg, err := constraint.NewPostgresRegistry(db)
	if err != nil {
		t.Fatalf("NewPostgresRegistry() failed: %v", err)
	}
	def := testDefinition("max-teams")
	if err := reg.Add(def); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	// Populate the compiled cache.
	if _, err := reg.Get("max-teams"); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	def.Expression = `schedule.teams <= 2`
	if err := reg.Update(def); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	c, err := reg.Get("max-teams")
	if err != nil {
		t.Fatalf("Get() after update failed: %v", err)
	}
	ok, _, err := c.Evaluate(context.Background(), constraint.Context{"teams": 4})
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if ok {
		t.Error("Get() should recompile the updated expression, not serve the stale program")
	}
}

func TestPostgresRegistry_ByKindAndPriority(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	reg, err := constraint.NewPostgresRegistry(db)
	if err != nil {
		t.Fatalf("NewPostgresRegistry() failed: %v", err)
	}

	defs := []constraint.Definition{
		{ID: "h1", Name: "h1", Kind: constraint.KindHard, Priority: 5, Expression: `true`, Active: true},
		{ID: "h2", Name: "h2", Kind: constraint.KindHard, Priority: 3, Expression: `true`, Active: true},
		{ID: "s1", Name: "s1", Kind: constraint.KindSoft, Priority: 5, Expression: `true`, Active: true},
		{ID: "inactive", Name: "off", Kind: constraint.KindHard, Priority: 5, Expression: `true`, Active: false},
	}
	for _, d := range defs {
		if err := reg.Add(d); err != nil {
			t.Fatalf("Add(%s) failed: %v", d.ID, err)
		}
	}

	hard, err := reg.ByKind(constraint.KindHard)
	if err != nil {
		t.Fatalf("ByKind() failed: %v", err)
	}
	if len(hard) != 2 {
		t.Errorf("ByKind(hard) returned %d constraints, want 2 (inactive excluded)", len(hard))
	}

	p5, err := reg.ByPriority(5)
	if err != nil {
		t.Fatalf("ByPriority() failed: %v", err)
	}
	if len(p5) != 2 {
		t.Errorf("ByPriority(5) returned %d constraints, want 2", len(p5))
	}

	active, err := reg.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}
	if len(active) != 3 {
		t.Errorf("ListActive() returned %d definitions, want 3", len(active))
	}
}
