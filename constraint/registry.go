package constraint

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when a constraint id is not registered.
	ErrNotFound = errors.New("constraint not found")
	// ErrDuplicate is returned when registering an id that already exists.
	ErrDuplicate = errors.New("constraint already registered")
	// ErrInvalidID is returned when registering a constraint with an empty id.
	ErrInvalidID = errors.New("constraint id must not be empty")
)

// Registry stores constraint definitions and looks them up by id, kind or
// priority. The evaluation engine only borrows constraints from it; it never
// owns them.
type Registry interface {
	Get(id string) (Constraint, error)
	ByKind(kind Kind) ([]Constraint, error)
	ByPriority(priority int) ([]Constraint, error)
	Register(c Constraint) error
}

// InMemoryRegistry implements Registry with a mutex-guarded map.
// Thread-safe for concurrent access.
type InMemoryRegistry struct {
	constraints map[string]Constraint
	mu          sync.RWMutex
}

var _ Registry = (*InMemoryRegistry)(nil)

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{constraints: make(map[string]Constraint)}
}

// Register adds a constraint, enforcing unique non-empty ids.
func (r *InMemoryRegistry) Register(c Constraint) error {
	if c == nil || c.ID() == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constraints[c.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, c.ID())
	}
	r.constraints[c.ID()] = c
	return nil
}

func (r *InMemoryRegistry) Get(id string) (Constraint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.constraints[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

func (r *InMemoryRegistry) ByKind(kind Kind) ([]Constraint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Constraint
	for _, c := range r.constraints {
		if c.Kind() == kind {
			out = append(out, c)
		}
	}
	sortByID(out)
	return out, nil
}

func (r *InMemoryRegistry) ByPriority(priority int) ([]Constraint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Constraint
	for _, c := range r.constraints {
		if c.Priority() == priority {
			out = append(out, c)
		}
	}
	sortByID(out)
	return out, nil
}

// Deregister removes a constraint. Removing an unknown id is an error so
// callers notice stale references.
func (r *InMemoryRegistry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constraints[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.constraints, id)
	return nil
}

// sortByID keeps lookup results deterministic; map iteration order is not.
func sortByID(cs []Constraint) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID() < cs[j].ID() })
}
