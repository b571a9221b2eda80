package store

import (
	"sort"
	"sync"

	uerrors "github.com/kvobj/udb/pkg/errors"
)

// tableRegistry owns the named Trees backing OBJ, DIR, IDX, QUE, MAP, OIX
// and META, plus any user-declared secondary-index trees. Table creation,
// removal and clearing are logged to the WAL exactly like ordinary cell
// writes so they replay correctly on recovery.
type tableRegistry struct {
	mu     sync.RWMutex
	tables map[string]*Tree
}

func newTableRegistry() *tableRegistry {
	return &tableRegistry{tables: make(map[string]*Tree)}
}

// CreateTable registers a new empty table, or returns the existing one if
// name was already created.
func (r *tableRegistry) CreateTable(name string) (*Tree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tables[name]; ok {
		return t, nil
	}
	if name == "" {
		return nil, &uerrors.CreateTableError{Reason: "empty table name"}
	}
	t := NewTree()
	r.tables[name] = t
	return t, nil
}

// Table returns the named table, or nil if it hasn't been created.
func (r *tableRegistry) Table(name string) *Tree {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables[name]
}

// DropTable removes a table entirely.
func (r *tableRegistry) DropTable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[name]; !ok {
		return &uerrors.RemoveTableError{Table: name}
	}
	delete(r.tables, name)
	return nil
}

// ClearTable empties a table in place, keeping its registration.
func (r *tableRegistry) ClearTable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[name]; !ok {
		return &uerrors.ClearTableError{Table: name}
	}
	r.tables[name] = NewTree()
	return nil
}

// Names returns every registered table name in sorted order, for
// Store.TableNames.
func (r *tableRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tables))
	for name := range r.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
