package udb

import (
	"net/url"
	"sync"

	"github.com/google/uuid"
)

// DBLocation records where one database's files and owning application
// live, keyed by the database's own UUID. The registry is in-process
// only; durable application/database associations remain an external
// concern.
type DBLocation struct {
	DBPath  string
	AppPath string
}

// Registry maps database UUIDs to DBLocation, letting one process track
// several open databases (and the external applications associated with
// them) by UUID rather than by file path, so a moved or renamed file is
// still recognized. It is purely in-memory; nothing here is persisted.
type Registry struct {
	mu    sync.RWMutex
	byUUID map[uuid.UUID]DBLocation
}

func NewRegistry() *Registry {
	return &Registry{byUUID: make(map[uuid.UUID]DBLocation)}
}

// Register records loc under id, replacing any previous entry.
func (r *Registry) Register(id uuid.UUID, loc DBLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUUID[id] = loc
}

// RegisterOpen is a convenience for registering a *Database that has
// already been opened.
func (r *Registry) RegisterOpen(db *Database, dbPath, appPath string) {
	r.Register(uuid.UUID(db.DBUUID()), DBLocation{DBPath: dbPath, AppPath: appPath})
}

// Unregister removes id's entry, if any.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byUUID, id)
}

// Lookup returns id's recorded location, if any.
func (r *Registry) Lookup(id uuid.UUID) (DBLocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.byUUID[id]
	return loc, ok
}

// Resolve is a convenience wrapping ParseXoidURL + Lookup: given an
// xoid:// URL, it returns the database location it should be opened
// against.
func (r *Registry) Resolve(xoidURL string) (DBLocation, uuid.UUID, error) {
	u, err := url.Parse(xoidURL)
	if err != nil {
		return DBLocation{}, uuid.UUID{}, err
	}
	_, dbID, err := ParseXoidURL(u)
	if err != nil {
		return DBLocation{}, uuid.UUID{}, err
	}
	loc, ok := r.Lookup(dbID)
	if !ok {
		return DBLocation{}, dbID, &dbNotRegisteredError{DBID: dbID}
	}
	return loc, dbID, nil
}

type dbNotRegisteredError struct{ DBID uuid.UUID }

func (e *dbNotRegisteredError) Error() string {
	return "udb: no registered location for database " + e.DBID.String()
}
