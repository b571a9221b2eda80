package schema

import (
	"sync"

	"github.com/kvobj/udb/pkg/cell"
	uerrors "github.com/kvobj/udb/pkg/errors"
	"github.com/kvobj/udb/pkg/store"
)

// DIRTable is the name of the Store table backing the atom directory.
const DIRTable = "DIR"

func dirNullKey() []byte       { return cell.WriteCell(cell.Null()) }
func dirNameKey(name string) []byte { return cell.WriteCell(cell.SetLatin1([]byte(name))) }
func dirAtomKey(atom Atom) []byte   { return cell.WriteCell(cell.SetAtom(atom)) }

// Directory is the bidirectional name<->atom interning table, backed
// by the DIR table with an in-memory read-through cache guarded by its
// own mutex rather than a shared Database mutex.
type Directory struct {
	mu      sync.RWMutex
	store   *store.Store
	byName  map[string]Atom
	byAtom  map[Atom]string
}

// OpenDirectory creates the DIR table if needed and returns a Directory
// bound to it. Caches start empty and warm lazily on first access.
func OpenDirectory(s *store.Store) (*Directory, error) {
	if _, err := s.CreateTable(DIRTable); err != nil {
		return nil, err
	}
	return &Directory{
		store:  s,
		byName: make(map[string]Atom),
		byAtom: make(map[Atom]string),
	}, nil
}

// Intern returns the atom bound to name. If name has never been seen and
// allowCreate is true, a fresh atom is allocated and durably bound; if
// allowCreate is false and name is unknown, Intern returns (0, nil).
func (d *Directory) Intern(name string, allowCreate bool) (Atom, error) {
	d.mu.RLock()
	if a, ok := d.byName[name]; ok {
		d.mu.RUnlock()
		return a, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.byName[name]; ok {
		return a, nil
	}

	tbl := d.store.Table(DIRTable)
	if v, ok := tbl.Get(dirNameKey(name)); ok {
		a, err := decodeAtom(v)
		if err != nil {
			return 0, &uerrors.DirectoryFormatError{Reason: err.Error()}
		}
		d.byName[name] = a
		d.byAtom[a] = name
		return a, nil
	}

	if !allowCreate {
		return 0, nil
	}

	next := Atom(1)
	if v, ok := tbl.Get(dirNullKey()); ok {
		c, _, err := cell.ReadCell(v)
		if err != nil {
			return 0, &uerrors.DirectoryFormatError{Reason: err.Error()}
		}
		next = c.Atom()
	}
	atom := next
	newCounter := next + 1

	muts := []store.Mutation{
		{Table: DIRTable, Key: dirNullKey(), Value: cell.WriteCell(cell.SetAtom(newCounter))},
		{Table: DIRTable, Key: dirNameKey(name), Value: cell.WriteCell(cell.SetAtom(atom))},
		{Table: DIRTable, Key: dirAtomKey(atom), Value: cell.WriteCell(cell.SetLatin1([]byte(name)))},
	}
	if err := d.store.Apply(muts); err != nil {
		return 0, err
	}

	d.byName[name] = atom
	d.byAtom[atom] = name
	return atom, nil
}

// LookupAtomString is the symmetric, cached reverse lookup.
func (d *Directory) LookupAtomString(atom Atom) (string, bool, error) {
	d.mu.RLock()
	if n, ok := d.byAtom[atom]; ok {
		d.mu.RUnlock()
		return n, true, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.byAtom[atom]; ok {
		return n, true, nil
	}

	tbl := d.store.Table(DIRTable)
	v, ok := tbl.Get(dirAtomKey(atom))
	if !ok {
		return "", false, nil
	}
	c, _, err := cell.ReadCell(v)
	if err != nil {
		return "", false, &uerrors.DirectoryFormatError{Reason: err.Error()}
	}
	name := c.String()
	d.byAtom[atom] = name
	d.byName[name] = atom
	return name, true, nil
}

// Preset binds name to a fixed atom id at startup. A
// conflicting existing binding to a different atom fails with
// DuplicateAtom; if name is new, it is inserted and the counter is raised
// past atom so future Intern calls don't collide with it.
func (d *Directory) Preset(name string, atom Atom) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tbl := d.store.Table(DIRTable)
	if v, ok := tbl.Get(dirNameKey(name)); ok {
		existing, err := decodeAtom(v)
		if err != nil {
			return &uerrors.DirectoryFormatError{Reason: err.Error()}
		}
		if existing != atom {
			return &uerrors.DuplicateAtomError{Name: name, Atom: existing}
		}
		d.byName[name] = atom
		d.byAtom[atom] = name
		return d.raiseCounter(atom)
	}

	muts := []store.Mutation{
		{Table: DIRTable, Key: dirNameKey(name), Value: cell.WriteCell(cell.SetAtom(atom))},
		{Table: DIRTable, Key: dirAtomKey(atom), Value: cell.WriteCell(cell.SetLatin1([]byte(name)))},
	}
	if err := d.store.Apply(muts); err != nil {
		return err
	}
	d.byName[name] = atom
	d.byAtom[atom] = name
	return d.raiseCounter(atom)
}

// raiseCounter ensures the atom counter exceeds atom; caller holds mu.
func (d *Directory) raiseCounter(atom Atom) error {
	tbl := d.store.Table(DIRTable)
	var cur Atom
	if v, ok := tbl.Get(dirNullKey()); ok {
		c, err := decodeAtom(v)
		if err != nil {
			return &uerrors.DirectoryFormatError{Reason: err.Error()}
		}
		cur = c
	}
	if cur > atom {
		return nil
	}
	return d.store.Apply([]store.Mutation{
		{Table: DIRTable, Key: dirNullKey(), Value: cell.WriteCell(cell.SetAtom(atom + 1))},
	})
}

func decodeAtom(v []byte) (Atom, error) {
	c, _, err := cell.ReadCell(v)
	if err != nil {
		return 0, err
	}
	return c.Atom(), nil
}
