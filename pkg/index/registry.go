package index

import (
	"github.com/kvobj/udb/pkg/cell"
	uerrors "github.com/kvobj/udb/pkg/errors"
	"github.com/kvobj/udb/pkg/schema"
	"github.com/kvobj/udb/pkg/store"
)

// IDXTable is the Store table holding index registry rows: the name
// registry, the schema records, and the atom->indices reverse lookup.
const IDXTable = "IDX"

// tablePrefix namespaces an index's own secondary-index table from the
// six fixed tables, so a user naming an index "OBJ" can't collide with it.
const tablePrefix = "IDXT:"

// Registry owns the IDX table and every declared index's own table.
type Registry struct {
	store *store.Store
}

func OpenRegistry(s *store.Store) (*Registry, error) {
	if _, err := s.CreateTable(IDXTable); err != nil {
		return nil, err
	}
	return &Registry{store: s}, nil
}

func handleCell(idxName string) cell.Cell { return cell.SetLatin1([]byte(idxName)) }

// The three IDX row kinds share one table but must never collide on a raw
// byte key; since the name and the "table handle" are the same string in
// this implementation (there is no separate numeric table-id space),
// each kind gets its own single-byte marker ahead of the cell encoding.
const (
	regKindName byte = 0xA0
	regKindMeta byte = 0xA1
	regKindAtom byte = 0xA2
)

func regNameKey(idxName string) []byte {
	return append([]byte{regKindName}, cell.WriteCell(cell.SetLatin1([]byte(idxName)))...)
}
func regMetaKey(handle string) []byte {
	return append([]byte{regKindMeta}, cell.WriteCell(handleCell(handle))...)
}
func regAtomKey(atom schema.Atom, handle string) []byte {
	buf := append([]byte{regKindAtom}, cell.WriteCell(cell.SetAtom(atom))...)
	return append(buf, cell.WriteCell(handleCell(handle))...)
}
func regAtomPrefix(atom schema.Atom) []byte {
	return append([]byte{regKindAtom}, cell.WriteCell(cell.SetAtom(atom))...)
}

// Table returns the name of the Store table backing idxName's entries.
func (r *Registry) Table(idxName string) string { return tablePrefix + idxName }

// Create declares a new index: registers it in IDX, serializes its
// metadata, records an atom->index row per declared field, and creates
// its backing table. Returns IndexExistsError if the name is taken.
func (r *Registry) Create(idxName string, m IndexMeta) error {
	idx := r.store.Table(IDXTable)
	if _, ok := idx.Get(regNameKey(idxName)); ok {
		return &uerrors.IndexExistsError{Name: idxName}
	}

	muts := []store.Mutation{
		{Table: IDXTable, Key: regNameKey(idxName), Value: cell.WriteCell(handleCell(idxName))},
		{Table: IDXTable, Key: regMetaKey(idxName), Value: Serialize(m)},
	}
	for _, it := range m.Items {
		muts = append(muts, store.Mutation{
			Table: IDXTable,
			Key:   regAtomKey(it.Atom, idxName),
			Value: cell.WriteCell(handleCell(idxName)),
		})
	}
	if err := r.store.Apply(muts); err != nil {
		return err
	}
	if _, err := r.store.CreateTable(r.Table(idxName)); err != nil {
		return err
	}
	return nil
}

// Lookup returns the declared metadata for idxName.
func (r *Registry) Lookup(idxName string) (IndexMeta, error) {
	idx := r.store.Table(IDXTable)
	v, ok := idx.Get(regMetaKey(idxName))
	if !ok {
		return IndexMeta{}, &uerrors.IndexNotFoundError{Name: idxName}
	}
	return Deserialize(v)
}

// Remove drops idxName's registry rows and its backing table.
func (r *Registry) Remove(idxName string) error {
	idx := r.store.Table(IDXTable)
	v, ok := idx.Get(regMetaKey(idxName))
	if !ok {
		return &uerrors.IndexNotFoundError{Name: idxName}
	}
	m, err := Deserialize(v)
	if err != nil {
		return err
	}

	muts := []store.Mutation{
		{Table: IDXTable, Key: regNameKey(idxName), Del: true},
		{Table: IDXTable, Key: regMetaKey(idxName), Del: true},
	}
	for _, it := range m.Items {
		muts = append(muts, store.Mutation{Table: IDXTable, Key: regAtomKey(it.Atom, idxName), Del: true})
	}
	if err := r.store.Apply(muts); err != nil {
		return err
	}
	return r.store.DropTable(r.Table(idxName))
}

// FindIndicesForAtom returns the names of every index that declares atom
// as one of its fields.
func (r *Registry) FindIndicesForAtom(atom schema.Atom) []string {
	idx := r.store.Table(IDXTable)
	prefix := regAtomPrefix(atom)
	c := store.NewCursor(idx)
	var names []string
	for ok := c.MoveTo(prefix, true); ok; ok = c.NextWithPrefix(prefix) {
		handleBuf := c.Value()
		hc, _, err := cell.ReadCell(handleBuf)
		if err != nil {
			continue
		}
		names = append(names, hc.String())
	}
	return names
}

// OpenIdx returns a cursor over idxName's backing table, governed by its
// declared metadata, for programmatic prefix/range queries beyond the
// seek/first_key/next_key surface used internally by BuildKey maintenance.
func (r *Registry) OpenIdx(idxName string) (*Idx, error) {
	m, err := r.Lookup(idxName)
	if err != nil {
		return nil, err
	}
	tree := r.store.Table(r.Table(idxName))
	if tree == nil {
		return nil, &uerrors.IndexNotFoundError{Name: idxName}
	}
	return NewIdx(tree, m), nil
}

// Names lists every declared index name.
func (r *Registry) Names() []string {
	idx := r.store.Table(IDXTable)
	prefix := []byte{regKindName}
	var names []string
	c := store.NewCursor(idx)
	for ok := c.MoveTo(prefix, true); ok; ok = c.NextWithPrefix(prefix) {
		v, _, err := cell.ReadCell(c.Key()[1:])
		if err != nil {
			continue
		}
		names = append(names, v.String())
	}
	return names
}
