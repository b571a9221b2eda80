// Package index implements composite-key secondary indices: declarative
// IndexMeta records, composite key construction, and the Idx value-typed
// cursor. It never imports the root object package (callers supply a
// value-lookup callback), so the object layer can in turn import this
// package without a cycle.
package index

import (
	"github.com/kvobj/udb/pkg/cell"
	uerrors "github.com/kvobj/udb/pkg/errors"
	"github.com/kvobj/udb/pkg/schema"
)

// Kind distinguishes duplicate-allowing from first-writer-wins indices.
type Kind byte

const (
	KindValue Kind = iota
	KindUnique
)

// Item is one declared field of a composite index.
type Item struct {
	Atom      schema.Atom
	Collation cell.Collation
	NoCase    bool
	Invert    bool
}

// IndexMeta is the declarative schema of one secondary index.
type IndexMeta struct {
	Kind  Kind
	Items []Item
}

const (
	slotKind = "kind"
	frameItem = "item"
	slotAtom  = "atom"
	slotNC    = "nc"
	slotInv   = "inv"
	slotColl  = "coll"
)

// Serialize produces the IDX-table record for an IndexMeta: a "kind"
// slot followed by one "item" frame per declared field.
func Serialize(m IndexMeta) []byte {
	w := cell.NewSlotWriter()
	w.Slot(slotKind, cell.SetUInt8(uint8(m.Kind)))
	for _, it := range m.Items {
		w.BeginFrame(frameItem)
		w.Slot(slotAtom, cell.SetAtom(it.Atom))
		w.Slot(slotNC, cell.SetBool(it.NoCase))
		w.Slot(slotInv, cell.SetBool(it.Invert))
		w.Slot(slotColl, cell.SetUInt8(uint8(it.Collation)))
		w.EndFrame()
	}
	return w.Bytes()
}

// Deserialize parses a record produced by Serialize.
func Deserialize(buf []byte) (IndexMeta, error) {
	flat, frames, err := cell.Frames(buf)
	if err != nil {
		return IndexMeta{}, &uerrors.DatabaseMetaError{Reason: err.Error()}
	}
	kindCell, ok := flat[slotKind]
	if !ok {
		return IndexMeta{}, &uerrors.DatabaseMetaError{Reason: "index meta missing kind slot"}
	}
	m := IndexMeta{Kind: Kind(kindCell.UInt8())}
	for _, f := range frames {
		if f.Name != frameItem {
			continue
		}
		s, err := cell.Slots(f.Body)
		if err != nil {
			return IndexMeta{}, &uerrors.DatabaseMetaError{Reason: err.Error()}
		}
		m.Items = append(m.Items, Item{
			Atom:      s[slotAtom].Atom(),
			NoCase:    s[slotNC].Bool(),
			Invert:    s[slotInv].Bool(),
			Collation: cell.Collation(s[slotColl].UInt8()),
		})
	}
	return m, nil
}
