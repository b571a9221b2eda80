package schema

import (
	"github.com/google/uuid"

	"github.com/kvobj/udb/pkg/cell"
	uerrors "github.com/kvobj/udb/pkg/errors"
	"github.com/kvobj/udb/pkg/store"
)

// METATable is the name of the Store table backing the database header.
const METATable = "META"

// dbFormatLiteral is the fixed dbFormat marker; every database header
// must carry it for Open to accept the file.
const dbFormatLiteral = "6d20986b-36ed-4571-ad5e-26734ccfb542"

var dbFormatUUID = uuid.MustParse(dbFormatLiteral)

// Meta is the single persisted header record at encode(null) in META: the
// six table ids, the fixed dbFormat marker, and this database's own
// identifying UUID (used by the MIME object-reference payload and the
// xoid:// URL scheme).
type Meta struct {
	ObjTable int32
	DirTable int32
	IdxTable int32
	QueTable int32
	MapTable int32
	OixTable int32
	DBUUID   uuid.UUID
}

const (
	slotObjTable = "objTable"
	slotDirTable = "dirTable"
	slotIdxTable = "idxTable"
	slotQueTable = "queTable"
	slotMapTable = "mapTable"
	slotOixTable = "oixTable"
	slotDBFormat = "dbFormat"
	slotDBUUID   = "dbUuid"
)

func metaNullKey() []byte { return cell.WriteCell(cell.Null()) }

// LoadOrCreateMeta reads the header record, or creates a fresh one (with a
// new random database UUID) if META is empty.
func LoadOrCreateMeta(s *store.Store) (*Meta, error) {
	if _, err := s.CreateTable(METATable); err != nil {
		return nil, err
	}
	tbl := s.Table(METATable)
	v, ok := tbl.Get(metaNullKey())
	if !ok {
		m := &Meta{ObjTable: 1, DirTable: 2, IdxTable: 3, QueTable: 4, MapTable: 5, OixTable: 6, DBUUID: uuid.New()}
		if err := saveMeta(s, m); err != nil {
			return nil, err
		}
		return m, nil
	}

	slots, err := cell.Slots(v)
	if err != nil {
		return nil, &uerrors.DatabaseMetaError{Reason: err.Error()}
	}
	fmtCell, ok := slots[slotDBFormat]
	if !ok || fmtCell.UUID() != dbFormatUUID {
		return nil, &uerrors.DatabaseFormatError{}
	}

	m := &Meta{
		ObjTable: int32(slots[slotObjTable].Int32()),
		DirTable: int32(slots[slotDirTable].Int32()),
		IdxTable: int32(slots[slotIdxTable].Int32()),
		QueTable: int32(slots[slotQueTable].Int32()),
		MapTable: int32(slots[slotMapTable].Int32()),
		OixTable: int32(slots[slotOixTable].Int32()),
	}
	if u, ok := slots[slotDBUUID]; ok {
		m.DBUUID = u.UUID()
	}
	return m, nil
}

func saveMeta(s *store.Store, m *Meta) error {
	w := cell.NewSlotWriter()
	w.Slot(slotObjTable, cell.SetInt32(m.ObjTable))
	w.Slot(slotDirTable, cell.SetInt32(m.DirTable))
	w.Slot(slotIdxTable, cell.SetInt32(m.IdxTable))
	w.Slot(slotQueTable, cell.SetInt32(m.QueTable))
	w.Slot(slotMapTable, cell.SetInt32(m.MapTable))
	w.Slot(slotOixTable, cell.SetInt32(m.OixTable))
	w.Slot(slotDBFormat, cell.SetUUID(dbFormatUUID))
	w.Slot(slotDBUUID, cell.SetUUID(m.DBUUID))

	return s.Apply([]store.Mutation{
		{Table: METATable, Key: metaNullKey(), Value: w.Bytes()},
	})
}
