package udb

import (
	"github.com/google/uuid"

	"github.com/kvobj/udb/pkg/cell"
)

// Table names for the four object-layer tables. DIR/IDX/META
// are owned by pkg/schema and pkg/index respectively.
const (
	OBJTable = "OBJ"
	QUETable = "QUE"
	MAPTable = "MAP"
	OIXTable = "OIX"
)

func oidCell(oid uint32) []byte { return cell.WriteCell(cell.SetOID(oid)) }

// objBareKey is the OBJ row keyed by a bare OID: the counter at oid=0,
// or the forward UUID binding for oid!=0.
func objBareKey(oid uint32) []byte { return oidCell(oid) }

func objUUIDRevKey(u uuid.UUID) []byte { return cell.WriteCell(cell.SetUUID(u)) }

func objAttrKey(oid, atom uint32) []byte {
	return append(oidCell(oid), cell.WriteCell(cell.SetAtom(atom))...)
}

func queCounterKey(oid uint32) []byte { return oidCell(oid) }

func queSlotKey(oid, nr uint32) []byte {
	return append(oidCell(oid), cell.WriteCell(cell.SetId32(nr))...)
}

func mapKeyPrefix(oid uint32) []byte { return oidCell(oid) }

func mapKey(oid uint32, fields []cell.Cell) []byte {
	w := cell.NewSlotWriter()
	for _, f := range fields {
		w.Slot("", f)
	}
	return append(oidCell(oid), w.Bytes()...)
}

func oixKey(oid uint32, tail []byte) []byte {
	return append(oidCell(oid), tail...)
}

func cellReadOID(buf []byte) (uint32, error) {
	c, _, err := cell.ReadCell(buf)
	if err != nil {
		return 0, err
	}
	return c.OID(), nil
}

func cellWriteOID(oid uint32) []byte { return cell.WriteCell(cell.SetOID(oid)) }
