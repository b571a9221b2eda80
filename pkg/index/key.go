package index

import (
	"github.com/kvobj/udb/pkg/cell"
)

// ValueGetter resolves the current value of an attribute on an object;
// the object layer passes a closure reading through its own buffer first.
type ValueGetter func(oid uint32, atom uint32) cell.Cell

func isStringLike(t cell.Type) bool {
	switch t {
	case cell.TypeLatin1, cell.TypeAscii, cell.TypeString, cell.TypeHtml:
		return true
	default:
		return false
	}
}

// fieldBytes encodes one declared Item's contribution to a composite
// index key: an effective type tag (always TypeString for text variants)
// followed by the field payload, with nocase/collation applied to text
// and the whole field bitwise-inverted when Invert is set.
func fieldBytes(it Item, c cell.Cell) []byte {
	var tag cell.Type
	var payload []byte

	if isStringLike(c.Type()) {
		tag = cell.TypeString
		s := c.String()
		if it.NoCase {
			s = cell.FoldCase(c.Type(), s)
		}
		// A zero terminator keeps concatenated fields self-delimiting
		// ("ab"+"c" never collides with "a"+"bc") and sorts a string
		// strictly before every proper extension of it.
		payload = append(cell.Decompose(it.Collation, s), 0x00)
	} else {
		tag = c.Type()
		payload = cell.WriteCellRaw(c)
	}

	out := make([]byte, 0, 1+len(payload))
	out = append(out, byte(tag))
	out = append(out, payload...)

	if it.Invert {
		for i := range out {
			out[i] = ^out[i]
		}
	}
	return out
}

// BuildKey encodes every declared Item of m for oid, using get to read
// each atom's current value. ok is false if every declared field is
// null; an all-null key gets no index entry.
func BuildKey(m IndexMeta, oid uint32, get ValueGetter) (key []byte, ok bool) {
	var buf []byte
	anyNonNull := false
	for _, it := range m.Items {
		c := get(oid, it.Atom)
		if !c.IsNull() {
			anyNonNull = true
		}
		buf = append(buf, fieldBytes(it, c)...)
	}
	if !anyNonNull {
		return nil, false
	}
	if m.Kind == KindValue {
		buf = append(buf, cell.WriteCell(cell.SetOID(oid))...)
	}
	return buf, true
}
