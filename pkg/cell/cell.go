// Package cell implements the typed, self-delimiting value codec that the
// object layer stores in every table. Every encoded cell starts with a
// one-byte type tag followed by a big-endian payload. Raw byte comparison
// of two encoded cells orders them by type tag first; within a type it
// agrees with value order for Bool, the fixed-width integer types and UUID,
// but not for the variable-length byte-string types, whose payload starts
// with a 4-byte length (shorter values sort first), nor for DateTime values
// before 1970.
package cell

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the one-byte tag prefixing every encoded cell.
type Type byte

const (
	TypeNull Type = iota
	TypeBool
	TypeUInt8
	TypeUInt32
	TypeInt32
	TypeOID
	TypeAtom
	TypeId32
	TypeUUID
	TypeDateTime
	TypeLatin1
	TypeAscii
	TypeString
	TypeHtml
	TypeBml
	TypeTag
	TypeLob
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "Null"
	case TypeBool:
		return "Bool"
	case TypeUInt8:
		return "UInt8"
	case TypeUInt32:
		return "UInt32"
	case TypeInt32:
		return "Int32"
	case TypeOID:
		return "OID"
	case TypeAtom:
		return "Atom"
	case TypeId32:
		return "Id32"
	case TypeUUID:
		return "UUID"
	case TypeDateTime:
		return "DateTime"
	case TypeLatin1:
		return "Latin1"
	case TypeAscii:
		return "Ascii"
	case TypeString:
		return "String"
	case TypeHtml:
		return "Html"
	case TypeBml:
		return "Bml"
	case TypeTag:
		return "Tag"
	case TypeLob:
		return "Lob"
	default:
		return fmt.Sprintf("Type(%d)", byte(t))
	}
}

// Cell is a single typed, self-delimiting value.
type Cell struct {
	typ   Type
	u32   uint32
	i32   int32
	b     bool
	bytes []byte
	t     time.Time
	uu    uuid.UUID
}

// Null returns the null cell. The zero Cell is already null.
func Null() Cell { return Cell{typ: TypeNull} }

func (c Cell) IsNull() bool { return c.typ == TypeNull }
func (c Cell) Type() Type   { return c.typ }

func SetBool(v bool) Cell      { return Cell{typ: TypeBool, b: v} }
func SetUInt8(v uint8) Cell    { return Cell{typ: TypeUInt8, u32: uint32(v)} }
func SetUInt32(v uint32) Cell  { return Cell{typ: TypeUInt32, u32: v} }
func SetInt32(v int32) Cell    { return Cell{typ: TypeInt32, i32: v} }
func SetOID(v uint32) Cell     { return Cell{typ: TypeOID, u32: v} }
func SetAtom(v uint32) Cell    { return Cell{typ: TypeAtom, u32: v} }
func SetId32(v uint32) Cell    { return Cell{typ: TypeId32, u32: v} }
func SetUUID(v uuid.UUID) Cell { return Cell{typ: TypeUUID, uu: v} }
func SetDateTime(v time.Time) Cell {
	return Cell{typ: TypeDateTime, t: v.UTC()}
}
func SetLatin1(v []byte) Cell { return Cell{typ: TypeLatin1, bytes: append([]byte(nil), v...)} }
func SetAscii(v []byte) Cell  { return Cell{typ: TypeAscii, bytes: append([]byte(nil), v...)} }
func SetString(v string) Cell { return Cell{typ: TypeString, bytes: []byte(v)} }
func SetHtml(v string) Cell   { return Cell{typ: TypeHtml, bytes: []byte(v)} }
func SetBml(v []byte) Cell    { return Cell{typ: TypeBml, bytes: append([]byte(nil), v...)} }
func SetTag(v [4]byte) Cell   { return Cell{typ: TypeTag, bytes: v[:]} }
func SetLob(v []byte) Cell    { return Cell{typ: TypeLob, bytes: append([]byte(nil), v...)} }

func (c Cell) Bool() bool         { return c.b }
func (c Cell) UInt8() uint8       { return uint8(c.u32) }
func (c Cell) UInt32() uint32     { return c.u32 }
func (c Cell) Int32() int32       { return c.i32 }
func (c Cell) OID() uint32        { return c.u32 }
func (c Cell) Atom() uint32       { return c.u32 }
func (c Cell) Id32() uint32       { return c.u32 }
func (c Cell) UUID() uuid.UUID    { return c.uu }
func (c Cell) DateTime() time.Time { return c.t }
func (c Cell) Bytes() []byte      { return c.bytes }
func (c Cell) String() string     { return string(c.bytes) }

// Equal reports whether two cells carry the same type tag and payload.
func Equal(a, b Cell) bool {
	return bytes.Equal(WriteCell(a), WriteCell(b))
}

// WriteCell serializes c with its leading type tag. Encoded cells sort by
// type tag first; the package doc lists which types also sort by value
// within a type.
func WriteCell(c Cell) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(c.typ))
	buf.Write(WriteCellRaw(c))
	return buf.Bytes()
}

// WriteCellRaw serializes only the payload, without the leading type tag.
// Used by the index layer, which prefixes its own effective type tag.
func WriteCellRaw(c Cell) []byte {
	switch c.typ {
	case TypeNull:
		return nil
	case TypeBool:
		if c.b {
			return []byte{1}
		}
		return []byte{0}
	case TypeUInt8:
		return []byte{byte(c.u32)}
	case TypeUInt32, TypeOID, TypeAtom, TypeId32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], c.u32)
		return b[:]
	case TypeInt32:
		var b [4]byte
		// Bias so two's-complement ordering matches signed-integer ordering
		// under unsigned big-endian byte comparison.
		binary.BigEndian.PutUint32(b[:], uint32(c.i32)^0x80000000)
		return b[:]
	case TypeUUID:
		b := c.uu
		return b[:]
	case TypeDateTime:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(c.t.UnixNano()))
		return b[:]
	case TypeLatin1, TypeAscii, TypeBml, TypeTag, TypeLob:
		return lengthPrefixed(c.bytes)
	case TypeString, TypeHtml:
		return lengthPrefixed(c.bytes)
	default:
		return nil
	}
}

func lengthPrefixed(b []byte) []byte {
	var out bytes.Buffer
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(b)))
	out.Write(lb[:])
	out.Write(b)
	return out.Bytes()
}

// ReadCell decodes a cell previously produced by WriteCell, returning the
// number of bytes consumed.
func ReadCell(buf []byte) (Cell, int, error) {
	if len(buf) == 0 {
		return Cell{}, 0, fmt.Errorf("cell: empty buffer")
	}
	typ := Type(buf[0])
	c, n, err := readRaw(typ, buf[1:])
	if err != nil {
		return Cell{}, 0, err
	}
	c.typ = typ
	return c, n + 1, nil
}

func readRaw(typ Type, buf []byte) (Cell, int, error) {
	switch typ {
	case TypeNull:
		return Cell{typ: TypeNull}, 0, nil
	case TypeBool:
		if len(buf) < 1 {
			return Cell{}, 0, fmt.Errorf("cell: truncated bool")
		}
		return Cell{b: buf[0] != 0}, 1, nil
	case TypeUInt8:
		if len(buf) < 1 {
			return Cell{}, 0, fmt.Errorf("cell: truncated uint8")
		}
		return Cell{u32: uint32(buf[0])}, 1, nil
	case TypeUInt32, TypeOID, TypeAtom, TypeId32:
		if len(buf) < 4 {
			return Cell{}, 0, fmt.Errorf("cell: truncated uint32")
		}
		return Cell{u32: binary.BigEndian.Uint32(buf[:4])}, 4, nil
	case TypeInt32:
		if len(buf) < 4 {
			return Cell{}, 0, fmt.Errorf("cell: truncated int32")
		}
		v := binary.BigEndian.Uint32(buf[:4]) ^ 0x80000000
		return Cell{i32: int32(v)}, 4, nil
	case TypeUUID:
		if len(buf) < 16 {
			return Cell{}, 0, fmt.Errorf("cell: truncated uuid")
		}
		var u uuid.UUID
		copy(u[:], buf[:16])
		return Cell{uu: u}, 16, nil
	case TypeDateTime:
		if len(buf) < 8 {
			return Cell{}, 0, fmt.Errorf("cell: truncated datetime")
		}
		ns := int64(binary.BigEndian.Uint64(buf[:8]))
		return Cell{t: time.Unix(0, ns).UTC()}, 8, nil
	case TypeLatin1, TypeAscii, TypeString, TypeHtml, TypeBml, TypeTag, TypeLob:
		b, n, err := readLengthPrefixed(buf)
		if err != nil {
			return Cell{}, 0, err
		}
		return Cell{bytes: b}, n, nil
	default:
		return Cell{}, 0, fmt.Errorf("cell: unknown type tag %d", byte(typ))
	}
}

func readLengthPrefixed(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("cell: truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(buf[:4]))
	if len(buf) < 4+n {
		return nil, 0, fmt.Errorf("cell: truncated payload")
	}
	b := append([]byte(nil), buf[4:4+n]...)
	return b, 4 + n, nil
}
