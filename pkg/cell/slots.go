package cell

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SlotWriter builds a framed stream of named slots, used for the META
// header and the IndexMeta records. A slot is addressed either by a
// Latin-1 name or by a 4-byte tag; BeginFrame/EndFrame nest named groups
// (IndexMeta uses one "item" frame per declared field).
type SlotWriter struct {
	buf bytes.Buffer
}

func NewSlotWriter() *SlotWriter { return &SlotWriter{} }

func (w *SlotWriter) writeName(name string) {
	nb := []byte(name)
	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(len(nb)))
	w.buf.Write(lb[:])
	w.buf.Write(nb)
}

// Slot writes one named value.
func (w *SlotWriter) Slot(name string, c Cell) {
	w.buf.WriteByte('s')
	w.writeName(name)
	w.buf.Write(WriteCell(c))
}

// BeginFrame opens a named nested group (e.g. one IndexMeta "item").
func (w *SlotWriter) BeginFrame(name string) {
	w.buf.WriteByte('{')
	w.writeName(name)
}

// EndFrame closes the most recently opened frame.
func (w *SlotWriter) EndFrame() {
	w.buf.WriteByte('}')
}

func (w *SlotWriter) Bytes() []byte { return w.buf.Bytes() }

// Token is one parsed element of a slot stream.
type Token struct {
	Kind byte // 's' slot, '{' begin frame, '}' end frame
	Name string
	Cell Cell
}

// SlotReader walks a stream produced by SlotWriter.
type SlotReader struct {
	buf []byte
	pos int
}

func NewSlotReader(buf []byte) *SlotReader { return &SlotReader{buf: buf} }

func (r *SlotReader) readName() (string, error) {
	if r.pos+2 > len(r.buf) {
		return "", fmt.Errorf("cell: truncated slot name length")
	}
	n := int(binary.BigEndian.Uint16(r.buf[r.pos : r.pos+2]))
	r.pos += 2
	if r.pos+n > len(r.buf) {
		return "", fmt.Errorf("cell: truncated slot name")
	}
	name := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return name, nil
}

// Next returns the next token, or ok=false at end of stream.
func (r *SlotReader) Next() (Token, bool, error) {
	if r.pos >= len(r.buf) {
		return Token{}, false, nil
	}
	kind := r.buf[r.pos]
	r.pos++
	switch kind {
	case 's':
		name, err := r.readName()
		if err != nil {
			return Token{}, false, err
		}
		c, n, err := ReadCell(r.buf[r.pos:])
		if err != nil {
			return Token{}, false, err
		}
		r.pos += n
		return Token{Kind: 's', Name: name, Cell: c}, true, nil
	case '{':
		name, err := r.readName()
		if err != nil {
			return Token{}, false, err
		}
		return Token{Kind: '{', Name: name}, true, nil
	case '}':
		return Token{Kind: '}'}, true, nil
	default:
		return Token{}, false, fmt.Errorf("cell: unknown slot token %q", kind)
	}
}

// Slots parses a flat stream (no frames) into name->Cell, as used by the
// META header.
func Slots(buf []byte) (map[string]Cell, error) {
	r := NewSlotReader(buf)
	out := make(map[string]Cell)
	for {
		tok, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if tok.Kind == 's' {
			out[tok.Name] = tok.Cell
		}
	}
}

// Frames splits a stream into the flat slots preceding the first frame and
// the list of named frames (each frame's own slot stream), as used by
// IndexMeta ("kind" slot followed by repeated "item" frames).
func Frames(buf []byte) (flat map[string]Cell, frames []NamedFrame, err error) {
	r := NewSlotReader(buf)
	flat = make(map[string]Cell)
	for {
		tok, ok, rerr := r.Next()
		if rerr != nil {
			return nil, nil, rerr
		}
		if !ok {
			return flat, frames, nil
		}
		switch tok.Kind {
		case 's':
			flat[tok.Name] = tok.Cell
		case '{':
			start := r.pos
			depth := 1
			for depth > 0 {
				inner, ok2, rerr2 := r.Next()
				if rerr2 != nil {
					return nil, nil, rerr2
				}
				if !ok2 {
					return nil, nil, fmt.Errorf("cell: unterminated frame %q", tok.Name)
				}
				switch inner.Kind {
				case '{':
					depth++
				case '}':
					depth--
				}
			}
			end := r.pos - 1 // exclude the closing '}'
			frames = append(frames, NamedFrame{Name: tok.Name, Body: buf[start:end]})
		}
	}
}

// NamedFrame is one parsed nested group and its raw body bytes.
type NamedFrame struct {
	Name string
	Body []byte
}
