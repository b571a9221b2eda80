package udb

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kvobj/udb/pkg/cell"
)

// MimeObjectRefs is the clipboard/drag-and-drop format name for a list of
// object references.
const MimeObjectRefs = "application/udb/object-refs"

// xoidScheme is the URL scheme used to address one object from outside the
// process.
const xoidScheme = "xoid"

// EncodeObjectRefs serializes a list of OIDs from a single Database into the
// application/udb/object-refs wire format: a leading database UUID cell
// followed by one OID cell per object. It panics if oids is empty; a
// reference payload with no referent is a caller bug, not a data state.
func EncodeObjectRefs(db *Database, oids []uint32) []byte {
	if len(oids) == 0 {
		panic("udb: EncodeObjectRefs requires at least one object")
	}
	w := cell.NewSlotWriter()
	w.Slot("", cell.SetUUID(db.DBUUID()))
	for _, oid := range oids {
		w.Slot("", cell.SetOID(oid))
	}
	return w.Bytes()
}

// DecodeObjectRefs parses a payload written by EncodeObjectRefs, returning
// the OIDs it carries. It returns nil (not an error) when the payload's
// database UUID doesn't match db: OIDs are only meaningful within the
// database that issued them, so foreign references cannot be resolved
// here.
func DecodeObjectRefs(db *Database, payload []byte) []uint32 {
	r := cell.NewSlotReader(payload)
	tok, ok, err := r.Next()
	if err != nil || !ok || tok.Cell.Type() != cell.TypeUUID {
		return nil
	}
	if tok.Cell.UUID() != db.DBUUID() {
		return nil
	}
	var out []uint32
	for {
		tok, ok, err := r.Next()
		if err != nil || !ok {
			return out
		}
		if tok.Cell.Type() == cell.TypeOID {
			out = append(out, tok.Cell.OID())
		}
	}
}

// IsLocalObjectRefs reports whether payload's leading database UUID matches
// db, without decoding the OID list.
func IsLocalObjectRefs(db *Database, payload []byte) bool {
	r := cell.NewSlotReader(payload)
	tok, ok, err := r.Next()
	return err == nil && ok && tok.Cell.Type() == cell.TypeUUID && tok.Cell.UUID() == db.DBUUID()
}

// OidToURL builds the xoid://<oid>@<db-uuid> form used to address one
// object from outside the process. The database UUID is rendered without
// surrounding braces.
func OidToURL(oid uint32, dbID uuid.UUID) *url.URL {
	return &url.URL{
		Scheme: xoidScheme,
		User:   url.User(strconv.FormatUint(uint64(oid), 10)),
		Host:   dbID.String(),
	}
}

// ObjToURL builds an xoid:// URL for obj, additionally encoding the string
// values of the id and txt attributes as query parameters when requested.
// Atom 0 for either parameter omits it.
func ObjToURL(o *Obj, idAtom, txtAtom uint32) *url.URL {
	dbID := uuid.UUID(o.tx.db.DBUUID())
	u := OidToURL(o.OID(), dbID)
	q := url.Values{}
	if idAtom != 0 {
		if v := o.Value(idAtom); !v.IsNull() {
			q.Set("id", v.String())
		}
	}
	if txtAtom != 0 {
		if v := o.Value(txtAtom); !v.IsNull() {
			q.Set("txt", v.String())
		}
	}
	if len(q) > 0 {
		u.RawQuery = strings.ReplaceAll(q.Encode(), "&", ";")
	}
	return u
}

// ParseXoidURL extracts the OID and database UUID from an xoid:// URL
// produced by OidToURL/ObjToURL.
func ParseXoidURL(u *url.URL) (oid uint32, dbID uuid.UUID, err error) {
	if u.Scheme != xoidScheme {
		return 0, uuid.UUID{}, fmt.Errorf("udb: not an %s: URL", xoidScheme)
	}
	// OidToURL, like url.Parse of a literal "xoid://5@<uuid>", puts the oid
	// in User and the uuid in Host; a Host holding "oid@uuid" is split too.
	var parts []string
	if u.User != nil {
		parts = []string{u.User.Username(), u.Host}
	} else {
		parts = strings.SplitN(u.Host, "@", 2)
	}
	if len(parts) != 2 {
		return 0, uuid.UUID{}, fmt.Errorf("udb: malformed xoid authority %q", u.Host)
	}
	n, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, uuid.UUID{}, fmt.Errorf("udb: malformed xoid OID %q: %w", parts[0], err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return 0, uuid.UUID{}, fmt.Errorf("udb: malformed xoid database id %q: %w", parts[1], err)
	}
	return uint32(n), id, nil
}
