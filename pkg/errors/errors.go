// Package errors collects the typed error values raised across the
// store, schema, index and object layers. Each taxonomy entry from the
// design is its own struct so callers can errors.As into the one they
// care about instead of matching on string content.
package errors

import "fmt"

// Store/engine errors.

type OpenDbFileError struct {
	Path string
	Err  error
}

func (e *OpenDbFileError) Error() string {
	return fmt.Sprintf("failed to open database file %q: %v", e.Path, e.Err)
}
func (e *OpenDbFileError) Unwrap() error { return e.Err }

type StartTransError struct{ Reason string }

func (e *StartTransError) Error() string { return fmt.Sprintf("failed to start transaction: %s", e.Reason) }

type CommitTransError struct{ Reason string }

func (e *CommitTransError) Error() string { return fmt.Sprintf("failed to commit transaction: %s", e.Reason) }

type AccessMetaError struct{ Reason string }

func (e *AccessMetaError) Error() string { return fmt.Sprintf("failed to access meta record: %s", e.Reason) }

type CreateBtCursorError struct{ Table string }

func (e *CreateBtCursorError) Error() string { return fmt.Sprintf("failed to create cursor on table %q", e.Table) }

type CreateTableError struct{ Reason string }

func (e *CreateTableError) Error() string { return fmt.Sprintf("failed to create table: %s", e.Reason) }

type RemoveTableError struct{ Table string }

func (e *RemoveTableError) Error() string { return fmt.Sprintf("failed to remove table %q", e.Table) }

type ClearTableError struct{ Table string }

func (e *ClearTableError) Error() string { return fmt.Sprintf("failed to clear table %q", e.Table) }

type AccessCursorError struct{ Reason string }

func (e *AccessCursorError) Error() string { return fmt.Sprintf("failed to access cursor: %s", e.Reason) }

// Schema errors.

type DatabaseMetaError struct{ Reason string }

func (e *DatabaseMetaError) Error() string { return fmt.Sprintf("invalid database meta record: %s", e.Reason) }

type DatabaseFormatError struct{}

func (e *DatabaseFormatError) Error() string {
	return "database meta record is missing the dbFormat marker"
}

type DirectoryFormatError struct{ Reason string }

func (e *DirectoryFormatError) Error() string { return fmt.Sprintf("invalid directory record: %s", e.Reason) }

type DuplicateAtomError struct {
	Name string
	Atom uint32
}

func (e *DuplicateAtomError) Error() string {
	return fmt.Sprintf("name %q is already bound to a different atom than %d", e.Name, e.Atom)
}

type IndexExistsError struct{ Name string }

func (e *IndexExistsError) Error() string { return fmt.Sprintf("index %q already exists", e.Name) }

type IndexNotFoundError struct{ Name string }

func (e *IndexNotFoundError) Error() string { return fmt.Sprintf("index %q not found", e.Name) }

// Object errors.

type AccessDatabaseError struct{}

func (e *AccessDatabaseError) Error() string { return "database is not open" }

type AccessRecordError struct{ Reason string }

func (e *AccessRecordError) Error() string { return fmt.Sprintf("invalid record access: %s", e.Reason) }

type RecordLockedError struct{ Oid uint32 }

func (e *RecordLockedError) Error() string {
	return fmt.Sprintf("object %d is locked by another transaction", e.Oid)
}

type RecordDeletedError struct{ Oid uint32 }

func (e *RecordDeletedError) Error() string {
	return fmt.Sprintf("object %d was erased in this transaction", e.Oid)
}

type ReservedNameError struct{ Name string }

func (e *ReservedNameError) Error() string {
	return fmt.Sprintf("%q is in the reserved attribute range", e.Name)
}

type OidOutOfRangeError struct{}

func (e *OidOutOfRangeError) Error() string { return "object id counter exhausted" }

type NotOpenError struct{}

func (e *NotOpenError) Error() string { return "database is not open" }

type WrongContextError struct{ Reason string }

func (e *WrongContextError) Error() string { return fmt.Sprintf("wrong aggregation context: %s", e.Reason) }
