// Package apperr defines the typed failures shared by the sync pipelines.
//
// Fatal conditions are errors; recoverable conditions are Warnings gathered
// in an accumulator and reported at the end of a pass.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel categories. Concrete errors wrap one of these so callers can
// classify with errors.Is without matching message text.
var (
	ErrConcurrency = errors.New("concurrency")
	ErrStaleness   = errors.New("stale checkpoint")
	ErrStructural  = errors.New("structural")
	ErrIdentity    = errors.New("identity")
	ErrTooling     = errors.New("tooling")
	ErrIO          = errors.New("io")
)

// LockedError means the exclusive collection lock is already held elsewhere.
type LockedError struct {
	Path string
	Err  error
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("collection at %q is locked by another process: %v", e.Path, e.Err)
}

func (e *LockedError) Unwrap() error { return ErrConcurrency }

// ChecksumChangedError means the collection file changed under us while the
// lock was held, which should be impossible.
type ChecksumChangedError struct {
	Path string
}

func (e *ChecksumChangedError) Error() string {
	return fmt.Sprintf("collection at %q was modified mid-operation", e.Path)
}

func (e *ChecksumChangedError) Unwrap() error { return ErrConcurrency }

// UpdatesRejectedError means the collection's current hash is not recorded in
// the ledger: the database moved since the last reconciliation, so the caller
// must pull before pushing.
type UpdatesRejectedError struct {
	Path string
}

func (e *UpdatesRejectedError) Error() string {
	return fmt.Sprintf("updates rejected: collection %q has changes not in this repository, pull first", e.Path)
}

func (e *UpdatesRejectedError) Unwrap() error { return ErrStaleness }

// MissingNotetypeError means a note names a notetype absent from the
// collection. There is no safe default, so this is fatal.
type MissingNotetypeError struct {
	Name string
}

func (e *MissingNotetypeError) Error() string {
	return fmt.Sprintf("notetype %q does not exist in the collection", e.Name)
}

func (e *MissingNotetypeError) Unwrap() error { return ErrStructural }

// MissingFieldOrdinalError means a field ordinal referenced during a notetype
// change does not exist on the old notetype.
type MissingFieldOrdinalError struct {
	Ord      int
	Notetype string
}

func (e *MissingFieldOrdinalError) Error() string {
	return fmt.Sprintf("field ordinal %d does not exist on notetype %q", e.Ord, e.Notetype)
}

func (e *MissingFieldOrdinalError) Unwrap() error { return ErrStructural }

// MissingNoteIDError means a guid resolved to a note id no longer present in
// the collection.
type MissingNoteIDError struct {
	NID  int64
	GUID string
}

func (e *MissingNoteIDError) Error() string {
	return fmt.Sprintf("note with id %d (guid %q) not found in collection", e.NID, e.GUID)
}

func (e *MissingNoteIDError) Unwrap() error { return ErrIdentity }

// MissingToolError means an external executable the pipeline depends on is
// not installed. The message must name the missing tool.
type MissingToolError struct {
	Tool string
	Err  error
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("required executable %q not found: %v", e.Tool, e.Err)
}

func (e *MissingToolError) Unwrap() error { return ErrTooling }

// MissingTagError means the checkpoint tag vanished from history. It is kept
// distinct from tag creation so a lost checkpoint is never silently replaced
// by a fresh, unrelated ancestor.
type MissingTagError struct {
	Tag string
}

func (e *MissingTagError) Error() string {
	return fmt.Sprintf("checkpoint tag %q not found in repository history", e.Tag)
}

func (e *MissingTagError) Unwrap() error { return ErrStructural }

// TargetExistsError means clone's target directory is already populated.
type TargetExistsError struct {
	Path string
}

func (e *TargetExistsError) Error() string {
	return fmt.Sprintf("target directory %q already exists and is not empty", e.Path)
}

func (e *TargetExistsError) Unwrap() error { return ErrIO }

// DirtyWorkingTreeError means the working tree held unexpected changes after
// an operation that should have left it clean.
type DirtyWorkingTreeError struct {
	Path string
}

func (e *DirtyWorkingTreeError) Error() string {
	return fmt.Sprintf("working tree at %q is unexpectedly dirty", e.Path)
}

func (e *DirtyWorkingTreeError) Unwrap() error { return ErrIO }
