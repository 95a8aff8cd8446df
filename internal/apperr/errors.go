// Package apperr defines the error taxonomy shared across resolution,
// patching, and artifact fetching. Each category has a sentinel that
// typed errors match via errors.Is, so callers can branch on category
// without unwrapping concrete types.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMod is returned when a registry lookup cannot find a mod.
	ErrUnknownMod = errors.New("unknown mod")
	// ErrVersionConflict is returned when two requirements pin the same
	// mod to incompatible versions.
	ErrVersionConflict = errors.New("version conflict")
	// ErrIncompatibleSide is returned when an explicitly requested mod
	// has no side compatible with the build type.
	ErrIncompatibleSide = errors.New("incompatible side")
	// ErrConflictingPatch is returned when a config edit targets a file
	// that is also matched by a verbatim-copy pattern.
	ErrConflictingPatch = errors.New("conflicting patch")
	// ErrTypeMismatch is returned when a patch operator is applied to a
	// value of the wrong kind.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrChecksumMismatch is returned when downloaded bytes do not hash
	// to the expected digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrLookup is returned when a registry collaborator fails after its
	// own retries are exhausted.
	ErrLookup = errors.New("lookup failed")
	// ErrUnsupportedSource is returned when a mod names a source kind
	// with no configured collaborator.
	ErrUnsupportedSource = errors.New("unsupported source")
)

// UnknownModError names the identifier that no source could find.
type UnknownModError struct {
	Name string
}

func (e *UnknownModError) Error() string { return fmt.Sprintf("unknown mod %q", e.Name) }
func (e *UnknownModError) Is(target error) bool {
	return target == ErrUnknownMod
}

// VersionConflictError names both requirements so manifest authors can
// see exactly which pins disagree.
type VersionConflictError struct {
	Name       string
	Resolved   string // version already chosen for Name
	ResolvedBy string // who chose it: "manifest" or a dependent mod name
	Wanted     string // the incompatible constraint or pin
	WantedBy   string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict for %s: %s wants %s, %s already resolved %s",
		e.Name, e.WantedBy, e.Wanted, e.ResolvedBy, e.Resolved)
}
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// IncompatibleSideError reports a root request whose side cannot appear
// in the build at all.
type IncompatibleSideError struct {
	Name      string
	ModSide   string
	BuildSide string
}

func (e *IncompatibleSideError) Error() string {
	return fmt.Sprintf("mod %s (side %s) is not installable in a %s build", e.Name, e.ModSide, e.BuildSide)
}
func (e *IncompatibleSideError) Is(target error) bool {
	return target == ErrIncompatibleSide
}

// ConflictingPatchError reports an edit under a path that a copy
// pattern also matches; the intent is ambiguous, so it is rejected.
type ConflictingPatchError struct {
	File    string
	Pattern string
}

func (e *ConflictingPatchError) Error() string {
	return fmt.Sprintf("config file %s has edits but is also matched by copy pattern %q", e.File, e.Pattern)
}
func (e *ConflictingPatchError) Is(target error) bool {
	return target == ErrConflictingPatch
}

// TypeMismatchError reports an operator applied to the wrong value kind.
type TypeMismatchError struct {
	Path string
	Op   string
	Got  string // kind of the existing value
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cannot apply %s at %s: value is %s", e.Op, e.Path, e.Got)
}
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// ChecksumMismatchError is treated as a potential security issue, never
// a transient fault: the bytes are discarded, not cached, not installed.
type ChecksumMismatchError struct {
	Name     string
	Version  string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s@%s: expected %s, got %s", e.Name, e.Version, e.Expected, e.Actual)
}
func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// UnsupportedSourceError names the mod whose declared source has no
// collaborator wired to serve it.
type UnsupportedSourceError struct {
	Name   string
	Source string
}

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("mod %s: no collaborator configured for source %q", e.Name, e.Source)
}
func (e *UnsupportedSourceError) Is(target error) bool {
	return target == ErrUnsupportedSource
}

// LookupError wraps a terminal registry collaborator failure.
type LookupError struct {
	Source string
	Name   string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s lookup for %s: %v", e.Source, e.Name, e.Err)
}
func (e *LookupError) Unwrap() error { return e.Err }
func (e *LookupError) Is(target error) bool {
	return target == ErrLookup
}
