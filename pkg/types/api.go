package types

import "fmt"

// -----------------------------------------------------------------------------
// Typed Errors (stable categories for programmatic handling)
// -----------------------------------------------------------------------------

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindInvalidArgument   ErrKind = iota // bad library/module/instance id
	ErrKindDeviceUnavailable                // DMA channel busy or missing
	ErrKindNotFound                         // library or module not registered
	ErrKindExists                           // library id already ingested
	ErrKindOutOfMemory                      // mapping or allocation failure
	ErrKindDevice                           // DMA configure/start/stop/status failure
	ErrKindResourceExhausted                // requested scratch exceeds per-instance capacity
	ErrKindUnsupported                      // feature compiled out or not configured
)

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound)
// works for wrapped and cause-carrying instances alike.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels commonly returned by implementations.
var (
	// ErrInvalidArgument indicates an out-of-range library, module, or instance id.
	ErrInvalidArgument = &Error{Kind: ErrKindInvalidArgument, Msg: "invalid argument"}
	// ErrDeviceUnavailable indicates no free DMA channel for the requested direction.
	ErrDeviceUnavailable = &Error{Kind: ErrKindDeviceUnavailable, Msg: "device unavailable"}
	// ErrNotFound indicates the library or module was never ingested/registered.
	ErrNotFound = &Error{Kind: ErrKindNotFound, Msg: "not found"}
	// ErrExists indicates the library id is already occupied by a resident image.
	ErrExists = &Error{Kind: ErrKindExists, Msg: "library already ingested"}
	// ErrOutOfMemory indicates a mapping or allocation failure.
	ErrOutOfMemory = &Error{Kind: ErrKindOutOfMemory, Msg: "out of memory"}
	// ErrDeviceError indicates a DMA device fault, including a stalled transfer.
	ErrDeviceError = &Error{Kind: ErrKindDevice, Msg: "device error"}
	// ErrResourceExhausted indicates a scratch request beyond the module's
	// declared per-instance capacity.
	ErrResourceExhausted = &Error{Kind: ErrKindResourceExhausted, Msg: "resource exhausted"}
	// ErrUnsupported indicates the operation requires a collaborator that was
	// not configured (e.g. no component registry).
	ErrUnsupported = &Error{Kind: ErrKindUnsupported, Msg: "unsupported"}
)

// -----------------------------------------------------------------------------
// Core Identifiers
// -----------------------------------------------------------------------------

// LibraryID identifies one ingested library image. Id 0 is reserved for the
// base firmware and is never loadable.
type LibraryID uint8

// InstanceID identifies one running occurrence of a module, scoped to a
// ModuleID, in [0, instance_max_count).
type InstanceID uint8

// EntryPoint is the fixed execution entry address of a loaded module.
type EntryPoint uint32

// ModuleID is a composite identifier encoding (LibraryID, module index).
// The library id occupies bits 12..15 and the module table index bits 0..11.
// ModuleIDs are derived from externally supplied ids, never built ad hoc.
type ModuleID uint32

const (
	libraryIDShift = 12
	moduleIndexMax = 1<<libraryIDShift - 1
)

// NewModuleID composes a ModuleID from a library id and a module table index.
func NewModuleID(lib LibraryID, index int) ModuleID {
	return ModuleID(uint32(lib)<<libraryIDShift | uint32(index&moduleIndexMax))
}

// Library extracts the owning library id.
func (m ModuleID) Library() LibraryID {
	return LibraryID(m >> libraryIDShift)
}

// Index extracts the module's index within its library's module table.
func (m ModuleID) Index() int {
	return int(m & moduleIndexMax)
}

func (m ModuleID) String() string {
	return fmt.Sprintf("lib%d/mod%d", m.Library(), m.Index())
}

// IPCID is the opaque id supplied by the IPC layer. The low 16 bits carry the
// module id and bits 16..23 the instance id.
type IPCID uint32

// Module extracts the ModuleID portion.
func (i IPCID) Module() ModuleID {
	return ModuleID(i & 0xffff)
}

// Instance extracts the InstanceID portion.
func (i IPCID) Instance() InstanceID {
	return InstanceID(i >> 16 & 0xff)
}

// NewIPCID composes an IPC id from its parts. Primarily useful for tests and
// tooling; production ids arrive from the host.
func NewIPCID(m ModuleID, inst InstanceID) IPCID {
	return IPCID(uint32(inst)<<16 | uint32(m)&0xffff)
}
