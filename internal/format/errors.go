package format

import "errors"

var (
	// ErrSignatureMismatch indicates the manifest had an unexpected magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrVersion indicates a manifest version this loader does not accept.
	ErrVersion = errors.New("format: unsupported manifest version")
	// ErrRange indicates a module index outside the library's module table.
	ErrRange = errors.New("format: module index out of range")
	// ErrLayout indicates impossible geometry (zero instance limit, scratch
	// segment not divisible by the instance limit, oversized table or segment).
	ErrLayout = errors.New("format: invalid image layout")
)
