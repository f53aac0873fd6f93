package n5ng

import "errors"

// Faults shared across packages.  Callers wrap them with fmt.Errorf("...: %w", err) and the
// server maps them to HTTP status codes with errors.Is.
var (
	// ErrNotFound is returned when a dataset, scale level, or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBounds is returned when a requested box falls outside an array's extent.
	ErrBounds = errors.New("box out of bounds")

	// ErrBadRequest is returned for malformed request parameters.
	ErrBadRequest = errors.New("bad request")

	// ErrTooLarge is returned when admission control refuses a request.
	ErrTooLarge = errors.New("request too large")

	// ErrUnsupported is returned for store features this server cannot decode,
	// e.g., blosc compression or Fortran-ordered zarr chunks.
	ErrUnsupported = errors.New("unsupported")
)
