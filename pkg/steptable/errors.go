package steptable

import "errors"

// Error taxonomy for the scan engine. Open-time failures wrap ErrConnection
// or ErrMetadata and make the whole open fail; scan-time failures wrap
// ErrInvalidHandle, ErrIO, or ErrEncoding and abort only the in-flight call.
var (
	// ErrConnection means the backend could not be opened at all: missing
	// file, unreachable endpoint, or an endpoint that rejects range requests.
	ErrConnection = errors.New("connection failed")

	// ErrMetadata means the table footer was unreadable or the open request
	// was inconsistent with the schema (unknown projected column, unusable
	// key column).
	ErrMetadata = errors.New("invalid table metadata")

	// ErrInvalidHandle means a scan was issued against a handle that was
	// never opened or was already freed.
	ErrInvalidHandle = errors.New("invalid reader handle")

	// ErrIO means a backend read failed mid-scan. The table's directory is
	// untouched; later scans on the same handle may still succeed.
	ErrIO = errors.New("read failed")

	// ErrEncoding means assembling or serializing the result stream failed.
	ErrEncoding = errors.New("stream encoding failed")
)
