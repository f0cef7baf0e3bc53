package domain

import "errors"

var (
	// ErrInvalidCoordinates rejects points whose latitude/longitude are
	// missing, NaN, or out of range. No side effects have occurred.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrVehicleNotFound means the external vehicle id does not resolve to
	// an active vehicle in the claimed organization.
	ErrVehicleNotFound = errors.New("vehicle not found")

	// ErrStoreUnavailable means the volatile cache/buffer store is
	// unreachable. Ingestion falls back to a direct durable write.
	ErrStoreUnavailable = errors.New("volatile store unavailable")

	// ErrDurableWrite means the durable insert path failed. Buffered points
	// are retained for retry; the caller sees the ingestion as failed.
	ErrDurableWrite = errors.New("durable write failed")
)
