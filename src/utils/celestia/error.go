package celestia

import (
	"errors"
)

var (
	// Node unreachable or blob not (yet) available. Retried.
	ErrDaUnavailable = errors.New("data availability layer unavailable")

	// Blob exceeds the configured size limit
	ErrBlobTooLarge = errors.New("blob too large")

	// Blob id or blob contents are malformed
	ErrInvalidBlob = errors.New("invalid blob")
)
