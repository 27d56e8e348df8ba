package realtime

import "errors"

var (
	// ErrAuthMissing is returned when no token is available at connect time.
	// It is purely local; no connection attempt is made.
	ErrAuthMissing = errors.New("auth token missing")

	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrNoActiveAuction is returned when a bid is attempted with no joined
	// room. Purely local validation; no network call is made.
	ErrNoActiveAuction = errors.New("no active auction")

	// ErrInvalidBid is returned for a non-finite or negative bid price.
	ErrInvalidBid = errors.New("invalid bid price")
)
