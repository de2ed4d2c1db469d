package domain

import "errors"

var (
	ErrConnClosed          = errors.New("connection closed")
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrResolverUnavailable = errors.New("barcode resolver unavailable")
)
