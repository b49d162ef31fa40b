package domain

import "errors"

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrRelayStopped     = errors.New("relay stopped")
	ErrCommandTimeout   = errors.New("relay command timed out")
	ErrUnknownRole      = errors.New("unknown role")
)
