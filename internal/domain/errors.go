package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrExchangeUnavailable = errors.New("exchange unavailable")
	ErrCacheUnavailable    = errors.New("cache unavailable")
	ErrInvalidInput        = errors.New("invalid input")
)
