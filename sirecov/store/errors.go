package store

import "errors"

// Common errors
var (
	ErrDuplicateRecord = errors.New("record already exists")
	ErrMalformedLine   = errors.New("malformed record line")
	ErrStoreTruncated  = errors.New("data file shrank below the consumed offset")
	ErrPathEmpty       = errors.New("data file path cannot be empty")
)
