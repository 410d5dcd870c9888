package apperr

import "errors"

// ErrValidation is returned when the caller's input fails validation
// before any upstream call is made.
var ErrValidation = errors.New("invalid input")

// ErrTransport marks a network-level failure reaching the tracking provider.
var ErrTransport = errors.New("provider transport error")

// ErrParse marks a provider response that is not the expected structured payload.
var ErrParse = errors.New("provider parse error")

// ErrPersistence marks a storage-layer rejection during ingestion.
var ErrPersistence = errors.New("persistence error")

// ErrNotFound indicates that the requested resource does not exist.
var ErrNotFound = errors.New("not found")
