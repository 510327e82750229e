package models

import "errors"

// Domain errors returned by the store. Callers match these with errors.Is.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrSecretNotFound  = errors.New("auth secret not found")
	ErrInvalidJobState = errors.New("invalid job state")
	ErrJobNotRetryable = errors.New("job is not in a retryable state")
	ErrDuplicateFile   = errors.New("file record already exists")
)
