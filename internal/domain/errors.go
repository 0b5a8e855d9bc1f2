package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTooManyJobs   = errors.New("too many active jobs")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnsafePrompt  = errors.New("prompt rejected by safety check")
	ErrNoVersions    = errors.New("job has no versions")
	ErrStaleClaim    = errors.New("job claim rejected")
	ErrProviderError = errors.New("provider failure")
)

// Failure codes recorded on jobs and surfaced to polling clients. Clients
// never see provider-specific text, only these codes plus a generic message.
const (
	CodeInvalidInput     = "invalid_input"
	CodeBlocked          = "blocked"
	CodeRateLimited      = "rate_limited"
	CodeGenerationFailed = "generation_failed"
	CodeValidationFailed = "validation_failed"
	CodeStorageFailed    = "storage_failed"
	CodeStuck            = "stuck"
)
