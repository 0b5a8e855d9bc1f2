package domain

import "time"

// SelfieStatus enumerates reference-image lifecycle states. The lifecycle
// itself is owned by the upload service; the pipeline only reads active rows.
type SelfieStatus string

const (
	SelfieStatusActive  SelfieStatus = "active"
	SelfieStatusDeleted SelfieStatus = "deleted"
)

// Selfie is an immutable, privacy-sensitive reference image. Jobs hold
// selfie ids, never the bytes; the execution step resolves ids to storage
// paths at run time.
type Selfie struct {
	ID          string
	OwnerID     string
	StoragePath string
	Status      SelfieStatus
	CreatedAt   time.Time
}
