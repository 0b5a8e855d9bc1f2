package domain

import (
	"fmt"
	"time"
)

// Mode enumerates how a generation job was requested.
type Mode string

const (
	ModePreset        Mode = "preset"
	ModeFreeform      Mode = "freeform-prompt"
	ModeStyleTransfer Mode = "style-transfer-from-post"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Quality selects the provider model tier.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// Aspect ratios accepted at intake.
const (
	AspectSquare   = "1:1"
	AspectPortrait = "9:16"
)

// Version is one produced artifact belonging to a Job. Once appended its
// paths are immutable; refinement appends a new Version referencing the
// prior one through BaseVersionID.
type Version struct {
	VersionID     string    `json:"version_id"`
	BaseVersionID string    `json:"base_version_id,omitempty"`
	ImagePool     string    `json:"image_pool"`
	ImagePath     string    `json:"image_path"`
	ThumbPath     string    `json:"thumb_path"`
	CreatedAt     time.Time `json:"created_at"`
}

// JobError carries the classified failure recorded on a failed job.
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Job encapsulates one generation request and its accumulated versions.
// Header fields (owner, source, style) are immutable after creation; only
// status, versions, error and audit fields mutate, each through a
// conditional single-statement update.
type Job struct {
	ID             string
	OwnerID        string
	Mode           Mode
	SelfieIDs      []string
	SeedPostID     string
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Quality        Quality
	Provider       string
	Model          string

	Status             JobStatus
	Versions           []Version
	Error              *JobError
	RefineInstruction  string
	ProviderRequestIDs []string
	RetryCount         int

	// Pending* record the execution step that is in flight, written when
	// the job is queued. A recovery re-drive replays exactly this step;
	// replaying a landed step converges through the idempotency check
	// instead of producing an unrequested version.
	PendingStep          string
	PendingVersionID     string
	PendingBaseVersionID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LatestVersion returns the most recently appended version, or nil.
func (j *Job) LatestVersion() *Version {
	if len(j.Versions) == 0 {
		return nil
	}
	return &j.Versions[len(j.Versions)-1]
}

// FindVersion looks a version up by its sequence key.
func (j *Job) FindVersion(versionID string) *Version {
	for i := range j.Versions {
		if j.Versions[i].VersionID == versionID {
			return &j.Versions[i]
		}
	}
	return nil
}

// NextVersionID computes the sequence key the next execution step must use.
// Keys are caller-supplied so that re-running a step with the same payload
// is idempotent.
func (j *Job) NextVersionID() string {
	return fmt.Sprintf("v%d", len(j.Versions)+1)
}

// Active reports whether the job occupies a slot against the per-owner
// concurrency ceiling.
func (j *Job) Active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// ModelForQuality maps the requested quality tier to the provider model
// recorded on the job at creation time.
func ModelForQuality(q Quality) string {
	if q == QualityHigh {
		return "gemini-2.5-pro-image"
	}
	return "gemini-2.5-flash-image"
}

// EstimateForQuality returns the coarse completion estimate surfaced to the
// client at creation. These are tier-dependent constants, not measurements.
func EstimateForQuality(q Quality) time.Duration {
	if q == QualityHigh {
		return 45 * time.Second
	}
	return 20 * time.Second
}
