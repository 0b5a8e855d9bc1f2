package pipeline

import (
	"context"
	"fmt"
	"regexp"
)

// StepType discriminates the two execution variants.
type StepType string

const (
	StepInitial StepType = "initial"
	StepRefine  StepType = "refine"
)

// StepPayload is the fully self-describing unit of work handed to the
// dispatch surface. It must be safe to deliver at least once: the version
// sequence key is chosen by the enqueuing side, so re-execution with the
// same payload converges on the idempotency check.
type StepPayload struct {
	JobID              string   `json:"job_id"`
	Type               StepType `json:"type"`
	RequestedVersionID string   `json:"requested_version_id"`
	BaseVersionID      string   `json:"base_version_id,omitempty"`
	Instruction        string   `json:"instruction,omitempty"`
}

var versionKeyPattern = regexp.MustCompile(`^v[1-9][0-9]*$`)

// Validate rejects malformed payloads before any state is touched.
func (p StepPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("payload: job id is required")
	}
	if p.Type != StepInitial && p.Type != StepRefine {
		return fmt.Errorf("payload: unknown step type %q", p.Type)
	}
	if !versionKeyPattern.MatchString(p.RequestedVersionID) {
		return fmt.Errorf("payload: invalid version key %q", p.RequestedVersionID)
	}
	if p.Type == StepRefine && !versionKeyPattern.MatchString(p.BaseVersionID) {
		return fmt.Errorf("payload: refine requires a base version")
	}
	return nil
}

// Dispatcher hands a payload to the execution surface. Implementations must
// not assume the dispatch survives a crash; the recovery sweep re-drives
// anything that never ran.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload StepPayload) error
}

// InProcDispatcher executes steps on a background goroutine in the same
// process. Used when no broker is configured.
type InProcDispatcher struct {
	Exec func(ctx context.Context, payload StepPayload) error
}

// Dispatch runs the step without blocking the caller.
func (d *InProcDispatcher) Dispatch(ctx context.Context, payload StepPayload) error {
	go func() {
		// Detached from the request context: the step outlives the HTTP call.
		_ = d.Exec(context.Background(), payload)
	}()
	return nil
}
