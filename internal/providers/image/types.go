package image

import "context"

// Reference is an input image passed to the provider as conditioning.
type Reference struct {
	MIME string
	Data []byte
}

// Request describes a normalized provider invocation. Refine carries the
// base artifact and the user's instruction; Generate ignores both.
type Request struct {
	Model          string
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	References     []Reference
	Base           *Reference
	Instruction    string
	RequestID      string
}

// Artifact is a produced image plus the provider's audit trail id.
type Artifact struct {
	Data              []byte
	MIME              string
	ProviderRequestID string
}

// Generator is the contract implemented by all image providers.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Artifact, error)
	Refine(ctx context.Context, req Request) (*Artifact, error)
}
