package image

import (
	"context"
	"fmt"

	"stylizer/internal/providers/genai"
)

// GeminiGenerator adapts the genai client to the Generator contract.
type GeminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator wraps an already-configured genai client.
func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

// Generate produces the initial artifact from reference images and a prompt.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Artifact, error) {
	result, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Model:           req.Model,
		Prompt:          req.Prompt,
		NegativePrompt:  req.NegativePrompt,
		AspectRatio:     req.AspectRatio,
		ReferenceImages: toInline(req.References),
		RequestID:       req.RequestID,
	})
	if err != nil {
		return nil, err
	}
	return &Artifact{Data: result.Data, MIME: result.MIME, ProviderRequestID: result.ProviderRequestID}, nil
}

// Refine edits the base artifact according to the instruction. The base is
// sent as the leading image part so the model treats it as the subject.
func (g *GeminiGenerator) Refine(ctx context.Context, req Request) (*Artifact, error) {
	if req.Base == nil {
		return nil, fmt.Errorf("image: refine requires a base artifact")
	}
	prompt := req.Instruction
	if prompt == "" {
		prompt = req.Prompt
	}
	result, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Model:           req.Model,
		Prompt:          prompt,
		NegativePrompt:  req.NegativePrompt,
		AspectRatio:     req.AspectRatio,
		ReferenceImages: toInline(req.References),
		BaseImage:       &genai.InlineImage{MIME: req.Base.MIME, Data: req.Base.Data},
		RequestID:       req.RequestID,
	})
	if err != nil {
		return nil, err
	}
	return &Artifact{Data: result.Data, MIME: result.MIME, ProviderRequestID: result.ProviderRequestID}, nil
}

func toInline(refs []Reference) []genai.InlineImage {
	out := make([]genai.InlineImage, len(refs))
	for i, ref := range refs {
		out[i] = genai.InlineImage{MIME: ref.MIME, Data: ref.Data}
	}
	return out
}

var _ Generator = (*GeminiGenerator)(nil)
