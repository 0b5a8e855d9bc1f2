package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"stylizer/internal/infra"
)

// FailureKind classifies provider failures for the pipeline.
type FailureKind string

const (
	FailureBlocked     FailureKind = "blocked"
	FailureRateLimited FailureKind = "rate_limited"
	FailureGeneric     FailureKind = "generation_failed"
)

// Error is a classified provider failure.
type Error struct {
	Kind    FailureKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("genai: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the dispatch surface should redeliver.
func (e *Error) Retryable() bool {
	return e.Kind != FailureBlocked
}

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client provides a lightweight facade over the Gemini image API. When no
// API key is configured it produces deterministic synthetic artifacts,
// which keeps the worker fully operational in local and CI environments.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// InlineImage is a raw image part sent alongside the prompt.
type InlineImage struct {
	MIME string
	Data []byte
}

// ImageRequest carries everything one provider invocation needs.
type ImageRequest struct {
	Model           string
	Prompt          string
	NegativePrompt  string
	AspectRatio     string
	ReferenceImages []InlineImage
	BaseImage       *InlineImage
	RequestID       string
}

// ImageResult is one produced artifact plus its audit trail id.
type ImageResult struct {
	Data              []byte
	MIME              string
	ProviderRequestID string
}

// NewClient validates options and builds a client.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// HasCredentials reports whether real provider calls are possible.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// GenerateImage runs one generation or refinement call. The base image, if
// present, is sent first so the model treats it as the editing subject.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &Error{Kind: FailureGeneric, Message: "empty prompt"}
	}
	if !c.HasCredentials() {
		return c.syntheticImage(req)
	}

	parts := make([]map[string]any, 0, len(req.ReferenceImages)+2)
	if req.BaseImage != nil {
		parts = append(parts, inlinePart(*req.BaseImage))
	}
	for _, ref := range req.ReferenceImages {
		parts = append(parts, inlinePart(ref))
	}
	prompt := req.Prompt
	if req.NegativePrompt != "" {
		prompt += "\nAvoid: " + req.NegativePrompt
	}
	parts = append(parts, map[string]any{"text": prompt})

	body := map[string]any{
		"contents": []map[string]any{{"role": "user", "parts": parts}},
		"generationConfig": map[string]any{
			"responseModalities": []string{"IMAGE"},
			"imageConfig":        map[string]any{"aspectRatio": req.AspectRatio},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("genai: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("genai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: FailureGeneric, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &Error{Kind: FailureGeneric, Message: "read response: " + err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: FailureRateLimited, Message: "provider rate limit"}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: FailureGeneric, Message: fmt.Sprintf("provider status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, classifyBadRequest(resp.StatusCode, raw)
	}

	return decodeImageResponse(raw)
}

func inlinePart(img InlineImage) map[string]any {
	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	return map[string]any{
		"inline_data": map[string]any{
			"mime_type": mime,
			"data":      base64.StdEncoding.EncodeToString(img.Data),
		},
	}
}

type generateResponse struct {
	Candidates []struct {
		FinishReason string `json:"finishReason"`
		Content      struct {
			Parts []struct {
				InlineData *struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	ResponseID string `json:"responseId"`
}

func decodeImageResponse(raw []byte) (*ImageResult, error) {
	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Kind: FailureGeneric, Message: "malformed provider response"}
	}
	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return nil, &Error{Kind: FailureBlocked, Message: "content blocked by provider"}
	}
	requestID := parsed.ResponseID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	for _, cand := range parsed.Candidates {
		if strings.EqualFold(cand.FinishReason, "SAFETY") || strings.EqualFold(cand.FinishReason, "PROHIBITED_CONTENT") {
			return nil, &Error{Kind: FailureBlocked, Message: "content blocked by provider"}
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, &Error{Kind: FailureGeneric, Message: "undecodable image payload"}
			}
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return &ImageResult{Data: data, MIME: mime, ProviderRequestID: requestID}, nil
		}
	}
	return nil, &Error{Kind: FailureGeneric, Message: "provider returned no image"}
}

func classifyBadRequest(status int, raw []byte) error {
	text := strings.ToLower(string(raw))
	if strings.Contains(text, "safety") || strings.Contains(text, "blocked") {
		return &Error{Kind: FailureBlocked, Message: "content blocked by provider"}
	}
	if strings.Contains(text, "quota") || strings.Contains(text, "resource_exhausted") {
		return &Error{Kind: FailureRateLimited, Message: "provider quota exhausted"}
	}
	return &Error{Kind: FailureGeneric, Message: fmt.Sprintf("provider status %d", status)}
}

// syntheticImage renders a deterministic gradient seeded by the prompt so
// keyless environments still exercise the full pipeline, including
// validation and derivative generation.
func (c *Client) syntheticImage(req ImageRequest) (*ImageResult, error) {
	w, h := 1024, 1024
	if req.AspectRatio == "9:16" {
		w, h = 768, 1365
	}
	seed := sha256.Sum256([]byte(req.Model + "|" + req.Prompt))

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: seed[0] + uint8(x*255/w),
				G: seed[1] + uint8(y*255/h),
				B: seed[2],
				A: 255,
			})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("genai: encode synthetic image: %w", err)
	}
	if c.logger != nil {
		c.logger.Debug().Str("request_id", req.RequestID).Msg("genai: produced synthetic artifact")
	}
	return &ImageResult{
		Data:              buf.Bytes(),
		MIME:              "image/png",
		ProviderRequestID: "synthetic-" + uuid.NewString(),
	}, nil
}
