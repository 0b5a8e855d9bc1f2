package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/jpeg"
)

// Limits bounds what the pipeline accepts from the provider.
type Limits struct {
	MaxBytes  int
	MinDim    int
	MaxDim    int
	MaxAspect float64
}

// DefaultLimits matches what the generation models actually emit.
var DefaultLimits = Limits{
	MaxBytes:  20 << 20,
	MinDim:    256,
	MaxDim:    4096,
	MaxAspect: 3.0,
}

// ValidationError describes why an artifact was rejected. Validation
// failures are never retryable.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "imaging: " + e.Reason
}

// Result holds the cleaned artifact and its measured dimensions.
type Result struct {
	Cleaned []byte
	Width   int
	Height  int
}

// Validate inspects untrusted provider output: it must decode, fit the
// dimension and size bounds, and have a sane aspect ratio. The image is
// re-encoded to PNG, which drops any embedded metadata the provider may
// have attached. Pure function over the buffer; safe to call concurrently.
func Validate(data []byte, limits Limits) (*Result, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Reason: "empty artifact"}
	}
	if limits.MaxBytes > 0 && len(data) > limits.MaxBytes {
		return nil, &ValidationError{Reason: fmt.Sprintf("artifact exceeds %d bytes", limits.MaxBytes)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ValidationError{Reason: "artifact is not a decodable image"}
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < limits.MinDim || h < limits.MinDim {
		return nil, &ValidationError{Reason: fmt.Sprintf("image %dx%d below minimum dimension %d", w, h, limits.MinDim)}
	}
	if w > limits.MaxDim || h > limits.MaxDim {
		return nil, &ValidationError{Reason: fmt.Sprintf("image %dx%d above maximum dimension %d", w, h, limits.MaxDim)}
	}
	aspect := float64(w) / float64(h)
	if aspect < 1/limits.MaxAspect || aspect > limits.MaxAspect {
		return nil, &ValidationError{Reason: fmt.Sprintf("aspect ratio %.2f out of range", aspect)}
	}

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("imaging: re-encode: %w", err)
	}
	return &Result{Cleaned: buf.Bytes(), Width: w, Height: h}, nil
}
