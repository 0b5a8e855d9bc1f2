package safety

import (
	"context"
	"fmt"
	"strings"

	"stylizer/internal/domain"
)

// Checker screens prompt text before a job is admitted. A rejected prompt
// never reaches the pipeline.
type Checker interface {
	Check(ctx context.Context, text string) error
}

// KeywordChecker is a conservative local screen. The provider performs its
// own moderation; this only filters the obviously unacceptable before any
// job record exists.
type KeywordChecker struct {
	blocked []string
}

// NewKeywordChecker builds a checker with the default deny list plus any
// extra terms.
func NewKeywordChecker(extra ...string) *KeywordChecker {
	blocked := append([]string{
		"nude", "naked", "nsfw", "gore", "beheading", "child abuse",
	}, extra...)
	return &KeywordChecker{blocked: blocked}
}

// Check returns domain.ErrUnsafePrompt when a denied term appears.
func (c *KeywordChecker) Check(ctx context.Context, text string) error {
	lowered := strings.ToLower(text)
	for _, term := range c.blocked {
		if strings.Contains(lowered, term) {
			return fmt.Errorf("%w: contains %q", domain.ErrUnsafePrompt, term)
		}
	}
	return nil
}

var _ Checker = (*KeywordChecker)(nil)
