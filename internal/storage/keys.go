package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ArtifactKey builds the deterministic full-image location for one version.
// Re-running a step with the same payload overwrites the same object, which
// is what makes a crash-then-retry safe.
func ArtifactKey(ownerID, jobID, versionID string) string {
	return fmt.Sprintf("%s/%s/%s/image.png", ownerID, jobID, versionID)
}

// ThumbKey builds the deterministic derivative location for one version.
func ThumbKey(ownerID, jobID, versionID string) string {
	return fmt.Sprintf("%s/%s/%s/thumb.jpg", ownerID, jobID, versionID)
}

// SanitizeKey normalizes a key and prevents escaping the storage root.
func SanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
