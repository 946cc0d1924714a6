package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"example.com/panelstages/internal/domain"
)

// Fingerprint returns a stable hex SHA-256 over the panel's content.
// Deadline entries are hashed in key order so map iteration never changes the result.
// The store uses it to skip unchanged upserts; the HTTP layer uses it as an ETag.
func Fingerprint(p *domain.Panel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%s|%s|%d",
		p.ID, p.Name, p.Description, p.PanelistName, p.VideoLink, p.PresentationTime, p.QuestionCount)

	keys := make([]string, 0, len(p.StageDeadlines))
	for k := range p.StageDeadlines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, p.StageDeadlines[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ETag quotes a fingerprint for use in HTTP headers. suffix distinguishes
// representations derived from the same panel (e.g. a pinned time and locale).
func ETag(fingerprint, suffix string) string {
	if suffix == "" {
		return `"` + fingerprint + `"`
	}
	sum := sha256.Sum256([]byte(fingerprint + "|" + suffix))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
