package orgs

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfeidau/tenantd/internal/store"
)

// normalizeSlug lowercases the input and strips everything but letters,
// digits and hyphens, collapsing runs of separators.
func normalizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastHyphen := true // suppress leading hyphens
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// dedupeSlug appends -2, -3, ... until the slug is free locally.
func dedupeSlug(ctx context.Context, orgs store.OrganizationStore, slug string) (string, error) {
	candidate := slug
	for i := 2; ; i++ {
		taken, err := orgs.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check slug %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", slug, i)
	}
}
