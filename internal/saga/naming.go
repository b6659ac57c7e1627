package saga

import (
	"context"
	"fmt"
	"strings"
)

// maxSuffixAttempts bounds the numeric de-dup loops. Collisions past this
// point indicate something other than normal contention.
const maxSuffixAttempts = 100

// usernameFromEmail derives a base username from the email's local part,
// lowercased with anything outside [a-z0-9._-] dropped.
func usernameFromEmail(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

// schemaSlug derives a partition schema identifier from a display name or
// email local part. The result always matches the partition manager's
// identifier rules.
func schemaSlug(name string) string {
	var b strings.Builder
	lastUnderscore := true // collapse leading separators too
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" || slug[0] >= '0' && slug[0] <= '9' {
		slug = "tenant_" + slug
		slug = strings.TrimRight(slug, "_")
	}
	if len(slug) > 48 {
		slug = slug[:48]
		slug = strings.TrimRight(slug, "_")
	}
	return slug
}

// dedupe appends a numeric suffix to base until exists reports false.
// "jane" collides to "jane2", then "jane3", and so on, matching how local
// usernames and personal tenant slugs are assigned.
func dedupe(ctx context.Context, base string, exists func(context.Context, string) (bool, error)) (string, error) {
	candidate := base
	for i := 2; i <= maxSuffixAttempts+1; i++ {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, i)
	}
	return "", fmt.Errorf("could not find a free name for %q after %d attempts", base, maxSuffixAttempts)
}
