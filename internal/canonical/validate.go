package canonical

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	pkgerr "github.com/yarrowlabs/conceptforge-backend/internal/pkg/errors"
)

const (
	maxRawNameLen = 200
	maxContextLen = 480
)

// tenantIDPattern is a strict allow-list. Tenant IDs and raw names later
// compose graph queries, so this is the injection boundary for the whole
// engine: nothing that fails here is ever sent to a store or the gateway.
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(strings.TrimSpace(tenantID)) {
		return fmt.Errorf("tenant_id %q: %w", tenantID, pkgerr.ErrValidation)
	}
	return nil
}

func ValidateRawName(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("raw name empty after trim: %w", pkgerr.ErrValidation)
	}
	if utf8.RuneCountInString(trimmed) > maxRawNameLen {
		return fmt.Errorf("raw name exceeds %d chars: %w", maxRawNameLen, pkgerr.ErrValidation)
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return fmt.Errorf("raw name contains control character: %w", pkgerr.ErrValidation)
		}
	}
	return nil
}

// TruncateContext bounds the context snippet sent to the gateway, cutting
// on a word boundary, never mid-token.
func TruncateContext(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 {
		max = maxContextLen
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := max
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		// Single token longer than the budget; keep the rune-bounded prefix.
		return string(runes[:max])
	}
	return strings.TrimSpace(string(runes[:cut]))
}
