package gateway

import (
	"strings"
	"unicode"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
)

// FallbackConfidence is the fixed confidence assigned to deterministic
// fallback resolutions. Low enough that the gatekeeper's quality gate
// treats them with suspicion, and the cache never stores them.
const FallbackConfidence = 0.30

// FallbackResolution normalizes the raw name lexically. It is used when
// the breaker is open, the budget denies the call, or retries are
// exhausted. The result is explicitly tagged NeedsReprocess so it is
// never indistinguishable from a genuine resolution.
func FallbackResolution(rawName string) domain.Resolution {
	return domain.Resolution{
		CanonicalName:  NormalizeLexical(rawName),
		ConceptType:    "concept",
		Confidence:     FallbackConfidence,
		Source:         "fallback",
		NeedsReprocess: true,
	}
}

// NormalizeLexical title-cases plain words while preserving tokens that
// carry their own casing signal: acronyms (JWT, OAuth2) and camel-case
// identifiers (PostgreSQL, gRPC) pass through untouched.
func NormalizeLexical(raw string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		return unicode.IsSpace(r) || r == '_'
	})
	out := make([]string, 0, len(fields))
	for _, tok := range fields {
		if tok == "" {
			continue
		}
		if isAcronym(tok) || isMixedCase(tok) {
			out = append(out, tok)
			continue
		}
		out = append(out, titleWord(tok))
	}
	return strings.Join(out, " ")
}

func isAcronym(tok string) bool {
	letters := 0
	for _, r := range tok {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 2 && len(tok) <= 8
}

// isMixedCase detects an uppercase rune after the first position, i.e. a
// camel-case or vendor-cased token.
func isMixedCase(tok string) bool {
	runes := []rune(tok)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) {
			return true
		}
	}
	return false
}

func titleWord(tok string) string {
	runes := []rune(strings.ToLower(tok))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
