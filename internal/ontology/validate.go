package ontology

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	pkgerr "github.com/yarrowlabs/conceptforge-backend/internal/pkg/errors"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
)

const maxCachedAliases = 16

// ValidateForCache decides whether a gateway resolution is safe to store.
// Three poisoning vectors are closed here: below-threshold confidence,
// results lexically unrelated to the input (hallucinated concepts), and
// unbounded alias lists. A resolution that fails validation is still
// usable for the current run; it just never enters the cache.
func ValidateForCache(rawName string, res domain.Resolution) error {
	minConf := envutil.Float("ONTOLOGY_CACHE_MIN_CONFIDENCE", 0.60)
	if res.Confidence < minConf {
		return fmt.Errorf("confidence %.2f below cache minimum %.2f: %w", res.Confidence, minConf, pkgerr.ErrValidation)
	}
	if strings.TrimSpace(res.CanonicalName) == "" {
		return fmt.Errorf("empty canonical name: %w", pkgerr.ErrValidation)
	}
	if !LexicallyRelated(rawName, res.CanonicalName) && !IsAcronymExpansion(rawName, res.CanonicalName) {
		return fmt.Errorf("result %q unrelated to input %q: %w", res.CanonicalName, rawName, pkgerr.ErrValidation)
	}
	return nil
}

// LexicallyRelated reports whether the two names share at least one
// content token or one is a substring of the other after normalization.
// Cross-lingual pairs legitimately fail this; those arrive pre-unified by
// the clustering pass, with the raw mention recorded as an alias.
func LexicallyRelated(rawName, canonical string) bool {
	a := NormalizeKey(rawName)
	b := NormalizeKey(canonical)
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	bTokens := map[string]bool{}
	for _, t := range strings.Fields(b) {
		bTokens[t] = true
	}
	for _, t := range strings.Fields(a) {
		if len(t) >= 3 && bTokens[t] {
			return true
		}
	}
	return false
}

// IsAcronymExpansion reports whether short is an acronym of the words in
// long, in either argument order ("SSO" vs "Single Sign On").
func IsAcronymExpansion(a, b string) bool {
	return acronymOf(a, b) || acronymOf(b, a)
}

func acronymOf(short, long string) bool {
	short = strings.ToLower(strings.TrimSpace(short))
	words := strings.Fields(NormalizeKey(long))
	if len(short) < 2 || len(words) < 2 || len(short) != len(words) {
		return false
	}
	for i, w := range words {
		r := []rune(w)
		if len(r) == 0 || !unicode.IsLetter(r[0]) {
			return false
		}
		if []rune(short)[i] != r[0] {
			return false
		}
	}
	return true
}

func capAliases(aliases []string) []string {
	out := make([]string, 0, len(aliases))
	seen := map[string]bool{}
	for _, a := range aliases {
		k := NormalizeKey(a)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, strings.TrimSpace(a))
		if len(out) >= maxCachedAliases {
			break
		}
	}
	return out
}
