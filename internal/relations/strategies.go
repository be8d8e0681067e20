package relations

import (
	"sort"
	"strings"

	prose "github.com/tsawler/prose/v3"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/gateway"
)

// Vocabulary is the closed set of predicate types a validated relation
// may carry. Anything outside it is discarded, never coerced.
var Vocabulary = map[string]bool{
	"USES":     true,
	"REQUIRES": true,
	"PART_OF":  true,
	"REPLACES": true,
	"ENABLES":  true,
}

// connectivePhrases are the dependency-signaling phrases the miner looks
// for. Mining returns the subset actually present in the document so the
// connective strategy only scans for phrases with at least one hit.
var connectivePhrases = []string{
	"depends on",
	"relies on",
	"is part of",
	"built on",
	"runs on",
	"is based on",
	"requires",
	"replaces",
	"enables",
	"uses",
	"powered by",
}

// MineConnectives returns the connective phrases present in the text.
func MineConnectives(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, p := range connectivePhrases {
		if strings.Contains(lower, p) {
			found = append(found, p)
		}
	}
	return found
}

// occurrence is one located surface form of a promoted concept.
type occurrence struct {
	concept domain.CanonicalConcept
	name    string
	start   int
	end     int
}

/*
locate finds every occurrence of each concept's canonical name and
aliases in the text, case-insensitive, sorted by position. Overlapping
hits for the same concept collapse to the earliest.
*/
func locate(concepts []domain.CanonicalConcept, text string) []occurrence {
	lower := strings.ToLower(text)
	var occs []occurrence
	for _, c := range concepts {
		names := append([]string{c.CanonicalName}, c.Aliases...)
		for _, n := range names {
			needle := strings.ToLower(strings.TrimSpace(n))
			if needle == "" {
				continue
			}
			from := 0
			for {
				idx := strings.Index(lower[from:], needle)
				if idx < 0 {
					break
				}
				start := from + idx
				occs = append(occs, occurrence{
					concept: c,
					name:    n,
					start:   start,
					end:     start + len(needle),
				})
				from = start + len(needle)
			}
		}
	}
	sort.Slice(occs, func(i, j int) bool { return occs[i].start < occs[j].start })
	return occs
}

/*
CooccurrenceCandidates pairs concepts whose mentions fall within
windowChars of each other. The evidence is the text span covering both
mentions; proximity alone proposes, validation decides.
*/
func CooccurrenceCandidates(concepts []domain.CanonicalConcept, text string, windowChars int) []gateway.RelationCandidate {
	occs := locate(concepts, text)
	var out []gateway.RelationCandidate
	for i := 0; i < len(occs); i++ {
		for j := i + 1; j < len(occs); j++ {
			if occs[j].start-occs[i].end > windowChars {
				break
			}
			if occs[i].concept.CanonicalID == occs[j].concept.CanonicalID {
				continue
			}
			out = append(out, gateway.RelationCandidate{
				Subject:  occs[i].concept.CanonicalName,
				Object:   occs[j].concept.CanonicalName,
				Evidence: strings.TrimSpace(text[occs[i].start:occs[j].end]),
				Strategy: "cooccurrence",
			})
		}
	}
	return out
}

/*
PredicateCandidates proposes a relation when two concepts share a
sentence with a verb between them. Sentence splitting and tagging come
from the NLP tokenizer; a tagging failure yields no candidates rather
than an error, the other strategies still run.
*/
func PredicateCandidates(concepts []domain.CanonicalConcept, text string) []gateway.RelationCandidate {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil
	}

	var out []gateway.RelationCandidate
	for _, sent := range doc.Sentences() {
		occs := locate(concepts, sent.Text)
		first, second, ok := firstDistinctPair(occs)
		if !ok {
			continue
		}
		verb, ok := verbBetween(sent.Text, first.end, second.start)
		if !ok {
			continue
		}
		out = append(out, gateway.RelationCandidate{
			Subject:  first.concept.CanonicalName,
			Object:   second.concept.CanonicalName,
			Evidence: strings.TrimSpace(sent.Text),
			Strategy: "governing_predicate:" + verb,
		})
	}
	return out
}

/*
ConnectiveCandidates proposes a relation when a mined connective phrase
sits between two concept mentions in the same sentence.
*/
func ConnectiveCandidates(concepts []domain.CanonicalConcept, text string, connectives []string) []gateway.RelationCandidate {
	if len(connectives) == 0 {
		return nil
	}
	var out []gateway.RelationCandidate
	for _, sent := range splitSentences(text) {
		lower := strings.ToLower(sent)
		occs := locate(concepts, sent)
		first, second, ok := firstDistinctPair(occs)
		if !ok {
			continue
		}
		for _, phrase := range connectives {
			idx := strings.Index(lower, phrase)
			if idx < 0 {
				continue
			}
			if idx >= first.end && idx+len(phrase) <= second.start {
				out = append(out, gateway.RelationCandidate{
					Subject:  first.concept.CanonicalName,
					Object:   second.concept.CanonicalName,
					Evidence: strings.TrimSpace(sent),
					Strategy: "connective:" + phrase,
				})
				break
			}
		}
	}
	return out
}

func firstDistinctPair(occs []occurrence) (occurrence, occurrence, bool) {
	if len(occs) < 2 {
		return occurrence{}, occurrence{}, false
	}
	first := occs[0]
	for _, o := range occs[1:] {
		if o.concept.CanonicalID != first.concept.CanonicalID && o.start >= first.end {
			return first, o, true
		}
	}
	return occurrence{}, occurrence{}, false
}

// verbBetween tags the sentence and reports the first verb whose
// position falls strictly between the two char offsets.
func verbBetween(sentence string, afterEnd, beforeStart int) (string, bool) {
	doc, err := prose.NewDocument(sentence)
	if err != nil {
		return "", false
	}
	cursor := 0
	for _, tok := range doc.Tokens() {
		idx := strings.Index(sentence[cursor:], tok.Text)
		if idx < 0 {
			continue
		}
		pos := cursor + idx
		cursor = pos + len(tok.Text)
		if pos < afterEnd {
			continue
		}
		if pos >= beforeStart {
			break
		}
		if strings.HasPrefix(tok.Tag, "VB") {
			return strings.ToLower(tok.Text), true
		}
	}
	return "", false
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
