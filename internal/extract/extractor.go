package extract

import (
	"sort"
	"strings"
	"unicode"

	prose "github.com/tsawler/prose/v3"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

// Profile tunes candidate generation. The strict profile exists for the
// supervisor's single retry after a batch yields nothing promotable.
type Profile struct {
	MinConfidence float64
	MaxCandidates int
	// RequireAnchorOverlap keeps only mentions sharing a token with the
	// topic's anchor terms.
	RequireAnchorOverlap bool
}

func StandardProfile() Profile {
	return Profile{
		MinConfidence: envutil.Float("EXTRACT_MIN_CONFIDENCE", 0.45),
		MaxCandidates: envutil.IntAllowZero("EXTRACT_MAX_CANDIDATES_PER_TOPIC", 24),
	}
}

func StrictProfile() Profile {
	return Profile{
		MinConfidence:        envutil.Float("EXTRACT_STRICT_MIN_CONFIDENCE", 0.70),
		MaxCandidates:        envutil.IntAllowZero("EXTRACT_STRICT_MAX_CANDIDATES_PER_TOPIC", 10),
		RequireAnchorOverlap: true,
	}
}

/*
Extractor generates raw concept mentions per topic. Strategy is picked by
measured density, not configured per document:

  - entity-dense text (named products, orgs, standards) goes through the
    NER model,
  - lexically dense prose without many named entities goes through
    noun-phrase chunking over POS tags,
  - everything else (tables, bullet debris, OCR output) falls back to
    repeated-term frequency.

All three emit the same mention shape so downstream code never knows
which strategy ran; ExtractionMethod is recorded for reprocessing only.
*/
type Extractor struct {
	log *logger.Logger
}

func NewExtractor(log *logger.Logger) *Extractor {
	return &Extractor{log: log.With("component", "ConceptExtractor")}
}

func (e *Extractor) ExtractTopic(topic domain.Topic, profile Profile) []domain.RawConceptMention {
	text := strings.TrimSpace(topic.TextWindow)
	if text == "" {
		return nil
	}
	doc, err := prose.NewDocument(text)
	if err != nil {
		e.log.Warn("prose document failed, skipping topic", "topic_id", topic.ID, "error", err)
		return nil
	}

	toks := doc.Tokens()
	ents := doc.Entities()
	entityDensity := 0.0
	lexicalDensity := 0.0
	if len(toks) > 0 {
		entityDensity = float64(len(ents)) / float64(len(toks))
		content := 0
		for _, t := range toks {
			if isContentTag(t.Tag) {
				content++
			}
		}
		lexicalDensity = float64(content) / float64(len(toks))
	}

	var mentions []domain.RawConceptMention
	switch {
	case entityDensity >= envutil.Float("EXTRACT_ENTITY_DENSITY_MIN", 0.04):
		mentions = e.fromEntities(topic, text, ents)
	case lexicalDensity >= envutil.Float("EXTRACT_LEXICAL_DENSITY_MIN", 0.35):
		mentions = e.fromNounPhrases(topic, text, toks)
	default:
		mentions = e.fromTermFrequency(topic, text, toks)
	}

	return applyProfile(topic, mentions, profile)
}

func (e *Extractor) fromEntities(topic domain.Topic, text string, ents []prose.Entity) []domain.RawConceptMention {
	out := make([]domain.RawConceptMention, 0, len(ents))
	for _, ent := range ents {
		name := strings.TrimSpace(ent.Text)
		if name == "" {
			continue
		}
		conf := ent.Confidence
		if conf <= 0 {
			conf = 0.7
		}
		out = append(out, domain.RawConceptMention{
			RawName:            name,
			SourceTopicID:      topic.ID,
			SurroundingContext: contextAround(text, name),
			ExtractionMethod:   "ner",
			Confidence:         conf,
		})
	}
	return out
}

// fromNounPhrases chunks maximal JJ*/NN* runs from the POS stream.
func (e *Extractor) fromNounPhrases(topic domain.Topic, text string, toks []prose.Token) []domain.RawConceptMention {
	out := []domain.RawConceptMention{}
	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		phrase := strings.Join(run, " ")
		run = nil
		if len([]rune(phrase)) < 3 || isStopword(phrase) {
			return
		}
		out = append(out, domain.RawConceptMention{
			RawName:            phrase,
			SourceTopicID:      topic.ID,
			SurroundingContext: contextAround(text, phrase),
			ExtractionMethod:   "noun_phrase",
			Confidence:         0.6,
		})
	}
	for _, t := range toks {
		switch {
		case strings.HasPrefix(t.Tag, "NN"):
			run = append(run, t.Text)
		case strings.HasPrefix(t.Tag, "JJ") && len(run) == 0:
			run = append(run, t.Text)
		default:
			flush()
		}
	}
	flush()
	return out
}

func (e *Extractor) fromTermFrequency(topic domain.Topic, text string, toks []prose.Token) []domain.RawConceptMention {
	counts := map[string]int{}
	surface := map[string]string{}
	for _, t := range toks {
		w := strings.TrimFunc(t.Text, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		key := strings.ToLower(w)
		if len([]rune(key)) < 4 || isStopword(key) {
			continue
		}
		counts[key]++
		if _, ok := surface[key]; !ok {
			surface[key] = w
		}
	}
	type tf struct {
		key   string
		count int
	}
	ranked := make([]tf, 0, len(counts))
	for k, n := range counts {
		if n >= 2 {
			ranked = append(ranked, tf{k, n})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].key < ranked[j].key
	})
	out := make([]domain.RawConceptMention, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, domain.RawConceptMention{
			RawName:            surface[r.key],
			SourceTopicID:      topic.ID,
			SurroundingContext: contextAround(text, surface[r.key]),
			ExtractionMethod:   "term_freq",
			Confidence:         0.5,
		})
	}
	return out
}

func applyProfile(topic domain.Topic, mentions []domain.RawConceptMention, profile Profile) []domain.RawConceptMention {
	anchors := map[string]bool{}
	for _, a := range topic.AnchorTerms {
		for _, tok := range strings.Fields(strings.ToLower(a)) {
			anchors[tok] = true
		}
	}
	out := make([]domain.RawConceptMention, 0, len(mentions))
	seen := map[string]bool{}
	for _, m := range mentions {
		if m.Confidence < profile.MinConfidence {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(m.RawName))
		if key == "" || seen[key] {
			continue
		}
		if profile.RequireAnchorOverlap && len(anchors) > 0 && !overlapsAnchors(key, anchors) {
			continue
		}
		seen[key] = true
		out = append(out, m)
		if profile.MaxCandidates > 0 && len(out) >= profile.MaxCandidates {
			break
		}
	}
	return out
}

func overlapsAnchors(name string, anchors map[string]bool) bool {
	for _, tok := range strings.Fields(name) {
		if anchors[tok] {
			return true
		}
	}
	return false
}

// contextAround returns a word-bounded window centered on the first
// occurrence of name.
func contextAround(text, name string) string {
	const radius = 120
	idx := strings.Index(strings.ToLower(text), strings.ToLower(name))
	if idx < 0 {
		if len(text) <= 2*radius {
			return text
		}
		return strings.TrimSpace(text[:2*radius])
	}
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + len(name) + radius
	if end > len(text) {
		end = len(text)
	}
	snippet := text[start:end]
	if start > 0 {
		if sp := strings.IndexByte(snippet, ' '); sp >= 0 {
			snippet = snippet[sp+1:]
		}
	}
	if end < len(text) {
		if sp := strings.LastIndexByte(snippet, ' '); sp >= 0 {
			snippet = snippet[:sp]
		}
	}
	return strings.TrimSpace(snippet)
}

func isContentTag(tag string) bool {
	return strings.HasPrefix(tag, "NN") || strings.HasPrefix(tag, "VB") ||
		strings.HasPrefix(tag, "JJ") || strings.HasPrefix(tag, "RB")
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "are": true, "was": true, "were": true,
	"have": true, "has": true, "been": true, "will": true, "would": true,
	"should": true, "could": true, "which": true, "their": true, "there": true,
	"other": true, "these": true, "those": true, "such": true, "into": true,
	"also": true, "more": true, "most": true, "some": true, "only": true,
	"when": true, "where": true, "while": true, "about": true, "each": true,
}

func isStopword(s string) bool { return stopwords[strings.ToLower(s)] }
