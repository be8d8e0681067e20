package gatekeeper

import (
	"strings"
)

/*
Candidate is one resolved cluster awaiting promotion. RawNames carries
every surface form observed for the cluster (representative first);
Contexts and TopicIDs are the in-document evidence the scorer works from.
*/
type Candidate struct {
	CanonicalName  string
	Confidence     float64
	NeedsReprocess bool
	Aliases        []string
	RawNames       []string
	Languages      []string
	ConceptType    string
	TopicIDs       []string
	Contexts       []string
	MentionCount   int
	FromVision     bool
}

// Scored pairs a candidate with its quality components. Combined is the
// score the promotion gate compares against the quality threshold.
type Scored struct {
	Candidate
	Centrality float64
	Relevance  float64
	Combined   float64
}

const (
	weightCentrality = 0.4
	weightRelevance  = 0.3
	weightConfidence = 0.3
)

/*
Score computes a combined quality score per candidate.

Centrality is degree centrality over the in-document co-occurrence
graph: candidates are nodes, and sharing a topic contributes one unit of
edge weight, doubled when the pair also co-occurs inside a mention
context so adjacent mentions outweigh ones at opposite ends of the same
topic window. Past maxGraphNodes candidates the quadratic graph build is
skipped and normalized mention frequency stands in, so scoring cost
stays bounded on pathological documents.

Relevance is the fraction of a candidate's mention contexts that also
name another candidate, a cheap proxy for how embedded the concept is in
the document's subject matter.
*/
func Score(cands []Candidate, maxGraphNodes int) []Scored {
	if len(cands) == 0 {
		return nil
	}

	var centrality []float64
	if maxGraphNodes > 0 && len(cands) > maxGraphNodes {
		centrality = frequencyScores(cands)
	} else {
		centrality = centralityScores(cands)
	}

	out := make([]Scored, 0, len(cands))
	for i, c := range cands {
		rel := relevanceScore(c, cands, i)
		s := Scored{
			Candidate:  c,
			Centrality: centrality[i],
			Relevance:  rel,
		}
		s.Combined = weightCentrality*s.Centrality + weightRelevance*s.Relevance + weightConfidence*c.Confidence
		out = append(out, s)
	}
	return out
}

func centralityScores(cands []Candidate) []float64 {
	degree := make([]float64, len(cands))
	topicSets := make([]map[string]bool, len(cands))
	for i, c := range cands {
		set := make(map[string]bool, len(c.TopicIDs))
		for _, id := range c.TopicIDs {
			set[id] = true
		}
		topicSets[i] = set
	}

	lowerCtxs := make([][]string, len(cands))
	for i, c := range cands {
		lc := make([]string, 0, len(c.Contexts))
		for _, ctx := range c.Contexts {
			lc = append(lc, strings.ToLower(ctx))
		}
		lowerCtxs[i] = lc
	}

	for i := range cands {
		for j := i + 1; j < len(cands); j++ {
			var shared float64
			for id := range topicSets[i] {
				if topicSets[j][id] {
					shared++
				}
			}
			if shared == 0 {
				continue
			}
			w := shared
			if coMentioned(lowerCtxs[i], cands[j]) || coMentioned(lowerCtxs[j], cands[i]) {
				w = 2 * shared
			}
			degree[i] += w
			degree[j] += w
		}
	}
	return normalize(degree)
}

// coMentioned reports whether any of the mention contexts names the
// other candidate, the proximity signal the topic sets alone lack.
func coMentioned(lowerCtxs []string, other Candidate) bool {
	for _, ctx := range lowerCtxs {
		if mentionsAny(ctx, other.RawNames) || strings.Contains(ctx, strings.ToLower(other.CanonicalName)) {
			return true
		}
	}
	return false
}

func frequencyScores(cands []Candidate) []float64 {
	freq := make([]float64, len(cands))
	for i, c := range cands {
		freq[i] = float64(c.MentionCount)
	}
	return normalize(freq)
}

func normalize(vals []float64) []float64 {
	var max float64
	for _, v := range vals {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return vals
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = v / max
	}
	return out
}

func relevanceScore(c Candidate, all []Candidate, selfIdx int) float64 {
	if len(c.Contexts) == 0 {
		return 0.5
	}
	var hits int
	for _, ctx := range c.Contexts {
		lower := strings.ToLower(ctx)
		for j, other := range all {
			if j == selfIdx {
				continue
			}
			if mentionsAny(lower, other.RawNames) || strings.Contains(lower, strings.ToLower(other.CanonicalName)) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(c.Contexts))
}

func mentionsAny(lowerCtx string, names []string) bool {
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(lowerCtx, n) {
			return true
		}
	}
	return false
}
