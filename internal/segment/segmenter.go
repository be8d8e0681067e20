package segment

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
)

// Segmenter is the topic-segmentation capability. The production system
// normally plugs an external model in here; LexicalSegmenter below is the
// self-contained default.
type Segmenter interface {
	Segment(ctx context.Context, documentID, text string) ([]domain.Topic, error)
}

// LexicalSegmenter windows paragraphs to a target size and scores
// cohesion as lexical overlap between adjacent windows. Good enough to
// run the pipeline end to end without a model server.
type LexicalSegmenter struct{}

func NewLexicalSegmenter() *LexicalSegmenter { return &LexicalSegmenter{} }

func (s *LexicalSegmenter) Segment(_ context.Context, documentID, text string) ([]domain.Topic, error) {
	target := envutil.IntAllowZero("SEGMENT_WINDOW_CHARS", 1200)
	if target < 200 {
		target = 200
	}

	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil, nil
	}

	windows := []string{}
	var cur strings.Builder
	for _, p := range paras {
		if cur.Len() > 0 && cur.Len()+len(p) > target {
			windows = append(windows, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		windows = append(windows, cur.String())
	}

	tokenSets := make([]map[string]int, len(windows))
	for i, w := range windows {
		tokenSets[i] = contentTokens(w)
	}

	topics := make([]domain.Topic, 0, len(windows))
	for i, w := range windows {
		cohesion := 1.0
		if i > 0 {
			cohesion = overlap(tokenSets[i-1], tokenSets[i])
		}
		topics = append(topics, domain.Topic{
			ID:            fmt.Sprintf("%s-t%03d", documentID, i),
			AnchorTerms:   topTerms(tokenSets[i], 5),
			TextWindow:    w,
			CohesionScore: cohesion,
		})
	}
	return topics, nil
}

func splitParagraphs(text string) []string {
	out := []string{}
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contentTokens(text string) map[string]int {
	counts := map[string]int{}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}\"'")
		if len(tok) < 4 {
			continue
		}
		counts[tok]++
	}
	return counts
}

func overlap(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func topTerms(counts map[string]int, k int) []string {
	type tc struct {
		term  string
		count int
	}
	ranked := make([]tc, 0, len(counts))
	for t, n := range counts {
		ranked = append(ranked, tc{t, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].term < ranked[j].term
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.term
	}
	return out
}
