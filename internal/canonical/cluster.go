package canonical

import (
	"context"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/language"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/ontology"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
)

// Embedder is the external embedding capability consumed by the
// cross-lingual pass.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Cluster groups mentions that denote one concept across languages and
// spellings. Representative is the surface form submitted for resolution;
// every other form becomes an alias.
type Cluster struct {
	Representative string
	Members        []domain.RawConceptMention
	Aliases        []string
	Languages      []string
}

/*
ClusterMentions unifies multilingual mentions by embedding proximity
before any resolution call is spent. Greedy single-pass clustering over
unique surface forms, most frequent first: a form joins the first cluster
whose seed it matches at or above the similarity threshold, otherwise it
seeds its own.

The representative is chosen in preference order: a recognized
dominant-language form, then the most frequent surface form in the
cluster, then first-seen order (the sort is stable on arrival order).
*/
func ClusterMentions(ctx context.Context, emb Embedder, mentions []domain.RawConceptMention) ([]Cluster, error) {
	if len(mentions) == 0 {
		return nil, nil
	}
	threshold := envutil.Float("CROSSLINGUAL_SIM_THRESHOLD", 0.85)

	byKey := map[string]*form{}
	order := make([]string, 0, len(mentions))
	for i, m := range mentions {
		k := ontology.NormalizeKey(m.RawName)
		if k == "" {
			continue
		}
		f := byKey[k]
		if f == nil {
			f = &form{surface: strings.TrimSpace(m.RawName), firstSeen: i}
			byKey[k] = f
			order = append(order, k)
		}
		f.count++
		f.members = append(f.members, m)
	}
	forms := make([]*form, 0, len(order))
	for _, k := range order {
		forms = append(forms, byKey[k])
	}
	sort.SliceStable(forms, func(i, j int) bool { return forms[i].count > forms[j].count })

	inputs := make([]string, len(forms))
	for i, f := range forms {
		inputs[i] = f.surface
	}
	vectors, err := emb.Embed(ctx, inputs)
	if err != nil || len(vectors) != len(forms) {
		// Degrade to identity clusters: each surface form stands alone.
		out := make([]Cluster, 0, len(forms))
		for _, f := range forms {
			out = append(out, clusterFrom([]*form{f}))
		}
		return out, err
	}

	type protoCluster struct {
		seed  []float32
		forms []*form
	}
	clusters := make([]*protoCluster, 0, len(forms))
	for i, f := range forms {
		placed := false
		for _, cl := range clusters {
			if cosine(vectors[i], cl.seed) >= threshold {
				cl.forms = append(cl.forms, f)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, &protoCluster{seed: vectors[i], forms: []*form{f}})
		}
	}

	out := make([]Cluster, 0, len(clusters))
	for _, cl := range clusters {
		out = append(out, clusterFrom(cl.forms))
	}
	return out, nil
}

// form is one unique normalized surface string with its arrival stats.
type form struct {
	surface   string
	firstSeen int
	count     int
	members   []domain.RawConceptMention
}

type clusterable struct {
	surface   string
	count     int
	firstSeen int
	langBase  string
	members   []domain.RawConceptMention
}

func clusterFrom(forms []*form) Cluster {
	if len(forms) == 0 {
		return Cluster{}
	}
	items := make([]clusterable, 0, len(forms))
	for _, f := range forms {
		items = append(items, clusterable{
			surface:   f.surface,
			count:     f.count,
			firstSeen: f.firstSeen,
			langBase:  baseOf(dominantMemberLanguage(f.members)),
			members:   f.members,
		})
	}

	rep := pickRepresentative(items)
	cl := Cluster{Representative: rep}
	seenLang := map[string]bool{}
	seenAlias := map[string]bool{ontology.NormalizeKey(rep): true}
	for _, it := range items {
		cl.Members = append(cl.Members, it.members...)
		if k := ontology.NormalizeKey(it.surface); !seenAlias[k] {
			seenAlias[k] = true
			cl.Aliases = append(cl.Aliases, it.surface)
		}
		for _, m := range it.members {
			if b := baseOf(m.Language); b != "" && !seenLang[b] {
				seenLang[b] = true
				cl.Languages = append(cl.Languages, b)
			}
		}
	}
	sort.Strings(cl.Languages)
	return cl
}

// pickRepresentative applies the preference order: dominant-language form,
// then highest frequency, then first seen.
func pickRepresentative(items []clusterable) string {
	prefs := dominantLanguageBases()
	for _, pref := range prefs {
		best := -1
		for i, it := range items {
			if it.langBase != pref {
				continue
			}
			if best < 0 || it.count > items[best].count ||
				(it.count == items[best].count && it.firstSeen < items[best].firstSeen) {
				best = i
			}
		}
		if best >= 0 {
			return items[best].surface
		}
	}
	best := 0
	for i := 1; i < len(items); i++ {
		if items[i].count > items[best].count ||
			(items[i].count == items[best].count && items[i].firstSeen < items[best].firstSeen) {
			best = i
		}
	}
	return items[best].surface
}

func dominantMemberLanguage(members []domain.RawConceptMention) string {
	counts := map[string]int{}
	bestLang, bestCount := "", 0
	for _, m := range members {
		if m.Language == "" {
			continue
		}
		counts[m.Language]++
		if counts[m.Language] > bestCount {
			bestLang, bestCount = m.Language, counts[m.Language]
		}
	}
	return bestLang
}

func dominantLanguageBases() []string {
	raw := envutil.Str("DOMINANT_LANGUAGES", "en")
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		if b := baseOf(part); b != "" {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		out = []string{"en"}
	}
	return out
}

// baseOf reduces a BCP 47 tag ("en-US", "fr") to its base language.
func baseOf(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return strings.ToLower(tag)
	}
	b, _ := t.Base()
	return b.String()
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
