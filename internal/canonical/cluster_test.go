package canonical

import (
	"context"
	"testing"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
)

// vecEmbedder returns fixed vectors per input string so clustering is
// fully deterministic in tests.
type vecEmbedder struct {
	vecs map[string][]float32
}

func (e *vecEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v, ok := e.vecs[in]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func TestCrossLingualMentionsFormOneCluster(t *testing.T) {
	// Pairwise cosine similarity of these three is >= 0.85.
	emb := &vecEmbedder{vecs: map[string][]float32{
		"authentification":  {0.99, 0.10, 0},
		"authentication":    {1.00, 0.00, 0},
		"Authentifizierung": {0.98, 0.15, 0},
		"billing":           {0, 1, 0},
	}}
	mentions := []domain.RawConceptMention{
		{RawName: "authentification", Language: "fr"},
		{RawName: "authentication", Language: "en"},
		{RawName: "Authentifizierung", Language: "de"},
		{RawName: "billing", Language: "en"},
	}

	clusters, err := ClusterMentions(context.Background(), emb, mentions)
	if err != nil {
		t.Fatalf("cluster failed: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}

	var auth *Cluster
	for i := range clusters {
		if len(clusters[i].Members) == 3 {
			auth = &clusters[i]
		}
	}
	if auth == nil {
		t.Fatalf("expected one cluster with all three auth forms: %+v", clusters)
	}
	if auth.Representative != "authentication" {
		t.Fatalf("dominant-language form must win, got %q", auth.Representative)
	}
	wantAliases := map[string]bool{"authentification": true, "Authentifizierung": true}
	if len(auth.Aliases) != 2 || !wantAliases[auth.Aliases[0]] || !wantAliases[auth.Aliases[1]] {
		t.Fatalf("aliases must contain the other two forms, got %v", auth.Aliases)
	}
	if len(auth.Languages) != 3 {
		t.Fatalf("languages must union all member languages, got %v", auth.Languages)
	}
}

func TestRepresentativeFallsBackToFrequency(t *testing.T) {
	emb := &vecEmbedder{vecs: map[string][]float32{
		"facturation": {1, 0, 0},
		"Rechnung":    {0.99, 0.05, 0},
	}}
	mentions := []domain.RawConceptMention{
		{RawName: "Rechnung", Language: "de"},
		{RawName: "facturation", Language: "fr"},
		{RawName: "facturation", Language: "fr"},
	}
	clusters, err := ClusterMentions(context.Background(), emb, mentions)
	if err != nil {
		t.Fatalf("cluster failed: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clusters))
	}
	// No English form present: the most frequent surface form wins.
	if clusters[0].Representative != "facturation" {
		t.Fatalf("frequency fallback broken, got %q", clusters[0].Representative)
	}
}

func TestEmbedderFailureDegradesToIdentityClusters(t *testing.T) {
	failing := embFunc(func(ctx context.Context, in []string) ([][]float32, error) {
		return nil, context.DeadlineExceeded
	})
	mentions := []domain.RawConceptMention{
		{RawName: "alpha", Language: "en"},
		{RawName: "beta", Language: "en"},
	}
	clusters, err := ClusterMentions(context.Background(), failing, mentions)
	if err == nil {
		t.Fatalf("expected error to surface")
	}
	if len(clusters) != 2 {
		t.Fatalf("each mention should stand alone on embed failure, got %d clusters", len(clusters))
	}
}

type embFunc func(ctx context.Context, inputs []string) ([][]float32, error)

func (f embFunc) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return f(ctx, inputs)
}
