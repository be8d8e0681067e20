package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

type Config struct {
	URL        string
	APIKey     string
	Collection string
	VectorDim  int
}

func ConfigFromEnv() Config {
	return Config{
		URL:        envutil.Str("QDRANT_URL", ""),
		APIKey:     envutil.Str("QDRANT_API_KEY", ""),
		Collection: envutil.Str("QDRANT_COLLECTION", "concepts"),
		VectorDim:  envutil.Int("QDRANT_VECTOR_DIM", 1536),
	}
}

// Point is a single indexed concept vector. ID must be a UUID string so
// Qdrant accepts it as a native point id.
type Point struct {
	ID      string
	Values  []float32
	Payload map[string]any
}

/*
VectorStore indexes promoted concept embeddings for semantic retrieval.
Implementations are optional infrastructure: callers treat a nil store
as "indexing disabled".
*/
type VectorStore interface {
	Upsert(ctx context.Context, points []Point) error
}

type vectorStore struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

/*
NewVectorStore builds an HTTP-backed Qdrant store and makes sure the
target collection exists. Returns (nil, nil) when cfg.URL is empty.
*/
func NewVectorStore(log *logger.Logger, cfg Config) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("qdrant: logger required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant: collection required")
	}

	s := &vectorStore{
		log:     log.With("service", "QdrantVectorStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	log.Info("qdrant vector store ready",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
	)
	return s, nil
}

func (s *vectorStore) Upsert(ctx context.Context, points []Point) error {
	if s == nil || len(points) == 0 {
		return nil
	}

	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("qdrant upsert: point id is required")
		}
		if len(p.Values) == 0 {
			return fmt.Errorf("qdrant upsert: point %q has empty vector", p.ID)
		}
		if s.cfg.VectorDim > 0 && len(p.Values) != s.cfg.VectorDim {
			return fmt.Errorf("qdrant upsert: point %q dimension mismatch: expected=%d got=%d",
				p.ID, s.cfg.VectorDim, len(p.Values))
		}
		body = append(body, map[string]any{
			"id":      p.ID,
			"vector":  p.Values,
			"payload": p.Payload,
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", s.cfg.Collection)
	return s.do(ctx, http.MethodPut, path, map[string]any{"points": body}, nil)
}

func (s *vectorStore) ensureCollection(ctx context.Context) error {
	path := "/collections/" + s.cfg.Collection
	err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return nil
	}

	create := map[string]any{
		"vectors": map[string]any{
			"size":     s.cfg.VectorDim,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, path, create, nil); err != nil {
		return fmt.Errorf("qdrant: ensure collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

func (s *vectorStore) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("qdrant: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("qdrant: %s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("qdrant: decode response: %w", err)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("qdrant: decode result: %w", err)
	}
	return nil
}
