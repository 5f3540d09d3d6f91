// Package enrich builds the optional post-migration knowledge base: free-text
// communication records and template content are embedded and indexed for
// vector search. Enrichment failures never fail the migration; they surface
// as warnings in the report.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/errors"
)

// EmbeddingProvider turns text into a fixed-dimension vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// NewProvider selects the embedding provider from settings. "local" computes
// deterministic feature-hash embeddings with no external calls; "http" posts
// to a configured embedding service. "none" returns nil, which disables the
// enrichment phase entirely.
func NewProvider(settings *conf.EnrichmentSettings) (EmbeddingProvider, error) {
	switch settings.Provider {
	case "", "none":
		return nil, nil
	case "local":
		return &localProvider{dims: settings.Dimensions}, nil
	case "http":
		if settings.Endpoint == "" {
			return nil, errors.New(errors.NewStd("http embedding provider requires an endpoint")).
				Component("enrich").
				Category(errors.CategoryConfiguration).
				Build()
		}
		return &httpProvider{
			dims:     settings.Dimensions,
			endpoint: settings.Endpoint,
			apiKey:   settings.APIKey,
			client:   &http.Client{},
		}, nil
	default:
		return nil, errors.New(fmt.Errorf("unknown embedding provider: %s", settings.Provider)).
			Component("enrich").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// localProvider hashes token features into a fixed-size unit vector. Not a
// semantic embedding, but deterministic, offline and good enough for exact
// and near-duplicate retrieval over migrated notes.
type localProvider struct {
	dims int
}

func (p *localProvider) Dimensions() int { return p.dims }

func (p *localProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)
	token := make([]rune, 0, 16)
	flush := func() {
		if len(token) == 0 {
			return
		}
		h := fnv.New32a()
		h.Write([]byte(string(token)))
		sum := h.Sum32()
		idx := int(sum % uint32(p.dims))
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
		token = token[:0]
	}
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '.' || r == ',' {
			flush()
			continue
		}
		token = append(token, r)
	}
	flush()
	return normalize(vec), nil
}

// normalize returns a unit-length copy so L2 distance in the vector index is
// equivalent to cosine distance.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// httpProvider calls an external embedding service.
type httpProvider struct {
	dims     int
	endpoint string
	apiKey   string
	client   *http.Client
}

func (p *httpProvider) Dimensions() int { return p.dims }

func (p *httpProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{"input": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("enrich").
			Category(errors.CategoryEnrichment).
			Context("endpoint", p.endpoint).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(fmt.Errorf("embedding service returned %d", resp.StatusCode)).
			Component("enrich").
			Category(errors.CategoryEnrichment).
			Build()
	}

	var body struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Embedding) != p.dims {
		return nil, errors.New(fmt.Errorf("embedding has %d dimensions, expected %d", len(body.Embedding), p.dims)).
			Component("enrich").
			Category(errors.CategoryEnrichment).
			Build()
	}
	return body.Embedding, nil
}
