package enrich

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/errors"
	"github.com/clinsync/clinsync-go/internal/legacy"
)

const testDims = 64

func int64Ptr(v int64) *int64 { return &v }

func openTestKB(t *testing.T) *KnowledgeBase {
	t.Helper()
	kb, err := OpenKnowledgeBase(filepath.Join(t.TempDir(), "kb.db"), testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kb.Close() })
	return kb
}

func TestProviderSelection(t *testing.T) {
	p, err := NewProvider(&conf.EnrichmentSettings{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewProvider(&conf.EnrichmentSettings{Provider: "local", Dimensions: testDims})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, testDims, p.Dimensions())

	_, err = NewProvider(&conf.EnrichmentSettings{Provider: "http"})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	_, err = NewProvider(&conf.EnrichmentSettings{Provider: "quantum"})
	require.Error(t, err)
}

func TestLocalProviderIsDeterministicAndUnit(t *testing.T) {
	p := &localProvider{dims: testDims}
	ctx := context.Background()

	a, err := p.Embed(ctx, "patient called about aligner discomfort")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "patient called about aligner discomfort")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 0.001)
}

func TestKnowledgeBaseRoundTrip(t *testing.T) {
	kb := openTestKB(t)
	p := &localProvider{dims: testDims}
	ctx := context.Background()

	texts := map[int64]string{
		1: "patient called about aligner discomfort on the lower tray",
		2: "invoice reminder for october statement",
		3: "aligner tray pressure complaint, advised wax",
	}
	for id, text := range texts {
		emb, err := p.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, kb.AddDocument(ctx, Document{
			SourceTable: "dispatch_comm",
			SourceID:    id,
			Content:     text,
		}, emb))
	}

	count, err := kb.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	query, err := p.Embed(ctx, "aligner tray discomfort")
	require.NoError(t, err)
	hits, err := kb.Search(ctx, query, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Both aligner documents outrank the invoice one.
	got := map[int64]bool{hits[0].Document.SourceID: true, hits[1].Document.SourceID: true}
	assert.True(t, got[1])
	assert.True(t, got[3])
	assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)
}

func TestAddDocumentReplacesSameSourceRow(t *testing.T) {
	kb := openTestKB(t)
	p := &localProvider{dims: testDims}
	ctx := context.Background()

	for _, text := range []string{"first version", "second version"} {
		emb, err := p.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, kb.AddDocument(ctx, Document{
			SourceTable: "dispatch_comm",
			SourceID:    1,
			Content:     text,
		}, emb))
	}

	count, err := kb.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAddDocumentRejectsWrongDimension(t *testing.T) {
	kb := openTestKB(t)
	err := kb.AddDocument(context.Background(), Document{SourceTable: "t", SourceID: 1, Content: "x"}, make([]float32, 3))
	require.Error(t, err)
}

func TestIndexCommsSkipsEmptyAndLinksPatients(t *testing.T) {
	kb := openTestKB(t)
	p := &localProvider{dims: testDims}
	e := NewEnricher(p, kb, &conf.EnrichmentSettings{Dimensions: testDims}, nil)
	require.NotNil(t, e)
	ctx := context.Background()

	summary := e.IndexComms(ctx, []legacy.Comm{
		{ID: 1, PatientID: int64Ptr(100), Subject: "call", Body: "aligner discomfort"},
		{ID: 2, Body: "   "},
	})
	assert.Equal(t, 1, summary.Indexed)
	assert.Empty(t, summary.Warnings)

	query, err := p.Embed(ctx, "call\naligner discomfort")
	require.NoError(t, err)
	hits, err := kb.Search(ctx, query, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "patient:100", hits[0].Document.PatientKey)
}

type failingProvider struct{ dims int }

func (p *failingProvider) Dimensions() int { return p.dims }
func (p *failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.NewStd("embedding service down")
}

func TestEnrichmentFailuresAreWarningsOnly(t *testing.T) {
	kb := openTestKB(t)
	e := NewEnricher(&failingProvider{dims: testDims}, kb, &conf.EnrichmentSettings{Dimensions: testDims}, nil)

	summary := e.IndexComms(context.Background(), []legacy.Comm{
		{ID: 1, Body: "something"},
	})
	assert.Zero(t, summary.Indexed)
	require.Len(t, summary.Warnings, 1)
	assert.Equal(t, int64(1), summary.Warnings[0].SourceID)
	assert.Contains(t, summary.Warnings[0].Reason, "embedding service down")
}

func TestDisabledEnricherIsNil(t *testing.T) {
	assert.Nil(t, NewEnricher(nil, nil, &conf.EnrichmentSettings{}, nil))
}
