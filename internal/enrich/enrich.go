package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/entity"
	"github.com/clinsync/clinsync-go/internal/legacy"
	"github.com/clinsync/clinsync-go/internal/logging"
)

// Warning records one document that could not be enriched. Warnings are
// reported but never fail the run.
type Warning struct {
	SourceTable string
	SourceID    int64
	Reason      string
}

// Summary is the outcome of the enrichment phase.
type Summary struct {
	Indexed  int
	Warnings []Warning
}

// Enricher feeds migrated free text into the knowledge base.
type Enricher struct {
	provider EmbeddingProvider
	kb       *KnowledgeBase
	settings *conf.EnrichmentSettings
	logger   *slog.Logger
}

// NewEnricher wires the provider and knowledge base together. Returns nil
// when the provider is disabled; callers skip the phase entirely.
func NewEnricher(provider EmbeddingProvider, kb *KnowledgeBase, settings *conf.EnrichmentSettings, logger *slog.Logger) *Enricher {
	if provider == nil || kb == nil {
		return nil
	}
	if logger == nil {
		logger = logging.ForService("enrich")
	}
	return &Enricher{provider: provider, kb: kb, settings: settings, logger: logger}
}

// IndexComms embeds and indexes communication records. A comm row with an
// empty body is skipped silently; embedding or indexing failures become
// warnings, optionally retried once in-run.
func (e *Enricher) IndexComms(ctx context.Context, comms []legacy.Comm) Summary {
	var summary Summary
	for _, comm := range comms {
		if strings.TrimSpace(comm.Body) == "" {
			continue
		}
		doc := Document{
			SourceTable: string(legacy.TableComm),
			SourceID:    comm.ID,
			Subject:     comm.Subject,
			Content:     comm.Body,
		}
		if comm.PatientID != nil {
			doc.PatientKey = entity.NaturalKeyFor(entity.TypePatient, *comm.PatientID)
		}
		e.index(ctx, doc, comm.Subject+"\n"+comm.Body, &summary)
	}
	return summary
}

// IndexTemplates embeds and indexes template content.
func (e *Enricher) IndexTemplates(ctx context.Context, templates []legacy.Template) Summary {
	var summary Summary
	for _, template := range templates {
		if strings.TrimSpace(template.Content) == "" {
			continue
		}
		doc := Document{
			SourceTable: string(legacy.TableTemplate),
			SourceID:    template.ID,
			Subject:     template.Name,
			Content:     template.Content,
		}
		e.index(ctx, doc, template.Name+"\n"+template.Content, &summary)
	}
	return summary
}

func (e *Enricher) index(ctx context.Context, doc Document, text string, summary *Summary) {
	err := e.tryIndex(ctx, doc, text)
	if err != nil && e.settings.RetryFailures {
		err = e.tryIndex(ctx, doc, text)
	}
	if err != nil {
		summary.Warnings = append(summary.Warnings, Warning{
			SourceTable: doc.SourceTable,
			SourceID:    doc.SourceID,
			Reason:      err.Error(),
		})
		e.logger.Warn("enrichment failed for document",
			"source", fmt.Sprintf("%s:%d", doc.SourceTable, doc.SourceID), "error", err)
		return
	}
	summary.Indexed++
}

func (e *Enricher) tryIndex(ctx context.Context, doc Document, text string) error {
	embedding, err := e.provider.Embed(ctx, text)
	if err != nil {
		return err
	}
	return e.kb.AddDocument(ctx, doc, embedding)
}
