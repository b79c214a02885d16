package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RoseVZ/Instalily-casestudy/internal/catalog"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
	"github.com/RoseVZ/Instalily-casestudy/internal/semdex"
	"github.com/RoseVZ/Instalily-casestudy/pkg/logger"
)

const (
	troubleshootingLimit = 3
	semanticDocLimit     = 3
)

// Aggregator collects supplementary context for the generation stage:
// installation guides, troubleshooting entries, and semantically similar
// documents. Context is strictly additive; any source failure is logged and
// the turn proceeds with whatever was gathered.
type Aggregator struct {
	catalog Catalog
	docs    DocIndex
	log     *logger.Logger
	timeout time.Duration
}

// NewAggregator creates a context aggregator.
func NewAggregator(cat Catalog, docs DocIndex, log *logger.Logger, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Aggregator{catalog: cat, docs: docs, log: log, timeout: timeout}
}

// Gather assembles context documents for the intent. The omitted flag
// reports that at least one source failed and context is incomplete.
func (a *Aggregator) Gather(ctx context.Context, intent model.Intent, entities model.Entities, candidates []model.Candidate, rawQuery string) (docs []model.ContextDoc, omitted bool) {
	gctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	switch intent {
	case model.IntentInstallationHelp, model.IntentProductDetails:
		partNumber := entities.PartNumber
		if partNumber == "" && len(candidates) > 0 {
			partNumber = candidates[0].ID()
		}
		if partNumber != "" {
			guide, err := a.catalog.GetInstallationGuide(gctx, partNumber)
			if errors.Is(err, catalog.ErrNotFound) {
				// Parts without a guide are common; not a degradation.
				guide, err = nil, nil
			}
			if err != nil {
				a.log.Warn("installation guide lookup failed",
					zap.String("part_number", partNumber),
					zap.Error(err))
				omitted = true
			} else if guide != nil {
				docs = append(docs, model.ContextDoc{
					ID:         "guide:" + partNumber,
					DocType:    "installation",
					PartNumber: partNumber,
					Content:    guideSummary(guide),
					Guide:      guide,
				})
			}
		}
		if intent == model.IntentInstallationHelp {
			semDocs, err := a.semantic(gctx, rawQuery, "installation")
			if err != nil {
				omitted = true
			}
			docs = append(docs, semDocs...)
		}

	case model.IntentDiagnoseIssue:
		symptom := entities.Symptom
		if symptom == "" {
			symptom = rawQuery
		}
		entries, err := a.catalog.SearchTroubleshooting(gctx, symptom, entities.ApplianceType, troubleshootingLimit)
		if err != nil {
			a.log.Warn("troubleshooting lookup failed", zap.Error(err))
			omitted = true
		}
		for _, e := range entries {
			partNumber := ""
			if len(e.RecommendedParts) > 0 {
				partNumber = e.RecommendedParts[0]
			}
			docs = append(docs, model.ContextDoc{
				ID:         "troubleshooting:" + e.IssueTitle,
				DocType:    "troubleshooting",
				PartNumber: partNumber,
				Content:    troubleshootingSummary(e),
			})
		}
		semDocs, err := a.semantic(gctx, symptom, "troubleshooting")
		if err != nil {
			omitted = true
		}
		docs = append(docs, semDocs...)

	case model.IntentSearchPart, model.IntentCompatibilityCheck:
		if len(candidates) == 0 {
			return nil, omitted
		}
		query := entities.SearchQuery
		if query == "" {
			query = rawQuery
		}
		semDocs, err := a.semantic(gctx, query, "")
		if err != nil {
			omitted = true
		}
		docs = append(docs, semDocs...)
	}

	return dedupeDocs(docs), omitted
}

func (a *Aggregator) semantic(ctx context.Context, query, docType string) ([]model.ContextDoc, error) {
	if a.docs == nil || query == "" {
		return nil, nil
	}
	docs, err := a.docs.Query(ctx, query, docType, semanticDocLimit)
	if errors.Is(err, semdex.ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		a.log.Warn("semantic context lookup failed",
			zap.String("doc_type", docType),
			zap.Error(err))
		return nil, err
	}
	return docs, nil
}

// guideSummary renders an installation guide as prompt text.
func guideSummary(g *model.InstallationGuide) string {
	var b strings.Builder
	b.WriteString("Installation for " + g.PartNumber)
	if g.Difficulty != "" {
		b.WriteString(". Difficulty: " + g.Difficulty)
	}
	if g.EstimatedMinutes > 0 {
		fmt.Fprintf(&b, ". Estimated time: %d minutes", g.EstimatedMinutes)
	}
	if len(g.ToolsRequired) > 0 {
		b.WriteString(". Tools: " + strings.Join(g.ToolsRequired, ", "))
	}
	if g.VideoURL != "" {
		b.WriteString(". Video: " + g.VideoURL)
	}
	return b.String()
}

// troubleshootingSummary renders a knowledge-base entry as prompt text.
func troubleshootingSummary(e catalog.TroubleshootingEntry) string {
	var b strings.Builder
	b.WriteString(e.IssueTitle)
	if len(e.PossibleCauses) > 0 {
		b.WriteString(". Possible causes: " + strings.Join(e.PossibleCauses, "; "))
	}
	if len(e.DiagnosticSteps) > 0 {
		b.WriteString(". Steps: " + strings.Join(e.DiagnosticSteps, "; "))
	}
	if len(e.RecommendedParts) > 0 {
		b.WriteString(". Recommended parts: " + strings.Join(e.RecommendedParts, ", "))
	}
	return b.String()
}

func dedupeDocs(docs []model.ContextDoc) []model.ContextDoc {
	seen := make(map[string]bool, len(docs))
	out := docs[:0]
	for _, d := range docs {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}
