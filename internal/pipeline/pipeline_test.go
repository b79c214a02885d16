package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoseVZ/Instalily-casestudy/internal/catalog"
	"github.com/RoseVZ/Instalily-casestudy/internal/llm"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
	"github.com/RoseVZ/Instalily-casestudy/pkg/logger"
)

// Shared fakes for the pipeline tests. Hooks default to empty results; tests
// override only the calls they care about.

type fakeCatalog struct {
	searchByKeyword       func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error)
	getPart               func(ctx context.Context, partNumber string) (*model.Part, error)
	partsByNumbers        func(ctx context.Context, partNumbers []string, limit int) ([]model.Part, error)
	checkCompatibility    func(ctx context.Context, partNumber, modelNumber string) (*model.CompatibilityResult, error)
	getInstallationGuide  func(ctx context.Context, partNumber string) (*model.InstallationGuide, error)
	searchTroubleshooting func(ctx context.Context, symptom, applianceType string, limit int) ([]catalog.TroubleshootingEntry, error)
}

func (f *fakeCatalog) SearchByKeyword(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
	if f.searchByKeyword != nil {
		return f.searchByKeyword(ctx, keyword, category, limit)
	}
	return nil, nil
}

func (f *fakeCatalog) GetPart(ctx context.Context, partNumber string) (*model.Part, error) {
	if f.getPart != nil {
		return f.getPart(ctx, partNumber)
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeCatalog) PartsByNumbers(ctx context.Context, partNumbers []string, limit int) ([]model.Part, error) {
	if f.partsByNumbers != nil {
		return f.partsByNumbers(ctx, partNumbers, limit)
	}
	return nil, nil
}

func (f *fakeCatalog) CheckCompatibility(ctx context.Context, partNumber, modelNumber string) (*model.CompatibilityResult, error) {
	if f.checkCompatibility != nil {
		return f.checkCompatibility(ctx, partNumber, modelNumber)
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeCatalog) GetInstallationGuide(ctx context.Context, partNumber string) (*model.InstallationGuide, error) {
	if f.getInstallationGuide != nil {
		return f.getInstallationGuide(ctx, partNumber)
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeCatalog) SearchTroubleshooting(ctx context.Context, symptom, applianceType string, limit int) ([]catalog.TroubleshootingEntry, error) {
	if f.searchTroubleshooting != nil {
		return f.searchTroubleshooting(ctx, symptom, applianceType, limit)
	}
	return nil, nil
}

type fakeDocs struct {
	query func(ctx context.Context, text, docType string, limit int) ([]model.ContextDoc, error)
}

func (f *fakeDocs) Query(ctx context.Context, text, docType string, limit int) ([]model.ContextDoc, error) {
	if f.query != nil {
		return f.query(ctx, text, docType, limit)
	}
	return nil, nil
}

// fakeLLM replies with scripted content in call order. An empty script
// means every call fails.
type fakeLLM struct {
	replies []string
	err     error
	calls   int
	// requests records every request for prompt assertions.
	requests []*llm.CompletionRequest
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return &llm.CompletionResponse{Content: reply}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

type fakeSink struct {
	events []TurnEvent
	err    error
}

func (f *fakeSink) PublishTurn(ctx context.Context, ev TurnEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func testLogger() *logger.Logger { return logger.NewNop() }

func testPart(partNumber, name, brand string, inStock bool) model.Part {
	return model.Part{
		PartNumber: partNumber,
		Name:       name,
		Brand:      brand,
		Category:   "refrigerator",
		Price:      54.95,
		InStock:    inStock,
	}
}

func keywordCandidates(parts ...model.Part) []model.Candidate {
	out := make([]model.Candidate, len(parts))
	for i, p := range parts {
		out[i] = model.Candidate{
			Part:       p,
			RawScore:   0.5,
			Strategies: []model.Strategy{model.StrategyKeyword},
		}
	}
	return out
}

func classifierReply(intent model.Intent, confidence float64, entities map[string]string) string {
	body := fmt.Sprintf(`{"intent": %q, "confidence": %v, "entities": {`, intent, confidence)
	first := true
	for k, v := range entities {
		if !first {
			body += ", "
		}
		body += fmt.Sprintf("%q: %q", k, v)
		first = false
	}
	return body + "}}"
}
