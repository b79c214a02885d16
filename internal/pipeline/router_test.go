package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoseVZ/Instalily-casestudy/internal/model"
)

func TestSearchGeneralQuestionInvokesNothing(t *testing.T) {
	called := false
	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			called = true
			return nil, nil
		},
	}
	r := NewRouter(cat, &fakeDocs{}, testLogger(), time.Second)

	outcome := r.Search(context.Background(), model.IntentGeneralQuestion, model.Entities{}, "how do dishwashers work?")

	assert.False(t, called)
	assert.Empty(t, outcome.Invoked)
	assert.Empty(t, outcome.Candidates)
}

func TestSearchKeywordUsesSearchQueryAndBrandFilter(t *testing.T) {
	var gotKeyword, gotCategory string
	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			gotKeyword, gotCategory = keyword, category
			return keywordCandidates(
				testPart("PS100", "Whirlpool Ice Maker", "Whirlpool", true),
				testPart("PS200", "Samsung Ice Maker", "Samsung", true),
			), nil
		},
	}
	r := NewRouter(cat, &fakeDocs{}, testLogger(), time.Second)

	entities := model.Entities{SearchQuery: "ice maker", Brand: "Whirlpool", ApplianceType: "refrigerator"}
	outcome := r.Search(context.Background(), model.IntentSearchPart, entities, "show me whirlpool ice makers")

	assert.Equal(t, "ice maker", gotKeyword)
	assert.Equal(t, "refrigerator", gotCategory)
	require.Len(t, outcome.Candidates, 1)
	assert.Equal(t, "PS100", outcome.Candidates[0].ID())
	assert.Empty(t, outcome.Failed)
}

func TestSearchDiagnoseRunsBothStrategies(t *testing.T) {
	var keywordTerms []string
	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			keywordTerms = append(keywordTerms, keyword)
			return keywordCandidates(testPart("PS100", "Ice Maker Assembly", "Whirlpool", true)), nil
		},
		partsByNumbers: func(ctx context.Context, partNumbers []string, limit int) ([]model.Part, error) {
			// Runs on a strategy goroutine, so assert rather than require.
			assert.Equal(t, []string{"PS300"}, partNumbers)
			return []model.Part{testPart("PS300", "Water Inlet Valve", "Whirlpool", true)}, nil
		},
	}
	docs := &fakeDocs{
		query: func(ctx context.Context, text, docType string, limit int) ([]model.ContextDoc, error) {
			assert.Equal(t, "troubleshooting", docType)
			return []model.ContextDoc{
				{ID: "d1", PartNumber: "PS300", Similarity: 0.82},
				{ID: "d2", PartNumber: "PS300", Similarity: 0.61},
			}, nil
		},
	}
	r := NewRouter(cat, docs, testLogger(), time.Second)

	entities := model.Entities{Symptom: "ice maker not working", ApplianceType: "refrigerator"}
	outcome := r.Search(context.Background(), model.IntentDiagnoseIssue, entities, "my ice maker stopped working")

	// Symptom text expands into part search terms for the keyword leg.
	assert.Contains(t, keywordTerms, "ice maker")
	require.Len(t, outcome.Candidates, 2)

	byID := map[string]model.Candidate{}
	for _, c := range outcome.Candidates {
		byID[c.ID()] = c
	}
	assert.True(t, byID["PS100"].FromStrategy(model.StrategyKeyword))
	assert.True(t, byID["PS300"].FromStrategy(model.StrategySymptom))
	assert.InDelta(t, 0.82, byID["PS300"].RawScore, 0.001)
}

func TestSearchPartialFailureDegrades(t *testing.T) {
	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			return keywordCandidates(testPart("PS100", "Drain Pump", "Whirlpool", true)), nil
		},
	}
	docs := &fakeDocs{
		query: func(ctx context.Context, text, docType string, limit int) ([]model.ContextDoc, error) {
			return nil, errors.New("index unavailable")
		},
	}
	r := NewRouter(cat, docs, testLogger(), time.Second)

	entities := model.Entities{Symptom: "not draining", ApplianceType: "dishwasher"}
	outcome := r.Search(context.Background(), model.IntentDiagnoseIssue, entities, "dishwasher not draining")

	require.Len(t, outcome.Candidates, 1)
	assert.Equal(t, "PS100", outcome.Candidates[0].ID())
	assert.Equal(t, []model.Strategy{model.StrategySymptom}, outcome.Failed)
}

func TestSearchTotalFailureYieldsEmptyNotError(t *testing.T) {
	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			return nil, errors.New("db down")
		},
	}
	r := NewRouter(cat, &fakeDocs{}, testLogger(), time.Second)

	outcome := r.Search(context.Background(), model.IntentSearchPart, model.Entities{SearchQuery: "water filter"}, "water filter")

	assert.Empty(t, outcome.Candidates)
	assert.Equal(t, []model.Strategy{model.StrategyKeyword}, outcome.Failed)
}

func TestSearchStrategyTimeoutIsAFailure(t *testing.T) {
	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return nil, nil
			}
		},
	}
	r := NewRouter(cat, &fakeDocs{}, testLogger(), 20*time.Millisecond)

	start := time.Now()
	outcome := r.Search(context.Background(), model.IntentSearchPart, model.Entities{SearchQuery: "ice maker"}, "ice maker")

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []model.Strategy{model.StrategyKeyword}, outcome.Failed)
}

func TestCompatibilityConfirmedFromRelation(t *testing.T) {
	part := testPart("PS11752778", "Dishrack Adjuster", "Whirlpool", true)
	cat := &fakeCatalog{
		getPart: func(ctx context.Context, partNumber string) (*model.Part, error) {
			return &part, nil
		},
		checkCompatibility: func(ctx context.Context, partNumber, modelNumber string) (*model.CompatibilityResult, error) {
			return &model.CompatibilityResult{Compatible: true, Confidence: 0.99}, nil
		},
	}
	r := NewRouter(cat, &fakeDocs{}, testLogger(), time.Second)

	entities := model.Entities{PartNumber: "PS11752778", ModelNumber: "WDT780SAEM1"}
	outcome := r.Search(context.Background(), model.IntentCompatibilityCheck, entities, "will it fit?")

	require.Len(t, outcome.Candidates, 1)
	c := outcome.Candidates[0]
	require.NotNil(t, c.Compatibility)
	assert.Equal(t, model.CompatConfirmed, c.Compatibility.Verdict)
	assert.Equal(t, "WDT780SAEM1", c.Compatibility.ModelNumber)
}

func TestCompatibilityHeuristics(t *testing.T) {
	t.Run("replace parts list gives likely", func(t *testing.T) {
		part := testPart("W10190965", "Bimetal Defrost Thermostat", "Whirlpool", true)
		part.Specs.ReplaceParts = []string{"wdt780saem1"}
		verdict := assessHeuristically(&part, "WDT780SAEM1")
		assert.Equal(t, model.CompatLikely, verdict)
	})

	t.Run("brand prefix filter gives likely", func(t *testing.T) {
		part := testPart("EDR1RXD1", "Everydrop Water Filter", "Whirlpool", true)
		verdict := assessHeuristically(&part, "WRS325SDHZ")
		assert.Equal(t, model.CompatLikely, verdict)
	})

	t.Run("wide replace list on a filter gives likely", func(t *testing.T) {
		part := testPart("PS900", "Water Filter Cartridge", "Frigidaire", true)
		part.Specs.ReplaceParts = []string{"A1", "A2", "A3", "A4", "A5", "A6"}
		verdict := assessHeuristically(&part, "FFSS2615TS")
		assert.Equal(t, model.CompatLikely, verdict)
	})

	t.Run("no signal gives unknown", func(t *testing.T) {
		part := testPart("PS901", "Door Gasket", "Whirlpool", true)
		verdict := assessHeuristically(&part, "XYZ123456")
		assert.Equal(t, model.CompatUnknown, verdict)
	})
}

func TestCompatibilityUnknownPartYieldsNoCandidates(t *testing.T) {
	r := NewRouter(&fakeCatalog{}, &fakeDocs{}, testLogger(), time.Second)

	entities := model.Entities{PartNumber: "PS99999999", ModelNumber: "WDT780SAEM1"}
	outcome := r.Search(context.Background(), model.IntentCompatibilityCheck, entities, "will it fit?")

	assert.Empty(t, outcome.Candidates)
	assert.Empty(t, outcome.Failed)
}

func TestCompatibilityRelationErrorFallsBackToHeuristics(t *testing.T) {
	part := testPart("EDR1RXD1", "Everydrop Water Filter", "Whirlpool", true)
	cat := &fakeCatalog{
		getPart: func(ctx context.Context, partNumber string) (*model.Part, error) {
			return &part, nil
		},
		checkCompatibility: func(ctx context.Context, partNumber, modelNumber string) (*model.CompatibilityResult, error) {
			return nil, errors.New("relation unreachable")
		},
	}
	r := NewRouter(cat, &fakeDocs{}, testLogger(), time.Second)

	entities := model.Entities{PartNumber: "EDR1RXD1", ModelNumber: "WRS325SDHZ"}
	outcome := r.Search(context.Background(), model.IntentCompatibilityCheck, entities, "does it fit?")

	require.Len(t, outcome.Candidates, 1)
	assert.Equal(t, model.CompatLikely, outcome.Candidates[0].Compatibility.Verdict)
	assert.Empty(t, outcome.Failed)
}

func TestMergeCandidatesDedup(t *testing.T) {
	p := testPart("PS100", "Ice Maker", "Whirlpool", true)
	a := []model.Candidate{
		{Part: p, RawScore: 0.4, Strategies: []model.Strategy{model.StrategyKeyword}},
		{Part: testPart("PS200", "Valve", "Whirlpool", true), RawScore: 0.3, Strategies: []model.Strategy{model.StrategyKeyword}},
	}
	b := []model.Candidate{
		{Part: p, RawScore: 0.9, Strategies: []model.Strategy{model.StrategySymptom}},
	}

	merged := mergeCandidates(a, b)

	require.Len(t, merged, 2)
	assert.Equal(t, "PS100", merged[0].ID())
	assert.InDelta(t, 0.9, merged[0].RawScore, 0.001)
	assert.ElementsMatch(t, []model.Strategy{model.StrategyKeyword, model.StrategySymptom}, merged[0].Strategies)
	assert.Equal(t, "PS200", merged[1].ID())
}

func TestExpandSymptomTerms(t *testing.T) {
	tests := []struct {
		name      string
		symptom   string
		appliance string
		want      []string
	}{
		{"ice", "ice maker stopped working", "refrigerator", []string{"ice maker", "ice maker assembly"}},
		{"draining", "it is not draining", "dishwasher", []string{"drain pump"}},
		{"leak", "water leaking from the door", "dishwasher", []string{"gasket", "seal", "valve"}},
		{"noise", "making a loud noise", "refrigerator", []string{"motor", "fan"}},
		{"vague refrigerator", "something is wrong", "refrigerator", []string{"ice maker", "water filter", "thermostat"}},
		{"vague no appliance", "something is wrong", "", []string{"something is wrong"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandSymptomTerms(tt.symptom, tt.appliance))
		})
	}
}

func TestSymptomSearchNoDocsNoCatalogCall(t *testing.T) {
	called := false
	cat := &fakeCatalog{
		partsByNumbers: func(ctx context.Context, partNumbers []string, limit int) ([]model.Part, error) {
			called = true
			return nil, nil
		},
	}
	r := NewRouter(cat, &fakeDocs{}, testLogger(), time.Second)

	got, err := r.symptomSearch(context.Background(), model.Entities{Symptom: "leaking"}, "leaking")

	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, called)
}
