package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/RoseVZ/Instalily-casestudy/internal/model"
	"github.com/RoseVZ/Instalily-casestudy/internal/store"
)

func TestHandleTurnSearchFlow(t *testing.T) {
	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			return keywordCandidates(testPart("PS100", "Ice Maker", "Whirlpool", true)), nil
		},
	}
	client := &fakeLLM{replies: []string{
		classifierReply(model.IntentSearchPart, 0.95, map[string]string{"search_query": "ice maker", "appliance_type": "refrigerator"}),
		"The PS100 ice maker is in stock for $54.95.",
	}}
	sink := &fakeSink{}
	st := store.NewMemoryStore(time.Hour, 20)
	p := New(st, cat, &fakeDocs{}, client, sink, testLogger(), Config{})

	res, err := p.HandleTurn(context.Background(), "t1", "u1", "I need an ice maker for my fridge")

	require.NoError(t, err)
	assert.Equal(t, model.IntentSearchPart, res.Intent)
	assert.Contains(t, res.Reply, "PS100")
	require.Len(t, res.Recommendations, 1)
	assert.False(t, res.Diagnostics.FallbackReply)
	assert.False(t, res.Diagnostics.NoResults)

	// State was written with both turns and the extracted entities.
	state, err := st.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "refrigerator", state.Entities.ApplianceType)
	require.Len(t, state.History, 2)
	assert.Equal(t, model.RoleUser, state.History[0].Role)
	assert.Equal(t, model.RoleAssistant, state.History[1].Role)
	assert.Equal(t, model.IntentSearchPart, state.LastIntent)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "t1", sink.events[0].ThreadID)
	assert.False(t, sink.events[0].Degraded)
}

func TestHandleTurnEverythingFailingStillReplies(t *testing.T) {
	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			return nil, errors.New("db down")
		},
	}
	docs := &fakeDocs{
		query: func(ctx context.Context, text, docType string, limit int) ([]model.ContextDoc, error) {
			return nil, errors.New("index down")
		},
	}
	client := &fakeLLM{err: errors.New("provider down")}
	st := store.NewMemoryStore(time.Hour, 20)
	p := New(st, cat, docs, client, &fakeSink{err: errors.New("broker down")}, testLogger(), Config{})

	res, err := p.HandleTurn(context.Background(), "t1", "", "my dishwasher is leaking")

	require.NoError(t, err)
	assert.NotEmpty(t, res.Reply)
	assert.True(t, res.Diagnostics.ClassifierFallback)
	assert.True(t, res.Diagnostics.FallbackReply)

	// State is still persisted on a fully degraded turn.
	state, err := st.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, state.History, 2)
}

func TestHandleTurnGeneralQuestionSkipsSearch(t *testing.T) {
	searched := false
	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			searched = true
			return nil, nil
		},
	}
	client := &fakeLLM{replies: []string{
		classifierReply(model.IntentGeneralQuestion, 0.9, nil),
		"Happy to help with refrigerator and dishwasher parts.",
	}}
	st := store.NewMemoryStore(time.Hour, 20)
	p := New(st, cat, &fakeDocs{}, client, nil, testLogger(), Config{})

	res, err := p.HandleTurn(context.Background(), "t1", "", "what do you do?")

	require.NoError(t, err)
	assert.False(t, searched)
	assert.Empty(t, res.Recommendations)
	assert.False(t, res.Diagnostics.NoResults)
}

func TestHandleTurnProductDetailsSeedsDirectCandidate(t *testing.T) {
	part := testPart("PS11752778", "Dishrack Adjuster Kit", "Whirlpool", true)
	cat := &fakeCatalog{
		getPart: func(ctx context.Context, partNumber string) (*model.Part, error) {
			assert.Equal(t, "PS11752778", partNumber)
			return &part, nil
		},
	}
	client := &fakeLLM{replies: []string{
		classifierReply(model.IntentProductDetails, 0.95, map[string]string{"part_number": "PS11752778"}),
		"The dishrack adjuster kit costs $54.95.",
	}}
	st := store.NewMemoryStore(time.Hour, 20)
	p := New(st, cat, &fakeDocs{}, client, nil, testLogger(), Config{})

	res, err := p.HandleTurn(context.Background(), "t1", "", "tell me about PS11752778")

	require.NoError(t, err)
	assert.Equal(t, model.IntentProductDetails, res.Intent)
	require.Len(t, res.Recommendations, 1)
	assert.True(t, res.Recommendations[0].FromStrategy(model.StrategyDirect))
}

func TestHandleTurnNoResultsFlag(t *testing.T) {
	client := &fakeLLM{replies: []string{
		classifierReply(model.IntentSearchPart, 0.9, map[string]string{"search_query": "flux capacitor"}),
		"I could not find that part.",
	}}
	st := store.NewMemoryStore(time.Hour, 20)
	p := New(st, &fakeCatalog{}, &fakeDocs{}, client, nil, testLogger(), Config{})

	res, err := p.HandleTurn(context.Background(), "t1", "", "I need a flux capacitor")

	require.NoError(t, err)
	assert.True(t, res.Diagnostics.NoResults)
	assert.Empty(t, res.Recommendations)
}

func TestHandleTurnEmitsStageSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			return keywordCandidates(testPart("PS100", "Ice Maker", "Whirlpool", true)), nil
		},
	}
	client := &fakeLLM{replies: []string{
		classifierReply(model.IntentSearchPart, 0.95, map[string]string{"search_query": "ice maker"}),
		"The PS100 ice maker is in stock.",
	}}
	st := store.NewMemoryStore(time.Hour, 20)
	p := New(st, cat, &fakeDocs{}, client, nil, testLogger(), Config{})

	_, err := p.HandleTurn(context.Background(), "t1", "", "I need an ice maker")
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{
		"pipeline.turn",
		"pipeline.classifying",
		"pipeline.routing",
		"pipeline.searching",
		"pipeline.gathering_context",
		"pipeline.ranking",
		"pipeline.generating",
		"pipeline.done",
	} {
		assert.True(t, names[want], "missing span %s", want)
	}
}

func TestHandleTurnRecommendationCarriesIntoNextTurn(t *testing.T) {
	part := testPart("PS11752778", "Ice Maker Assembly", "Whirlpool", true)
	compatCalls := 0
	cat := &fakeCatalog{
		searchByKeyword: func(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
			return keywordCandidates(part), nil
		},
		getPart: func(ctx context.Context, partNumber string) (*model.Part, error) {
			return &part, nil
		},
		checkCompatibility: func(ctx context.Context, partNumber, modelNumber string) (*model.CompatibilityResult, error) {
			compatCalls++
			assert.Equal(t, "PS11752778", partNumber)
			assert.Equal(t, "WDT780SAEM1", modelNumber)
			return &model.CompatibilityResult{Compatible: true, Confidence: 0.98}, nil
		},
	}
	st := store.NewMemoryStore(time.Hour, 20)

	// Turn one: the user never names a part; keyword search surfaces it.
	client1 := &fakeLLM{replies: []string{
		classifierReply(model.IntentSearchPart, 0.93, map[string]string{"search_query": "ice maker", "brand": "Whirlpool", "appliance_type": "refrigerator"}),
		"The PS11752778 ice maker assembly fits most Whirlpool refrigerators.",
	}}
	p1 := New(st, cat, &fakeDocs{}, client1, nil, testLogger(), Config{})
	res1, err := p1.HandleTurn(context.Background(), "t1", "", "I need an ice maker for my Whirlpool fridge")
	require.NoError(t, err)
	assert.Equal(t, model.IntentSearchPart, res1.Intent)
	require.Len(t, res1.Recommendations, 1)

	// The surfaced part number lands in conversation state.
	state, err := st.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "PS11752778", state.Entities.PartNumber)

	// Turn two: the follow-up names only the model, so the check has to
	// run against the part recommended last turn.
	client2 := &fakeLLM{replies: []string{
		classifierReply(model.IntentCompatibilityCheck, 0.9, map[string]string{"model_number": "WDT780SAEM1"}),
		"Yes, PS11752778 is compatible with WDT780SAEM1.",
	}}
	p2 := New(st, cat, &fakeDocs{}, client2, nil, testLogger(), Config{})
	res2, err := p2.HandleTurn(context.Background(), "t1", "", "does it fit model WDT780SAEM1")
	require.NoError(t, err)

	assert.Equal(t, model.IntentCompatibilityCheck, res2.Intent)
	assert.Equal(t, 1, compatCalls)
	require.Len(t, res2.Recommendations, 1)
	require.NotNil(t, res2.Recommendations[0].Compatibility)
	assert.Equal(t, model.CompatConfirmed, res2.Recommendations[0].Compatibility.Verdict)
}

func TestHandleTurnCompatibilityAcrossTurns(t *testing.T) {
	part := testPart("PS11752778", "Dishrack Adjuster Kit", "Whirlpool", true)
	cat := &fakeCatalog{
		getPart: func(ctx context.Context, partNumber string) (*model.Part, error) {
			return &part, nil
		},
		checkCompatibility: func(ctx context.Context, partNumber, modelNumber string) (*model.CompatibilityResult, error) {
			assert.Equal(t, "PS11752778", partNumber)
			assert.Equal(t, "WDT780SAEM1", modelNumber)
			return &model.CompatibilityResult{Compatible: true, Confidence: 0.99}, nil
		},
	}
	st := store.NewMemoryStore(time.Hour, 20)

	// Turn one: part only. The intent downgrades and the thread waits for
	// the model number.
	client1 := &fakeLLM{replies: []string{
		classifierReply(model.IntentCompatibilityCheck, 0.9, map[string]string{"part_number": "PS11752778"}),
		"Which model do you have? Please share the model number.",
	}}
	p1 := New(st, cat, &fakeDocs{}, client1, nil, testLogger(), Config{})
	res1, err := p1.HandleTurn(context.Background(), "t1", "", "will PS11752778 fit my dishwasher?")
	require.NoError(t, err)
	assert.Equal(t, model.IntentProductDetails, res1.Intent)

	state, err := st.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.WaitingModelNumber, state.WaitingFor)
	assert.Equal(t, "PS11752778", state.Entities.PartNumber)

	// Turn two: a bare model number resumes the check.
	client2 := &fakeLLM{replies: []string{
		classifierReply(model.IntentGeneralQuestion, 0.4, nil),
		"Good news: PS11752778 is confirmed compatible with WDT780SAEM1.",
	}}
	p2 := New(st, cat, &fakeDocs{}, client2, nil, testLogger(), Config{})
	res2, err := p2.HandleTurn(context.Background(), "t1", "", "WDT780SAEM1")
	require.NoError(t, err)

	assert.Equal(t, model.IntentCompatibilityCheck, res2.Intent)
	require.Len(t, res2.Recommendations, 1)
	require.NotNil(t, res2.Recommendations[0].Compatibility)
	assert.Equal(t, model.CompatConfirmed, res2.Recommendations[0].Compatibility.Verdict)

	state, err = st.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, state.WaitingFor)
	assert.Equal(t, "WDT780SAEM1", state.Entities.ModelNumber)
	// The part number from turn one survives the second merge.
	assert.Equal(t, "PS11752778", state.Entities.PartNumber)
}

func TestHandleTurnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := store.NewMemoryStore(time.Hour, 20)
	p := New(st, &fakeCatalog{}, &fakeDocs{}, nil, nil, testLogger(), Config{})

	_, err := p.HandleTurn(ctx, "t1", "", "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleTurnConcurrentSameThread(t *testing.T) {
	cat := &fakeCatalog{}
	st := store.NewMemoryStore(time.Hour, 100)
	p := New(st, cat, &fakeDocs{}, nil, nil, testLogger(), Config{})

	const turns = 16
	done := make(chan struct{})
	for i := 0; i < turns; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, err := p.HandleTurn(context.Background(), "t1", "", "tell me about PS11752778")
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < turns; i++ {
		<-done
	}

	state, err := st.Get(context.Background(), "t1")
	require.NoError(t, err)
	// Every turn appended exactly one user and one assistant message.
	assert.Len(t, state.History, turns*2)
	assert.Equal(t, "PS11752778", state.Entities.PartNumber)
}
