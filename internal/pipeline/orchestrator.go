package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/RoseVZ/Instalily-casestudy/internal/llm"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
	"github.com/RoseVZ/Instalily-casestudy/internal/store"
	"github.com/RoseVZ/Instalily-casestudy/pkg/logger"
	"github.com/RoseVZ/Instalily-casestudy/pkg/metrics"
)

const maxRecommendations = 5

const tracerName = "github.com/RoseVZ/Instalily-casestudy/internal/pipeline"

func startStage(ctx context.Context, stage Stage) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline."+string(stage))
}

// Pipeline executes one conversational turn end to end. Stage failures
// degrade the turn; the only error HandleTurn returns is caller cancellation.
type Pipeline struct {
	store      store.Store
	catalog    Catalog
	classifier *Classifier
	router     *Router
	aggregator *Aggregator
	ranker     *Ranker
	responder  *Responder
	events     EventSink
	log        *logger.Logger
	cfg        Config
}

// New wires the turn pipeline. client and docs may be nil; events may be nil.
func New(st store.Store, cat Catalog, docs DocIndex, client llm.Client, events EventSink, log *logger.Logger, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		store:      st,
		catalog:    cat,
		classifier: NewClassifier(client, log),
		router:     NewRouter(cat, docs, log, cfg.SearchTimeout),
		aggregator: NewAggregator(cat, docs, log, cfg.GatherTimeout),
		ranker:     NewRanker(client, log, cfg.RerankEnabled, cfg.RerankTopK, cfg.RankTimeout),
		responder:  NewResponder(client, log, cfg.GenerateTimeout),
		events:     events,
		log:        log,
		cfg:        cfg,
	}
}

// HandleTurn runs one user message through the pipeline and persists the
// updated conversation state. It always produces a reply unless the caller's
// context is cancelled.
func (p *Pipeline) HandleTurn(ctx context.Context, threadID, userID, userText string) (*model.TurnResult, error) {
	start := time.Now()
	correlationID := uuid.Must(uuid.NewV7()).String()
	log := p.log.WithTurn(correlationID, threadID)

	ctx, turnSpan := otel.Tracer(tracerName).Start(ctx, "pipeline.turn",
		trace.WithAttributes(attribute.String("thread.id", threadID)))
	defer turnSpan.End()

	var diag model.TurnDiagnostics

	prior, err := p.store.Get(ctx, threadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("state read failed, proceeding with empty state", zap.Error(err))
		metrics.RecordDegradation("state_read")
		diag.DegradedState = true
		prior = nil
	}

	cls := p.classify(ctx, userText, prior)
	diag.Confidence = cls.Classification.Confidence
	diag.ClassifierFallback = cls.UsedFallback
	diag.Entities = cls.Merged
	if cls.UsedFallback {
		metrics.RecordDegradation("classifier")
	}

	intent := cls.Classification.Intent
	turnSpan.SetAttributes(attribute.String("turn.intent", string(intent)))

	_, routeSpan := startStage(ctx, StageRouting)
	stages := stagesFor(intent)
	routeSpan.SetAttributes(attribute.Int("turn.stages", len(stages)))
	routeSpan.End()

	log.Info("turn classified",
		zap.String("intent", string(intent)),
		zap.Float64("confidence", cls.Classification.Confidence))

	var candidates []model.Candidate
	if hasStage(stages, StageSearching) {
		stageStart := time.Now()
		sctx, span := startStage(ctx, StageSearching)
		outcome := p.router.Search(sctx, intent, cls.Merged, userText)
		span.SetAttributes(attribute.Int("search.candidates", len(outcome.Candidates)))
		span.End()
		metrics.RecordStage(string(StageSearching), time.Since(stageStart).Seconds())

		candidates = outcome.Candidates
		diag.FailedStrategies = outcome.Failed
		diag.NoResults = len(outcome.Invoked) > 0 && len(candidates) == 0
		if diag.NoResults {
			metrics.RecordDegradation("no_results")
		}
	} else if intent == model.IntentProductDetails || intent == model.IntentInstallationHelp {
		candidates = p.seedCandidates(ctx, cls.Merged)
	}

	var docs []model.ContextDoc
	if hasStage(stages, StageGatheringContext) {
		stageStart := time.Now()
		gctx, span := startStage(ctx, StageGatheringContext)
		var omitted bool
		docs, omitted = p.aggregator.Gather(gctx, intent, cls.Merged, candidates, userText)
		span.SetAttributes(attribute.Int("context.docs", len(docs)))
		span.End()
		metrics.RecordStage(string(StageGatheringContext), time.Since(stageStart).Seconds())

		diag.ContextOmitted = omitted
		if omitted {
			metrics.RecordDegradation("context")
		}
	}

	if hasStage(stages, StageRanking) && len(candidates) > 0 {
		stageStart := time.Now()
		rctx, span := startStage(ctx, StageRanking)
		candidates, diag.Reranked = p.ranker.Rank(rctx, candidates, cls.Merged, userText)
		span.SetAttributes(attribute.Bool("rank.reranked", diag.Reranked))
		span.End()
		metrics.RecordStage(string(StageRanking), time.Since(stageStart).Seconds())
	}

	stageStart := time.Now()
	genCtx, genSpan := startStage(ctx, StageGenerating)
	history := prior.RecentHistory(p.cfg.HistoryLimit)
	ranked := model.RankedResult{Candidates: candidates, Context: docs}
	gen := p.responder.Generate(genCtx, intent, cls.Merged, history, ranked, userText)
	genSpan.SetAttributes(attribute.Bool("generate.fallback", gen.Fallback))
	genSpan.End()
	metrics.RecordStage(string(StageGenerating), time.Since(stageStart).Seconds())

	diag.FallbackReply = gen.Fallback
	if gen.Fallback {
		metrics.RecordDegradation("fallback_reply")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	waitingFor := cls.WaitingFor
	if waitingFor == nil && gen.WaitingFor != "" {
		waitingFor = &gen.WaitingFor
	}

	ctx, doneSpan := startStage(ctx, StageDone)
	defer doneSpan.End()

	mergeEntities := cls.Classification.Entities
	if mergeEntities.PartNumber == "" && len(candidates) > 0 &&
		(intent == model.IntentSearchPart || intent == model.IntentDiagnoseIssue) {
		// Persist the top recommendation so a follow-up turn can resolve
		// a bare model number against it.
		mergeEntities.PartNumber = candidates[0].ID()
	}

	now := time.Now().UTC()
	turns := []model.Turn{
		{Role: model.RoleUser, Content: userText, CreatedAt: now},
		{Role: model.RoleAssistant, Content: gen.Reply, CreatedAt: now},
	}
	if _, err := p.store.Merge(ctx, threadID, store.MergeRequest{
		UserID:     userID,
		Entities:   mergeEntities,
		Turns:      turns,
		Intent:     intent,
		WaitingFor: waitingFor,
	}); err != nil {
		log.Warn("state write failed", zap.Error(err))
		metrics.RecordDegradation("state_write")
		diag.DegradedState = true
	}

	diag.LatencyMs = time.Since(start).Milliseconds()
	metrics.RecordTurn(string(intent), time.Since(start).Seconds())

	p.publishEvent(ctx, TurnEvent{
		ThreadID:      threadID,
		Intent:        intent,
		Degraded:      degraded(diag),
		FallbackReply: gen.Fallback,
		LatencyMs:     diag.LatencyMs,
		CreatedAt:     now,
	})

	recommendations := candidates
	if len(recommendations) > maxRecommendations {
		recommendations = recommendations[:maxRecommendations]
	}
	return &model.TurnResult{
		ThreadID:        threadID,
		Reply:           gen.Reply,
		Intent:          intent,
		Recommendations: recommendations,
		Diagnostics:     diag,
	}, nil
}

func (p *Pipeline) classify(ctx context.Context, userText string, prior *model.ConversationState) ClassifyResult {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
	defer cancel()

	stageStart := time.Now()
	cctx, span := startStage(cctx, StageClassifying)
	res := p.classifier.Classify(cctx, userText, prior)
	span.SetAttributes(
		attribute.String("classify.intent", string(res.Classification.Intent)),
		attribute.Bool("classify.fallback", res.UsedFallback))
	span.End()
	metrics.RecordStage(string(StageClassifying), time.Since(stageStart).Seconds())
	return res
}

// seedCandidates resolves the known part number into a single direct-lookup
// candidate for intents that skip the search stage.
func (p *Pipeline) seedCandidates(ctx context.Context, entities model.Entities) []model.Candidate {
	if entities.PartNumber == "" || p.catalog == nil {
		return nil
	}
	part, err := p.catalog.GetPart(ctx, entities.PartNumber)
	if err != nil || part == nil {
		return nil
	}
	return []model.Candidate{{
		Part:       *part,
		RawScore:   1.0,
		Strategies: []model.Strategy{model.StrategyDirect},
	}}
}

func (p *Pipeline) publishEvent(ctx context.Context, ev TurnEvent) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishTurn(ctx, ev); err != nil {
		p.log.Warn("turn event publish failed", zap.Error(err))
	}
}

func degraded(d model.TurnDiagnostics) bool {
	return d.DegradedState || d.ClassifierFallback || d.FallbackReply ||
		d.NoResults || d.ContextOmitted || len(d.FailedStrategies) > 0
}
