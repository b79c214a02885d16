// Package pipeline implements the intent-conditioned turn pipeline: intent
// classification, conditional stage routing, concurrent multi-source search,
// context aggregation, ranking, and response generation. Every stage absorbs
// its own failures; a turn always completes with a reply.
package pipeline

import (
	"context"
	"time"

	"github.com/RoseVZ/Instalily-casestudy/internal/catalog"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
)

// Catalog is the structured-catalog capability consumed by the pipeline.
// *catalog.Catalog satisfies it; tests substitute fakes.
type Catalog interface {
	SearchByKeyword(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error)
	GetPart(ctx context.Context, partNumber string) (*model.Part, error)
	PartsByNumbers(ctx context.Context, partNumbers []string, limit int) ([]model.Part, error)
	CheckCompatibility(ctx context.Context, partNumber, modelNumber string) (*model.CompatibilityResult, error)
	GetInstallationGuide(ctx context.Context, partNumber string) (*model.InstallationGuide, error)
	SearchTroubleshooting(ctx context.Context, symptom, applianceType string, limit int) ([]catalog.TroubleshootingEntry, error)
}

// DocIndex is the semantic document index capability.
type DocIndex interface {
	Query(ctx context.Context, text, docType string, limit int) ([]model.ContextDoc, error)
}

// TurnEvent is the analytics record emitted after each completed turn.
type TurnEvent struct {
	ThreadID      string       `json:"thread_id"`
	Intent        model.Intent `json:"intent"`
	Degraded      bool         `json:"degraded"`
	FallbackReply bool         `json:"fallback_reply"`
	LatencyMs     int64        `json:"latency_ms"`
	CreatedAt     time.Time    `json:"created_at"`
}

// EventSink receives turn events. Publishing is best effort; the pipeline
// logs and continues when it fails.
type EventSink interface {
	PublishTurn(ctx context.Context, ev TurnEvent) error
}

// Config holds pipeline tuning knobs.
type Config struct {
	ClassifyTimeout time.Duration
	SearchTimeout   time.Duration
	GatherTimeout   time.Duration
	RankTimeout     time.Duration
	GenerateTimeout time.Duration

	RerankEnabled bool
	RerankTopK    int
	HistoryLimit  int
}

func (c Config) withDefaults() Config {
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = 10 * time.Second
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 5 * time.Second
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = 5 * time.Second
	}
	if c.RankTimeout <= 0 {
		c.RankTimeout = 10 * time.Second
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 30 * time.Second
	}
	if c.RerankTopK <= 0 {
		c.RerankTopK = 5
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	return c
}

// Stage names a step of the per-turn state machine.
type Stage string

const (
	StageClassifying      Stage = "classifying"
	StageRouting          Stage = "routing"
	StageSearching        Stage = "searching"
	StageGatheringContext Stage = "gathering_context"
	StageRanking          Stage = "ranking"
	StageGenerating       Stage = "generating"
	StageDone             Stage = "done"
)

// stagesFor is the routing branch: each intent names the exact stage subset
// it runs between classification and generation.
func stagesFor(intent model.Intent) []Stage {
	switch intent {
	case model.IntentSearchPart, model.IntentDiagnoseIssue, model.IntentCompatibilityCheck:
		return []Stage{StageSearching, StageGatheringContext, StageRanking, StageGenerating}
	case model.IntentInstallationHelp, model.IntentProductDetails:
		return []Stage{StageGatheringContext, StageRanking, StageGenerating}
	default: // general_question
		return []Stage{StageGenerating}
	}
}

func hasStage(stages []Stage, s Stage) bool {
	for _, got := range stages {
		if got == s {
			return true
		}
	}
	return false
}
