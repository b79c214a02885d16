package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RoseVZ/Instalily-casestudy/internal/llm"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
	"github.com/RoseVZ/Instalily-casestudy/pkg/logger"
)

// Ranker orders merged candidates deterministically and optionally asks an
// LLM to re-rank the head of the list. The deterministic order is the
// contract; a failed or invalid re-rank leaves it untouched.
type Ranker struct {
	llm     llm.Client
	log     *logger.Logger
	enabled bool
	topK    int
	timeout time.Duration
}

// NewRanker creates a ranker. client may be nil, which disables re-ranking.
func NewRanker(client llm.Client, log *logger.Logger, enabled bool, topK int, timeout time.Duration) *Ranker {
	if topK <= 0 {
		topK = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ranker{llm: client, log: log, enabled: enabled, topK: topK, timeout: timeout}
}

// Rank sorts candidates by raw score, then exact part-number match against
// the merged entities, then stock status, then part number. Ties never
// depend on input order or map iteration.
func (r *Ranker) Rank(ctx context.Context, candidates []model.Candidate, entities model.Entities, rawQuery string) (ordered []model.Candidate, reranked bool) {
	ordered = make([]model.Candidate, len(candidates))
	copy(ordered, candidates)

	wanted := strings.ToUpper(entities.PartNumber)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.RawScore != b.RawScore {
			return a.RawScore > b.RawScore
		}
		aExact := wanted != "" && strings.ToUpper(a.ID()) == wanted
		bExact := wanted != "" && strings.ToUpper(b.ID()) == wanted
		if aExact != bExact {
			return aExact
		}
		if a.Part.InStock != b.Part.InStock {
			return a.Part.InStock
		}
		return a.ID() < b.ID()
	})

	if !r.enabled || r.llm == nil || len(ordered) < 2 {
		return ordered, false
	}

	head := r.topK
	if head > len(ordered) {
		head = len(ordered)
	}

	permuted, err := r.rerank(ctx, ordered[:head], rawQuery)
	if err != nil {
		r.log.Warn("rerank failed, keeping deterministic order", zap.Error(err))
		return ordered, false
	}
	copy(ordered[:head], permuted)
	return ordered, true
}

const rerankSystemPrompt = `You re-rank appliance part search results by relevance to the customer's request.
Reply with ONLY a JSON array of part numbers, best match first. Include every part number exactly once and add nothing else.`

func (r *Ranker) rerank(ctx context.Context, head []model.Candidate, rawQuery string) ([]model.Candidate, error) {
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "Customer request: %s\n\nResults:\n", rawQuery)
	for _, c := range head {
		fmt.Fprintf(&b, "- %s: %s (%s, $%.2f)\n", c.ID(), c.Part.Name, c.Part.Brand, c.Part.Price)
	}

	resp, err := r.llm.Complete(rctx, &llm.CompletionRequest{
		System:      rerankSystemPrompt,
		Messages:    []llm.ChatMessage{{Role: "user", Content: b.String()}},
		MaxTokens:   200,
		Temperature: 0,
		Use:         llm.UseRerank,
	})
	if err != nil {
		return nil, err
	}

	var order []string
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &order); err != nil {
		return nil, fmt.Errorf("rerank reply is not a JSON array: %w", err)
	}

	// The reply must be an exact permutation of the head. Anything else
	// (missing, duplicated, or invented part numbers) is rejected.
	if len(order) != len(head) {
		return nil, fmt.Errorf("rerank returned %d ids, want %d", len(order), len(head))
	}
	byID := make(map[string]model.Candidate, len(head))
	for _, c := range head {
		byID[c.ID()] = c
	}
	permuted := make([]model.Candidate, 0, len(head))
	for _, id := range order {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("rerank returned unknown or duplicate id %q", id)
		}
		delete(byID, id)
		permuted = append(permuted, c)
	}
	return permuted, nil
}
