package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RoseVZ/Instalily-casestudy/internal/catalog"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
	"github.com/RoseVZ/Instalily-casestudy/internal/semdex"
	"github.com/RoseVZ/Instalily-casestudy/pkg/logger"
	"github.com/RoseVZ/Instalily-casestudy/pkg/metrics"
)

const (
	keywordLimit    = 20
	symptomLimit    = 10
	maxSymptomTerms = 3
)

// Router dispatches an intent to its retrieval strategies, runs them
// concurrently under a shared timeout, and merges results by part number.
// A strategy failure degrades recall; it never aborts the turn.
type Router struct {
	catalog Catalog
	docs    DocIndex
	log     *logger.Logger
	timeout time.Duration
}

// NewRouter creates a search router.
func NewRouter(cat Catalog, docs DocIndex, log *logger.Logger, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Router{catalog: cat, docs: docs, log: log, timeout: timeout}
}

// SearchOutcome reports the merged candidates plus which strategies ran and
// which of them failed or timed out.
type SearchOutcome struct {
	Candidates []model.Candidate
	Invoked    []model.Strategy
	Failed     []model.Strategy
}

// strategiesFor is the fixed intent to strategy-set mapping. Intents absent
// from the table invoke no retrieval at all.
func strategiesFor(intent model.Intent) []model.Strategy {
	switch intent {
	case model.IntentSearchPart:
		return []model.Strategy{model.StrategyKeyword}
	case model.IntentDiagnoseIssue:
		return []model.Strategy{model.StrategySymptom, model.StrategyKeyword}
	case model.IntentCompatibilityCheck:
		return []model.Strategy{model.StrategyCompatibility}
	default:
		return nil
	}
}

// Search runs the strategy set for an intent and merges the results.
func (r *Router) Search(ctx context.Context, intent model.Intent, entities model.Entities, rawQuery string) SearchOutcome {
	strategies := strategiesFor(intent)
	outcome := SearchOutcome{Invoked: strategies}
	if len(strategies) == 0 {
		return outcome
	}

	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var mu sync.Mutex
	byStrategy := make(map[model.Strategy][]model.Candidate)

	// Strategies share no mutable state; the errgroup is only a join
	// barrier. Failures are recorded, never propagated.
	g, gctx := errgroup.WithContext(sctx)
	for _, s := range strategies {
		s := s
		g.Go(func() error {
			candidates, err := r.run(gctx, s, intent, entities, rawQuery)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.log.Warn("search strategy failed",
					zap.String("strategy", string(s)),
					zap.Error(err))
				metrics.StrategyFailures.WithLabelValues(string(s)).Inc()
				outcome.Failed = append(outcome.Failed, s)
				return nil
			}
			byStrategy[s] = candidates
			return nil
		})
	}
	_ = g.Wait()

	var lists [][]model.Candidate
	for _, s := range strategies {
		if cs, ok := byStrategy[s]; ok {
			lists = append(lists, cs)
		}
	}
	outcome.Candidates = mergeCandidates(lists...)
	sort.Slice(outcome.Failed, func(i, j int) bool { return outcome.Failed[i] < outcome.Failed[j] })
	return outcome
}

func (r *Router) run(ctx context.Context, s model.Strategy, intent model.Intent, entities model.Entities, rawQuery string) ([]model.Candidate, error) {
	switch s {
	case model.StrategyKeyword:
		return r.keywordSearch(ctx, intent, entities, rawQuery)
	case model.StrategySymptom:
		return r.symptomSearch(ctx, entities, rawQuery)
	case model.StrategyCompatibility:
		return r.compatibilityLookup(ctx, entities)
	default:
		return nil, nil
	}
}

// keywordSearch runs full-text catalog search. For diagnosis turns the
// symptom text is expanded into part search terms first.
func (r *Router) keywordSearch(ctx context.Context, intent model.Intent, entities model.Entities, rawQuery string) ([]model.Candidate, error) {
	terms := []string{entities.SearchQuery}
	if terms[0] == "" {
		terms[0] = rawQuery
	}
	if intent == model.IntentDiagnoseIssue {
		symptom := entities.Symptom
		if symptom == "" {
			symptom = rawQuery
		}
		terms = expandSymptomTerms(symptom, entities.ApplianceType)
	}

	var all []model.Candidate
	var lastErr error
	for _, term := range terms {
		candidates, err := r.catalog.SearchByKeyword(ctx, term, entities.ApplianceType, keywordLimit)
		if err != nil {
			lastErr = err
			continue
		}
		all = append(all, candidates...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, lastErr
	}

	if entities.Brand != "" {
		all = filterByBrand(all, entities.Brand)
	}
	return all, nil
}

// symptomSearch maps a symptom onto part identifiers via the semantic
// troubleshooting corpus, then hydrates those identifiers from the catalog.
func (r *Router) symptomSearch(ctx context.Context, entities model.Entities, rawQuery string) ([]model.Candidate, error) {
	if r.docs == nil {
		return nil, nil
	}
	symptom := entities.Symptom
	if symptom == "" {
		symptom = rawQuery
	}

	docs, err := r.docs.Query(ctx, symptom, "troubleshooting", 20)
	if errors.Is(err, semdex.ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64)
	var ids []string
	for _, d := range docs {
		if d.PartNumber == "" {
			continue
		}
		if _, seen := scores[d.PartNumber]; !seen {
			ids = append(ids, d.PartNumber)
		}
		if d.Similarity > scores[d.PartNumber] {
			scores[d.PartNumber] = d.Similarity
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	parts, err := r.catalog.PartsByNumbers(ctx, ids, symptomLimit)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.Candidate, len(parts))
	for i, p := range parts {
		candidates[i] = model.Candidate{
			Part:       p,
			RawScore:   scores[p.PartNumber],
			Strategies: []model.Strategy{model.StrategySymptom},
		}
	}
	return candidates, nil
}

// compatibilityLookup resolves an exact part x model pairing. The router is
// only invoked for compatibility_check when both numbers are present in the
// merged entities; the classifier downgrades the intent otherwise.
func (r *Router) compatibilityLookup(ctx context.Context, entities model.Entities) ([]model.Candidate, error) {
	part, err := r.catalog.GetPart(ctx, entities.PartNumber)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	assessment := &model.CompatibilityAssessment{
		PartNumber:  entities.PartNumber,
		ModelNumber: entities.ModelNumber,
	}

	result, err := r.catalog.CheckCompatibility(ctx, entities.PartNumber, entities.ModelNumber)
	switch {
	case err == nil:
		assessment.Confidence = result.Confidence
		assessment.Notes = result.Notes
		if result.Compatible {
			assessment.Verdict = model.CompatConfirmed
		} else {
			assessment.Verdict = model.CompatIncompatible
		}
	case errors.Is(err, catalog.ErrNotFound):
		assessment.Verdict = assessHeuristically(part, entities.ModelNumber)
	default:
		// Relation unreachable: degrade to heuristics rather than
		// dropping the candidate.
		r.log.Warn("compatibility relation lookup failed",
			zap.String("part_number", entities.PartNumber),
			zap.Error(err))
		assessment.Verdict = assessHeuristically(part, entities.ModelNumber)
	}

	return []model.Candidate{{
		Part:          *part,
		RawScore:      1.0,
		Strategies:    []model.Strategy{model.StrategyCompatibility},
		Compatibility: assessment,
	}}, nil
}

// assessHeuristically falls back to the part's replace-parts list and the
// universal-part rule when the compatibility relation has no row.
func assessHeuristically(part *model.Part, modelNumber string) model.CompatibilityVerdict {
	target := strings.ToUpper(modelNumber)
	for _, rp := range part.Specs.ReplaceParts {
		if strings.ToUpper(rp) == target {
			return model.CompatLikely
		}
	}
	if isUniversalPart(part, modelNumber) {
		return model.CompatLikely
	}
	return model.CompatUnknown
}

// brandPrefixes maps brands onto their common model-number prefixes.
var brandPrefixes = map[string][]string{
	"whirlpool": {"W", "WR", "WD", "WG"},
	"samsung":   {"S", "RF", "RS"},
	"lg":        {"L", "LF", "LM"},
	"ge":        {"G", "GE", "GD"},
}

// isUniversalPart reports whether a part (typically a filter) is expected to
// fit many models of its own brand.
func isUniversalPart(part *model.Part, modelNumber string) bool {
	if !strings.Contains(strings.ToLower(part.Name), "filter") {
		return false
	}

	upper := strings.ToUpper(modelNumber)
	for _, prefix := range brandPrefixes[strings.ToLower(part.Brand)] {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return len(part.Specs.ReplaceParts) > 5
}

// symptomTermTable maps symptom phrases onto the part search terms most
// likely to fix them.
var symptomTermTable = []struct {
	phrase string
	terms  []string
}{
	{"ice", []string{"ice maker", "ice maker assembly"}},
	{"not draining", []string{"drain pump"}},
	{"not cleaning", []string{"spray arm", "wash pump"}},
	{"leak", []string{"gasket", "seal", "valve"}},
	{"nois", []string{"motor", "fan"}},
	{"not filling", []string{"water valve", "water line"}},
	{"not spinning", []string{"motor"}},
}

// expandSymptomTerms turns symptom text into up to maxSymptomTerms part
// search terms, with appliance-type defaults when nothing matches.
func expandSymptomTerms(symptom, applianceType string) []string {
	lower := strings.ToLower(symptom)

	var terms []string
	seen := make(map[string]bool)
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	for _, row := range symptomTermTable {
		if strings.Contains(lower, row.phrase) {
			for _, t := range row.terms {
				add(t)
			}
		}
	}

	if strings.Contains(lower, "not working") && len(terms) == 0 {
		switch applianceType {
		case "refrigerator":
			add("ice maker")
		case "dishwasher":
			add("control board")
		}
	}

	if len(terms) == 0 {
		switch applianceType {
		case "refrigerator":
			terms = []string{"ice maker", "water filter", "thermostat"}
		case "dishwasher":
			terms = []string{"spray arm", "pump", "valve"}
		default:
			terms = []string{symptom}
		}
	}

	if len(terms) > maxSymptomTerms {
		terms = terms[:maxSymptomTerms]
	}
	return terms
}

func filterByBrand(candidates []model.Candidate, brand string) []model.Candidate {
	var out []model.Candidate
	for _, c := range candidates {
		if strings.EqualFold(c.Part.Brand, brand) {
			out = append(out, c)
		}
	}
	return out
}

// mergeCandidates deduplicates by part number, keeping the highest raw score
// and the union of contributing strategies. First-seen order is preserved so
// the merge is deterministic.
func mergeCandidates(lists ...[]model.Candidate) []model.Candidate {
	var order []string
	byID := make(map[string]model.Candidate)

	for _, list := range lists {
		for _, c := range list {
			id := c.ID()
			existing, ok := byID[id]
			if !ok {
				order = append(order, id)
				byID[id] = c
				continue
			}
			if c.RawScore > existing.RawScore {
				existing.RawScore = c.RawScore
			}
			for _, s := range c.Strategies {
				if !existing.FromStrategy(s) {
					existing.Strategies = append(existing.Strategies, s)
				}
			}
			if existing.Compatibility == nil {
				existing.Compatibility = c.Compatibility
			}
			byID[id] = existing
		}
	}

	out := make([]model.Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}
