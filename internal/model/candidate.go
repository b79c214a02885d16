package model

// Strategy names a retrieval method.
type Strategy string

const (
	StrategyKeyword       Strategy = "keyword"
	StrategySymptom       Strategy = "symptom"
	StrategyCompatibility Strategy = "compatibility"
	StrategyDirect        Strategy = "direct"
	StrategySemantic      Strategy = "semantic"
)

// Candidate is a part surfaced by a retrieval strategy, pre-ranking.
// Candidates for the same part number are deduplicated across strategies,
// keeping the highest raw score and the union of contributing strategies.
type Candidate struct {
	Part          Part                     `json:"part"`
	RawScore      float64                  `json:"raw_score"`
	Strategies    []Strategy               `json:"strategies"`
	Compatibility *CompatibilityAssessment `json:"compatibility,omitempty"`
}

// ID returns the candidate's dedup identifier.
func (c Candidate) ID() string { return c.Part.PartNumber }

// FromStrategy reports whether s contributed this candidate.
func (c Candidate) FromStrategy(s Strategy) bool {
	for _, got := range c.Strategies {
		if got == s {
			return true
		}
	}
	return false
}

// ContextDoc is a supplementary document attached by context gathering:
// a semantic match, a troubleshooting entry, or an installation guide.
type ContextDoc struct {
	ID         string             `json:"id"`
	DocType    string             `json:"doc_type,omitempty"`
	PartNumber string             `json:"part_number,omitempty"`
	Content    string             `json:"content,omitempty"`
	Similarity float64            `json:"similarity,omitempty"`
	Guide      *InstallationGuide `json:"guide,omitempty"`
}

// RankedResult is the ordered candidate list plus gathered context,
// consumed only by response generation.
type RankedResult struct {
	Candidates []Candidate  `json:"candidates"`
	Context    []ContextDoc `json:"context,omitempty"`
}
