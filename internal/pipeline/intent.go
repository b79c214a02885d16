package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/RoseVZ/Instalily-casestudy/internal/llm"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
	"github.com/RoseVZ/Instalily-casestudy/pkg/logger"
)

// Part numbers start with PS, W, or AP followed by digits; anything else
// code-shaped is treated as an appliance model number.
var (
	partNumberRe = regexp.MustCompile(`(?i)\b(PS\d{7,8}|W\d{8}|AP\d{7,8})\b`)
	codeRe       = regexp.MustCompile(`(?i)\b([A-Z]{1,4}\d{3,}[A-Z0-9]*)\b`)
)

// Classifier maps free text to an intent plus extracted entities, using
// prior conversation state as a disambiguation signal.
type Classifier struct {
	llm llm.Client
	log *logger.Logger
}

// NewClassifier creates an intent classifier. A nil client means every turn
// takes the deterministic fallback path.
func NewClassifier(client llm.Client, log *logger.Logger) *Classifier {
	return &Classifier{llm: client, log: log}
}

// ClassifyResult is the outcome of classification for one turn.
type ClassifyResult struct {
	// Classification holds the final intent plus the entities extracted
	// from this turn only (what the store merge receives).
	Classification model.Classification

	// Merged is the prior entities overlaid with this turn's extraction;
	// routing decisions read this view.
	Merged model.Entities

	// WaitingFor is non-nil when the resolved intent needs a follow-up
	// fact from the user (e.g. a model number for a compatibility check).
	WaitingFor *string

	// UsedFallback reports that the classification capability was
	// unavailable or unparseable and the deterministic path was taken.
	UsedFallback bool
}

// Classify never fails: capability errors degrade to general_question with
// whatever the deterministic extraction found.
func (c *Classifier) Classify(ctx context.Context, text string, prior *model.ConversationState) ClassifyResult {
	extracted := extractEntities(text)

	var res ClassifyResult
	if c.llm != nil {
		if cls, ok := c.classifyWithLLM(ctx, text, prior); ok {
			res.Classification = cls
		} else {
			res.UsedFallback = true
		}
	} else {
		res.UsedFallback = true
	}

	if res.UsedFallback {
		res.Classification = model.Classification{
			Intent:     model.IntentGeneralQuestion,
			Confidence: 0.3,
		}
	}

	// The regex extraction is ground truth for codes; it overrides
	// whatever the model produced for those two fields.
	ents := res.Classification.Entities.Merge(extracted)
	res.Classification.Entities = ents

	var priorEntities model.Entities
	if prior != nil {
		priorEntities = prior.Entities
	}
	res.Merged = priorEntities.Merge(ents)

	c.resolve(&res, text, prior)
	return res
}

// resolve applies the deterministic routing constraints after the raw
// classification: follow-up promotion and the compatibility entity
// requirement, which downgrades rather than fails.
func (c *Classifier) resolve(res *ClassifyResult, text string, prior *model.ConversationState) {
	cls := &res.Classification

	// Both codes in one message is a compatibility question no matter
	// what the model said.
	if cls.Entities.PartNumber != "" && cls.Entities.ModelNumber != "" {
		cls.Intent = model.IntentCompatibilityCheck
	}

	// A bare code while we were waiting for (or already know) the other
	// half of a compatibility pairing resolves the check.
	if cls.Intent != model.IntentCompatibilityCheck &&
		cls.Entities.ModelNumber != "" && res.Merged.PartNumber != "" {
		waiting := prior != nil && prior.WaitingFor == model.WaitingModelNumber
		if waiting || isBareCode(text) {
			cls.Intent = model.IntentCompatibilityCheck
		}
	}

	if cls.Intent != model.IntentCompatibilityCheck {
		return
	}

	switch {
	case res.Merged.PartNumber != "" && res.Merged.ModelNumber != "":
		clear := ""
		res.WaitingFor = &clear
	case res.Merged.PartNumber != "":
		// Know the part, need the model. Show the part meanwhile.
		cls.Intent = model.IntentProductDetails
		waiting := model.WaitingModelNumber
		res.WaitingFor = &waiting
	case res.Merged.ModelNumber != "":
		cls.Intent = model.IntentGeneralQuestion
		waiting := model.WaitingPartNumber
		res.WaitingFor = &waiting
	default:
		cls.Intent = model.IntentGeneralQuestion
	}
}

const classifySystemPrompt = `You are an intent classification system for an appliance parts assistant.

Classify the user's query into ONE of these intents:
1. search_part - user wants to find or browse parts ("I need a water filter", "show me ice makers")
2. diagnose_issue - user describes a problem or symptom ("my ice maker stopped working", "dishwasher is leaking")
3. installation_help - user needs installation guidance for a specific part number ("how do I install PS11701542?")
4. compatibility_check - user checks whether a part fits a model ("will PS11701542 fit my WRS325SDHZ?")
5. product_details - user wants info about one specific part number ("tell me about PS11701542")
6. general_question - anything else, including how-to questions without a part number

Consider the conversation context: if the assistant previously asked for a model number and the user provides one, classify as compatibility_check.

Part numbers start with PS, W, or AP followed by digits. Any other alphanumeric code (like WDT780SAEM1) is a model number.

Extract entities when present: part_number, model_number, brand, appliance_type (refrigerator, dishwasher, ...), symptom (full symptom description), search_query (cleaned search term with filler words like "show me" and "options" removed).

Respond ONLY with valid JSON:
{"intent": "search_part", "entities": {"appliance_type": "refrigerator", "search_query": "ice maker"}, "confidence": 0.95}`

type llmClassification struct {
	Intent     string         `json:"intent"`
	Entities   model.Entities `json:"entities"`
	Confidence float64        `json:"confidence"`
}

func (c *Classifier) classifyWithLLM(ctx context.Context, text string, prior *model.ConversationState) (model.Classification, bool) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Classify this query: %q", text)
	if prior != nil {
		sb.WriteString("\n\nConversation context:")
		if prior.WaitingFor != "" {
			fmt.Fprintf(&sb, "\n- Assistant is waiting for: %s", prior.WaitingFor)
		}
		if prior.Entities.ApplianceType != "" {
			fmt.Fprintf(&sb, "\n- Known appliance: %s", prior.Entities.ApplianceType)
		}
		if prior.Entities.PartNumber != "" {
			fmt.Fprintf(&sb, "\n- Known part number: %s", prior.Entities.PartNumber)
		}
		if prior.LastIntent != "" {
			fmt.Fprintf(&sb, "\n- Previous intent: %s", prior.LastIntent)
		}
		for _, t := range prior.RecentHistory(3) {
			if t.Role == model.RoleUser {
				fmt.Fprintf(&sb, "\n- Previous query: %s", t.Content)
			}
		}
	}

	resp, err := c.llm.Complete(ctx, &llm.CompletionRequest{
		System:      classifySystemPrompt,
		Messages:    []llm.ChatMessage{{Role: "user", Content: sb.String()}},
		MaxTokens:   300,
		Temperature: 0.1,
		Use:         llm.UseClassify,
	})
	if err != nil {
		c.log.Warn("intent classification failed, falling back", zap.Error(err))
		return model.Classification{}, false
	}

	var parsed llmClassification
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &parsed); err != nil {
		c.log.Warn("unparseable classification response, falling back", zap.Error(err))
		return model.Classification{}, false
	}

	intent := model.Intent(parsed.Intent)
	if !intent.Valid() {
		c.log.Warn("unknown intent from classifier, falling back", zap.String("intent", parsed.Intent))
		return model.Classification{}, false
	}

	confidence := parsed.Confidence
	if confidence <= 0 {
		confidence = 0.7
	}

	return model.Classification{
		Intent:     intent,
		Entities:   parsed.Entities,
		Confidence: confidence,
	}, true
}

// extractEntities pulls part and model numbers out of the raw text.
func extractEntities(text string) model.Entities {
	var e model.Entities

	if m := partNumberRe.FindString(text); m != "" {
		e.PartNumber = strings.ToUpper(m)
	}

	for _, code := range codeRe.FindAllString(text, -1) {
		upper := strings.ToUpper(code)
		if partNumberRe.MatchString(upper) {
			continue
		}
		if len(upper) < 6 {
			continue
		}
		e.ModelNumber = upper
		break
	}

	return e
}

// isBareCode reports whether the message is just an identifier, optionally
// with filler like "it's" or "model".
func isBareCode(text string) bool {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || len(fields) > 4 {
		return false
	}
	last := strings.Trim(fields[len(fields)-1], ".,!?")
	return codeRe.MatchString(last)
}

// stripFences removes markdown code fences around a JSON payload.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
