package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RoseVZ/Instalily-casestudy/internal/llm"
	"github.com/RoseVZ/Instalily-casestudy/internal/model"
	"github.com/RoseVZ/Instalily-casestudy/pkg/logger"
)

const (
	maxPromptCandidates = 5
	maxPromptDocs       = 5
	maxPromptHistory    = 6
)

// FallbackReply is returned whenever generation cannot produce a reply. The
// turn still completes and state is still persisted.
const FallbackReply = "I'm having trouble generating a response right now. " +
	"Please try again in a moment, or share your appliance's model number so I can look up the right parts for you."

// Responder produces the final natural-language reply from the ranked
// candidates and gathered context.
type Responder struct {
	llm     llm.Client
	log     *logger.Logger
	timeout time.Duration
}

// NewResponder creates a responder. client may be nil; every turn then
// receives the fallback reply.
func NewResponder(client llm.Client, log *logger.Logger, timeout time.Duration) *Responder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Responder{llm: client, log: log, timeout: timeout}
}

// GenerateResult is the output of the generation stage.
type GenerateResult struct {
	Reply      string
	Fallback   bool
	WaitingFor string
}

// Generate builds the intent-specific prompt and calls the LLM. It never
// returns an error; failures yield the fallback reply.
func (r *Responder) Generate(ctx context.Context, intent model.Intent, entities model.Entities, history []model.Turn, ranked model.RankedResult, userText string) GenerateResult {
	if r.llm == nil {
		return GenerateResult{Reply: FallbackReply, Fallback: true}
	}

	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := promptHistory(history, maxPromptHistory)
	messages = append(messages, llm.ChatMessage{Role: "user", Content: buildUserPrompt(intent, entities, ranked, userText)})

	resp, err := r.llm.Complete(gctx, &llm.CompletionRequest{
		System:      systemPromptFor(intent),
		Messages:    messages,
		MaxTokens:   600,
		Temperature: 0.7,
		Use:         llm.UseGenerate,
	})
	if err != nil {
		r.log.Warn("response generation failed",
			zap.String("intent", string(intent)),
			zap.Error(err))
		return GenerateResult{Reply: FallbackReply, Fallback: true}
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return GenerateResult{Reply: FallbackReply, Fallback: true}
	}
	return GenerateResult{Reply: reply, WaitingFor: detectWaiting(reply)}
}

const baseSystemPrompt = `You are a helpful appliance parts assistant for refrigerator and dishwasher parts.
Be concise and practical. Only recommend parts from the provided results; never invent part numbers, prices, or stock status.
When a part is listed, mention its part number and price. If no results are provided, say so and ask a clarifying question.`

func systemPromptFor(intent model.Intent) string {
	switch intent {
	case model.IntentSearchPart:
		return baseSystemPrompt + `
The customer is looking for a part. Present the best matches with part number, price, and availability, and ask for the appliance model number if it would narrow things down.`
	case model.IntentDiagnoseIssue:
		return baseSystemPrompt + `
The customer describes a problem with their appliance. Explain the most likely causes, suggest parts from the results that commonly fix it, and give one or two quick checks they can do first.`
	case model.IntentCompatibilityCheck:
		return baseSystemPrompt + `
The customer asks whether a part fits their appliance model. State the compatibility finding plainly. If it is confirmed or incompatible say so directly. If it is only likely or unknown, say that and suggest verifying against the model's parts list before ordering.`
	case model.IntentInstallationHelp:
		return baseSystemPrompt + `
The customer needs installation guidance. Walk through the installation using the provided guide material, mention difficulty and tools when available, and remind them to disconnect power or water first where relevant.`
	case model.IntentProductDetails:
		return baseSystemPrompt + `
The customer wants details about a specific part. Describe it using the provided data only: what it does, price, stock, rating, and what models it replaces parts for.`
	default:
		return baseSystemPrompt + `
Answer the customer's question. You only cover refrigerator and dishwasher parts; if the question is outside that, say so politely. If the customer seems to have a parts problem, ask for their appliance model number.`
	}
}

func buildUserPrompt(intent model.Intent, entities model.Entities, ranked model.RankedResult, userText string) string {
	candidates, docs := ranked.Candidates, ranked.Context
	var b strings.Builder
	b.WriteString("Customer message: " + userText + "\n")

	if !entities.IsZero() {
		b.WriteString("\nKnown details:\n")
		writeIfSet(&b, "Part number", entities.PartNumber)
		writeIfSet(&b, "Model number", entities.ModelNumber)
		writeIfSet(&b, "Brand", entities.Brand)
		writeIfSet(&b, "Appliance", entities.ApplianceType)
		writeIfSet(&b, "Symptom", entities.Symptom)
	}

	if len(candidates) > 0 {
		b.WriteString("\nSearch results:\n")
		n := len(candidates)
		if n > maxPromptCandidates {
			n = maxPromptCandidates
		}
		for _, c := range candidates[:n] {
			stock := "in stock"
			if !c.Part.InStock {
				stock = "out of stock"
			}
			fmt.Fprintf(&b, "- %s: %s, $%.2f, %s", c.ID(), cleanProductName(c.Part.Name, c.Part.Brand), c.Part.Price, stock)
			if c.Part.Specs.ProductURL != "" {
				b.WriteString(", " + c.Part.Specs.ProductURL)
			}
			b.WriteString("\n")
			if c.Compatibility != nil {
				fmt.Fprintf(&b, "  Compatibility with %s: %s", c.Compatibility.ModelNumber, verdictText(c.Compatibility.Verdict))
				if c.Compatibility.Notes != "" {
					b.WriteString(" (" + c.Compatibility.Notes + ")")
				}
				b.WriteString("\n")
			}
		}
	}

	if len(docs) > 0 {
		b.WriteString("\nReference material:\n")
		n := len(docs)
		if n > maxPromptDocs {
			n = maxPromptDocs
		}
		for _, d := range docs[:n] {
			fmt.Fprintf(&b, "- [%s] %s\n", d.DocType, d.Content)
		}
	}

	if intent == model.IntentCompatibilityCheck && len(candidates) == 0 {
		fmt.Fprintf(&b, "\nNo catalog entry was found for part %s. Say that and suggest double checking the part number.\n", entities.PartNumber)
	}
	return b.String()
}

func verdictText(v model.CompatibilityVerdict) string {
	switch v {
	case model.CompatConfirmed:
		return "confirmed compatible"
	case model.CompatIncompatible:
		return "not compatible"
	case model.CompatLikely:
		return "likely compatible, not confirmed"
	default:
		return "could not be verified"
	}
}

func writeIfSet(b *strings.Builder, label, value string) {
	if value != "" {
		b.WriteString("- " + label + ": " + value + "\n")
	}
}

func promptHistory(history []model.Turn, limit int) []llm.ChatMessage {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	messages := make([]llm.ChatMessage, 0, len(history))
	for _, t := range history {
		messages = append(messages, llm.ChatMessage{Role: string(t.Role), Content: t.Content})
	}
	return messages
}

// detectWaiting inspects the reply for an explicit request for the model
// number, so the next turn can treat a bare code as the answer.
func detectWaiting(reply string) string {
	lower := strings.ToLower(reply)
	if strings.Contains(lower, "model number") &&
		(strings.Contains(lower, "?") || strings.Contains(lower, "share") ||
			strings.Contains(lower, "provide") || strings.Contains(lower, "let me know")) {
		return model.WaitingModelNumber
	}
	return ""
}

var productNameNoise = []string{
	"refrigerator", "dishwasher", "genuine", "oem", "replacement", "part",
}

// cleanProductName strips the brand and generic catalog noise so prompts and
// replies read like a product name, not a listing title.
func cleanProductName(name, brand string) string {
	fields := strings.Fields(name)
	var kept []string
	for _, f := range fields {
		lower := strings.ToLower(strings.Trim(f, ",.-"))
		if brand != "" && lower == strings.ToLower(brand) {
			continue
		}
		noisy := false
		for _, n := range productNameNoise {
			if lower == n {
				noisy = true
				break
			}
		}
		if !noisy {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return name
	}
	return strings.Join(kept, " ")
}
