// Package classifier provides the pluggable intent classification
// plugin: classify(message) -> (intent, entities, confidence). A
// rule-based classifier needs no external dependency and doubles as
// the fallback when the primary (LLM-backed) classifier errors; an
// LLM-backed classifier wraps any classifier/model.ChatModel
// (Anthropic, OpenAI, or Google) behind the same interface.
package classifier

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledgerflow/workflow/classifier/model"
)

// Intent is one of the five recognized intents. Unrecognized or empty
// input classifies as IntentFallback.
type Intent string

const (
	IntentBalanceInquiry  Intent = "balance_inquiry"
	IntentMoneyTransfer   Intent = "money_transfer"
	IntentAccountStatement Intent = "account_statement"
	IntentLoanInquiry     Intent = "loan_inquiry"
	IntentFallback        Intent = "fallback"
)

// Result is what Classify returns: the recognized intent, any
// entities extracted from the message (e.g. "amount", "recipient"),
// and a confidence score in [0,1].
type Result struct {
	Intent     Intent
	Entities   map[string]string
	Confidence float64
}

// Classifier classifies a single user message. Implementations must
// never block indefinitely; ctx carries the per-turn deadline.
type Classifier interface {
	Classify(ctx context.Context, message string) (Result, error)
}

// RuleBased is a regex-driven classifier requiring no external
// dependency. It is both a standalone option (storage.backend-style
// deployments with no LLM budget) and the fallback every LLM-backed
// classifier falls back to on error, per §6's "ClassifierError ->
// fall back to rule-based classification with confidence 0.50; never
// fatal" rule.
type RuleBased struct{}

// NewRuleBased constructs a RuleBased classifier.
func NewRuleBased() *RuleBased { return &RuleBased{} }

var (
	amountRe    = regexp.MustCompile(`(?i)\$?(\d+(?:\.\d{1,2})?)\s*(?:dollars)?`)
	recipientRe = regexp.MustCompile(`(?i)\bto\s+([A-Z][a-zA-Z]*)\b`)

	balanceKeywords   = []string{"balance", "how much do i have", "how much money"}
	transferKeywords  = []string{"transfer", "send money", "send $", "wire", "pay "}
	statementKeywords = []string{"statement", "transaction history", "recent transactions"}
	loanKeywords      = []string{"loan", "mortgage", "borrow"}
)

// Classify implements Classifier using keyword matching for intent and
// regex extraction for entities. A transfer keyword match scores 0.50
// (mirroring the fallback confidence §6 assigns to classifier errors),
// rising to 0.90 when the message also yields an amount; a balance,
// statement or loan keyword match scores 0.85; no keyword match is
// fallback at 0.50, and an empty message is fallback at 1.0.
func (r *RuleBased) Classify(_ context.Context, message string) (Result, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return Result{Intent: IntentFallback, Entities: map[string]string{}, Confidence: 1.0}, nil
	}

	lower := strings.ToLower(trimmed)
	entities := extractEntities(trimmed)

	switch {
	case containsAny(lower, transferKeywords):
		conf := 0.50
		if _, ok := entities["amount"]; ok {
			conf = 0.90
		}
		return Result{Intent: IntentMoneyTransfer, Entities: entities, Confidence: conf}, nil
	case containsAny(lower, balanceKeywords):
		return Result{Intent: IntentBalanceInquiry, Entities: entities, Confidence: 0.85}, nil
	case containsAny(lower, statementKeywords):
		return Result{Intent: IntentAccountStatement, Entities: entities, Confidence: 0.85}, nil
	case containsAny(lower, loanKeywords):
		return Result{Intent: IntentLoanInquiry, Entities: entities, Confidence: 0.85}, nil
	default:
		return Result{Intent: IntentFallback, Entities: entities, Confidence: 0.50}, nil
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func extractEntities(message string) map[string]string {
	entities := map[string]string{}
	if m := amountRe.FindStringSubmatch(message); len(m) == 2 {
		if _, err := strconv.ParseFloat(m[1], 64); err == nil {
			entities["amount"] = m[1]
		}
	}
	if m := recipientRe.FindStringSubmatch(message); len(m) == 2 {
		entities["recipient"] = m[1]
	}
	return entities
}

// llmResponse is the JSON shape the system prompt instructs the model
// to return.
type llmResponse struct {
	Intent     string            `json:"intent"`
	Entities   map[string]string `json:"entities"`
	Confidence float64           `json:"confidence"`
}

const systemPrompt = `You are an intent classifier for a banking assistant. Given a user message, respond with ONLY a JSON object of the form:
{"intent": "<balance_inquiry|money_transfer|account_statement|loan_inquiry|fallback>", "entities": {"amount": "...", "recipient": "..."}, "confidence": <0.0-1.0>}
Omit entity keys that are not present in the message. Use "fallback" when the message does not match any other intent.`

// LLMBacked classifies by prompting a model.ChatModel and parsing its
// JSON response. On any call or parse error it classifies with
// fallback instead (§6: a classifier error is never fatal).
type LLMBacked struct {
	model    model.ChatModel
	fallback Classifier
}

// NewLLMBacked wraps chat behind the Classifier interface. fallback is
// used whenever chat errors or returns unparseable output; pass
// NewRuleBased() unless a different fallback is required.
func NewLLMBacked(chat model.ChatModel, fallback Classifier) *LLMBacked {
	if fallback == nil {
		fallback = NewRuleBased()
	}
	return &LLMBacked{model: chat, fallback: fallback}
}

// Classify implements Classifier.
func (c *LLMBacked) Classify(ctx context.Context, message string) (Result, error) {
	out, err := c.model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: systemPrompt},
		{Role: model.RoleUser, Content: message},
	}, nil)
	if err != nil {
		return c.fallback.Classify(ctx, message)
	}

	var parsed llmResponse
	text := strings.TrimSpace(out.Text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return c.fallback.Classify(ctx, message)
	}

	intent := Intent(parsed.Intent)
	switch intent {
	case IntentBalanceInquiry, IntentMoneyTransfer, IntentAccountStatement, IntentLoanInquiry, IntentFallback:
	default:
		return c.fallback.Classify(ctx, message)
	}

	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return c.fallback.Classify(ctx, message)
	}

	entities := parsed.Entities
	if entities == nil {
		entities = map[string]string{}
	}
	return Result{Intent: intent, Entities: entities, Confidence: parsed.Confidence}, nil
}
