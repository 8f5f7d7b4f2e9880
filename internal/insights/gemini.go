// Package insights turns a daily summary into a short narrative using Gemini.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"example.com/healthdash/internal/domain"
)

// ErrUnavailable marks any reason no insights could be produced this time.
var ErrUnavailable = errors.New("insights unavailable")

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

// Insights is the structured narrative for one day.
type Insights struct {
	Summary        string   `json:"summary"`
	Highlights     []string `json:"highlights"`
	Improvements   []string `json:"improvements"`
	ActionableTips []string `json:"actionable_tips"`
}

// Gemini generates Insights with the Gemini API.
type Gemini struct {
	apiKey string
	model  string
	logger *log.Logger
}

// NewGemini constructs a Gemini generator. An empty apiKey yields a generator that always
// reports ErrUnavailable.
func NewGemini(apiKey, model string, logger *log.Logger) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[insights] ", log.LstdFlags|log.Lshortfile)
	}
	return &Gemini{apiKey: apiKey, model: model, logger: logger}
}

// Generate asks the model for insights on summary.
func (g *Gemini) Generate(ctx context.Context, summary domain.DailySummary) (Insights, error) {
	if g.apiKey == "" {
		return Insights{}, fmt.Errorf("%w: gemini api key not configured", ErrUnavailable)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return Insights{}, fmt.Errorf("%w: create gemini client: %v", ErrUnavailable, err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.model)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.4)
	model.SetMaxOutputTokens(800)

	prompt, err := buildPrompt(summary)
	if err != nil {
		return Insights{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		g.logger.Printf("generate content for %s: %v", summary.Date, err)
		return Insights{}, fmt.Errorf("%w: generate content: %v", ErrUnavailable, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Insights{}, fmt.Errorf("%w: no content generated", ErrUnavailable)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return ParseInsights(sb.String())
}

func buildPrompt(summary domain.DailySummary) (string, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You are a supportive health coach reviewing one day of wearable data.

Daily summary (null means not recorded):
%s

Respond with a JSON object with exactly these keys:
- "summary": two or three sentences on how the day went
- "highlights": up to three things that went well
- "improvements": up to three areas to work on
- "actionable_tips": up to three concrete suggestions for tomorrow

Reference the actual numbers. Do not give medical advice.`, data), nil
}

// ParseInsights decodes a model response, tolerating a surrounding markdown code fence.
func ParseInsights(raw string) (Insights, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var out Insights
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return Insights{}, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return Insights{}, fmt.Errorf("%w: response has no summary", ErrUnavailable)
	}
	return out, nil
}
