package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

const claudeSystemPrompt = `You analyze community discussion content for a research pipeline.
For the given item, respond with a single JSON object and nothing else:
{"relevance": <0..1 how closely the item matches the research query>,
"sentiment": "positive"|"negative"|"neutral",
"sentiment_score": <-1..1>,
"keywords": [up to 5 lowercase keywords],
"entities": [named products, companies, projects mentioned],
"key_insights": [up to 3 short insight sentences]}`

// ClaudeProvider implements interfaces.AnalysisProvider using the Anthropic
// Claude API.
type ClaudeProvider struct {
	config  *common.ClaudeConfig
	client  anthropic.Client
	logger  arbor.ILogger
	timeout time.Duration
}

// NewClaudeProvider creates a Claude analysis provider
func NewClaudeProvider(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or claude.api_key in config)")
	}
	if config.Model == "" {
		config.Model = "claude-haiku-3-5-20241022"
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := anthropic.NewClient(option.WithAPIKey(config.APIKey))

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Msg("Claude analysis provider initialized")

	return &ClaudeProvider{
		config:  config,
		client:  client,
		logger:  logger,
		timeout: timeout,
	}, nil
}

// AnalyzeItem submits one raw item to Claude with a bounded timeout and
// parses the structured analysis out of the response.
func (p *ClaudeProvider) AnalyzeItem(ctx context.Context, req *interfaces.AnalysisRequest) (*models.ItemAnalysis, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	prompt := buildItemPrompt(req)

	maxTokens := p.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	message, err := p.client.Messages.New(timeoutCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: claudeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	analysis, err := parseItemAnalysis(text.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse provider response: %w", err)
	}
	analysis.NativeID = req.Item.NativeID

	return analysis, nil
}

func buildItemPrompt(req *interfaces.AnalysisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research query terms: %s\n\n", strings.Join(req.QueryTerms, ", "))
	if req.Item.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", req.Item.Title)
	}
	if req.Item.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", req.Item.Author)
	}
	if req.Item.Community != "" {
		fmt.Fprintf(&b, "Community: %s\n", req.Item.Community)
	}
	fmt.Fprintf(&b, "Score: %d, Replies: %d\n\n", req.Item.Score, req.Item.Comments)
	fmt.Fprintf(&b, "Content:\n%s\n", truncate(req.Item.Body, 4000))
	return b.String()
}

// parseItemAnalysis decodes the provider's JSON, tolerating fenced output
// and clamping numeric fields into their documented ranges.
func parseItemAnalysis(text string) (*models.ItemAnalysis, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// Tolerate leading prose before the JSON object
	if idx := strings.Index(text, "{"); idx > 0 {
		text = text[idx:]
	}

	var raw struct {
		Relevance      float64  `json:"relevance"`
		Sentiment      string   `json:"sentiment"`
		SentimentScore float64  `json:"sentiment_score"`
		Keywords       []string `json:"keywords"`
		Entities       []string `json:"entities"`
		KeyInsights    []string `json:"key_insights"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}

	sentiment := models.SentimentLabel(raw.Sentiment)
	switch sentiment {
	case models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral:
	default:
		sentiment = models.SentimentNeutral
	}

	return &models.ItemAnalysis{
		Relevance:      clamp(raw.Relevance, 0, 1),
		Sentiment:      sentiment,
		SentimentScore: clamp(raw.SentimentScore, -1, 1),
		Keywords:       raw.Keywords,
		Entities:       raw.Entities,
		KeyInsights:    raw.KeyInsights,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
