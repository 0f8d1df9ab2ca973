// Package brain talks to the code-generation collaborator over the OpenAI
// chat completions API. It produces and critiques strategy documents; it
// never executes them.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	dservice "AlgoArena/internal/domain/service"
	"AlgoArena/pkg/logger"
)

// Config holds the collaborator endpoint settings. BaseURL defaults to
// OpenRouter so one key covers every fallback model.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string // default model when the caller names none
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
}

// Generator implements the CodeGenerator interface against a chat
// completions endpoint.
type Generator struct {
	client openai.Client
	cfg    Config
	log    *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Generator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Generator{client: openai.NewClient(opts...), cfg: cfg, log: log}
}

const generateSystemPrompt = `You design trading strategies as JSON rule documents.
A strategy document has this exact shape:

{
  "name": "short_descriptive_name",
  "cooldown_sec": <seconds between entries, 0-3600>,
  "risk_fraction": <fraction of cash per entry, max 0.25>,
  "stop_loss_pct": <negative percent, e.g. -5>,
  "take_profit_pct": <positive percent, e.g. 3>,
  "entry_threshold": <minimum rule score to enter>,
  "rules": [
    {"signal": "<signal name>", "window": <optional lookback>, "op": "gt|ge|lt|le|abs_gt", "value": <number>, "weight": <score when the rule fires>}
  ]
}

Available signals: price, volume, sma_gap, momentum, volatility, obi_weighted,
micro_price, ofi, sentiment, attention, cvd_divergence, taker_ratio,
parkinson_vol, funding_rate_velocity.

Respond with the JSON document only. No prose, no code fences, no fields
beyond the schema.`

const evaluateSystemPrompt = `You review deployed trading strategies. Given a strategy document and its
live performance, decide whether to keep it or refine it. Respond with JSON
only: {"refine": true|false, "comment": "<one concrete observation>"}.`

// Generate asks one model for a fresh strategy document.
func (g *Generator) Generate(ctx context.Context, modelID string, gc dservice.GenerationContext) (string, error) {
	if modelID == "" {
		modelID = g.cfg.Model
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(generateSystemPrompt),
			openai.UserMessage(g.userPrompt(gc)),
		},
		Model:               modelID,
		Temperature:         openai.Float(g.cfg.Temperature),
		MaxCompletionTokens: openai.Int(g.cfg.MaxTokens),
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion from %s", modelID)
	}

	source := stripFences(resp.Choices[0].Message.Content)
	g.log.Info("strategy generated",
		logger.String("model", modelID),
		logger.String("agent", gc.AgentName),
		logger.Duration("took", time.Since(start)))
	return source, nil
}

func (g *Generator) userPrompt(gc dservice.GenerationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design a strategy for agent %q trading %s.\n",
		gc.AgentName, strings.Join(gc.Symbols, ", "))
	if gc.OldSource != "" {
		fmt.Fprintf(&b, "\nIts previous strategy was:\n%s\n", gc.OldSource)
	}
	if gc.Critique != "" {
		fmt.Fprintf(&b, "\nIt was taken out of service because: %s\nAddress that directly.\n", gc.Critique)
	}
	return b.String()
}

// Evaluate asks the default model whether a deployed strategy should be
// refined.
func (g *Generator) Evaluate(ctx context.Context, req dservice.EvaluationRequest) (dservice.Critique, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	user := fmt.Sprintf("Strategy:\n%s\n\nROI: %.2f%%\nTrades: %d\n", req.Source, req.ROI, req.Trades)
	if req.Logs != "" {
		user += "\nRecent activity:\n" + req.Logs
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(evaluateSystemPrompt),
			openai.UserMessage(user),
		},
		Model:               g.cfg.Model,
		Temperature:         openai.Float(0.2),
		MaxCompletionTokens: openai.Int(512),
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return dservice.Critique{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return dservice.Critique{}, fmt.Errorf("empty evaluation from %s", g.cfg.Model)
	}

	var verdict struct {
		Refine  bool   `json:"refine"`
		Comment string `json:"comment"`
	}
	raw := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return dservice.Critique{}, fmt.Errorf("parse evaluation: %w", err)
	}
	return dservice.Critique{Refine: verdict.Refine, Comment: verdict.Comment}, nil
}

// stripFences removes markdown code fences models add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
