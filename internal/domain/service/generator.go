package service

import (
	"context"

	"AlgoArena/internal/domain/models"
)

// GenerationContext carries the market and performance context handed to the
// code-generation collaborator.
type GenerationContext struct {
	AgentName string
	Symbols   []string
	Critique  string // non-empty when evolving an existing strategy
	OldSource string
}

// EvaluationRequest asks the collaborator to critique a deployed strategy.
type EvaluationRequest struct {
	Source string
	ROI    float64
	Trades int
	Logs   string
}

// Critique is the collaborator's verdict on a deployed strategy.
type Critique struct {
	Refine  bool
	Comment string
}

// CodeGenerator is the external code-generation collaborator.
type CodeGenerator interface {
	Generate(ctx context.Context, modelID string, gc GenerationContext) (string, error)
	Evaluate(ctx context.Context, req EvaluationRequest) (Critique, error)
}

// RegenQueue hands regeneration requests to the asynchronous consumer without
// blocking the supervisor.
type RegenQueue interface {
	Enqueue(ctx context.Context, req models.RegenRequest) error
}

// NewsSource exposes the most recent significance-scored headlines.
type NewsSource interface {
	Latest() []models.NewsItem
	// LatestScore returns the significance of the freshest headline, or 0
	// when nothing recent is known.
	LatestScore() float64
}
