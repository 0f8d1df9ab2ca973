package brain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dservice "AlgoArena/internal/domain/service"
)

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"{\"name\":\"x\"}":                      "{\"name\":\"x\"}",
		"```json\n{\"name\":\"x\"}\n```":        "{\"name\":\"x\"}",
		"```\n{\"name\":\"x\"}\n```":            "{\"name\":\"x\"}",
		"  \n```json\n{\"name\":\"x\"}\n```\n ": "{\"name\":\"x\"}",
	}
	for in, want := range cases {
		assert.Equal(t, want, stripFences(in))
	}
}

func TestUserPromptCarriesCritique(t *testing.T) {
	g := &Generator{}
	prompt := g.userPrompt(dservice.GenerationContext{
		AgentName: "Momentum Max",
		Symbols:   []string{"BTC", "ETH"},
		Critique:  "drawdown 3.50% exceeds 3.00% limit",
		OldSource: `{"name":"old"}`,
	})
	assert.Contains(t, prompt, "Momentum Max")
	assert.Contains(t, prompt, "BTC, ETH")
	assert.Contains(t, prompt, "drawdown 3.50%")
	assert.Contains(t, prompt, `{"name":"old"}`)
}
