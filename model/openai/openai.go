// Package openai implements model.Generator on the OpenAI Chat Completions
// API. Each generation task sends one non-streaming completion with a
// task-specific prompt and decodes the JSON the model returns.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/flowsmith-ai/flowsmith/core"
	"github.com/flowsmith-ai/flowsmith/model"
)

// Options configure the OpenAI generator adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Generator wraps the OpenAI Chat Completions API behind model.Generator.
type Generator struct {
	client *openai.Client
	opts   Options
}

var _ model.Generator = (*Generator)(nil)

// New creates a new OpenAI generator using the official client.
func New(optFns ...func(o *Options)) *Generator {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI generator from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Generator {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Generator{client: client, opts: opts}
}

// Clarify derives clarification questions from the user's opening message.
func (g *Generator) Clarify(ctx context.Context, req model.ClarifyRequest) (model.Clarification, error) {
	text, err := g.complete(ctx, model.ClarifyPrompt(req))
	if err != nil {
		return model.Clarification{}, err
	}
	return model.ParseClarification(text)
}

// Summarize distills the collected answers into a single intent statement.
func (g *Generator) Summarize(ctx context.Context, req model.SummarizeRequest) (string, error) {
	text, err := g.complete(ctx, model.SummarizePrompt(req))
	if err != nil {
		return "", err
	}
	return model.ParseSummary(text)
}

// ScanGaps lists design decisions still open after intent confirmation.
func (g *Generator) ScanGaps(ctx context.Context, req model.GapRequest) ([]string, error) {
	text, err := g.complete(ctx, model.GapsPrompt(req))
	if err != nil {
		return nil, err
	}
	return model.ParseGaps(text)
}

// Alternatives proposes distinct implementation approaches for the open gaps.
func (g *Generator) Alternatives(ctx context.Context, req model.AlternativesRequest) ([]core.Alternative, error) {
	text, err := g.complete(ctx, model.AlternativesPrompt(req))
	if err != nil {
		return nil, err
	}
	return model.ParseAlternatives(text)
}

// Draft synthesizes (or repairs) the workflow document.
func (g *Generator) Draft(ctx context.Context, req model.DraftRequest) (*core.Workflow, error) {
	text, err := g.complete(ctx, model.DraftPrompt(req))
	if err != nil {
		return nil, err
	}
	return model.ParseWorkflow(text)
}

// complete runs one non-streaming chat completion and returns its text.
func (g *Generator) complete(ctx context.Context, p model.Prompt) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.System),
			openai.UserMessage(p.User),
		},
		Model:               g.opts.Model,
		Temperature:         openai.Float(g.opts.Temperature),
		MaxCompletionTokens: openai.Int(g.opts.MaxCompletionTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Info returns metadata describing this OpenAI generator implementation.
func (g *Generator) Info() model.Info {
	return model.Info{Name: g.opts.Model, Provider: "openai"}
}
