// Package anthropic implements model.Generator on the Anthropic Messages
// API. Each generation task sends one message request with a task-specific
// prompt and decodes the JSON the model returns.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowsmith-ai/flowsmith/core"
	"github.com/flowsmith-ai/flowsmith/model"
)

// Options configures the Anthropic generator adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Generator wraps the Anthropic Messages API behind model.Generator.
type Generator struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Generator = (*Generator)(nil)

// New creates a new Anthropic generator using the official client.
func New(optFns ...func(o *Options)) *Generator {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Generator{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic generator from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Generator {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Generator{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
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

// complete runs one message request and concatenates its text blocks.
func (g *Generator) complete(ctx context.Context, p model.Prompt) (string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       g.opts.Model,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: anthropic.Float(g.opts.Temperature),
		System:      []anthropic.TextBlockParam{{Text: p.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			textBlock := block.AsText()
			b.WriteString(textBlock.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no text content returned")
	}
	return b.String(), nil
}

// Info returns metadata describing this Anthropic generator implementation.
func (g *Generator) Info() model.Info {
	return model.Info{Name: string(g.opts.Model), Provider: "anthropic"}
}
