// Package flowsmith provides a high-level façade over the orchestrator and
// its collaborator abstractions (generation, retrieval, validation, snapshot
// storage & logging) enabling rapid construction of conversational workflow
// authoring systems. Most applications interact with this package by:
//  1. Creating a Flowsmith via New() with a model.Generator (optionally
//     overriding default collaborators)
//  2. Invoking Converse for a streamed exchange, or ConverseSync for a
//     buffered one
//  3. Carrying the snapshot from each final response into the next request
//
// The façade delegates to orchestrator.Orchestrator while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a retriever over an
// indexed knowledge base and a structured logger.
package flowsmith

import (
	"context"
	"fmt"

	"github.com/flowsmith-ai/flowsmith/logging"
	"github.com/flowsmith-ai/flowsmith/model"
	"github.com/flowsmith-ai/flowsmith/orchestrator"
	"github.com/flowsmith-ai/flowsmith/protocol"
	"github.com/flowsmith-ai/flowsmith/retrieval"
	"github.com/flowsmith-ai/flowsmith/session"
	"github.com/flowsmith-ai/flowsmith/stage"
	"github.com/flowsmith-ai/flowsmith/validate"
)

// Options configures the Flowsmith instance.
type Options struct {
	// Engine sets the stage engine loop bounds (debug retries,
	// clarification rounds).
	Engine stage.Config

	// Checker validates drafted workflows. Defaults to the built-in
	// schema checker.
	Checker validate.Checker

	// Retriever serves knowledge lookups for grounding. Nil disables
	// retrieval.
	Retriever retrieval.Retriever

	// SnapshotStore, when set, caches the latest snapshot per session so
	// requests may carry just a session id.
	SnapshotStore session.SnapshotStore

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Flowsmith is the high-level façade aggregating the orchestrator and its
// collaborators.
type Flowsmith struct {
	opts Options
	orch *orchestrator.Orchestrator
}

// New creates a new Flowsmith instance with optional overrides.
func New(generator model.Generator, optFns ...func(o *Options)) (*Flowsmith, error) {
	opts := Options{
		Engine: stage.DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	orch, err := orchestrator.New(generator, func(o *orchestrator.Options) {
		o.Engine = opts.Engine
		o.Checker = opts.Checker
		o.Retriever = opts.Retriever
		o.SnapshotStore = opts.SnapshotStore
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &Flowsmith{opts: opts, orch: orch}, nil
}

// Orchestrator exposes the underlying orchestrator, used by transports.
func (f *Flowsmith) Orchestrator() *orchestrator.Orchestrator { return f.orch }

// Converse starts an asynchronous exchange returning response & error channels.
func (f *Flowsmith) Converse(ctx context.Context, req protocol.Request) (string, <-chan protocol.Response, <-chan error, error) {
	return f.orch.Converse(ctx, req)
}

// ConverseSync is a synchronous helper that drains the async channels and
// returns all responses in order.
func (f *Flowsmith) ConverseSync(ctx context.Context, req protocol.Request) ([]protocol.Response, error) {
	return f.orch.ConverseSync(ctx, req)
}

// Cancel aborts a running exchange by its id.
func (f *Flowsmith) Cancel(exchangeID string) error {
	return f.orch.Cancel(exchangeID)
}
