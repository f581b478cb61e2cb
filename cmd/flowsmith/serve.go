package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowsmith-ai/flowsmith"
	"github.com/flowsmith-ai/flowsmith/model"
	"github.com/flowsmith-ai/flowsmith/model/anthropic"
	"github.com/flowsmith-ai/flowsmith/model/openai"
	"github.com/flowsmith-ai/flowsmith/retrieval"
	"github.com/flowsmith-ai/flowsmith/retrieval/bleveindex"
	"github.com/flowsmith-ai/flowsmith/server"
	"github.com/flowsmith-ai/flowsmith/session"
	"github.com/flowsmith-ai/flowsmith/stage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversational workflow-authoring server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8230", "listen address")
	serveCmd.Flags().String("provider", "openai", "generation provider (openai, anthropic, mock)")
	serveCmd.Flags().String("model", "", "model id override for the provider")
	serveCmd.Flags().String("index-path", "", "path to the bleve knowledge index (empty disables retrieval)")
	serveCmd.Flags().Duration("session-ttl", session.DefaultTTL, "server-side snapshot cache TTL")
	serveCmd.Flags().Int("max-debug-loops", stage.DefaultConfig.MaxDebugLoops, "workflow regeneration attempts before giving up")
	serveCmd.Flags().Int("max-clarify-rounds", stage.DefaultConfig.MaxClarifyRounds, "negotiation corrections before giving up")
	_ = viper.BindPFlags(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	generator, err := buildGenerator(viper.GetString("provider"), viper.GetString("model"))
	if err != nil {
		return err
	}

	var retriever retrieval.Retriever
	if path := viper.GetString("index-path"); path != "" {
		index, err := bleveindex.Open(path)
		if err != nil {
			return fmt.Errorf("open knowledge index: %w", err)
		}
		defer index.Close()
		retriever = index
	}

	fs, err := flowsmith.New(generator, func(o *flowsmith.Options) {
		o.Engine = stage.Config{
			MaxDebugLoops:    viper.GetInt("max-debug-loops"),
			MaxClarifyRounds: viper.GetInt("max-clarify-rounds"),
		}
		o.Retriever = retriever
		o.SnapshotStore = session.NewCacheStore(viper.GetDuration("session-ttl"), 0)
		o.Logger = logger
	})
	if err != nil {
		return err
	}

	srv := server.New(fs.Orchestrator(), func(o *server.Options) {
		o.Addr = viper.GetString("addr")
		o.Logger = logger
		o.ShutdownTimeout = 15 * time.Second
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("server listening addr=%s provider=%s", viper.GetString("addr"), generator.Info().Provider)
	return srv.Start(ctx)
}

func buildGenerator(provider, modelID string) (model.Generator, error) {
	switch provider {
	case "openai":
		return openai.New(func(o *openai.Options) {
			if modelID != "" {
				o.Model = modelID
			}
		}), nil
	case "anthropic":
		return anthropic.New(func(o *anthropic.Options) {
			if modelID != "" {
				o.Model = anthropicsdk.Model(modelID)
			}
		}), nil
	case "mock":
		return model.NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
