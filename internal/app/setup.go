package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"

	"github.com/caselight/caselight/db"
	"github.com/caselight/caselight/internal/chat"
	"github.com/caselight/caselight/internal/config"
	"github.com/caselight/caselight/internal/database"
	"github.com/caselight/caselight/internal/kb"
	"github.com/caselight/caselight/internal/knowledge"
	"github.com/caselight/caselight/internal/log"
	"github.com/caselight/caselight/internal/session"
)

// Setup builds the application. On failure everything already initialized
// is released; on success the caller owns Close.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if retErr != nil {
			_ = a.Close()
		}
	}()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Tickets = kb.New(kb.NewQuerier(pool), logger)
	a.Knowledge = knowledge.New(knowledge.NewQuerier(pool), embedder, logger)
	a.Sessions = session.New(session.NewQuerier(pool), logger)

	chatSvc, err := chat.New(chat.Config{
		Genkit:       g,
		Searcher:     a.Tickets,
		Sessions:     a.Sessions,
		Logger:       logger,
		ModelName:    cfg.FullModelName(),
		ContextLimit: cfg.ContextLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat service: %w", err)
	}
	a.Chat = chatSvc

	return a, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no model auto-discovery.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit", "provider", cfg.Provider,
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)

	default: // googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
// Each provider registers differently: googleai by model name, ollama by
// server address, openai auto-registered in Init.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}
