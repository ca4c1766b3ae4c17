package main

import (
	"context"
	"os"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/llm"
	"github.com/parley-ai/parley/internal/logger"
	"github.com/parley-ai/parley/internal/server"
	"github.com/parley-ai/parley/internal/service"
	"github.com/parley-ai/parley/internal/store"
	"github.com/parley-ai/parley/pkg/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	var conversations store.ConversationStore
	switch cfg.Storage.Driver {
	case "memory":
		conversations = store.NewMemoryStore()
	case "sqlite":
		sqliteStore, err := store.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			logger.L.Error("failed to open conversation store", "path", cfg.Storage.Path, "error", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		conversations = sqliteStore
	default:
		logger.L.Error("unknown storage driver", "driver", cfg.Storage.Driver)
		os.Exit(1)
	}

	provider := llm.NewOpenAIProvider(llm.NewClient(cfg.LLM))

	registry := tools.NewManager()
	registry.Register(tools.NewWeatherTool())
	closers := tools.RegisterMCPServers(context.Background(), registry, cfg.MCPServers)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.L.Warn("mcp client close error", "error", err)
			}
		}
	}()

	svc := service.NewStreamingCompletionService(conversations, provider, registry, cfg.LLM.Model)

	srv := server.New(cfg.Server, conversations, svc)
	if err := srv.ListenAndServe(); err != nil {
		logger.L.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
