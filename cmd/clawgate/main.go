package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/clawgate/internal/breaker"
	"github.com/roelfdiedericks/clawgate/internal/config"
	"github.com/roelfdiedericks/clawgate/internal/httpapi"
	. "github.com/roelfdiedericks/clawgate/internal/logging"
	"github.com/roelfdiedericks/clawgate/internal/memory"
	"github.com/roelfdiedericks/clawgate/internal/providers"
	"github.com/roelfdiedericks/clawgate/internal/proxy"
	"github.com/roelfdiedericks/clawgate/internal/tokens"
	"github.com/roelfdiedericks/clawgate/internal/traffic"
	"github.com/roelfdiedericks/clawgate/internal/upstream"
)

const version = "0.1.0"

var cli struct {
	Config   string `short:"c" help:"Path to TOML config file." type:"path"`
	Listen   string `short:"l" help:"Listen address, overrides host/port from config."`
	LogLevel string `help:"Log level: debug, info, warn, error."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("clawgate"),
		kong.Description("Context-optimizing proxy for chat completion APIs."),
		kong.Vars{"version": "clawgate " + version},
	)

	settings, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level := settings.LogLevel
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	Init(&Config{Level: level, TimeFormat: "15:04:05"})

	L_info("clawgate %s starting", version)
	httpapi.Version = version

	// Provider registry, seeded with the default provider from the
	// environment contract. Further providers arrive via the management API.
	registry := providers.NewRegistry()
	registry.Add(&providers.LLMProvider{
		ID:           "default",
		Name:         "Default",
		BaseURL:      settings.LLMBaseURL,
		APIKey:       settings.LLMAPIKey,
		DefaultModel: settings.LLMModel,
		Timeout:      settings.RequestTimeout,
		MaxRetries:   settings.MaxRetries,
		Enabled:      true,
	}, true)

	breakerConfig := breaker.DefaultConfig()
	if settings.BreakerThreshold > 0 {
		breakerConfig.FailureThreshold = settings.BreakerThreshold
	}
	if settings.BreakerTimeout > 0 {
		breakerConfig.RecoveryTimeout = time.Duration(settings.BreakerTimeout) * time.Second
	}
	breakers := breaker.NewRegistry(breakerConfig)

	degradation := breaker.NewDegradation()

	var retriever *memory.Retriever
	if settings.MemoryEnabled {
		store, err := memory.NewStore("sqlite", settings.VectorDBPath)
		if err != nil {
			L_fatal("failed to open memory store: %v", err)
		}
		embedder := memory.NewEmbedder(settings.EmbeddingModel)
		retriever = memory.NewRetriever(store, embedder, settings.MaxMemoryResults, memory.DefaultThreshold)

		degradation.Register("memory_retrieval", &breaker.CircuitBreakerStrategy{
			Breaker: breakers.GetOrCreate("memory"),
		}, "semantic memory retrieval")
		L_info("memory subsystem ready", "path", settings.VectorDBPath)
	} else {
		L_info("memory subsystem disabled")
	}

	analyzer := traffic.NewAnalyzerWithCounter(tokens.NewCounter(settings.TokenCounter))
	client := upstream.NewClient(registry)

	pipeline := proxy.NewPipeline(client, retriever, degradation, breakers, analyzer, proxy.PipelineOptions{
		Assembly: proxy.AssemblyConfig{
			PreserveLastN:       settings.PreserveLastN,
			MaxHistoryTokens:    settings.MaxHistoryTokens,
			EnableSystemCleanup: settings.SystemPromptCleanup,
			MaxMessages:         20,
		},
		OptimizationEnabled: settings.OptimizationEnabled,
		MaxMemoryResults:    settings.MaxMemoryResults,
	})

	listen := settings.Listen()
	if cli.Listen != "" {
		listen = cli.Listen
	}
	server := httpapi.NewServer(&httpapi.ServerConfig{Listen: listen},
		pipeline, registry, breakers, retriever, analyzer)

	if err := server.Start(); err != nil {
		L_fatal("failed to start server: %v", err)
	}
	L_info("clawgate ready", "listen", listen)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	L_info("shutting down")
	if err := server.Stop(); err != nil {
		L_error("shutdown error", "error", err)
	}
	if retriever != nil {
		if err := retriever.Close(); err != nil {
			L_error("memory close error", "error", err)
		}
	}
	L_info("clawgate stopped")
}
