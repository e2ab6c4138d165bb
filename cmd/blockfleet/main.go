package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/blockfleet/blockfleet/internal/adapter"
	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/config"
	"github.com/blockfleet/blockfleet/internal/llm"
	"github.com/blockfleet/blockfleet/internal/logging"
	"github.com/blockfleet/blockfleet/internal/orchestrator"
	"github.com/blockfleet/blockfleet/internal/store"
)

func main() {
	_ = godotenv.Load(".env")

	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("info", true)
		boot := logging.For("main")
		boot.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)
	log := logging.For("main")

	var st *store.Store
	if cfg.DBPath != "" {
		st, err = store.Open(cfg.DBPath, logging.For("store"))
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open store")
		}
		defer st.Close()
	} else {
		log.Warn().Msg("db_path empty, running without persistence")
	}

	var client llm.Client = llm.Disabled{}
	if cfg.LLMAPIKey != "" {
		client = llm.NewHTTP(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, logging.For("llm"))
	} else {
		log.Warn().Msg("no LLM API key, planner runs on fallback plans only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o := orchestrator.New(cfg, client, catalog.Builtin(), st,
		func(botID string) adapter.Agent { return adapter.NewSim(botID) },
		logging.For("orchestrator"))

	if err := o.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("fleet run")
	}
}
