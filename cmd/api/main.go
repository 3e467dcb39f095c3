package main

import (
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"docintel/internal/api"
	"docintel/internal/config"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	h := api.NewServer(cfg, logger)
	logger.Info("docintel api listening",
		zap.String("addr", cfg.APIAddr),
		zap.String("llm_providers", cfg.LLMProviders),
		zap.String("embed_providers", cfg.EmbedProviders),
		zap.String("entity_providers", cfg.EntityProviders))
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		logger.Fatal("api server exited", zap.Error(err))
	}
}
