package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hmo-buddy/internal/api"
	"hmo-buddy/internal/config"
	"hmo-buddy/internal/db"
	"hmo-buddy/internal/embedding"
	"hmo-buddy/internal/helper"
	"hmo-buddy/internal/llmservice"
	"hmo-buddy/internal/parser"
	"hmo-buddy/internal/rag"
	"hmo-buddy/internal/vectorstore"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", defaultConfigPath, "Path to the config file")
	flag.Parse()

	// .env feeds the environment overrides the config loader honors.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	if err := helper.CreateFolder(cfg.DocumentsDir); err != nil {
		log.Fatal().Err(err).Msg("Error creating documents folder")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder, err := embedding.NewOllamaEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	store, err := openStore(ctx, cfg, embedder.EmbedQuery)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector store")
	}
	defer store.Close()

	model, err := llmservice.NewOllamaModel(&cfg.ChatLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}

	processor, err := parser.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing document processor")
	}

	if err := api.LoadInitialDocuments(ctx, store, processor, cfg.DocumentsDir); err != nil {
		log.Error().Err(err).Msg("Error loading initial documents")
	}

	svc := rag.NewService(store, embedder, model, cfg.RAG)
	srv := api.NewServer(svc, store, processor, cfg)
	if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}

func openStore(ctx context.Context, cfg *config.Config, embed vectorstore.EmbedFunc) (vectorstore.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		handle := db.Connect(cfg.Store.Postgres.DSN, cfg.Store.Postgres.Password, cfg.Store.Postgres.Debug)
		return db.NewPGStore(ctx, handle, embed)
	default:
		if err := helper.CreateFolder(cfg.Store.Path); err != nil {
			return nil, err
		}
		return vectorstore.NewChromemStore(cfg.Store.Path, cfg.Store.Collection, cfg.Store.Compress, cfg.Store.EncryptionKey, embed)
	}
}
