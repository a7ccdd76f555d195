// Command rag is the operator CLI: ingest documents into the vector
// store, run one-shot queries, reset the collection, or export an
// encrypted snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

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
	filePath := flag.String("file", "", "Path to a document file to ingest")
	dirPath := flag.String("dir", "", "Path to a directory of documents to ingest")
	query := flag.String("query", "", "Query to be answered")
	reset := flag.Bool("reset", false, "Clear the entire collection")
	export := flag.Bool("export", false, "Export an encrypted snapshot of the collection")
	dryRun := flag.Bool("dry-run", false, "Parse and print chunks without storing them")
	noContext := flag.Bool("no-context", false, "Answer the query without document retrieval")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	ctx := context.Background()

	switch {
	case *filePath != "":
		ingestFile(ctx, cfg, *filePath, *dryRun)
	case *dirPath != "":
		ingestDir(ctx, cfg, *dirPath, *dryRun)
	case *query != "":
		runQuery(ctx, cfg, *query, !*noContext)
	case *reset:
		store := mustOpenStore(ctx, cfg)
		defer store.Close()
		if err := store.Reset(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error resetting collection")
		}
		log.Info().Msg("Collection cleared")
	case *export:
		exportSnapshot(ctx, cfg)
	default:
		log.Fatal().Msg("Please provide one of -file, -dir, -query, -reset, or -export")
	}
}

func ingestFile(ctx context.Context, cfg *config.Config, path string, dryRun bool) {
	processor, err := parser.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing document processor")
	}

	chunks, err := processor.ProcessDocument(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing document")
	}
	if dryRun {
		helper.PrettyPrint(chunks)
		return
	}

	store := mustOpenStore(ctx, cfg)
	defer store.Close()

	// Replace any previous chunks of this source.
	source := chunks[0].Source
	if _, err := store.Delete(ctx, source); err == nil {
		log.Info().Str("source", source).Msg("Replaced previous chunks")
	}
	ids, err := store.Add(ctx, chunks, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Error storing chunks")
	}
	log.Info().Int("chunks", len(ids)).Str("source", source).Msg("Ingested document")
}

func ingestDir(ctx context.Context, cfg *config.Config, dir string, dryRun bool) {
	processor, err := parser.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing document processor")
	}

	chunks, skipped, err := processor.ProcessDirectory(dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Error processing directory")
	}
	for _, s := range skipped {
		log.Warn().Err(s.Err).Str("file", s.Name).Msg("Skipped file")
	}
	if dryRun {
		helper.PrettyPrint(chunks)
		return
	}

	store := mustOpenStore(ctx, cfg)
	defer store.Close()

	ids, err := store.Add(ctx, chunks, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Error storing chunks")
	}
	log.Info().Int("chunks", len(ids)).Int("skipped", len(skipped)).Msg("Ingested directory")
}

func runQuery(ctx context.Context, cfg *config.Config, query string, useContext bool) {
	store := mustOpenStore(ctx, cfg)
	defer store.Close()

	embedder, err := embedding.NewOllamaEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	model, err := llmservice.NewOllamaModel(&cfg.ChatLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}

	svc := rag.NewService(store, embedder, model, cfg.RAG)
	resp, err := svc.Chat(ctx, rag.Request{
		Query:         query,
		UseContext:    useContext,
		MinSimilarity: cfg.RAG.MinSimilarity,
		Temperature:   *cfg.RAG.Temperature,
	}, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	fmt.Printf("Query:\n%s\n\n", query)
	fmt.Println("Sources:")
	for _, src := range resp.Sources {
		fmt.Printf("  %s (similarity %.3f)\n", src.Source, src.Similarity)
	}
	fmt.Printf("\nAssistant:\n%s\n\n", resp.Content)
}

func exportSnapshot(ctx context.Context, cfg *config.Config) {
	if cfg.Store.Backend != "chromem" {
		log.Fatal().Msg("Export is only supported for the chromem backend")
	}
	store := mustOpenChromem(cfg)
	defer store.Close()
	if err := store.Export(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error exporting collection")
	}
}

func mustOpenStore(ctx context.Context, cfg *config.Config) vectorstore.Store {
	embedder, err := embedding.NewOllamaEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	if cfg.Store.Backend == "postgres" {
		handle := db.Connect(cfg.Store.Postgres.DSN, cfg.Store.Postgres.Password, cfg.Store.Postgres.Debug)
		store, err := db.NewPGStore(ctx, handle, embedder.EmbedQuery)
		if err != nil {
			log.Fatal().Err(err).Msg("Error opening postgres store")
		}
		return store
	}
	return mustOpenChromem(cfg)
}

func mustOpenChromem(cfg *config.Config) *vectorstore.ChromemStore {
	embedder, err := embedding.NewOllamaEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	if err := helper.CreateFolder(cfg.Store.Path); err != nil {
		log.Fatal().Err(err).Msg("Error creating store folder")
	}
	store, err := vectorstore.NewChromemStore(cfg.Store.Path, cfg.Store.Collection, cfg.Store.Compress, cfg.Store.EncryptionKey, embedder.EmbedQuery)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating vector store")
	}
	return store
}
