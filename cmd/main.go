package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"docchat/internal/chromemdb"
	"docchat/internal/config"
	"docchat/internal/db"
	"docchat/internal/embedding"
	"docchat/internal/helper"
	"docchat/internal/llmservice"
	"docchat/internal/models"
	"docchat/internal/parser"
	"docchat/internal/rag"
	"docchat/internal/segmenter"
	"docchat/internal/server"
	"docchat/internal/storage"
)

const (
	configFilePath = "./configs/config.yaml"
	localDBPath    = "./chromemdb"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Ingest a local document into the embedded store and exit")
	query := flag.String("query", "", "Answer a query against the embedded store and exit")
	dryRun := flag.Bool("dry-run", false, "Parse and print sections without storing")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *filePath != "" && *query != "" {
		log.Fatal().Msg("Provide either -file or -query, not both")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	ctx := context.Background()
	switch {
	case *filePath != "":
		ingestLocalFile(ctx, cfg, *filePath, *dryRun)
	case *query != "":
		answerLocalQuery(ctx, cfg, *query)
	default:
		serve(ctx, cfg)
	}
}

func serve(ctx context.Context, cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration incomplete")
	}

	sqldb, err := db.Connect(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	store := db.NewStore(sqldb, cfg.Database.Debug)
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	llm := llmservice.NewClient(&cfg.ChatLLM)
	ragService := rag.NewRAG(store, embedder, llm, &cfg.RAG)
	storageClient := storage.NewClient(&cfg.Storage)

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     server.NewServer(cfg, store, storageClient, embedder, ragService).Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Msgf("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func ingestLocalFile(ctx context.Context, cfg *config.Config, path string, dryRun bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msgf("Failed to read file: %s", path)
	}

	markdown, err := parser.ToMarkdown(filepath.Base(path), data)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing document")
	}

	sections := segmenter.Segment(markdown)
	log.Info().Msgf("Segmented '%s' into %d sections", path, len(sections))
	if dryRun {
		helper.PrettyPrint(sections)
		return
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	contents := make([]string, len(sections))
	for i, sec := range sections {
		contents[i] = sec.Content
	}
	results, skipped, err := embedding.GenerateBatch(ctx, embedder, contents, cfg.RAG.MaxInputChars)
	if err != nil {
		log.Fatal().Err(err).Msg("Error generating embeddings")
	}
	for _, i := range skipped {
		log.Warn().Msgf("Skipped empty section at position %d", i)
	}
	for _, res := range results {
		sections[res.Index].Embedding = res.Embedding
	}

	store, err := chromemdb.NewStore(localDBPath, false, embedFunc(embedder, cfg.RAG.MaxInputChars))
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector database")
	}

	documentID := time.Now().UnixNano()
	if err := store.StoreSections(ctx, documentID, sections); err != nil {
		log.Fatal().Err(err).Msg("Error storing sections")
	}
	log.Info().Msgf("Stored %d sections for file '%s'", len(sections), path)
}

func answerLocalQuery(ctx context.Context, cfg *config.Config, query string) {
	if cfg.ChatLLM.Key == "" {
		log.Fatal().Err(&models.ConfigError{Missing: []string{"chat_llm.key"}}).Msg("Configuration incomplete")
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	store, err := chromemdb.NewStore(localDBPath, false, embedFunc(embedder, cfg.RAG.MaxInputChars))
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector database")
	}

	ragService := rag.NewRAG(store, embedder, nil, &cfg.RAG)
	response, err := ragService.Answer(ctx, llmservice.NewClient(&cfg.ChatLLM), query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error answering query")
	}

	fmt.Printf("Query:\n%s\n\n", response.Query)
	fmt.Printf("Sources:\n%s\n\n", response.Source)
	fmt.Printf("Assistant:\n%s\n", response.Content)
}

func embedFunc(embedder embeddings.Embedder, maxChars int) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedding.Generate(ctx, embedder, text, maxChars)
	}
}
