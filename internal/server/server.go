package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"docchat/internal/config"
	"docchat/internal/db"
	"docchat/internal/models"
	"docchat/internal/rag"
)

// Store is the persistence surface the triggers need.
type Store interface {
	Document(ctx context.Context, id int64) (*models.Document, error)
	StoreSections(ctx context.Context, documentID int64, sections []models.Section) error
	SearchSections(ctx context.Context, queryEmbedding []float32, threshold float64, limit int) ([]models.Match, error)
	RowsMissingEmbedding(ctx context.Context, table, contentColumn, embeddingColumn string, ids []int64) ([]db.EmbedRow, error)
	UpdateEmbedding(ctx context.Context, table, embeddingColumn string, id int64, embedding []float32) error
}

// ObjectDownloader fetches uploaded files from object storage.
type ObjectDownloader interface {
	Download(ctx context.Context, objectPath string) ([]byte, error)
}

type Server struct {
	cfg      *config.Config
	store    Store
	storage  ObjectDownloader
	embedder embeddings.Embedder
	rag      *rag.RAG
}

func NewServer(cfg *config.Config, store Store, storage ObjectDownloader, embedder embeddings.Embedder, ragService *rag.RAG) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		storage:  storage,
		embedder: embedder,
		rag:      ragService,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(requestLogger)
	r.Use(corsHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/process", s.handleProcess)
	r.Post("/embed", s.handleEmbed)
	r.Post("/chat", s.handleChat)

	return r
}

// corsHeaders mirrors the hosted functions: any origin, the exact request
// headers browsers send through the Supabase client, and an OPTIONS
// short-circuit answering preflight with a bare 200 "ok".
func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// writeError emits the structured JSON error shape every trigger uses.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
