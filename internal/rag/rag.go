package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"

	"docchat/internal/config"
	"docchat/internal/embedding"
	"docchat/internal/models"
)

// Searcher answers threshold-filtered similarity queries over stored
// sections. Implemented by both the Postgres and the embedded store.
type Searcher interface {
	SearchSections(ctx context.Context, queryEmbedding []float32, threshold float64, limit int) ([]models.Match, error)
}

// Completer streams a chat completion chunk by chunk.
type Completer interface {
	StreamCompletion(ctx context.Context, messages []models.Message, onChunk func(chunk string) error) error
}

// Generator produces a whole completion at once, for the local query mode.
type Generator interface {
	Generate(ctx context.Context, messages []models.Message) (string, error)
}

// BuildPrompt assembles the completion messages: exactly one synthetic system
// message followed by the history unchanged. With matches, their contents are
// joined in the given (similarity-descending) order into the instructional
// template; without any, a fixed fallback tells the assistant to say no
// documents were found rather than fabricate an answer. Pre-existing system
// messages in the history are left alone, a known simplification.
func BuildPrompt(matches []models.Match, history []models.Message) []models.Message {
	system := models.Message{Role: models.RoleSystem, Content: models.NoDocumentsSystemPrompt}
	if len(matches) > 0 {
		contents := make([]string, len(matches))
		for i, m := range matches {
			contents[i] = m.Content
		}
		system.Content = fmt.Sprintf(models.RAGSystemPromptTemplate, strings.Join(contents, models.SectionSeparator))
	}

	messages := make([]models.Message, 0, len(history)+1)
	messages = append(messages, system)
	messages = append(messages, history...)
	return messages
}

// RAG wires search, prompt assembly and completion together.
type RAG struct {
	store    Searcher
	embedder embeddings.Embedder
	llm      Completer
	cfg      *config.RAGConfig
}

func NewRAG(store Searcher, embedder embeddings.Embedder, llm Completer, cfg *config.RAGConfig) *RAG {
	return &RAG{store: store, embedder: embedder, llm: llm, cfg: cfg}
}

// Chat retrieves sections for the pre-computed query embedding, builds the
// prompt around the history and streams the completion through onChunk.
func (r *RAG) Chat(ctx context.Context, queryEmbedding []float32, history []models.Message, onChunk func(chunk string) error) error {
	matches, err := r.store.SearchSections(ctx, queryEmbedding, r.cfg.MatchThreshold, r.cfg.MatchCount)
	if err != nil {
		return err
	}
	return r.llm.StreamCompletion(ctx, BuildPrompt(matches, history), onChunk)
}

// Answer runs the local, non-streaming path: embed the query text, retrieve,
// complete. It returns the answer together with the sections it was grounded
// on.
func (r *RAG) Answer(ctx context.Context, gen Generator, query string) (*models.PromptResponse, error) {
	queryEmbedding, err := embedding.Generate(ctx, r.embedder, query, r.cfg.MaxInputChars)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.SearchSections(ctx, queryEmbedding, r.cfg.MatchThreshold, r.cfg.MatchCount)
	if err != nil {
		return nil, err
	}

	history := []models.Message{{Role: models.RoleUser, Content: query}}
	answer, err := gen.Generate(ctx, BuildPrompt(matches, history))
	if err != nil {
		return nil, err
	}

	sources := make([]string, len(matches))
	for i, m := range matches {
		sources[i] = m.Content
	}
	return &models.PromptResponse{
		Query:   query,
		Source:  strings.Join(sources, models.SectionSeparator),
		Content: answer,
	}, nil
}
