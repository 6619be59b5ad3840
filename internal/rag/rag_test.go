package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/config"
	"docchat/internal/models"
)

type fakeSearcher struct {
	matches   []models.Match
	err       error
	threshold float64
	limit     int
}

func (f *fakeSearcher) SearchSections(_ context.Context, _ []float32, threshold float64, limit int) ([]models.Match, error) {
	f.threshold = threshold
	f.limit = limit
	return f.matches, f.err
}

type fakeCompleter struct {
	prompt []models.Message
	chunks []string
	err    error
}

func (f *fakeCompleter) StreamCompletion(_ context.Context, messages []models.Message, onChunk func(string) error) error {
	f.prompt = messages
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

type fakeGenerator struct {
	prompt []models.Message
	answer string
}

func (f *fakeGenerator) Generate(_ context.Context, messages []models.Message) (string, error) {
	f.prompt = messages
	return f.answer, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

func TestBuildPromptWithMatches(t *testing.T) {
	matches := []models.Match{
		{Content: "First section", Similarity: 0.9},
		{Content: "Second section", Similarity: 0.7},
		{Content: "Third section", Similarity: 0.5},
	}
	history := []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi"},
		{Role: models.RoleUser, Content: "what do the docs say?"},
	}

	messages := BuildPrompt(matches, history)
	require.Len(t, messages, 4)

	system := messages[0]
	assert.Equal(t, models.RoleSystem, system.Role)
	joined := "First section\n\nSecond section\n\nThird section"
	assert.Contains(t, system.Content, joined)
	assert.Equal(t, fmt.Sprintf(models.RAGSystemPromptTemplate, joined), system.Content)

	assert.Equal(t, history, messages[1:])
}

func TestBuildPromptNoMatches(t *testing.T) {
	history := []models.Message{{Role: models.RoleUser, Content: "anything?"}}

	messages := BuildPrompt(nil, history)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleSystem, messages[0].Role)
	assert.Equal(t, models.NoDocumentsSystemPrompt, messages[0].Content)
	assert.Equal(t, history[0], messages[1])
}

func TestBuildPromptDoesNotMergeHistorySystemMessages(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleSystem, Content: "pre-existing"},
		{Role: models.RoleUser, Content: "hi"},
	}

	messages := BuildPrompt(nil, history)
	require.Len(t, messages, 3)
	assert.Equal(t, models.NoDocumentsSystemPrompt, messages[0].Content)
	assert.Equal(t, "pre-existing", messages[1].Content)
}

func TestChatPassesConfiguredThresholdAndLimit(t *testing.T) {
	searcher := &fakeSearcher{matches: []models.Match{{Content: "doc"}}}
	completer := &fakeCompleter{chunks: []string{"ok"}}
	r := NewRAG(searcher, fakeEmbedder{}, completer, &config.RAGConfig{MatchThreshold: 0.1, MatchCount: 5})

	err := r.Chat(context.Background(), []float32{1, 0, 0}, nil, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0.1, searcher.threshold)
	assert.Equal(t, 5, searcher.limit)
}

func TestChatFallsBackWhenNothingMatches(t *testing.T) {
	// A strict threshold against weak matches yields no sections; the prompt
	// must carry the fixed no-documents message, never a fabricated context.
	searcher := &fakeSearcher{matches: []models.Match{}}
	completer := &fakeCompleter{chunks: []string{"there are no documents"}}
	r := NewRAG(searcher, fakeEmbedder{}, completer, &config.RAGConfig{MatchThreshold: 0.9, MatchCount: 5})

	var got strings.Builder
	err := r.Chat(context.Background(), []float32{1, 0, 0}, []models.Message{{Role: models.RoleUser, Content: "hi"}}, func(c string) error {
		got.WriteString(c)
		return nil
	})
	require.NoError(t, err)

	require.NotEmpty(t, completer.prompt)
	assert.Equal(t, models.NoDocumentsSystemPrompt, completer.prompt[0].Content)
	assert.Equal(t, "there are no documents", got.String())
}

func TestChatPropagatesSearchError(t *testing.T) {
	searchErr := &models.UpstreamFetchError{Op: "search document sections", Err: errors.New("down")}
	searcher := &fakeSearcher{err: searchErr}
	r := NewRAG(searcher, fakeEmbedder{}, &fakeCompleter{}, &config.RAGConfig{MatchThreshold: 0.5, MatchCount: 5})

	err := r.Chat(context.Background(), []float32{1}, nil, func(string) error { return nil })
	var upstream *models.UpstreamFetchError
	require.True(t, errors.As(err, &upstream))
}

func TestAnswerGroundsOnMatches(t *testing.T) {
	searcher := &fakeSearcher{matches: []models.Match{
		{Content: "Go is a statically typed language.", Similarity: 0.8},
		{Content: "Gophers live in burrows.", Similarity: 0.6},
	}}
	gen := &fakeGenerator{answer: "It is statically typed."}
	r := NewRAG(searcher, fakeEmbedder{}, nil, &config.RAGConfig{MatchThreshold: 0.5, MatchCount: 5})

	resp, err := r.Answer(context.Background(), gen, "Is Go statically typed?")
	require.NoError(t, err)

	assert.Equal(t, "Is Go statically typed?", resp.Query)
	assert.Equal(t, "Go is a statically typed language.\n\nGophers live in burrows.", resp.Source)
	assert.Equal(t, "It is statically typed.", resp.Content)

	require.NotEmpty(t, gen.prompt)
	assert.Contains(t, gen.prompt[0].Content, "Go is a statically typed language.")
	assert.Equal(t, models.RoleUser, gen.prompt[len(gen.prompt)-1].Role)
}
