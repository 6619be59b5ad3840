package embedding

import (
	"context"
	"math"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docchat/internal/config"
	"docchat/internal/models"
)

// defaultMaxInputChars bounds a single embedding input when the config leaves
// rag.max_input_chars unset; longer text is cut at a word boundary before
// being sent to the model.
const defaultMaxInputChars = 4000

// NewEmbedder builds an embedder for the configured provider: "ollama" for a
// local inference server, anything else is treated as an OpenAI-compatible
// endpoint.
func NewEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	if cfg.Provider == "ollama" {
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, err
		}
		return embeddings.NewEmbedder(llm)
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}

// Generate embeds a single text and returns the L2-normalized vector, so
// cosine similarity against other normalized vectors reduces to a dot
// product. A model failure is reported as ModelUnavailableError and no
// vector is returned.
func Generate(ctx context.Context, embedder embeddings.Embedder, text string, maxChars int) ([]float32, error) {
	if maxChars <= 0 {
		maxChars = defaultMaxInputChars
	}
	chunks := chunkContent(text, maxChars)
	if len(chunks) == 0 {
		return nil, nil
	}

	vec, err := embedder.EmbedQuery(ctx, chunks[0])
	if err != nil {
		return nil, &models.ModelUnavailableError{Model: "embedding", Err: err}
	}
	return Normalize(vec), nil
}

// BatchResult carries one embedding together with the index of the input it
// was computed from, so skipped inputs can never misalign the outputs.
type BatchResult struct {
	Index     int
	Embedding []float32
}

// GenerateBatch embeds every non-blank input, preserving input order. Blank
// inputs are skipped and their indices reported explicitly rather than being
// silently dropped from the output positions.
func GenerateBatch(ctx context.Context, embedder embeddings.Embedder, texts []string, maxChars int) ([]BatchResult, []int, error) {
	if maxChars <= 0 {
		maxChars = defaultMaxInputChars
	}
	var (
		indices []int
		skipped []int
		inputs  []string
	)
	for i, t := range texts {
		chunks := chunkContent(t, maxChars)
		if len(chunks) == 0 {
			skipped = append(skipped, i)
			continue
		}
		indices = append(indices, i)
		inputs = append(inputs, chunks[0])
	}

	if len(inputs) == 0 {
		return nil, skipped, nil
	}

	vecs, err := embedder.EmbedDocuments(ctx, inputs)
	if err != nil {
		return nil, skipped, &models.ModelUnavailableError{Model: "embedding", Err: err}
	}

	results := make([]BatchResult, len(vecs))
	for i, vec := range vecs {
		results[i] = BatchResult{Index: indices[i], Embedding: Normalize(vec)}
	}
	return results, skipped, nil
}

// Normalize scales a vector to unit L2 norm. A zero vector is returned as is.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// chunkContent splits content into word-boundary chunks of at most maxChars.
// Only the first chunk is embedded; the rest exist so callers could extend to
// multi-chunk inputs without re-splitting.
func chunkContent(content string, maxChars int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var chunks []string
	words := strings.Split(content, " ")
	var chunk strings.Builder
	for _, word := range words {
		if chunk.Len()+len(word)+1 > maxChars && chunk.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(chunk.String()))
			chunk.Reset()
		}
		chunk.WriteString(word + " ")
	}
	if chunk.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(chunk.String()))
	}
	return chunks
}
