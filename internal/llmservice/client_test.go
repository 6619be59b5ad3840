package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/config"
	"docchat/internal/models"
)

func sseChunk(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{"content": content}},
		},
	})
	return fmt.Sprintf("data: %s\n\n", payload)
}

func newTestClient(baseURL string) *Client {
	return NewClient(&config.LLMConfig{
		BaseURL:   baseURL,
		Key:       "test-key",
		Model:     "test-model",
		MaxTokens: 64,
	})
}

func collectChunks(t *testing.T, c *Client, messages []models.Message) ([]string, error) {
	t.Helper()
	var chunks []string
	err := c.StreamCompletion(context.Background(), messages, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	return chunks, err
}

func TestStreamCompletionRelaysChunksInOrder(t *testing.T) {
	var gotAuth string
	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("Hel"))
		fmt.Fprint(w, sseChunk("lo"))
		fmt.Fprint(w, sseChunk(" world"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	messages := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	chunks, err := collectChunks(t, newTestClient(srv.URL), messages)
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo", " world"}, chunks)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.True(t, gotReq.Stream)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, messages, gotReq.Messages)
}

func TestStreamCompletionFailsBeforeFirstChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"rate limited"}`)
	}))
	defer srv.Close()

	chunks, err := collectChunks(t, newTestClient(srv.URL), nil)
	assert.Empty(t, chunks)

	var completionErr *models.CompletionError
	require.True(t, errors.As(err, &completionErr))
	assert.Contains(t, completionErr.Message, "rate limited")
	assert.Contains(t, completionErr.Message, "429")
}

func TestStreamCompletionMidStreamCutEndsQuietly(t *testing.T) {
	// The upstream dies after one chunk without sending [DONE]; the caller
	// sees a short stream with no error marker, which is the wire contract.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("partial"))
	}))
	defer srv.Close()

	chunks, err := collectChunks(t, newTestClient(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"partial"}, chunks)
}

func TestStreamCompletionStopsWhenConsumerFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("one"))
		fmt.Fprint(w, sseChunk("two"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	consumerGone := errors.New("client disconnected")
	var seen []string
	err := newTestClient(srv.URL).StreamCompletion(context.Background(), nil, func(chunk string) error {
		seen = append(seen, chunk)
		return consumerGone
	})
	assert.ErrorIs(t, err, consumerGone)
	assert.Equal(t, []string{"one"}, seen)
}

func TestStreamCompletionIgnoresCommentsAndBlankLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, sseChunk("hello"))
		fmt.Fprint(w, "\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	chunks, err := collectChunks(t, newTestClient(srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, chunks)
}

func TestStreamCompletionModelUnreachable(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")

	_, err := collectChunks(t, c, nil)
	var modelErr *models.ModelUnavailableError
	require.True(t, errors.As(err, &modelErr))
}
