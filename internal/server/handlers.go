package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/rs/zerolog/log"

	"docchat/internal/embedding"
	"docchat/internal/models"
	"docchat/internal/parser"
	"docchat/internal/segmenter"
)

type processRequest struct {
	DocumentID int64 `json:"document_id"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusInternalServerError, "Invalid request body")
		return
	}

	ctx := r.Context()
	doc, err := s.store.Document(ctx, req.DocumentID)
	if err != nil {
		log.Error().Err(err).Int64("document_id", req.DocumentID).Msg("Document lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to find uploaded document")
		return
	}
	if doc == nil || doc.StoragePath == "" {
		writeError(w, http.StatusInternalServerError, "Failed to find uploaded document")
		return
	}

	data, err := s.storage.Download(ctx, doc.StoragePath)
	if err != nil {
		log.Error().Err(err).Str("path", doc.StoragePath).Msg("Storage download failed")
		writeError(w, http.StatusInternalServerError, "Failed to download storage object")
		return
	}

	markdown, err := parser.ToMarkdown(doc.Name, data)
	if err != nil {
		log.Error().Err(err).Str("name", doc.Name).Msg("Document parsing failed")
		writeError(w, http.StatusInternalServerError, "Failed to parse document file")
		return
	}

	sections := segmenter.Segment(markdown)
	if err := s.store.StoreSections(ctx, req.DocumentID, sections); err != nil {
		log.Error().Err(err).Msg("Saving document sections failed")
		writeError(w, http.StatusInternalServerError, "Failed to save document sections")
		return
	}

	log.Info().Msgf("Saved %d sections for file '%s'", len(sections), doc.Name)
	w.WriteHeader(http.StatusNoContent)
}

type embedRequest struct {
	IDs             []int64 `json:"ids"`
	Table           string  `json:"table"`
	ContentColumn   string  `json:"contentColumn"`
	EmbeddingColumn string  `json:"embeddingColumn"`
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusInternalServerError, "Invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusInternalServerError, "No ids provided")
		return
	}
	for _, name := range []string{req.Table, req.ContentColumn, req.EmbeddingColumn} {
		if !identPattern.MatchString(name) {
			writeError(w, http.StatusInternalServerError, "Invalid table or column name")
			return
		}
	}

	ctx := r.Context()
	rows, err := s.store.RowsMissingEmbedding(ctx, req.Table, req.ContentColumn, req.EmbeddingColumn, req.IDs)
	if err != nil {
		log.Error().Err(err).Str("table", req.Table).Msg("Fetching rows failed")
		writeError(w, http.StatusInternalServerError, "Failed to fetch rows")
		return
	}

	// Per-row isolation: one bad row is logged and skipped, never aborts the
	// batch.
	for _, row := range rows {
		if row.Content == "" {
			log.Error().Msgf("No content in column '%s' for %s id %d", req.ContentColumn, req.Table, row.ID)
			continue
		}
		vec, err := embedding.Generate(ctx, s.embedder, row.Content, s.cfg.RAG.MaxInputChars)
		if err != nil || vec == nil {
			log.Error().Err(err).Msgf("Failed to generate embedding for %s id %d", req.Table, row.ID)
			continue
		}
		if err := s.store.UpdateEmbedding(ctx, req.Table, req.EmbeddingColumn, row.ID, vec); err != nil {
			log.Error().Err(err).Msgf("Failed to update %s id %d", req.Table, row.ID)
			continue
		}
		log.Info().Msgf("Generated embedding for %s id %d", req.Table, row.ID)
	}

	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Messages  []models.Message `json:"messages"`
	Embedding json.RawMessage  `json:"embedding"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusInternalServerError, "Invalid request body")
		return
	}

	queryEmbedding, err := decodeEmbedding(req.Embedding)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleSystem, models.RoleUser, models.RoleAssistant:
		default:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Invalid message role '%s'", msg.Role))
			return
		}
	}

	sw := &streamWriter{w: w}
	err = s.rag.Chat(r.Context(), queryEmbedding, req.Messages, sw.write)
	if err == nil {
		if !sw.started {
			// Empty completion: still answer with an (empty) stream.
			sw.start()
		}
		return
	}

	if sw.started {
		// Headers and part of the body are out; the stream just ends early.
		log.Error().Err(err).Msg("Chat stream ended early")
		return
	}

	var completionErr *models.CompletionError
	var modelErr *models.ModelUnavailableError
	switch {
	case errors.As(err, &completionErr):
		log.Error().Err(err).Msg("Completion request failed")
		writeError(w, http.StatusInternalServerError, "Error calling the language model: "+completionErr.Message)
	case errors.As(err, &modelErr):
		log.Error().Err(err).Msg("Language model unreachable")
		writeError(w, http.StatusInternalServerError, "Error calling the language model: "+modelErr.Error())
	default:
		log.Error().Err(err).Msg("Section search failed")
		writeError(w, http.StatusInternalServerError, "There was an error reading your documents, please try again.")
	}
}

// decodeEmbedding accepts the embedding either as a float array or as a
// JSON-encoded string of one, the two shapes frontends send.
func decodeEmbedding(raw json.RawMessage) ([]float32, error) {
	if len(raw) == 0 {
		return nil, errors.New("Missing embedding in request")
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err == nil {
		return vec, nil
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, errors.New("Embedding must be an array or a JSON-encoded string")
	}
	if err := json.Unmarshal([]byte(encoded), &vec); err != nil {
		return nil, errors.New("Invalid embedding string")
	}
	return vec, nil
}

// streamWriter relays completion chunks to the client as they arrive, one
// flush per chunk so the first byte is not held back.
type streamWriter struct {
	w       http.ResponseWriter
	started bool
}

func (s *streamWriter) start() {
	s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *streamWriter) write(chunk string) error {
	if !s.started {
		s.start()
	}
	if _, err := s.w.Write([]byte(chunk)); err != nil {
		return err
	}
	if fl, ok := s.w.(http.Flusher); ok {
		fl.Flush()
	}
	return nil
}
