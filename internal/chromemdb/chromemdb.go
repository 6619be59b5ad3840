package chromemdb

import (
	"context"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"

	"docchat/internal/helper"
	"docchat/internal/models"
)

const collectionName = "document_sections"

// Store is an embedded vector store backing the local CLI mode and tests.
// It exposes the same write/search surface as the Postgres store.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewStore opens an in-memory or persistent chromem database. embedFunc is
// only consulted for documents added without a precomputed embedding.
func NewStore(path string, inMemory bool, embedFunc chromem.EmbeddingFunc) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, &models.UpstreamFetchError{Op: "open vector database", Err: err}
		}
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, embedFunc)
	if err != nil {
		return nil, &models.UpstreamFetchError{Op: "open collection", Err: err}
	}
	return &Store{db: db, collection: collection}, nil
}

// StoreSections writes a document's sections one at a time. chromem has no
// multi-document transaction, so a failure partway through is reported as
// PartialWriteError with the count already written.
func (s *Store) StoreSections(ctx context.Context, documentID int64, sections []models.Section) error {
	for i, sec := range sections {
		id, err := helper.GenerateUUID()
		if err != nil {
			return err
		}
		doc := chromem.Document{
			ID:      id,
			Content: sec.Content,
			Metadata: map[string]string{
				"document_id": strconv.FormatInt(documentID, 10),
				"position":    strconv.Itoa(sec.Position),
			},
			Embedding: sec.Embedding,
		}
		if err := s.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
			if i > 0 {
				return &models.PartialWriteError{Written: i, Total: len(sections), Err: err}
			}
			return &models.UpstreamFetchError{Op: "store document sections", Err: err}
		}
	}
	return nil
}

// SearchSections performs a threshold-filtered nearest-neighbor query.
// Results come back ordered by descending similarity with insertion order
// breaking ties; no match above threshold is an empty, non-error result.
func (s *Store) SearchSections(ctx context.Context, queryEmbedding []float32, threshold float64, limit int) ([]models.Match, error) {
	n := limit
	if count := s.collection.Count(); count < n {
		n = count
	}
	if n == 0 {
		return []models.Match{}, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, queryEmbedding, n, nil, nil)
	if err != nil {
		return nil, &models.UpstreamFetchError{Op: "search document sections", Err: err}
	}

	// chromem orders equal similarities arbitrarily, so the stored metadata
	// supplies the insertion-order tie-break.
	type scoredMatch struct {
		models.Match
		documentID int64
		position   int64
	}
	matches := make([]scoredMatch, 0, len(results))
	for _, res := range results {
		if float64(res.Similarity) < threshold {
			continue
		}
		matches = append(matches, scoredMatch{
			Match: models.Match{
				SectionID:  res.ID,
				Content:    res.Content,
				Similarity: float64(res.Similarity),
			},
			documentID: parseMetaInt(res.Metadata["document_id"]),
			position:   parseMetaInt(res.Metadata["position"]),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if matches[i].documentID != matches[j].documentID {
			return matches[i].documentID < matches[j].documentID
		}
		return matches[i].position < matches[j].position
	})

	out := make([]models.Match, len(matches))
	for i, m := range matches {
		out[i] = m.Match
	}
	return out, nil
}

func parseMetaInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
