package db

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"docchat/internal/config"
	"docchat/internal/models"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            int64  `bun:"id,pk,autoincrement"`
	Name          string `bun:"name,notnull"`
	StoragePath   string `bun:"storage_object_path"`
}

type DocumentSection struct {
	bun.BaseModel `bun:"table:document_sections,alias:ds"`
	ID            int64     `bun:"id,pk,autoincrement"`
	DocumentID    int64     `bun:"document_id,notnull"`
	Position      int       `bun:"position,notnull"`
	Content       string    `bun:"content,notnull"`
	Embedding     []float32 `bun:"embedding,type:vector(768)"`
}

// Connect opens the Supabase Postgres connection. A full postgres:// DSN goes
// through lib/pq; a bare host DSN uses the pgdriver connector with the
// service key as password, matching how the hosted deployment provides
// credentials.
func Connect(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if strings.HasPrefix(cfg.URL, "postgres://") || strings.HasPrefix(cfg.URL, "postgresql://") {
		return sql.Open("postgres", cfg.URL)
	}
	dsn := cfg.URL + "?sslmode=disable"
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(cfg.Key))), nil
}

// Store persists documents and their sections in Postgres and answers
// threshold-filtered similarity searches over the pgvector column.
type Store struct {
	db *bun.DB
}

func NewStore(sqldb *sql.DB, debug bool) *Store {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return &models.UpstreamFetchError{Op: "create documents table", Err: err}
	}
	if _, err := s.db.NewCreateTable().Model((*DocumentSection)(nil)).IfNotExists().Exec(ctx); err != nil {
		return &models.UpstreamFetchError{Op: "create document_sections table", Err: err}
	}
	return nil
}

// Document looks up one document row. A missing row is returned as
// (nil, nil) so callers can distinguish "not found" from a query failure.
func (s *Store) Document(ctx context.Context, id int64) (*models.Document, error) {
	doc := new(Document)
	err := s.db.NewSelect().Model(doc).Where("d.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.UpstreamFetchError{Op: "fetch document", Err: err}
	}
	return &models.Document{ID: doc.ID, Name: doc.Name, StoragePath: doc.StoragePath}, nil
}

// StoreSections persists a document's sections as one transaction: either
// every section is stored or none is.
func (s *Store) StoreSections(ctx context.Context, documentID int64, sections []models.Section) error {
	if len(sections) == 0 {
		return nil
	}

	rows := make([]*DocumentSection, len(sections))
	for i, sec := range sections {
		rows[i] = &DocumentSection{
			DocumentID: documentID,
			Position:   sec.Position,
			Content:    sec.Content,
			Embedding:  sec.Embedding,
		}
	}

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		return &models.UpstreamFetchError{Op: "store document sections", Err: err}
	}
	return nil
}

// SearchSections returns up to limit sections whose cosine similarity to the
// query embedding is at least threshold, best first. Equal similarities fall
// back to insertion order so results are stable. An empty result is not an
// error.
func (s *Store) SearchSections(ctx context.Context, queryEmbedding []float32, threshold float64, limit int) ([]models.Match, error) {
	vec := VectorLiteral(queryEmbedding)

	var rows []struct {
		ID         int64   `bun:"id"`
		Content    string  `bun:"content"`
		Similarity float64 `bun:"similarity"`
	}
	err := s.db.NewSelect().
		Model((*DocumentSection)(nil)).
		ColumnExpr("ds.id").
		ColumnExpr("ds.content").
		ColumnExpr("1 - (ds.embedding <=> ?) AS similarity", vec).
		Where("ds.embedding IS NOT NULL").
		Where("1 - (ds.embedding <=> ?) >= ?", vec, threshold).
		OrderExpr("similarity DESC, ds.id ASC").
		Limit(limit).
		Scan(ctx, &rows)
	if err != nil {
		return nil, &models.UpstreamFetchError{Op: "search document sections", Err: err}
	}

	matches := make([]models.Match, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, models.Match{
			SectionID:  strconv.FormatInt(row.ID, 10),
			Content:    row.Content,
			Similarity: row.Similarity,
		})
	}
	return matches, nil
}

// EmbedRow is a row awaiting an embedding, fetched by the embed trigger.
type EmbedRow struct {
	ID      int64
	Content string
}

// RowsMissingEmbedding fetches the rows among ids whose embedding column is
// still NULL. Table and column names are caller-validated identifiers.
func (s *Store) RowsMissingEmbedding(ctx context.Context, table, contentColumn, embeddingColumn string, ids []int64) ([]EmbedRow, error) {
	var rows []struct {
		ID      int64  `bun:"id"`
		Content string `bun:"content"`
	}
	err := s.db.NewSelect().
		Table(table).
		ColumnExpr("id").
		ColumnExpr("? AS content", bun.Ident(contentColumn)).
		Where("id IN (?)", bun.In(ids)).
		Where("? IS NULL", bun.Ident(embeddingColumn)).
		OrderExpr("id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, &models.UpstreamFetchError{Op: "fetch rows for embedding", Err: err}
	}

	out := make([]EmbedRow, len(rows))
	for i, row := range rows {
		out[i] = EmbedRow{ID: row.ID, Content: row.Content}
	}
	return out, nil
}

// UpdateEmbedding writes one row's embedding back. Per-row by design: one
// failing row must not block the rest of the batch.
func (s *Store) UpdateEmbedding(ctx context.Context, table, embeddingColumn string, id int64, embedding []float32) error {
	_, err := s.db.NewUpdate().
		Table(table).
		Set("? = ?", bun.Ident(embeddingColumn), VectorLiteral(embedding)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return &models.UpstreamFetchError{Op: "update embedding", Err: err}
	}
	return nil
}

// VectorLiteral renders a float32 slice as a pgvector literal.
func VectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
