package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/fault"
)

// Postgres implements Store on a pgx connection pool. The lexical side of
// HybridSearch runs on a generated tsvector; embeddings live in a pgvector
// column. Vector-ranked retrieval is layered on by Hybrid.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects a pool, registers the pgvector codecs and pings.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("postgres connected")
	return &Postgres{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Postgres) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("migration applied", zap.String("file", f))
	}
	return nil
}

// Ping checks pool health.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Postgres) Close() {
	s.db.Close()
}

const docColumns = "id, collection, owner_id, doc_key, body, content, embedding, revision, created_at, updated_at, expires_at"

func scanDoc(row pgx.Row) (*Document, error) {
	var d Document
	var body []byte
	var emb *pgvector.Vector
	err := row.Scan(&d.ID, &d.Collection, &d.OwnerID, &d.Key, &body, &d.Text,
		&emb, &d.Revision, &d.CreatedAt, &d.UpdatedAt, &d.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &d.Body); err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
	}
	if emb != nil {
		d.Embedding = emb.Slice()
	}
	return &d, nil
}

func embParam(embedding []float32) interface{} {
	if len(embedding) == 0 {
		return nil
	}
	v := pgvector.NewVector(embedding)
	return v
}

func (s *Postgres) Insert(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO documents (id, collection, owner_id, doc_key, body, content, embedding, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING revision, created_at, updated_at`,
		doc.ID, doc.Collection, doc.OwnerID, doc.Key, body, doc.Text,
		embParam(doc.Embedding), doc.ExpiresAt,
	).Scan(&doc.Revision, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Postgres) Upsert(ctx context.Context, doc *Document) (*Document, error) {
	if doc.Key == "" {
		return nil, fault.Validation("upsert requires a document key")
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO documents (id, collection, owner_id, doc_key, body, content, embedding, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (collection, owner_id, doc_key) WHERE doc_key <> ''
		DO UPDATE SET
			body = EXCLUDED.body,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			expires_at = EXCLUDED.expires_at,
			updated_at = now(),
			revision = documents.revision + 1
		RETURNING `+docColumns,
		doc.ID, doc.Collection, doc.OwnerID, doc.Key, body, doc.Text,
		embParam(doc.Embedding), doc.ExpiresAt)
	stored, err := scanDoc(row)
	if err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	return stored, nil
}

func (s *Postgres) Update(ctx context.Context, doc *Document) error {
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE documents SET
			body = $1, content = $2, embedding = $3, expires_at = $4,
			updated_at = now(), revision = revision + 1
		WHERE id = $5 AND revision = $6`,
		body, doc.Text, embParam(doc.Embedding), doc.ExpiresAt, doc.ID, doc.Revision)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row is gone or a concurrent writer bumped the
		// revision; distinguish so callers can retry conflicts.
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, doc.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if exists {
			return fault.ErrConflict
		}
		return fault.ErrNotFound
	}
	doc.Revision++
	return nil
}

func (s *Postgres) Get(ctx context.Context, collection, owner, key string) (*Document, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+docColumns+` FROM documents
		WHERE collection = $1 AND owner_id = $2 AND doc_key = $3`,
		collection, owner, key)
	doc, err := scanDoc(row)
	if err == pgx.ErrNoRows {
		return nil, fault.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// whereClause builds the WHERE fragment and args for a filter.
func whereClause(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Collection != "" {
		conds = append(conds, "collection = "+arg(f.Collection))
	}
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = "+arg(f.OwnerID))
	}
	if f.Key != "" {
		conds = append(conds, "doc_key = "+arg(f.Key))
	}
	if len(f.IDs) > 0 {
		conds = append(conds, "id = ANY("+arg(f.IDs)+")")
	}
	for k, v := range f.Equals {
		conds = append(conds, "body->>"+arg(k)+" = "+arg(fmt.Sprintf("%v", v)))
	}
	if f.After != nil {
		conds = append(conds, "created_at > "+arg(*f.After))
	}
	if f.Before != nil {
		conds = append(conds, "created_at < "+arg(*f.Before))
	}
	if f.ExpiresBefore != nil {
		conds = append(conds, "expires_at IS NOT NULL AND expires_at < "+arg(*f.ExpiresBefore))
	}
	if len(conds) == 0 {
		return "TRUE", args
	}
	return strings.Join(conds, " AND "), args
}

func (s *Postgres) Find(ctx context.Context, f Filter, srt Sort, limit int) ([]*Document, error) {
	where, args := whereClause(f)
	order := "created_at ASC"
	if srt.CreatedDesc {
		order = "created_at DESC"
	}
	query := "SELECT " + docColumns + " FROM documents WHERE " + where + " ORDER BY " + order
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Postgres) Delete(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f)
	tag, err := s.db.Exec(ctx, "DELETE FROM documents WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// lexicalSearch returns the tsvector-ranked list, scores normalized to the
// best hit.
func (s *Postgres) lexicalSearch(ctx context.Context, q SearchQuery) ([]scored, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+docColumns+`,
			ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
		FROM documents
		WHERE collection = $2 AND owner_id = $3
			AND to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC, created_at DESC
		LIMIT $4`,
		q.Text, q.Collection, q.OwnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var list []scored
	for rows.Next() {
		var d Document
		var body []byte
		var emb *pgvector.Vector
		var rank float32
		err := rows.Scan(&d.ID, &d.Collection, &d.OwnerID, &d.Key, &body, &d.Text,
			&emb, &d.Revision, &d.CreatedAt, &d.UpdatedAt, &d.ExpiresAt, &rank)
		if err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &d.Body); err != nil {
				return nil, fmt.Errorf("decode body: %w", err)
			}
		}
		if emb != nil {
			d.Embedding = emb.Slice()
		}
		list = append(list, scored{doc: &d, score: float64(rank)})
	}
	return normalize(list), rows.Err()
}

// HybridSearch on bare Postgres is lexical-only; the Hybrid wrapper adds
// the vector-ranked list.
func (s *Postgres) HybridSearch(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	lexical, err := s.lexicalSearch(ctx, q)
	if err != nil {
		return nil, err
	}
	vecW, lexW := q.weights()
	return fuse(lexical, nil, lexW, vecW, q.Limit), nil
}
