package vectorindex

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PGVector keeps chunk vectors in a Postgres table using the vector extension.
type PGVector struct {
	pool  *pgxpool.Pool
	table string
}

func NewPGVector(ctx context.Context, dsn, table string) (*PGVector, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid pgvector table name %q", table)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres failed: %w", err)
	}
	return &PGVector{pool: pool, table: table}, nil
}

func (p *PGVector) Close() {
	p.pool.Close()
}

func (p *PGVector) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: %d", ErrDimensionMismatch, dimension)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id   TEXT PRIMARY KEY,
			source_id  TEXT NOT NULL,
			section_id TEXT NOT NULL,
			language   TEXT NOT NULL,
			ordinal    INT  NOT NULL,
			embedding  vector(%d) NOT NULL
		)`, p.table, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_language_idx ON %s (language)`, p.table, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_idx ON %s (source_id)`, p.table, p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("prepare pgvector table failed: %w", err)
		}
	}
	return nil
}

func (p *PGVector) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := validatePoints(points, len(points[0].Vector)); err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (chunk_id, source_id, section_id, language, ordinal, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chunk_id) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			section_id = EXCLUDED.section_id,
			language = EXCLUDED.language,
			ordinal = EXCLUDED.ordinal,
			embedding = EXCLUDED.embedding`, p.table)

	batch := &pgx.Batch{}
	for _, pt := range points {
		batch.Queue(query, pt.ChunkID, pt.Metadata.SourceID, pt.Metadata.SectionID,
			pt.Metadata.Language, pt.Metadata.Ordinal, pgvector.NewVector(pt.Vector))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert pgvector points failed: %w", err)
	}
	return nil
}

func (p *PGVector) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE chunk_id = ANY($1)`, p.table)
	if _, err := p.pool.Exec(ctx, query, chunkIDs); err != nil {
		return fmt.Errorf("delete pgvector points failed: %w", err)
	}
	return nil
}

func (p *PGVector) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	args := []any{pgvector.NewVector(vector)}
	var where []string
	if filter.Language != "" {
		args = append(args, filter.Language)
		where = append(where, fmt.Sprintf("language = $%d", len(args)))
	}
	if len(filter.IncludeSources) > 0 {
		args = append(args, filter.IncludeSources)
		where = append(where, fmt.Sprintf("source_id = ANY($%d)", len(args)))
	}
	if len(filter.ExcludeSources) > 0 {
		args = append(args, filter.ExcludeSources)
		where = append(where, fmt.Sprintf("NOT (source_id = ANY($%d))", len(args)))
	}
	args = append(args, k)

	query := fmt.Sprintf(`SELECT chunk_id, source_id, section_id, language, ordinal, 1 - (embedding <=> $1) AS score
		FROM %s`, p.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1, chunk_id LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search pgvector failed: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.Metadata.SourceID, &h.Metadata.SectionID,
			&h.Metadata.Language, &h.Metadata.Ordinal, &h.Score); err != nil {
			return nil, fmt.Errorf("scan pgvector row failed: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pgvector rows failed: %w", err)
	}
	return hits, nil
}

func (p *PGVector) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
