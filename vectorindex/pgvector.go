package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"
)

// pgvectorIndex is the Postgres-backed Index, storing one row per place in
// a `place_embedding(place_id, embedding, model)` table and ranking with
// pgvector's `<=>` cosine-distance operator.
type pgvectorIndex struct {
	db    *sql.DB
	model string
}

// NewPostgresIndex constructs an Index against an existing place_embedding
// table. Callers run the accompanying migration (see Migrate) once at
// bootstrap.
func NewPostgresIndex(db *sql.DB, model string) Index {
	return &pgvectorIndex{db: db, model: model}
}

// Migrate creates the place_embedding table and its ivfflat index if
// missing. Requires the pgvector extension to already be installed in the
// target database.
func Migrate(ctx context.Context, db *sql.DB, dimensions int) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS place_embedding (
			place_id TEXT NOT NULL,
			model TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (place_id, model)
		)`, dimensions),
		"CREATE INDEX IF NOT EXISTS place_embedding_ivfflat ON place_embedding USING ivfflat (embedding vector_cosine_ops)",
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("vectorindex migrate: %w", err)
		}
	}
	return nil
}

func (p *pgvectorIndex) Upsert(ctx context.Context, placeID string, vector []float32) error {
	stmt := `
		INSERT INTO place_embedding (place_id, model, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (place_id, model)
		DO UPDATE SET embedding = EXCLUDED.embedding
	`
	_, err := p.db.ExecContext(ctx, stmt, placeID, p.model, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("vectorindex upsert: %w", err)
	}
	return nil
}

func (p *pgvectorIndex) Search(ctx context.Context, queryVector []float32, k int, filter *Filter) ([]Result, error) {
	if k <= 0 {
		k = 10
	}

	where := []string{"model = $1"}
	args := []any{p.model}
	argIdx := 2

	if filter != nil && len(filter.PlaceIDs) > 0 {
		placeholders := make([]string, len(filter.PlaceIDs))
		for i, id := range filter.PlaceIDs {
			placeholders[i] = "$" + strconv.Itoa(argIdx)
			args = append(args, id)
			argIdx++
		}
		where = append(where, "place_id IN ("+strings.Join(placeholders, ",")+")")
	}

	vector := pgvector.NewVector(queryVector)
	query := fmt.Sprintf(`
		SELECT place_id, 1 - (embedding <=> $%d) AS score
		FROM place_embedding
		WHERE %s
		ORDER BY embedding <=> $%d
		LIMIT $%d
	`, argIdx, strings.Join(where, " AND "), argIdx+1, argIdx+2)
	args = append(args, vector, vector, k)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorindex search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.PlaceID, &r.Similarity); err != nil {
			return nil, fmt.Errorf("vectorindex scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
