package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"ckg/internal/entity"
)

// encodeVector packs a float32 vector into a little-endian blob.
func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// decodeVector unpacks a stored vector blob.
func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("malformed vector blob: %d bytes", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// UpsertEmbedding stores a vector for an entity under a model tag,
// clearing any stale mark.
func (s *Store) UpsertEmbedding(ctx context.Context, entityID, model string, vec []float32) error {
	_, err := s.db.Exec(ctx, `
		INSERT OR REPLACE INTO embeddings (entity_id, model, dim, vector, stale, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		entityID, model, len(vec), encodeVector(vec), time.Now().UTC().Format(time.RFC3339))
	return err
}

// LoadEmbeddings returns all fresh vectors for a model, keyed by entity id.
// Index warm start reads this once at boot.
func (s *Store) LoadEmbeddings(ctx context.Context, model string) (map[string][]float32, error) {
	rows, err := s.db.Query(ctx,
		`SELECT entity_id, vector FROM embeddings WHERE model = ? AND stale = 0`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		out[id] = vec
	}
	return out, rows.Err()
}

// PendingEmbeddings returns declarations that lack a fresh vector for the
// model: never embedded, re-ingested since, or explicitly marked stale.
// The indexer drains this set in the background.
func (s *Store) PendingEmbeddings(ctx context.Context, model string, limit int) ([]entity.Entity, error) {
	if limit <= 0 {
		limit = 256
	}
	q := `SELECT ` + prefixColumns("e") + ` FROM entities e
		LEFT JOIN embeddings em ON em.entity_id = e.id AND em.model = ? AND em.stale = 0
		WHERE e.kind IN ('class', 'function', 'method') AND em.entity_id IS NULL
		ORDER BY e.path, e.start_line
		LIMIT ?`
	rows, err := s.db.Query(ctx, q, model, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// CountPendingEmbeddings reports how many declarations still lack a fresh
// vector for the model. Status surfaces this as the indexing backlog.
func (s *Store) CountPendingEmbeddings(ctx context.Context, model string) (int, error) {
	q := `SELECT COUNT(*) FROM entities e
		LEFT JOIN embeddings em ON em.entity_id = e.id AND em.model = ? AND em.stale = 0
		WHERE e.kind IN ('class', 'function', 'method') AND em.entity_id IS NULL`
	var n int
	err := s.db.QueryRow(ctx, q, model).Scan(&n)
	return n, err
}

// MarkAllEmbeddingsStale invalidates every vector for a model. Used when
// reindexing from scratch.
func (s *Store) MarkAllEmbeddingsStale(ctx context.Context, model string) error {
	_, err := s.db.Exec(ctx, `UPDATE embeddings SET stale = 1 WHERE model = ?`, model)
	return err
}

// MarkEmbeddingsStale invalidates vectors for specific entities.
func (s *Store) MarkEmbeddingsStale(ctx context.Context, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	q := `UPDATE embeddings SET stale = 1 WHERE entity_id IN (` + placeholders(len(entityIDs)) + `)`
	_, err := s.db.Exec(ctx, q, toArgs(entityIDs)...)
	return err
}
