package knowledge

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	metaEmbedder  = "embedder"
	metaDimension = "dimension"
)

// Save writes the index into db. Rows that already exist are left alone, so
// saving an updated index only inserts the appended entries.
func (idx *Index) Save(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO index_entries
			(seq, id, kind, case_path, path, solver, domain, category, metadata, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range idx.Entries {
		e := &idx.Entries[i]
		meta, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", e.ID, err)
		}
		blob, err := encodeVector(e.Embedding)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.Seq, e.ID, string(e.Kind), e.Meta.Case, e.Meta.Path,
			e.Meta.Solver, e.Meta.Domain, e.Meta.Category, string(meta), e.Content, blob); err != nil {
			return fmt.Errorf("failed to insert %s: %w", e.ID, err)
		}
	}

	for k, v := range map[string]string{
		metaEmbedder:  idx.Embedder,
		metaDimension: strconv.Itoa(idx.Dimension),
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("failed to write index meta: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

// LoadIndex reads the persisted index in sequence order. An empty database
// yields an empty index.
func LoadIndex(ctx context.Context, db *sql.DB) (*Index, error) {
	meta := map[string]string{}
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		return nil, fmt.Errorf("failed to read index meta: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, err
		}
		meta[k] = v
	}
	rows.Close()
	dim, _ := strconv.Atoi(meta[metaDimension])

	rows, err = db.QueryContext(ctx, `
		SELECT seq, id, kind, metadata, content, embedding
		FROM index_entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to read index entries: %w", err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var kind, metaJSON string
		var blob []byte
		if err := rows.Scan(&e.Seq, &e.ID, &kind, &metaJSON, &e.Content, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan index entry: %w", err)
		}
		e.Kind = EntryKind(kind)
		if err := json.Unmarshal([]byte(metaJSON), &e.Meta); err != nil {
			return nil, fmt.Errorf("corrupt metadata for %s: %w", e.ID, err)
		}
		if e.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("corrupt embedding for %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewIndex(entries, meta[metaEmbedder], dim), nil
}

func encodeVector(v []float32) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("failed to encode embedding: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &v); err != nil {
		return nil, err
	}
	return v, nil
}
