// Package lexical implements keyword search over the fragment corpus using
// SQLite FTS5.
package lexical

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragline/internal/deps"
	"github.com/a-marczewski/ragline/internal/storage"
)

// Fragment is one unit of indexed text.
type Fragment struct {
	ID       string
	Source   string
	Text     string
	Metadata map[string]any
}

// Index performs bm25-ranked keyword search over the fragments table.
type Index struct {
	db     *storage.DB
	logger *zap.Logger
}

// NewIndex binds the index to an opened database.
func NewIndex(db *storage.DB, logger *zap.Logger) *Index {
	return &Index{db: db, logger: logger}
}

// Search runs a keyword query and returns up to k hits ordered by bm25 rank.
// Scores are negated bm25 so that higher means more relevant. The only
// supported filter is "source".
func (i *Index) Search(ctx context.Context, text string, k int, filters map[string]string) ([]deps.SearchHit, error) {
	// Sanitize the search term to prevent FTS query syntax errors.
	text = strings.ReplaceAll(text, "\"", "")
	terms := strings.Fields(text)
	if len(terms) == 0 {
		return nil, nil
	}
	ftsQuery := strings.Join(terms, " OR ")

	query := `
		SELECT f.fragment_id, f.source, f.text, f.metadata, bm25(fragments_fts) AS rank
		FROM fragments f
		JOIN fragments_fts ON f.id = fragments_fts.rowid
		WHERE fragments_fts MATCH ?
	`
	args := []any{ftsQuery}

	if source, ok := filters["source"]; ok && source != "" {
		query += " AND f.source = ?"
		args = append(args, source)
	}

	query += " ORDER BY rank LIMIT ?"
	args = append(args, k)

	rows, err := i.db.GetConnection().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var hits []deps.SearchHit
	for rows.Next() {
		var hit deps.SearchHit
		var metadata sql.NullString
		var rank float64

		if err := rows.Scan(&hit.ID, &hit.Source, &hit.Text, &metadata, &rank); err != nil {
			return nil, err
		}

		// bm25 ranks ascending with more negative meaning better.
		hit.Score = -rank
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &hit.Metadata); err != nil && i.logger != nil {
				i.logger.Warn("bad fragment metadata", zap.String("fragment_id", hit.ID), zap.Error(err))
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if i.logger != nil {
		i.logger.Debug("lexical search complete",
			zap.Int("requested", k),
			zap.Int("returned", len(hits)),
		)
	}
	return hits, nil
}

// Upsert inserts or replaces a fragment by its external ID.
func (i *Index) Upsert(ctx context.Context, f Fragment) error {
	var metadata any
	if len(f.Metadata) > 0 {
		b, err := json.Marshal(f.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(b)
	}

	_, err := i.db.GetConnection().ExecContext(ctx, `
		INSERT INTO fragments (fragment_id, source, text, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fragment_id) DO UPDATE SET
			source = excluded.source,
			text = excluded.text,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, f.ID, f.Source, f.Text, metadata)
	if err != nil {
		return fmt.Errorf("upsert fragment: %w", err)
	}
	return nil
}

// Count returns the number of indexed fragments.
func (i *Index) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := i.db.GetConnection().QueryRowContext(ctx, "SELECT COUNT(*) FROM fragments").Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
