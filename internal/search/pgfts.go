package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across jokes and sources using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Jokes sub-query
	if q.FilterType == "" || q.FilterType == ResultJoke {
		jokeWhere := "j.fts @@ " + tsQuery
		if q.PublicOnly {
			jokeWhere += " AND j.status = 'published'"
		}
		if q.FilterCategory != "" {
			jokeWhere += fmt.Sprintf(" AND j.categories @> to_jsonb(ARRAY[$%d::text])", argN)
			args = append(args, q.FilterCategory)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'joke'::text AS type, j.id, j.title,
				ts_headline('english', j.search_text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				j.source_id, j.status,
				ts_rank(j.fts, %s) AS rank
			FROM jokes j
			WHERE %s`, tsQuery, tsQuery, jokeWhere))
	}

	// Sources sub-query
	if q.FilterType == "" || q.FilterType == ResultSource {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'source'::text AS type, s.id, s.title,
				ts_headline('english', coalesce(s.publication, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.id AS source_id, ''::text AS status,
				ts_rank(s.fts, %s) AS rank
			FROM sources s
			WHERE s.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, source_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.SourceID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]JokeRecord, []SourceRecord, error) {
	jokeRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, search_text, source_id, status, categories
		FROM jokes
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load jokes: %w", err)
	}
	defer jokeRows.Close()

	jokes := make([]JokeRecord, 0)
	for jokeRows.Next() {
		var (
			j             JokeRecord
			categoriesRaw []byte
		)
		if err := jokeRows.Scan(&j.ID, &j.Title, &j.Text, &j.SourceID, &j.Status, &categoriesRaw); err != nil {
			return nil, nil, fmt.Errorf("scan joke: %w", err)
		}
		j.Categories = decodeCategories(categoriesRaw)
		jokes = append(jokes, j)
	}
	if err := jokeRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate jokes: %w", err)
	}

	sourceRows, err := p.db.QueryContext(ctx, `SELECT id, title, publication FROM sources`)
	if err != nil {
		return nil, nil, fmt.Errorf("load sources: %w", err)
	}
	defer sourceRows.Close()

	sources := make([]SourceRecord, 0)
	for sourceRows.Next() {
		var s SourceRecord
		if err := sourceRows.Scan(&s.ID, &s.Title, &s.Publication); err != nil {
			return nil, nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, s)
	}
	if err := sourceRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate sources: %w", err)
	}

	return jokes, sources, nil
}

func decodeCategories(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var categories []string
	if err := json.Unmarshal(raw, &categories); err != nil {
		return nil
	}
	return categories
}
