package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const headlineOpts = `'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'`

// Search runs a UNION ALL over the search_vector columns of decisions,
// templates and projects, ranked with ts_rank.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
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
	visible := ""
	if q.ViewerID != "" {
		args = append(args, q.ViewerID)
		visible = " AND (p.created_by = $2 OR p.created_by IS NULL OR p.firm_id = (SELECT u.firm_id FROM users u WHERE u.id = $2))"
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDecision {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'decision'::text AS type, d.id, d.title,
				ts_headline('english', coalesce(d.description, ''), %[1]s, %[2]s) AS snippet,
				d.project_id, d.status,
				ts_rank(d.search_vector, %[1]s) AS rank
			FROM decisions d
			JOIN projects p ON p.id = d.project_id
			WHERE d.search_vector @@ %[1]s%[3]s`, tsQuery, headlineOpts, visible))
	}

	if q.FilterType == "" || q.FilterType == ResultTemplate {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'template'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %[1]s, %[2]s) AS snippet,
				''::text AS project_id, t.status,
				ts_rank(t.search_vector, %[1]s) AS rank
			FROM project_templates t
			WHERE t.search_vector @@ %[1]s AND t.deleted_at IS NULL`, tsQuery, headlineOpts))
	}

	if q.FilterType == "" || q.FilterType == ResultProject {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				''::text AS snippet,
				p.id AS project_id, p.status,
				ts_rank(p.search_vector, %[1]s) AS rank
			FROM projects p
			WHERE p.search_vector @@ %[1]s%[2]s`, tsQuery, visible))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, status
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}
