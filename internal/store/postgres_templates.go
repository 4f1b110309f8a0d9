package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const templateColumns = `t.id, COALESCE(t.user_id, ''), t.title, t.description, t.status, t.type, t.usage_count, t.current_version, t.created_at, t.updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status, &t.Type, &t.UsageCount, &t.CurrentVersion, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

var templateSortColumns = map[string]string{
	"title":       "LOWER(t.title)",
	"updated_at":  "t.updated_at",
	"usage_count": "t.usage_count",
}

func (s *PostgresStore) ListTemplates(ctx context.Context, filter TemplateFilter) ([]Template, int, error) {
	clauses := []string{"t.deleted_at IS NULL"}
	var args []any
	if q := strings.TrimSpace(filter.Search); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(t.title ILIKE $%d OR t.description ILIKE $%d)", n, n))
	}
	if filter.Type != "" && filter.Type != "all" {
		args = append(args, filter.Type)
		clauses = append(clauses, fmt.Sprintf("t.type = $%d", len(args)))
	}
	if filter.Status != "" && filter.Status != "all" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("t.status = $%d", len(args)))
	}
	from := `FROM project_templates t WHERE ` + strings.Join(clauses, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	sortExpr, ok := templateSortColumns[filter.SortBy]
	if !ok {
		sortExpr = templateSortColumns["updated_at"]
	}
	dir := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		dir = "ASC"
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s, t.id %s LIMIT $%d OFFSET $%d`,
		templateColumns, from, sortExpr, dir, dir, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// GetTemplate returns a live (not soft-deleted) template.
func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (Template, error) {
	return scanTemplate(s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM project_templates t WHERE t.id = $1 AND t.deleted_at IS NULL
	`, templateID))
}

// CreateTemplate inserts the template together with its first version.
func (s *PostgresStore) CreateTemplate(ctx context.Context, t Template, first TemplateVersion) (Template, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO project_templates (id, user_id, title, description, status, type, current_version)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`, t.ID, t.UserID, t.Title, t.Description, t.Status, t.Type, first.Version).Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		t.CurrentVersion = first.Version
		return insertTemplateVersion(ctx, tx, first)
	})
	if err != nil {
		return Template{}, err
	}
	return t, nil
}

// UpdateTemplate writes the template row, guarded by the version the caller
// read; a concurrent edit yields ErrConflict. When next is non-nil it is
// appended as the new current version.
func (s *PostgresStore) UpdateTemplate(ctx context.Context, t Template, readVersion int, next *TemplateVersion) (Template, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current := readVersion
		if next != nil {
			current = next.Version
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE project_templates
			SET title = $3, description = $4, status = $5, type = $6, current_version = $7, updated_at = NOW()
			WHERE id = $1 AND current_version = $2 AND deleted_at IS NULL
		`, t.ID, readVersion, t.Title, t.Description, t.Status, t.Type, current)
		if err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update template: %w", ErrConflict)
		}
		t.CurrentVersion = current
		if next == nil {
			return nil
		}
		return insertTemplateVersion(ctx, tx, *next)
	})
	if err != nil {
		return Template{}, err
	}
	return s.GetTemplate(ctx, t.ID)
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, templateID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE project_templates SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL
	`, templateID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func insertTemplateVersion(ctx context.Context, db execer, v TemplateVersion) error {
	milestones, err := json.Marshal(nonNilMilestones(v.Milestones))
	if err != nil {
		return fmt.Errorf("marshal milestones: %w", err)
	}
	stubs, err := json.Marshal(nonNilStubs(v.DecisionStubs))
	if err != nil {
		return fmt.Errorf("marshal decision stubs: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO template_versions (id, template_id, version, title, description, milestones, decision_stubs, commit_hash, created_by)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, NULLIF($9, ''))
	`, v.ID, v.TemplateID, v.Version, v.Title, v.Description, string(milestones), string(stubs), v.CommitHash, v.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert template version: %w", err)
	}
	return nil
}

const templateVersionColumns = `id, template_id, version, title, description, milestones, decision_stubs, commit_hash, COALESCE(created_by, ''), created_at`

func scanTemplateVersion(row interface{ Scan(...any) error }) (TemplateVersion, error) {
	var v TemplateVersion
	var milestones, stubs []byte
	if err := row.Scan(&v.ID, &v.TemplateID, &v.Version, &v.Title, &v.Description, &milestones, &stubs, &v.CommitHash, &v.CreatedBy, &v.CreatedAt); err != nil {
		return TemplateVersion{}, err
	}
	if len(milestones) > 0 {
		if err := json.Unmarshal(milestones, &v.Milestones); err != nil {
			return TemplateVersion{}, fmt.Errorf("decode milestones: %w", err)
		}
	}
	if len(stubs) > 0 {
		if err := json.Unmarshal(stubs, &v.DecisionStubs); err != nil {
			return TemplateVersion{}, fmt.Errorf("decode decision stubs: %w", err)
		}
	}
	v.Milestones = nonNilMilestones(v.Milestones)
	v.DecisionStubs = nonNilStubs(v.DecisionStubs)
	return v, nil
}

// ListTemplateVersions returns versions newest first. Soft-deleted templates
// keep their versions.
func (s *PostgresStore) ListTemplateVersions(ctx context.Context, templateID string) ([]TemplateVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateVersionColumns+` FROM template_versions WHERE template_id = $1 ORDER BY version DESC
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template versions: %w", err)
	}
	defer rows.Close()

	items := make([]TemplateVersion, 0)
	for rows.Next() {
		v, err := scanTemplateVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template version: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetTemplateVersion(ctx context.Context, templateID string, version int) (TemplateVersion, error) {
	return scanTemplateVersion(s.db.QueryRowContext(ctx, `
		SELECT `+templateVersionColumns+` FROM template_versions WHERE template_id = $1 AND version = $2
	`, templateID, version))
}

// ApplyTemplate executes an ApplyPlan in a single transaction: optional
// project creation, phase rows, milestones, draft decisions, the usage
// counter and the audit entry.
func (s *PostgresStore) ApplyTemplate(ctx context.Context, plan ApplyPlan) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if plan.CreateProject {
			if err := insertProject(ctx, tx, plan.Project); err != nil {
				return err
			}
		}
		for _, phase := range plan.Phases {
			if err := ensurePhase(ctx, tx, phase); err != nil {
				return err
			}
		}
		for _, m := range plan.Milestones {
			if err := insertMilestone(ctx, tx, m); err != nil {
				return err
			}
		}
		for _, d := range plan.Decisions {
			if err := insertDecision(ctx, tx, d); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE project_templates SET usage_count = usage_count + 1 WHERE id = $1 AND deleted_at IS NULL
		`, plan.TemplateID)
		if err != nil {
			return fmt.Errorf("bump template usage: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		if err := insertAudit(ctx, tx, plan.Audit); err != nil {
			return err
		}
		return touchProject(ctx, tx, plan.Project.ID)
	})
}

// LoadAllTemplates feeds the search reindex job.
func (s *PostgresStore) LoadAllTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM project_templates t WHERE t.deleted_at IS NULL ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	defer rows.Close()

	var items []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// LoadAllProjects feeds the search reindex job.
func (s *PostgresStore) LoadAllProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+` FROM projects p ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	defer rows.Close()

	var items []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func nonNilMilestones(in []MilestoneStub) []MilestoneStub {
	if in == nil {
		return []MilestoneStub{}
	}
	return in
}

func nonNilStubs(in []DecisionStub) []DecisionStub {
	if in == nil {
		return []DecisionStub{}
	}
	return in
}
