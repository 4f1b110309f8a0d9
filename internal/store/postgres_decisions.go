package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const decisionColumns = `d.id, d.project_id, d.title, d.description, d.status, d.phase_id, COALESCE(d.assignee_id, ''),
	d.cost_delta, COALESCE(d.recommended_option_id, ''), d.thumbnail_url, d.published_at, d.approved_at,
	COALESCE(d.created_by, ''), d.created_at, d.updated_at`

func scanDecision(row interface{ Scan(...any) error }) (Decision, error) {
	var d Decision
	var cost sql.NullFloat64
	var published, approved sql.NullTime
	err := row.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Description, &d.Status, &d.PhaseID, &d.AssigneeID,
		&cost, &d.RecommendedOptionID, &d.ThumbnailURL, &published, &approved,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Decision{}, err
	}
	d.CostDelta = nullFloatPtr(cost)
	d.PublishedAt = nullTimePtr(published)
	d.ApprovedAt = nullTimePtr(approved)
	return d, nil
}

var decisionSortColumns = map[string]string{
	"date":   "COALESCE(d.published_at, d.created_at)",
	"status": "d.status",
	"cost":   "COALESCE(d.cost_delta, 0)",
	"title":  "LOWER(d.title)",
	"phase":  "COALESCE(array_position(ARRAY['kickoff','concept','schematic','dd','permitting','ca','handover']::text[], d.phase_id), 8)",
}

// decisionWhere builds the WHERE clause shared by the count and page queries.
func decisionWhere(filter DecisionFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(args))))
	}

	if filter.ProjectID != "" {
		add("d.project_id = ?", filter.ProjectID)
	} else {
		add("(p.created_by IS NULL OR p.created_by = ? OR p.firm_id = (SELECT u.firm_id FROM users u WHERE u.id = ?))", filter.ViewerID)
	}
	if filter.Status != "" && filter.Status != "all" {
		add("d.status = ?", filter.Status)
	}
	if filter.Phase != "" && filter.Phase != "all" {
		add("d.phase_id = ?", filter.Phase)
	}
	if filter.Assignee != "" && filter.Assignee != "all" {
		add("d.assignee_id = ?", filter.Assignee)
	}
	switch filter.CostImpact {
	case "none":
		clauses = append(clauses, "COALESCE(d.cost_delta, 0) = 0")
	case "positive":
		clauses = append(clauses, "d.cost_delta > 0")
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		add("(d.title ILIKE ? OR d.description ILIKE ?)", "%"+escapeLike(q)+"%")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListDecisions returns one page of decisions plus the total number matching
// the filter.
func (s *PostgresStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]Decision, int, error) {
	where, args := decisionWhere(filter)
	from := `FROM decisions d JOIN projects p ON p.id = d.project_id ` + where

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count decisions: %w", err)
	}

	sortExpr, ok := decisionSortColumns[filter.SortBy]
	if !ok {
		sortExpr = decisionSortColumns["date"]
	}
	dir := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		dir = "ASC"
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s, d.id %s LIMIT $%d OFFSET $%d`,
		decisionColumns, from, sortExpr, dir, dir, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	items := make([]Decision, 0)
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan decision: %w", err)
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (s *PostgresStore) GetDecision(ctx context.Context, projectID, decisionID string) (Decision, error) {
	d, err := scanDecision(s.db.QueryRowContext(ctx, `
		SELECT `+decisionColumns+` FROM decisions d WHERE d.project_id = $1 AND d.id = $2
	`, projectID, decisionID))
	if err != nil {
		return Decision{}, err
	}
	options, err := s.listOptions(ctx, decisionID)
	if err != nil {
		return Decision{}, err
	}
	d.Options = options
	return d, nil
}

func (s *PostgresStore) listOptions(ctx context.Context, decisionID string) ([]DecisionOption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, description, image_url, cost_delta, is_recommended, order_index
		FROM decision_options WHERE decision_id = $1 ORDER BY order_index, id
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list decision options: %w", err)
	}
	defer rows.Close()

	options := make([]DecisionOption, 0)
	for rows.Next() {
		var o DecisionOption
		var cost sql.NullFloat64
		if err := rows.Scan(&o.ID, &o.Label, &o.Description, &o.ImageURL, &cost, &o.IsRecommended, &o.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan decision option: %w", err)
		}
		o.CostDelta = nullFloatPtr(cost)
		options = append(options, o)
	}
	return options, rows.Err()
}

func (s *PostgresStore) CreateDecision(ctx context.Context, d Decision, audit AuditEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertDecision(ctx, tx, d); err != nil {
			return err
		}
		if err := replaceOptions(ctx, tx, d.ID, d.Options); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

func insertDecision(ctx context.Context, db execer, d Decision) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO decisions (id, project_id, title, description, status, phase_id, assignee_id, cost_delta,
			recommended_option_id, thumbnail_url, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, NULLIF($11, ''))
	`, d.ID, d.ProjectID, d.Title, d.Description, d.Status, d.PhaseID, d.AssigneeID, d.CostDelta,
		d.RecommendedOptionID, d.ThumbnailURL, d.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// UpdateDecision rewrites an editable decision and its options. The row must
// still be in an editable status, otherwise ErrConflict is returned.
func (s *PostgresStore) UpdateDecision(ctx context.Context, d Decision, audit AuditEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE decisions
			SET title = $3, description = $4, phase_id = $5, assignee_id = NULLIF($6, ''), cost_delta = $7,
				recommended_option_id = NULLIF($8, ''), thumbnail_url = $9, updated_at = NOW()
			WHERE project_id = $1 AND id = $2 AND status IN ('draft', 'changes_requested')
		`, d.ProjectID, d.ID, d.Title, d.Description, d.PhaseID, d.AssigneeID, d.CostDelta, d.RecommendedOptionID, d.ThumbnailURL)
		if err != nil {
			return fmt.Errorf("update decision: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update decision: %w", ErrConflict)
		}
		if err := replaceOptions(ctx, tx, d.ID, d.Options); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

func replaceOptions(ctx context.Context, db execer, decisionID string, options []DecisionOption) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM decision_options WHERE decision_id = $1`, decisionID); err != nil {
		return fmt.Errorf("clear decision options: %w", err)
	}
	for _, o := range options {
		_, err := db.ExecContext(ctx, `
			INSERT INTO decision_options (id, decision_id, label, description, image_url, cost_delta, is_recommended, order_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, o.ID, decisionID, o.Label, o.Description, o.ImageURL, o.CostDelta, o.IsRecommended, o.OrderIndex)
		if err != nil {
			return fmt.Errorf("insert decision option: %w", err)
		}
	}
	return nil
}

// PublishDecision appends the next immutable version snapshot and moves the
// decision to pending. The version number is assigned here.
func (s *PostgresStore) PublishDecision(ctx context.Context, version DecisionVersion, audit AuditEntry) (DecisionVersion, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE decisions SET status = 'pending', published_at = NOW(), approved_at = NULL, updated_at = NOW()
			WHERE id = $1 AND status IN ('draft', 'changes_requested')
		`, version.DecisionID)
		if err != nil {
			return fmt.Errorf("publish decision: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("publish decision: %w", ErrConflict)
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1 FROM decision_versions WHERE decision_id = $1
		`, version.DecisionID).Scan(&version.Version); err != nil {
			return fmt.Errorf("next decision version: %w", err)
		}

		options, err := json.Marshal(version.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO decision_versions (id, decision_id, version, title, description, cost_delta, options, published_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
			RETURNING published_at
		`, version.ID, version.DecisionID, version.Version, version.Title, version.Description, version.CostDelta,
			string(options), version.PublishedBy).Scan(&version.PublishedAt); err != nil {
			return fmt.Errorf("insert decision version: %w", err)
		}

		audit.Metadata = withMetadata(audit.Metadata, "version", version.Version)
		if err := insertAudit(ctx, tx, audit); err != nil {
			return err
		}
		return touchProject(ctx, tx, audit.ProjectID)
	})
	if err != nil {
		return DecisionVersion{}, err
	}
	return version, nil
}

const decisionVersionColumns = `id, decision_id, version, title, description, cost_delta, options, COALESCE(published_by, ''), published_at`

func scanDecisionVersion(row interface{ Scan(...any) error }) (DecisionVersion, error) {
	var v DecisionVersion
	var cost sql.NullFloat64
	var options []byte
	if err := row.Scan(&v.ID, &v.DecisionID, &v.Version, &v.Title, &v.Description, &cost, &options, &v.PublishedBy, &v.PublishedAt); err != nil {
		return DecisionVersion{}, err
	}
	v.CostDelta = nullFloatPtr(cost)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &v.Options); err != nil {
			return DecisionVersion{}, fmt.Errorf("decode version options: %w", err)
		}
	}
	if v.Options == nil {
		v.Options = []DecisionOption{}
	}
	return v, nil
}

// ListDecisionVersions returns versions newest first.
func (s *PostgresStore) ListDecisionVersions(ctx context.Context, decisionID string) ([]DecisionVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionVersionColumns+` FROM decision_versions WHERE decision_id = $1 ORDER BY version DESC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list decision versions: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionVersion, 0)
	for rows.Next() {
		v, err := scanDecisionVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision version: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetDecisionVersion(ctx context.Context, decisionID, versionID string) (DecisionVersion, error) {
	return scanDecisionVersion(s.db.QueryRowContext(ctx, `
		SELECT `+decisionVersionColumns+` FROM decision_versions WHERE decision_id = $1 AND id = $2
	`, decisionID, versionID))
}

// RecordApproval writes the approval and its audit entry and applies the
// status transition fromStatus -> toStatus. When the decision left fromStatus
// concurrently, ErrConflict is returned and nothing is written.
func (s *PostgresStore) RecordApproval(ctx context.Context, approval Approval, fromStatus, toStatus string, audit AuditEntry) (Approval, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if fromStatus != toStatus {
			res, err := tx.ExecContext(ctx, `
				UPDATE decisions
				SET status = $3,
					approved_at = CASE WHEN $3 = 'approved' THEN NOW() ELSE approved_at END,
					updated_at = NOW()
				WHERE id = $1 AND status = $2
			`, approval.DecisionID, fromStatus, toStatus)
			if err != nil {
				return fmt.Errorf("transition decision: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("transition decision: %w", ErrConflict)
			}
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO decision_approvals (id, decision_id, version_id, user_id, user_name, action, comment)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
			RETURNING created_at
		`, approval.ID, approval.DecisionID, approval.VersionID, approval.UserID, approval.UserName,
			approval.Action, approval.Comment).Scan(&approval.CreatedAt); err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
		if err := insertAudit(ctx, tx, audit); err != nil {
			return err
		}
		return touchProject(ctx, tx, audit.ProjectID)
	})
	if err != nil {
		return Approval{}, err
	}
	return approval, nil
}

func (s *PostgresStore) ListApprovals(ctx context.Context, decisionID string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, COALESCE(version_id, ''), user_id, user_name, action, comment, created_at
		FROM decision_approvals WHERE decision_id = $1 ORDER BY created_at, id
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	items := make([]Approval, 0)
	for rows.Next() {
		var a Approval
		if err := rows.Scan(&a.ID, &a.DecisionID, &a.VersionID, &a.UserID, &a.UserName, &a.Action, &a.Comment, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// ListAuditEntries returns a decision's audit trail newest first.
func (s *PostgresStore) ListAuditEntries(ctx context.Context, decisionID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, COALESCE(decision_id, ''), action, user_id, user_name, metadata, created_at
		FROM audit_entries WHERE decision_id = $1 ORDER BY created_at DESC, id DESC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var a AuditEntry
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.DecisionID, &a.Action, &a.UserID, &a.UserName, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &a.Metadata)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListRelatedItems(ctx context.Context, decisionID string) ([]RelatedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, kind, title, url, created_at
		FROM related_items WHERE decision_id = $1 ORDER BY created_at, id
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list related items: %w", err)
	}
	defer rows.Close()

	items := make([]RelatedItem, 0)
	for rows.Next() {
		var r RelatedItem
		if err := rows.Scan(&r.ID, &r.DecisionID, &r.Kind, &r.Title, &r.URL, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan related item: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertRelatedItem(ctx context.Context, item RelatedItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO related_items (id, decision_id, kind, title, url) VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.DecisionID, item.Kind, item.Title, item.URL)
	if err != nil {
		return fmt.Errorf("insert related item: %w", err)
	}
	return nil
}

// LoadAllDecisions feeds the search reindex job.
func (s *PostgresStore) LoadAllDecisions(ctx context.Context) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+decisionColumns+` FROM decisions d ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}
	defer rows.Close()

	var items []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func insertAudit(ctx context.Context, db execer, entry AuditEntry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, project_id, decision_id, action, user_id, user_name, metadata)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7::jsonb)
	`, entry.ID, entry.ProjectID, entry.DecisionID, entry.Action, entry.UserID, entry.UserName, string(encoded))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func touchProject(ctx context.Context, db execer, projectID string) error {
	if projectID == "" {
		return nil
	}
	if _, err := db.ExecContext(ctx, `UPDATE projects SET updated_at = NOW() WHERE id = $1`, projectID); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	return nil
}

func withMetadata(metadata map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out[key] = value
	return out
}

func escapeLike(q string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
