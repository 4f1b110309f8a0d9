package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// visibleProjects is the row filter for projects a user may see: shared
// projects, their own, and any project of their firm.
const visibleProjects = `(p.created_by IS NULL OR p.created_by = $1 OR p.firm_id = (SELECT u.firm_id FROM users u WHERE u.id = $1))`

const projectColumns = `p.id, p.name, p.status, COALESCE(p.created_by, ''), COALESCE(p.firm_id, ''), p.created_at, p.updated_at`

func scanProject(row interface{ Scan(...any) error }, extra ...any) (Project, error) {
	var p Project
	dest := append([]any{&p.ID, &p.Name, &p.Status, &p.CreatedBy, &p.FirmID, &p.CreatedAt, &p.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, viewerID string, limit int) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		WHERE `+visibleProjects+`
		ORDER BY p.updated_at DESC, p.id
		LIMIT $2
	`, viewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
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

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+` FROM projects p WHERE p.id = $1
	`, projectID))
}

// CreateProject inserts the project with its phase rows.
func (s *PostgresStore) CreateProject(ctx context.Context, project Project, phases []ProjectPhase) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertProject(ctx, tx, project); err != nil {
			return err
		}
		for _, phase := range phases {
			if err := upsertPhase(ctx, tx, phase); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertProject(ctx context.Context, db execer, project Project) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projects (id, name, status, created_by, firm_id) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
	`, project.ID, project.Name, project.Status, project.CreatedBy, project.FirmID)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, name, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = $2, status = $3, updated_at = NOW() WHERE id = $1
	`, projectID, name, status)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) TouchProject(ctx context.Context, projectID string) error {
	return touchProject(ctx, s.db, projectID)
}

// DashboardProjects returns the caller's most recently updated projects with
// their phase rows and pending decision counts.
func (s *PostgresStore) DashboardProjects(ctx context.Context, viewerID string, limit int) ([]DashboardProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`,
			(SELECT COUNT(*) FROM decisions d WHERE d.project_id = p.id AND d.status = 'pending')
		FROM projects p
		WHERE `+visibleProjects+`
		ORDER BY p.updated_at DESC, p.id
		LIMIT $2
	`, viewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("dashboard projects: %w", err)
	}
	defer rows.Close()

	var items []DashboardProject
	index := map[string]int{}
	for rows.Next() {
		var item DashboardProject
		project, err := scanProject(rows, &item.PendingApprovals)
		if err != nil {
			return nil, fmt.Errorf("scan dashboard project: %w", err)
		}
		item.Project = project
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	phaseRows, err := s.db.QueryContext(ctx, `
		SELECT `+phaseColumns+`
		FROM project_phases ph
		JOIN projects p ON p.id = ph.project_id
		WHERE `+visibleProjects+`
		ORDER BY ph.project_id, ph.order_index
	`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("dashboard phases: %w", err)
	}
	defer phaseRows.Close()
	for phaseRows.Next() {
		phase, err := scanPhase(phaseRows)
		if err != nil {
			return nil, fmt.Errorf("scan dashboard phase: %w", err)
		}
		if i, ok := index[phase.ProjectID]; ok {
			items[i].Phases = append(items[i].Phases, phase)
		}
	}
	return items, phaseRows.Err()
}

func (s *PostgresStore) PendingDecisions(ctx context.Context, viewerID string, limit int) ([]PendingDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.project_id, p.name, d.title, d.status, d.updated_at
		FROM decisions d
		JOIN projects p ON p.id = d.project_id
		WHERE `+visibleProjects+` AND d.status = 'pending'
		ORDER BY d.updated_at DESC, d.id
		LIMIT $2
	`, viewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("pending decisions: %w", err)
	}
	defer rows.Close()

	var items []PendingDecision
	for rows.Next() {
		var item PendingDecision
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.ProjectName, &item.Title, &item.Status, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending decision: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) RecentActivity(ctx context.Context, viewerID string, limit int) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.action, a.project_id, p.name, a.created_at
		FROM audit_entries a
		JOIN projects p ON p.id = a.project_id
		WHERE `+visibleProjects+`
		ORDER BY a.created_at DESC, a.id
		LIMIT $2
	`, viewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	var items []Activity
	for rows.Next() {
		var item Activity
		if err := rows.Scan(&item.Action, &item.ProjectID, &item.ProjectName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpcomingMilestones(ctx context.Context, viewerID string, from, to time.Time, limit int) ([]UpcomingMilestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.name, m.project_id, m.due_date
		FROM project_milestones m
		JOIN projects p ON p.id = m.project_id
		WHERE `+visibleProjects+`
			AND m.status <> 'completed'
			AND m.due_date >= $2 AND m.due_date <= $3
		ORDER BY m.due_date, m.id
		LIMIT $4
	`, viewerID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("upcoming milestones: %w", err)
	}
	defer rows.Close()

	var items []UpcomingMilestone
	for rows.Next() {
		var item UpcomingMilestone
		if err := rows.Scan(&item.ID, &item.Name, &item.ProjectID, &item.DueDate); err != nil {
			return nil, fmt.Errorf("scan upcoming milestone: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const phaseColumns = `ph.id, ph.project_id, ph.phase_id, ph.label, ph.order_index, ph.percent_complete, ph.start_date, ph.end_date, ph.updated_at`

func scanPhase(row interface{ Scan(...any) error }) (ProjectPhase, error) {
	var phase ProjectPhase
	var start, end sql.NullTime
	if err := row.Scan(&phase.ID, &phase.ProjectID, &phase.PhaseID, &phase.Label, &phase.OrderIndex,
		&phase.PercentComplete, &start, &end, &phase.UpdatedAt); err != nil {
		return ProjectPhase{}, err
	}
	phase.StartDate = nullTimePtr(start)
	phase.EndDate = nullTimePtr(end)
	return phase, nil
}

func (s *PostgresStore) ListPhases(ctx context.Context, projectID string) ([]ProjectPhase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+phaseColumns+` FROM project_phases ph WHERE ph.project_id = $1 ORDER BY ph.order_index
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	var items []ProjectPhase
	for rows.Next() {
		phase, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		items = append(items, phase)
	}
	return items, rows.Err()
}

// UpsertPhase writes a phase row keyed by (project_id, phase_id).
func (s *PostgresStore) UpsertPhase(ctx context.Context, phase ProjectPhase) error {
	return upsertPhase(ctx, s.db, phase)
}

func upsertPhase(ctx context.Context, db execer, phase ProjectPhase) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO project_phases (id, project_id, phase_id, label, order_index, percent_complete, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, phase_id) DO UPDATE SET
			percent_complete = EXCLUDED.percent_complete,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			updated_at = NOW()
	`, phase.ID, phase.ProjectID, phase.PhaseID, phase.Label, phase.OrderIndex, phase.PercentComplete, phase.StartDate, phase.EndDate)
	if err != nil {
		return fmt.Errorf("upsert phase: %w", err)
	}
	return nil
}

// ensurePhase inserts a phase row only when the project does not have it yet.
func ensurePhase(ctx context.Context, db execer, phase ProjectPhase) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO project_phases (id, project_id, phase_id, label, order_index, percent_complete)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, phase_id) DO NOTHING
	`, phase.ID, phase.ProjectID, phase.PhaseID, phase.Label, phase.OrderIndex, phase.PercentComplete)
	if err != nil {
		return fmt.Errorf("ensure phase: %w", err)
	}
	return nil
}

type MilestoneFilter struct {
	Status  string
	PhaseID string
}

const milestoneColumns = `m.id, m.project_id, m.phase_id, m.name, m.due_date, COALESCE(m.assignee_id, ''), COALESCE(u.display_name, ''), m.status, COALESCE(m.decision_id, ''), m.order_index, m.created_at, m.updated_at`

func scanMilestone(row interface{ Scan(...any) error }) (Milestone, error) {
	var m Milestone
	err := row.Scan(&m.ID, &m.ProjectID, &m.PhaseID, &m.Name, &m.DueDate, &m.AssigneeID, &m.AssigneeName,
		&m.Status, &m.DecisionID, &m.OrderIndex, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *PostgresStore) ListMilestones(ctx context.Context, projectID string, filter MilestoneFilter) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+milestoneColumns+`
		FROM project_milestones m
		LEFT JOIN users u ON u.id = m.assignee_id
		WHERE m.project_id = $1
			AND ($2 = '' OR m.status = $2)
			AND ($3 = '' OR m.phase_id = $3)
		ORDER BY m.order_index, m.due_date, m.id
	`, projectID, filter.Status, filter.PhaseID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	var items []Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetMilestone(ctx context.Context, projectID, milestoneID string) (Milestone, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+milestoneColumns+`
		FROM project_milestones m
		LEFT JOIN users u ON u.id = m.assignee_id
		WHERE m.project_id = $1 AND m.id = $2
	`, projectID, milestoneID)
	return scanMilestone(row)
}

func (s *PostgresStore) CreateMilestone(ctx context.Context, m Milestone) error {
	return insertMilestone(ctx, s.db, m)
}

func insertMilestone(ctx context.Context, db execer, m Milestone) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO project_milestones (id, project_id, phase_id, name, due_date, assignee_id, status, decision_id, order_index)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9)
	`, m.ID, m.ProjectID, m.PhaseID, m.Name, m.DueDate, m.AssigneeID, m.Status, m.DecisionID, m.OrderIndex)
	if err != nil {
		return fmt.Errorf("insert milestone: %w", err)
	}
	return nil
}

// UpdateMilestone overwrites the mutable columns of an existing milestone.
func (s *PostgresStore) UpdateMilestone(ctx context.Context, m Milestone) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE project_milestones
		SET phase_id = $3, name = $4, due_date = $5, assignee_id = NULLIF($6, ''), status = $7,
			decision_id = NULLIF($8, ''), order_index = $9, updated_at = NOW()
		WHERE project_id = $1 AND id = $2
	`, m.ProjectID, m.ID, m.PhaseID, m.Name, m.DueDate, m.AssigneeID, m.Status, m.DecisionID, m.OrderIndex)
	if err != nil {
		return fmt.Errorf("update milestone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteMilestone(ctx context.Context, projectID, milestoneID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM project_milestones WHERE project_id = $1 AND id = $2`, projectID, milestoneID)
	if err != nil {
		return fmt.Errorf("delete milestone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkOverdueMilestones flips open milestones due before today to overdue and
// returns how many changed per project.
func (s *PostgresStore) MarkOverdueMilestones(ctx context.Context, today time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE project_milestones
		SET status = 'overdue', updated_at = NOW()
		WHERE status IN ('upcoming', 'in_progress') AND due_date < $1
		RETURNING project_id
	`, today)
	if err != nil {
		return nil, fmt.Errorf("mark overdue milestones: %w", err)
	}
	defer rows.Close()

	changed := map[string]int{}
	for rows.Next() {
		var projectID string
		if err := rows.Scan(&projectID); err != nil {
			return nil, fmt.Errorf("scan overdue milestone: %w", err)
		}
		changed[projectID]++
	}
	return changed, rows.Err()
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, projectID string) ([]DecisionCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.project_id, c.decision_id, d.title, d.status, c.phase_id, c.order_index
		FROM decision_checkpoints c
		JOIN decisions d ON d.id = c.decision_id
		WHERE c.project_id = $1
		ORDER BY c.order_index, c.id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var items []DecisionCheckpoint
	for rows.Next() {
		var c DecisionCheckpoint
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.DecisionID, &c.DecisionTitle, &c.DecisionStatus, &c.PhaseID, &c.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpsertCheckpoint(ctx context.Context, c DecisionCheckpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_checkpoints (id, project_id, decision_id, phase_id, order_index)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, decision_id) DO UPDATE SET
			phase_id = EXCLUDED.phase_id,
			order_index = EXCLUDED.order_index
	`, c.ID, c.ProjectID, c.DecisionID, c.PhaseID, c.OrderIndex)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, projectID, decisionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decision_checkpoints WHERE project_id = $1 AND decision_id = $2`, projectID, decisionID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
