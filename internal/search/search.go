package search

import (
	"context"

	"archboard/api/internal/store"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDecision ResultType = "decision"
	ResultTemplate ResultType = "template"
	ResultProject  ResultType = "project"
)

func ParseResultType(s string) (ResultType, bool) {
	switch ResultType(s) {
	case "":
		return "", true
	case ResultDecision, ResultTemplate, ResultProject:
		return ResultType(s), true
	}
	return "", false
}

// publicOwner is indexed for projects without a creator, which every user can
// see.
const publicOwner = "public"

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request. ViewerID restricts project-scoped hits
// (decisions and projects) to projects the viewer can see; ViewerFirm widens
// that to the viewer's firm.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	ViewerID   string
	ViewerFirm string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDecision(d DecisionRecord) error
	IndexTemplate(t TemplateRecord) error
	IndexProject(p ProjectRecord) error
	DeleteTemplate(id string) error
}

// RecordSource loads every searchable row for a full reindex.
type RecordSource interface {
	LoadAllDecisions(ctx context.Context) ([]store.Decision, error)
	LoadAllTemplates(ctx context.Context) ([]store.Template, error)
	LoadAllProjects(ctx context.Context) ([]store.Project, error)
}

// DecisionRecord is the data we index for a decision.
type DecisionRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	PhaseID     string `json:"phaseId"`
	ProjectID   string `json:"projectId"`
	OwnerID     string `json:"ownerId"`
	FirmID      string `json:"firmId"`
}

// TemplateRecord is the data we index for a template.
type TemplateRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Type        string `json:"type"`
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	OwnerID string `json:"ownerId"`
	FirmID  string `json:"firmId"`
}

// DecisionRecordFrom builds the index record for d. Ownership comes from the
// decision's project p.
func DecisionRecordFrom(d store.Decision, p store.Project) DecisionRecord {
	return DecisionRecord{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Status:      d.Status,
		PhaseID:     d.PhaseID,
		ProjectID:   d.ProjectID,
		OwnerID:     ownerOrPublic(p.CreatedBy),
		FirmID:      p.FirmID,
	}
}

func TemplateRecordFrom(t store.Template) TemplateRecord {
	return TemplateRecord{ID: t.ID, Title: t.Title, Description: t.Description, Status: t.Status, Type: t.Type}
}

func ProjectRecordFrom(p store.Project) ProjectRecord {
	return ProjectRecord{ID: p.ID, Name: p.Name, Status: p.Status, OwnerID: ownerOrPublic(p.CreatedBy), FirmID: p.FirmID}
}

func ownerOrPublic(owner string) string {
	if owner == "" {
		return publicOwner
	}
	return owner
}
