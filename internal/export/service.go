package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"archboard/api/internal/domain"
	"archboard/api/internal/store"

	"go.uber.org/zap"
)

// DataStore is the read side of the store the exporter needs.
type DataStore interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	GetDecision(ctx context.Context, projectID, decisionID string) (store.Decision, error)
	GetDecisionVersion(ctx context.Context, decisionID, versionID string) (store.DecisionVersion, error)
	ListApprovals(ctx context.Context, decisionID string) ([]store.Approval, error)
}

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service renders decision versions.
type Service struct {
	store      DataStore
	logger     *zap.Logger
	renderPDF  renderFunc
	renderDOCX renderFunc
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPaper sets the PDF page size. The default is PaperLetter.
func WithPaper(p Paper) ServiceOption {
	return func(s *Service) { s.renderPDF = pdfRenderer(p) }
}

func NewService(store DataStore, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:      store,
		logger:     logger.Named("export"),
		renderPDF:  pdfRenderer(PaperLetter),
		renderDOCX: pandocRenderer("docx"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export renders the requested version. PDF degrades to HTML when Chromium is
// not installed; DOCX without pandoc is an error.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	decision, err := s.store.GetDecision(ctx, req.ProjectID, req.DecisionID)
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	version, err := s.store.GetDecisionVersion(ctx, req.DecisionID, req.VersionID)
	if err != nil {
		return nil, fmt.Errorf("get decision version: %w", err)
	}
	approvals, err := s.store.ListApprovals(ctx, req.DecisionID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}

	versionApprovals := make([]store.Approval, 0, len(approvals))
	for _, a := range approvals {
		if a.VersionID == version.ID {
			versionApprovals = append(versionApprovals, a)
		}
	}

	html, err := RenderDecisionHTML(TemplateData{
		Title:       version.Title,
		Description: version.Description,
		ProjectName: project.Name,
		PhaseLabel:  domain.PhaseLabel(decision.PhaseID),
		Status:      decision.Status,
		Version:     version.Version,
		PublishedAt: version.PublishedAt,
		CostDelta:   version.CostDelta,
		Options:     version.Options,
		Approvals:   versionApprovals,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := fmt.Sprintf("%s v%d", version.Title, version.Version)
	var result *Result
	switch req.Format {
	case FormatPDF, "":
		result, err = s.renderPDF(ctx, html, title)
		if errors.Is(err, ErrPDFDependencyMissing) {
			s.logger.Warn("pdf renderer unavailable, exporting html", zap.String("decision_id", req.DecisionID), zap.Error(err))
			result, err = htmlResult(html, title), nil
		}
	case FormatDOCX:
		result, err = s.renderDOCX(ctx, html, title)
	case FormatHTML:
		result = htmlResult(html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if err != nil {
		return nil, err
	}
	result.GeneratedAt = s.now().UTC()
	return result, nil
}

func htmlResult(html, title string) *Result {
	return &Result{
		Data:     []byte(html),
		Filename: sanitizeFilename(title) + ".html",
		MimeType: mimeHTML,
		Format:   FormatHTML,
	}
}
