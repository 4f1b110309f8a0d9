package search

import (
	"context"

	"archboard/api/internal/store"

	"go.uber.org/zap"
)

// meiliBackend is the subset of *Meili the facade uses.
type meiliBackend interface {
	Searcher
	Indexer
	IndexDecisions([]DecisionRecord) error
	IndexTemplates([]TemplateRecord) error
	IndexProjects([]ProjectRecord) error
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  meiliBackend
	pgfts  Searcher
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(m *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	var backend meiliBackend
	if m != nil {
		backend = m
	}
	var fallback Searcher
	if pgfts != nil {
		fallback = pgfts
	}
	return newService(backend, fallback, logger)
}

func newService(m meiliBackend, pgfts Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: m, pgfts: pgfts, logger: logger.Named("search")}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS. Errors
// degrade to an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) meiliReady() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

// IndexDecision indexes a decision (fire-and-forget to Meilisearch).
func (s *Service) IndexDecision(d DecisionRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexDecision(d); err != nil {
			s.logger.Warn("index decision", zap.String("decision_id", d.ID), zap.Error(err))
		}
	}()
}

func (s *Service) IndexTemplate(t TemplateRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexTemplate(t); err != nil {
			s.logger.Warn("index template", zap.String("template_id", t.ID), zap.Error(err))
		}
	}()
}

func (s *Service) IndexProject(p ProjectRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexProject(p); err != nil {
			s.logger.Warn("index project", zap.String("project_id", p.ID), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteTemplate(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteTemplate(id); err != nil {
			s.logger.Warn("delete template from index", zap.String("template_id", id), zap.Error(err))
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch synchronously.
func (s *Service) ReindexAll(decisions []DecisionRecord, templates []TemplateRecord, projects []ProjectRecord) error {
	if !s.meiliReady() {
		return nil
	}
	if err := s.meili.IndexDecisions(decisions); err != nil {
		s.logger.Error("reindex decisions", zap.Error(err))
		return err
	}
	if err := s.meili.IndexTemplates(templates); err != nil {
		s.logger.Error("reindex templates", zap.Error(err))
		return err
	}
	if err := s.meili.IndexProjects(projects); err != nil {
		s.logger.Error("reindex projects", zap.Error(err))
		return err
	}
	s.logger.Info("reindex complete",
		zap.Int("decisions", len(decisions)),
		zap.Int("templates", len(templates)),
		zap.Int("projects", len(projects)))
	return nil
}

// ReindexAllFromPG reads every searchable entity from src and reindexes it.
// It is a no-op while Meilisearch is unavailable.
func (s *Service) ReindexAllFromPG(ctx context.Context, src RecordSource) error {
	if !s.meiliReady() || src == nil {
		return nil
	}
	projects, err := src.LoadAllProjects(ctx)
	if err != nil {
		return err
	}
	decisions, err := src.LoadAllDecisions(ctx)
	if err != nil {
		return err
	}
	templates, err := src.LoadAllTemplates(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]store.Project, len(projects))
	projectRecords := make([]ProjectRecord, 0, len(projects))
	for _, p := range projects {
		byID[p.ID] = p
		projectRecords = append(projectRecords, ProjectRecordFrom(p))
	}
	decisionRecords := make([]DecisionRecord, 0, len(decisions))
	for _, d := range decisions {
		decisionRecords = append(decisionRecords, DecisionRecordFrom(d, byID[d.ProjectID]))
	}
	templateRecords := make([]TemplateRecord, 0, len(templates))
	for _, t := range templates {
		templateRecords = append(templateRecords, TemplateRecordFrom(t))
	}
	return s.ReindexAll(decisionRecords, templateRecords, projectRecords)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// SourceReindexer binds a Service to its RecordSource for the scheduled
// reindex job.
type SourceReindexer struct {
	Service *Service
	Source  RecordSource
}

func (r SourceReindexer) Reindex(ctx context.Context) error {
	return r.Service.ReindexAllFromPG(ctx, r.Source)
}
