package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

// meiliIndex describes one Meilisearch index and how its hits map to Results.
type meiliIndex struct {
	uid        string
	kind       ResultType
	filterable []string
	searchable []string
	titleField string
	// snippetField is empty for indexes without a body.
	snippetField string
	ownerScoped  bool
}

var meiliIndexes = []meiliIndex{
	{
		uid:          "archboard_decisions",
		kind:         ResultDecision,
		filterable:   []string{"projectId", "ownerId", "firmId", "status", "phaseId"},
		searchable:   []string{"title", "description"},
		titleField:   "title",
		snippetField: "description",
		ownerScoped:  true,
	},
	{
		uid:          "archboard_templates",
		kind:         ResultTemplate,
		filterable:   []string{"status", "type"},
		searchable:   []string{"title", "description"},
		titleField:   "title",
		snippetField: "description",
	},
	{
		uid:         "archboard_projects",
		kind:        ResultProject,
		filterable:  []string{"ownerId", "firmId", "status"},
		searchable:  []string{"name"},
		titleField:  "name",
		ownerScoped: true,
	},
}

func indexFor(kind ResultType) meiliIndex {
	for _, idx := range meiliIndexes {
		if idx.kind == kind {
			return idx
		}
	}
	panic("search: no index for " + string(kind))
}

func indexByUID(uid string) (meiliIndex, bool) {
	for _, idx := range meiliIndexes {
		if idx.uid == uid {
			return idx, true
		}
	}
	return meiliIndex{}, false
}

const meiliProbeInterval = 10 * time.Second

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili serves full-text search and indexing from Meilisearch. It probes the
// server in the background and reports unhealthy until it answers.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	stop    chan struct{}
}

// NewMeili connects to url. An unreachable server is not fatal: indexes are
// set up on the first successful probe.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.Named("meili"),
		stop:   make(chan struct{}),
	}
	if !m.probe() {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url))
	}
	go m.watch()
	return m
}

// probe checks server health and sets up indexes on a down-to-up transition.
func (m *Meili) probe() bool {
	_, err := m.client.Health()
	up := err == nil
	if was := m.healthy.Swap(up); up && !was {
		m.logger.Info("meilisearch reachable, applying index settings")
		m.setupIndexes()
	}
	return up
}

func (m *Meili) watch() {
	t := time.NewTicker(meiliProbeInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.probe()
		}
	}
}

func (m *Meili) setupIndexes() {
	for _, idx := range meiliIndexes {
		log := m.logger.With(zap.String("index", idx.uid))
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			log.Debug("create index", zap.Error(err))
		}
		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, 0, len(idx.filterable))
		for _, attr := range idx.filterable {
			filterable = append(filterable, attr)
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Warn("set filterable attributes", zap.Error(err))
		}
		searchable := append([]string(nil), idx.searchable...)
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Warn("set searchable attributes", zap.Error(err))
		}
	}
}

// Close stops the background probe.
func (m *Meili) Close() { close(m.stop) }

func (m *Meili) Healthy() bool { return m.healthy.Load() }

// Search runs one multi-search across the indexes selected by q.FilterType.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, errUnhealthy
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	req := &meili.MultiSearchRequest{}
	for _, idx := range meiliIndexes {
		if q.FilterType != "" && q.FilterType != idx.kind {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}
		if f := ownerFilter(idx.kind, q.ViewerID, q.ViewerFirm); f != "" {
			sr.Filter = f
		}
		req.Queries = append(req.Queries, sr)
	}
	if len(req.Queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}
	var (
		out   []Result
		total int
	)
	for _, res := range resp.Results {
		idx, ok := indexByUID(res.IndexUID)
		if !ok {
			continue
		}
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			out = append(out, hitToResult(hit, idx.kind))
		}
	}
	return out, total, nil
}

// ownerFilter limits owner-scoped indexes to shared documents, the viewer's
// own and those of the viewer's firm.
func ownerFilter(kind ResultType, viewerID, firmID string) string {
	if viewerID == "" || !indexFor(kind).ownerScoped {
		return ""
	}
	owned := fmt.Sprintf("ownerId IN [%q, %q]", publicOwner, viewerID)
	if firmID == "" {
		return owned
	}
	return fmt.Sprintf("%s OR firmId = %q", owned, firmID)
}

func hitToResult(hit meili.Hit, kind ResultType) Result {
	idx := indexFor(kind)
	r := Result{
		Type:      kind,
		ID:        hitString(hit, "id"),
		Status:    hitString(hit, "status"),
		ProjectID: hitString(hit, "projectId"),
		Title:     highlighted(hit, idx.titleField),
	}
	if kind == ResultProject {
		r.ProjectID = r.ID
	}
	if idx.snippetField != "" {
		r.Snippet = highlighted(hit, idx.snippetField)
	}
	return r
}

func hitString(hit meili.Hit, key string) string {
	var s string
	if raw, ok := hit[key]; ok && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

// highlighted returns the _formatted value of key when Meilisearch supplied
// one, falling back to the raw attribute.
func highlighted(hit meili.Hit, key string) string {
	var formatted map[string]json.RawMessage
	if raw, ok := hit["_formatted"]; ok && json.Unmarshal(raw, &formatted) == nil {
		var s string
		if json.Unmarshal(formatted[key], &s) == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return hitString(hit, key)
}

func addDocuments[T any](m *Meili, kind ResultType, docs []T) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := m.client.Index(indexFor(kind).uid).AddDocuments(docs, nil)
	return err
}

func (m *Meili) IndexDecision(d DecisionRecord) error {
	return addDocuments(m, ResultDecision, []DecisionRecord{d})
}

func (m *Meili) IndexTemplate(t TemplateRecord) error {
	return addDocuments(m, ResultTemplate, []TemplateRecord{t})
}

func (m *Meili) IndexProject(p ProjectRecord) error {
	return addDocuments(m, ResultProject, []ProjectRecord{p})
}

// DeleteTemplate removes a soft-deleted template from the index.
func (m *Meili) DeleteTemplate(id string) error {
	_, err := m.client.Index(indexFor(ResultTemplate).uid).DeleteDocument(id, nil)
	return err
}

func (m *Meili) IndexDecisions(decisions []DecisionRecord) error {
	return addDocuments(m, ResultDecision, decisions)
}

func (m *Meili) IndexTemplates(templates []TemplateRecord) error {
	return addDocuments(m, ResultTemplate, templates)
}

func (m *Meili) IndexProjects(projects []ProjectRecord) error {
	return addDocuments(m, ResultProject, projects)
}
