// Package listing filters, sorts and pages decision and template lists on the
// client, for backends that return lists unfiltered.
package listing

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"

	"archboard/api/internal/client/api"
	"archboard/api/internal/domain"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type DecisionFilter struct {
	Status     string
	Phase      string
	Assignee   string
	CostImpact string
	Search     string
}

func anyValue(v string) bool {
	return v == "" || v == "all" || v == "any"
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// MatchDecision reports whether d passes every set filter.
func MatchDecision(d api.Decision, f DecisionFilter) bool {
	if !anyValue(f.Status) && d.Status != f.Status {
		return false
	}
	if !anyValue(f.Phase) && d.PhaseID != f.Phase {
		return false
	}
	if !anyValue(f.Assignee) && d.AssigneeID != f.Assignee {
		return false
	}
	cost := costOf(d)
	switch f.CostImpact {
	case "none":
		if cost != 0 {
			return false
		}
	case "positive":
		if cost <= 0 {
			return false
		}
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		if !containsFold(d.Title, q) && !containsFold(d.Description, q) {
			return false
		}
	}
	return true
}

func FilterDecisions(items []api.Decision, f DecisionFilter) []api.Decision {
	out := make([]api.Decision, 0, len(items))
	for _, d := range items {
		if MatchDecision(d, f) {
			out = append(out, d)
		}
	}
	return out
}

func costOf(d api.Decision) float64 {
	if d.CostDelta == nil {
		return 0
	}
	return *d.CostDelta
}

// decisionTime is the publish time, or creation time for unpublished drafts.
func decisionTime(d api.Decision) time.Time {
	if d.PublishedAt != nil {
		return *d.PublishedAt
	}
	return d.CreatedAt
}

func direction(order string) int {
	if strings.EqualFold(order, "asc") {
		return 1
	}
	return -1
}

func newCollator() *collate.Collator {
	return collate.New(language.English, collate.IgnoreCase)
}

// SortDecisions returns a sorted copy. Text fields compare by case-folded
// collation, cost numerically, date by publish time and phase by lifecycle
// order. Ties break on id in the same direction, so the descending order is
// exactly the ascending order reversed.
func SortDecisions(items []api.Decision, field, order string) []api.Decision {
	out := slices.Clone(items)
	col := newCollator()
	dir := direction(order)
	slices.SortFunc(out, func(a, b api.Decision) int {
		var c int
		switch field {
		case "title":
			c = col.CompareString(a.Title, b.Title)
		case "status":
			c = col.CompareString(a.Status, b.Status)
		case "cost":
			c = cmp.Compare(costOf(a), costOf(b))
		case "phase":
			c = cmp.Compare(domain.PhaseIndex(a.PhaseID), domain.PhaseIndex(b.PhaseID))
		default:
			c = decisionTime(a).Compare(decisionTime(b))
		}
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		return c * dir
	})
	return out
}

type TemplateFilter struct {
	Search string
	Type   string
	Status string
}

func MatchTemplate(t api.Template, f TemplateFilter) bool {
	if !anyValue(f.Type) && t.Type != f.Type {
		return false
	}
	if !anyValue(f.Status) && t.Status != f.Status {
		return false
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		return containsFold(t.Title, q) || containsFold(t.Description, q)
	}
	return true
}

func FilterTemplates(items []api.Template, f TemplateFilter) []api.Template {
	out := make([]api.Template, 0, len(items))
	for _, t := range items {
		if MatchTemplate(t, f) {
			out = append(out, t)
		}
	}
	return out
}

// SortTemplates sorts by title, usage_count or updated_at (the default).
func SortTemplates(items []api.Template, field, order string) []api.Template {
	out := slices.Clone(items)
	col := newCollator()
	dir := direction(order)
	slices.SortFunc(out, func(a, b api.Template) int {
		var c int
		switch field {
		case "title":
			c = col.CompareString(a.Title, b.Title)
		case "usage_count":
			c = cmp.Compare(a.UsageCount, b.UsageCount)
		default:
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		}
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		return c * dir
	})
	return out
}

// Paginate returns the 1-based page of items. A non-positive pageSize returns
// everything.
func Paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}

// TimeAgo labels t relative to now: "just now", "5m ago", "3h ago", "2d ago",
// then the calendar date after a week.
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return strconv.Itoa(int(d/time.Minute)) + "m ago"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d/time.Hour)) + "h ago"
	case d < 7*24*time.Hour:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d ago"
	}
	return t.Format("Jan 2, 2006")
}
