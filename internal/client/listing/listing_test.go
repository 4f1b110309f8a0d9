package listing

import (
	"slices"
	"testing"
	"time"

	"archboard/api/internal/client/api"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func cost(v float64) *float64 { return &v }

func at(day int) *time.Time {
	t := time.Date(2025, 3, day, 12, 0, 0, 0, time.UTC)
	return &t
}

func fixtures() []api.Decision {
	return []api.Decision{
		{ID: "d1", Title: "roof membrane", Status: "pending", PhaseID: "dd", CostDelta: cost(3500), PublishedAt: at(3), AssigneeID: "u1"},
		{ID: "d2", Title: "Kitchen fixtures", Status: "approved", PhaseID: "concept", CostDelta: cost(0), PublishedAt: at(1)},
		{ID: "d3", Title: "Exterior cladding", Status: "pending", PhaseID: "schematic", CostDelta: cost(12000), PublishedAt: at(2), Description: "Zinc or timber"},
		{ID: "d4", Title: "kitchen fixtures", Status: "draft", PhaseID: "kickoff", CreatedAt: *at(4)},
	}
}

func ids(items []api.Decision) []string {
	out := make([]string, 0, len(items))
	for _, d := range items {
		out = append(out, d.ID)
	}
	return out
}

func TestFilterDecisions(t *testing.T) {
	cases := []struct {
		name   string
		filter DecisionFilter
		want   []string
	}{
		{"no filter", DecisionFilter{}, []string{"d1", "d2", "d3", "d4"}},
		{"all status", DecisionFilter{Status: "all"}, []string{"d1", "d2", "d3", "d4"}},
		{"pending", DecisionFilter{Status: "pending"}, []string{"d1", "d3"}},
		{"phase", DecisionFilter{Phase: "concept"}, []string{"d2"}},
		{"assignee", DecisionFilter{Assignee: "u1"}, []string{"d1"}},
		{"no cost impact", DecisionFilter{CostImpact: "none"}, []string{"d2", "d4"}},
		{"positive cost", DecisionFilter{CostImpact: "positive"}, []string{"d1", "d3"}},
		{"search title", DecisionFilter{Search: "KITCHEN"}, []string{"d2", "d4"}},
		{"search description", DecisionFilter{Search: "zinc"}, []string{"d3"}},
		{"combined", DecisionFilter{Status: "pending", CostImpact: "positive", Search: "roof"}, []string{"d1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ids(FilterDecisions(fixtures(), tc.filter))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSortDecisions(t *testing.T) {
	cases := []struct {
		field string
		order string
		want  []string
	}{
		{"date", "desc", []string{"d4", "d1", "d3", "d2"}},
		{"date", "asc", []string{"d2", "d3", "d1", "d4"}},
		{"cost", "asc", []string{"d2", "d4", "d1", "d3"}},
		{"title", "asc", []string{"d3", "d2", "d4", "d1"}},
		{"status", "asc", []string{"d2", "d4", "d1", "d3"}},
		{"phase", "asc", []string{"d4", "d2", "d3", "d1"}},
		{"", "", []string{"d4", "d1", "d3", "d2"}},
	}
	for _, tc := range cases {
		got := ids(SortDecisions(fixtures(), tc.field, tc.order))
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%s %s mismatch (-want +got):\n%s", tc.field, tc.order, diff)
		}
	}
}

func TestSortReversalIsExact(t *testing.T) {
	for _, field := range []string{"date", "cost", "title", "status", "phase"} {
		asc := ids(SortDecisions(fixtures(), field, "asc"))
		desc := ids(SortDecisions(fixtures(), field, "desc"))
		slices.Reverse(desc)
		assert.Equal(t, asc, desc, field)
	}
}

func TestSortDoesNotMutateInput(t *testing.T) {
	in := fixtures()
	_ = SortDecisions(in, "title", "asc")
	assert.Equal(t, []string{"d1", "d2", "d3", "d4"}, ids(in))
}

func TestTemplates(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []api.Template{
		{ID: "t1", Title: "Clinic fit-out", Type: "project", Status: "active", UsageCount: 4, UpdatedAt: base.Add(2 * time.Hour)},
		{ID: "t2", Title: "bathroom finishes", Type: "decision_set", Status: "draft", UsageCount: 9, UpdatedAt: base.Add(time.Hour)},
		{ID: "t3", Title: "Adaptive reuse", Type: "project", Status: "archived", UsageCount: 4, UpdatedAt: base.Add(3 * time.Hour), Description: "Clinic conversion"},
	}

	var got []string
	for _, tpl := range FilterTemplates(items, TemplateFilter{Type: "project", Search: "clinic"}) {
		got = append(got, tpl.ID)
	}
	assert.Equal(t, []string{"t1", "t3"}, got)

	order := func(list []api.Template) []string {
		out := []string{}
		for _, tpl := range list {
			out = append(out, tpl.ID)
		}
		return out
	}
	assert.Equal(t, []string{"t3", "t1", "t2"}, order(SortTemplates(items, "", "")))
	assert.Equal(t, []string{"t3", "t2", "t1"}, order(SortTemplates(items, "title", "asc")))
	assert.Equal(t, []string{"t1", "t3", "t2"}, order(SortTemplates(items, "usage_count", "asc")))
	assert.Len(t, FilterTemplates(items, TemplateFilter{Status: "all", Type: "any"}), 3)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, Paginate(items, 1, 2))
	assert.Equal(t, []int{5}, Paginate(items, 3, 2))
	assert.Equal(t, []int{}, Paginate(items, 4, 2))
	assert.Equal(t, []int{1, 2}, Paginate(items, 0, 2))
	assert.Equal(t, items, Paginate(items, 2, 0))
}

func TestTimeAgo(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	cases := []struct {
		ago  time.Duration
		want string
	}{
		{-time.Hour, "just now"},
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{59*time.Minute + 59*time.Second, "59m ago"},
		{3 * time.Hour, "3h ago"},
		{47 * time.Hour, "1d ago"},
		{6 * 24 * time.Hour, "6d ago"},
		{8 * 24 * time.Hour, "Mar 2, 2025"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TimeAgo(now.Add(-tc.ago), now), tc.ago.String())
	}
}
