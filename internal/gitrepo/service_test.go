package gitrepo

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"archboard/api/internal/store"
)

func intPtr(v int) *int { return &v }

func sampleContent() Content {
	return Content{
		Title:       "Residential renovation",
		Description: "Standard phases for a home renovation",
		Milestones: []store.MilestoneStub{
			{ID: "ms_1", Name: "Site survey", PhaseID: "kickoff", OrderIndex: 0},
			{ID: "ms_2", Name: "Concept review", PhaseID: "concept", OrderIndex: 1, DueOffsetDays: intPtr(30)},
		},
		DecisionStubs: []store.DecisionStub{
			{ID: "ds_1", Title: "Kitchen layout", OrderIndex: 0},
		},
	}
}

func TestTemplateVersionLifecycle(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.CommitVersion("tpl_1", 1, sampleContent(), "Avery Architect")
	if err != nil {
		t.Fatalf("CommitVersion(1) error = %v", err)
	}
	if len(first.Hash) != 40 || !strings.HasPrefix(first.Message, "Version 1") {
		t.Fatalf("unexpected commit info: %+v", first)
	}

	updated := sampleContent()
	updated.Title = "Residential renovation (2026)"
	updated.Milestones = updated.Milestones[1:]
	if _, err := svc.CommitVersion("tpl_1", 2, updated, "Avery Architect"); err != nil {
		t.Fatalf("CommitVersion(2) error = %v", err)
	}

	v1, err := svc.GetVersionContent("tpl_1", 1)
	if err != nil {
		t.Fatalf("GetVersionContent(1) error = %v", err)
	}
	if v1.Title != "Residential renovation" || len(v1.Milestones) != 2 {
		t.Fatalf("unexpected v1 content: %+v", v1)
	}
	if v1.Milestones[1].DueOffsetDays == nil || *v1.Milestones[1].DueOffsetDays != 30 {
		t.Fatalf("offset not preserved: %+v", v1.Milestones[1])
	}

	v2, err := svc.GetVersionContent("tpl_1", 2)
	if err != nil {
		t.Fatalf("GetVersionContent(2) error = %v", err)
	}
	if v2.Title != updated.Title || len(v2.Milestones) != 1 {
		t.Fatalf("unexpected v2 content: %+v", v2)
	}

	history, err := svc.History("tpl_1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || !strings.HasPrefix(history[0].Message, "Version 2") {
		t.Fatalf("expected newest-first history of 2, got %+v", history)
	}
	if history[0].Author != "Avery Architect" {
		t.Fatalf("unexpected author %q", history[0].Author)
	}
}

func TestCommitVersionRetagsRetriedVersion(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.CommitVersion("tpl_1", 1, sampleContent(), "A"); err != nil {
		t.Fatal(err)
	}
	retry := sampleContent()
	retry.Description = "second attempt"
	again, err := svc.CommitVersion("tpl_1", 1, retry, "A")
	if err != nil {
		t.Fatalf("retry commit error = %v", err)
	}
	got, err := svc.GetVersionContent("tpl_1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "second attempt" {
		t.Fatalf("tag should point at the retried commit %s, got %+v", again.Hash, got)
	}
}

func TestGetVersionContentMissing(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.GetVersionContent("tpl_none", 1); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound for missing repo, got %v", err)
	}
	if _, err := svc.CommitVersion("tpl_1", 1, sampleContent(), "A"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetVersionContent("tpl_1", 7); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound for missing tag, got %v", err)
	}
}

func TestHistoryWithoutRepo(t *testing.T) {
	history, err := New(t.TempDir()).History("tpl_none", 5)
	if err != nil || len(history) != 0 {
		t.Fatalf("expected empty history, got %v %v", history, err)
	}
}

func TestConcurrentCommitsToDifferentTemplates(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CommitVersion(fmt.Sprintf("tpl_%d", i%2), i+1, sampleContent(), "A")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent commit failed: %v", err)
		}
	}
	history, err := svc.History("tpl_0", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 commits for tpl_0, got %d", len(history))
	}
}

func TestDiffFields(t *testing.T) {
	from := sampleContent()
	to := sampleContent()
	to.Title = "New title"
	to.Milestones = []store.MilestoneStub{
		{ID: "ms_2", Name: "Concept review", PhaseID: "concept", OrderIndex: 1, DueOffsetDays: intPtr(45)},
		{ID: "ms_3", Name: "Permit filing", PhaseID: "permitting", OrderIndex: 2},
	}
	to.DecisionStubs = nil

	changes := DiffFields(from, to)
	got := make([]string, 0, len(changes))
	for _, c := range changes {
		got = append(got, c.Field+":"+c.Change)
	}
	want := []string{
		"title:modified",
		"milestones[ms_2]:modified",
		"milestones[ms_3]:added",
		"milestones[ms_1]:removed",
		"decision_stubs[ds_1]:removed",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("DiffFields = %v, want %v", got, want)
	}
	if !HasChanges(from, to) {
		t.Fatal("expected HasChanges")
	}
	if HasChanges(from, sampleContent()) {
		t.Fatal("identical content should have no changes")
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("Avery O'Neil-Smith"); got != "Avery.ONeil.Smith" {
		t.Fatalf("got %q", got)
	}
	if got := sanitizeEmail("!!"); got != "user" {
		t.Fatalf("got %q", got)
	}
}
