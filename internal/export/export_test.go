package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"archboard/api/internal/store"
)

type fakeStore struct {
	getDecisionVersionFn func(decisionID, versionID string) (store.DecisionVersion, error)
}

func (f fakeStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	return store.Project{ID: projectID, Name: "Harbor House"}, nil
}

func (f fakeStore) GetDecision(_ context.Context, projectID, decisionID string) (store.Decision, error) {
	return store.Decision{ID: decisionID, ProjectID: projectID, Status: "pending", PhaseID: "schematic"}, nil
}

func (f fakeStore) GetDecisionVersion(_ context.Context, decisionID, versionID string) (store.DecisionVersion, error) {
	if f.getDecisionVersionFn != nil {
		return f.getDecisionVersionFn(decisionID, versionID)
	}
	cost := 1250.0
	return store.DecisionVersion{
		ID:          versionID,
		DecisionID:  decisionID,
		Version:     2,
		Title:       "Roof membrane",
		Description: "Choose the roofing system",
		PublishedAt: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Options: []store.DecisionOption{
			{ID: "opt_1", Label: "EPDM", CostDelta: &cost, IsRecommended: true},
			{ID: "opt_2", Label: "TPO"},
		},
	}, nil
}

func (f fakeStore) ListApprovals(_ context.Context, decisionID string) ([]store.Approval, error) {
	return []store.Approval{
		{ID: "apr_1", VersionID: "ver_2", UserName: "Casey Client", Action: "ask_question", Comment: "Warranty length?"},
		{ID: "apr_0", VersionID: "ver_1", UserName: "Old Reviewer", Action: "request_change"},
	}, nil
}

func newTestService(st DataStore) *Service {
	svc := NewService(st, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestExportHTMLIncludesVersionContent(t *testing.T) {
	svc := newTestService(fakeStore{})
	res, err := svc.Export(context.Background(), Request{ProjectID: "prj_1", DecisionID: "dec_1", VersionID: "ver_2", Format: FormatHTML})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	html := string(res.Data)
	for _, want := range []string{"Roof membrane", "Harbor House", "Schematic", "Version 2", "EPDM (recommended)", "$1,250", "Warranty length?", "Asked a question"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected html to contain %q", want)
		}
	}
	if strings.Contains(html, "Old Reviewer") {
		t.Error("approvals of other versions must not be rendered")
	}
	if res.Format != FormatHTML || res.Filename != "Roof-membrane-v2.html" {
		t.Fatalf("unexpected result meta: %+v", res)
	}
	if !res.GeneratedAt.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected generated at: %v", res.GeneratedAt)
	}
}

func TestExportPDFFallsBackToHTML(t *testing.T) {
	svc := newTestService(fakeStore{})
	svc.renderPDF = func(context.Context, string, string) (*Result, error) {
		return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
	}
	res, err := svc.Export(context.Background(), Request{ProjectID: "prj_1", DecisionID: "dec_1", VersionID: "ver_2", Format: FormatPDF})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Format != FormatHTML || res.MimeType != mimeHTML {
		t.Fatalf("expected html fallback, got %+v", res)
	}
}

func TestExportPDFRendererErrorPropagates(t *testing.T) {
	svc := newTestService(fakeStore{})
	svc.renderPDF = func(context.Context, string, string) (*Result, error) {
		return nil, errors.New("chrome crashed")
	}
	if _, err := svc.Export(context.Background(), Request{ProjectID: "prj_1", DecisionID: "dec_1", VersionID: "ver_2", Format: FormatPDF}); err == nil {
		t.Fatal("expected renderer error")
	}
}

func TestExportDOCXMissingPandoc(t *testing.T) {
	svc := newTestService(fakeStore{})
	svc.renderDOCX = func(context.Context, string, string) (*Result, error) {
		return nil, ErrDOCXDependencyMissing
	}
	_, err := svc.Export(context.Background(), Request{ProjectID: "prj_1", DecisionID: "dec_1", VersionID: "ver_2", Format: FormatDOCX})
	if !errors.Is(err, ErrDOCXDependencyMissing) {
		t.Fatalf("expected ErrDOCXDependencyMissing, got %v", err)
	}
}

func TestExportUnknownVersion(t *testing.T) {
	svc := newTestService(fakeStore{getDecisionVersionFn: func(string, string) (store.DecisionVersion, error) {
		return store.DecisionVersion{}, sql.ErrNoRows
	}})
	_, err := svc.Export(context.Background(), Request{ProjectID: "prj_1", DecisionID: "dec_1", VersionID: "nope", Format: FormatHTML})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatPDF, "pdf": FormatPDF, "docx": FormatDOCX, "html": FormatHTML}
	for in, want := range cases {
		got, ok := ParseFormat(in)
		if !ok || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseFormat("xlsx"); ok {
		t.Error("xlsx should be rejected")
	}
}

func TestFormatMoney(t *testing.T) {
	neg := -42000.4
	pos := 1234567.0
	zero := 0.0
	tests := []struct {
		in   *float64
		want string
	}{
		{nil, "n/a"},
		{&neg, "-$42,000"},
		{&pos, "+$1,234,567"},
		{&zero, "$0"},
	}
	for _, tt := range tests {
		if got := formatMoney(tt.in); got != tt.want {
			t.Errorf("formatMoney = %q, want %q", got, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Roof membrane v2", "Roof-membrane-v2"},
		{"Façade / glazing", "Faade--glazing"},
		{"", "decision"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestPaperByName(t *testing.T) {
	if got := PaperByName(" A4 "); got != PaperA4 {
		t.Fatalf("a4 = %+v", got)
	}
	if got := PaperByName("tabloid"); got != PaperLetter {
		t.Fatalf("unknown paper = %+v, want letter", got)
	}
}

func TestPageFooterEscapesTitle(t *testing.T) {
	footer := pageFooter("Doors <oak> & steel")
	if !strings.Contains(footer, "Doors &lt;oak&gt; &amp; steel") {
		t.Fatalf("title not escaped: %s", footer)
	}
	if !strings.Contains(footer, `class="pageNumber"`) {
		t.Fatal("footer lacks page number")
	}
}
