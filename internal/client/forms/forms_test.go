package forms

import (
	"testing"

	"archboard/api/internal/client/api"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestLogin(t *testing.T) {
	assert.Nil(t, Validate(Login{Email: "ana@studio.test", Password: "x"}))

	got := Validate(Login{Email: "not-an-email"})
	want := Errors{
		"email":    "Enter a valid email address",
		"password": "This field is required",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("login errors (-want +got):\n%s", diff)
	}
}

func TestSignUp(t *testing.T) {
	assert.Nil(t, Validate(SignUp{Email: "a@b.test", Password: "longenough"}))
	got := Validate(SignUp{Email: "a@b.test", Password: "short"})
	assert.Equal(t, Errors{"password": "Must be at least 8 characters"}, got)
}

func TestFirmSignupUsesWireNames(t *testing.T) {
	got := Validate(FirmSignup{Company: "   ", AdminEmail: "bad", AdminName: "Ana"})
	assert.Equal(t, Errors{
		"company_name": "This field is required",
		"admin_email":  "Enter a valid email address",
	}, got)
}

func TestTemplateEditorDivesIntoStubs(t *testing.T) {
	neg := -3
	form := TemplateEditor{
		Title: "Clinic fit-out",
		Milestones: []api.MilestoneStub{
			{Name: "Kickoff", PhaseID: "kickoff"},
			{Name: " ", PhaseID: "design", DueOffsetDays: &neg},
		},
		DecisionStubs: []api.DecisionStub{{Title: ""}},
	}
	got := Validate(form)
	want := Errors{
		"milestones[1].name":            "This field is required",
		"milestones[1].phase_id":        "Must be one of: kickoff, concept, schematic, dd, permitting, ca, handover",
		"milestones[1].due_offset_days": "Must be at least 0",
		"decision_stubs[0].title":       "This field is required",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("editor errors (-want +got):\n%s", diff)
	}
}

func TestTemplateEditorRequiresTitle(t *testing.T) {
	got := Validate(TemplateEditor{Title: "\t", Type: "blueprint"})
	assert.Equal(t, "This field is required", got["title"])
	assert.Equal(t, "Must be one of: project, decision_set", got["type"])
}

func TestTemplateEditorFromDraft(t *testing.T) {
	title := "Loft"
	stubs := []api.DecisionStub{{Title: "Flooring"}}
	f := TemplateEditorFromDraft(api.TemplateDraft{Title: &title, DecisionStubs: &stubs})
	assert.Equal(t, "Loft", f.Title)
	assert.Equal(t, stubs, f.DecisionStubs)
	assert.Nil(t, Validate(f))
}

func TestMilestone(t *testing.T) {
	assert.Nil(t, Validate(Milestone{Name: "Permit set", PhaseID: "permitting", DueDate: "2025-04-01"}))
	got := Validate(Milestone{Name: "Permit set", PhaseID: "Permitting", DueDate: "04/01/2025"})
	assert.Equal(t, Errors{
		"phaseId": "Must be one of: kickoff, concept, schematic, dd, permitting, ca, handover",
		"dueDate": "Use the YYYY-MM-DD format",
	}, got)
}

func TestApplyWizard(t *testing.T) {
	assert.Nil(t, Validate(ApplyWizard{TemplateID: "tpl_1", ProjectName: "Riverside"}))
	assert.Nil(t, Validate(ApplyWizard{TemplateID: "tpl_1", ProjectID: "prj_1"}))

	got := Validate(ApplyWizardFrom(api.ApplyRequest{ProjectName: "  "}))
	assert.Equal(t, Errors{
		"templateId":  "This field is required",
		"projectName": "This field is required",
	}, got)
}

func TestApproval(t *testing.T) {
	ok := Approval{ProjectID: "p", DecisionID: "d", VersionID: "v", Action: "e_signed"}
	assert.Nil(t, Validate(ok))

	bad := ok
	bad.Action = "reject"
	bad.VersionID = ""
	got := Validate(bad)
	assert.Equal(t, "This field is required", got["versionId"])
	assert.Contains(t, got["approvalAction"], "request_change")
}

func TestCheckReturnsErrorsType(t *testing.T) {
	err := Check(Login{})
	var errs Errors
	assert.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 2)
	assert.Equal(t, "invalid input: email: This field is required; password: This field is required", err.Error())
	assert.NoError(t, Check(Login{Email: "a@b.test", Password: "p"}))
}
