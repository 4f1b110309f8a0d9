// Package forms validates user input before it is sent anywhere and reports
// failures per field, keyed by the field's wire name.
package forms

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"archboard/api/internal/client/api"
	"archboard/api/internal/domain"

	"github.com/go-playground/validator/v10"
)

const DateLayout = "2006-01-02"

type Login = api.LoginRequest

type SignUp = api.SignUpRequest

type FirmSignup = api.FirmSignupRequest

type Approval = api.ApprovalRequest

type TemplateEditor struct {
	Title         string              `json:"title" validate:"required,notblank,max=200"`
	Description   string              `json:"description" validate:"max=2000"`
	Type          string              `json:"type" validate:"omitempty,oneof=project decision_set"`
	Status        string              `json:"status" validate:"omitempty,oneof=draft active archived"`
	Milestones    []api.MilestoneStub `json:"milestones" validate:"dive"`
	DecisionStubs []api.DecisionStub  `json:"decision_stubs" validate:"dive"`
}

// TemplateEditorFromDraft fills the editor from a draft, keeping the nil
// fields empty.
func TemplateEditorFromDraft(d api.TemplateDraft) TemplateEditor {
	var f TemplateEditor
	if d.Title != nil {
		f.Title = *d.Title
	}
	if d.Description != nil {
		f.Description = *d.Description
	}
	if d.Type != nil {
		f.Type = *d.Type
	}
	if d.Status != nil {
		f.Status = *d.Status
	}
	if d.Milestones != nil {
		f.Milestones = *d.Milestones
	}
	if d.DecisionStubs != nil {
		f.DecisionStubs = *d.DecisionStubs
	}
	return f
}

type Milestone struct {
	Name    string `json:"name" validate:"required,notblank,max=200"`
	PhaseID string `json:"phaseId" validate:"required,phase"`
	DueDate string `json:"dueDate" validate:"required,datetime=2006-01-02"`
}

type ApplyWizard struct {
	TemplateID  string `json:"templateId" validate:"required"`
	ProjectName string `json:"projectName"`
	ProjectID   string `json:"projectId"`
	StartDate   string `json:"startDate" validate:"omitempty,datetime=2006-01-02"`
}

func ApplyWizardFrom(in api.ApplyRequest) ApplyWizard {
	return ApplyWizard{TemplateID: in.TemplateID, ProjectName: in.ProjectName, ProjectID: in.ProjectID, StartDate: in.StartDate}
}

// Errors maps a field's wire name to a message. Nested fields use dotted
// paths such as "milestones[1].name".
type Errors map[string]string

func (e Errors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		_ = v.RegisterValidation("phase", func(fl validator.FieldLevel) bool {
			return domain.IsPhase(fl.Field().String())
		})
		// A wizard either names a new project or targets an existing one.
		v.RegisterStructValidation(func(sl validator.StructLevel) {
			w := sl.Current().Interface().(ApplyWizard)
			if w.ProjectID == "" && strings.TrimSpace(w.ProjectName) == "" {
				sl.ReportError(w.ProjectName, "projectName", "ProjectName", "notblank", "")
			}
		}, ApplyWizard{})
		validate = v
	})
	return validate
}

// Validate checks form and returns nil when it is valid.
func Validate(form any) Errors {
	err := instance().Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Errors{"": err.Error()}
	}
	out := Errors{}
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if _, seen := out[field]; !seen {
			out[field] = message(fe)
		}
	}
	return out
}

// Check is Validate returning a plain error.
func Check(form any) error {
	if errs := Validate(form); errs != nil {
		return errs
	}
	return nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "This field is required"
	case "email":
		return "Enter a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Must be at least %s characters", fe.Param())
		}
		return "Must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Must be at most %s characters", fe.Param())
		}
		return "Must be at most " + fe.Param()
	case "oneof":
		return "Must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "phase":
		return "Must be one of: " + strings.Join(domain.PhaseOrder, ", ")
	case "datetime":
		return "Use the YYYY-MM-DD format"
	}
	return "Invalid value"
}
