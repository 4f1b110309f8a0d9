package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math"
	"strings"
	"time"

	"archboard/api/internal/domain"
	"archboard/api/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var decisionTemplate = template.Must(
	template.New("decision.html").Funcs(template.FuncMap{
		"formatDate":     func(t time.Time) string { return t.Format("Jan 2, 2006") },
		"formatDateTime": func(t time.Time) string { return t.Format("Jan 2, 2006 15:04") },
		"money":          formatMoney,
		"costClass":      costClass,
		"inc":            func(i int) int { return i + 1 },
		"actionLabel":    actionLabel,
	}).ParseFS(templateFS, "templates/decision.html"),
)

// TemplateData is what decision.html renders.
type TemplateData struct {
	Title       string
	Description string
	ProjectName string
	PhaseLabel  string
	Status      string
	Version     int
	PublishedAt time.Time
	CostDelta   *float64
	Options     []store.DecisionOption
	Approvals   []store.Approval
}

// RenderDecisionHTML renders a decision version as a standalone HTML page.
func RenderDecisionHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := decisionTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatMoney(v *float64) string {
	if v == nil {
		return "n/a"
	}
	amount := *v
	sign := ""
	switch {
	case amount > 0:
		sign = "+"
	case amount < 0:
		sign = "-"
	}
	whole := int64(math.Round(math.Abs(amount)))
	digits := fmt.Sprintf("%d", whole)
	var grouped strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	return sign + "$" + grouped.String()
}

func costClass(v *float64) string {
	switch {
	case v == nil:
		return ""
	case *v > 0:
		return "cost-up"
	case *v < 0:
		return "cost-down"
	}
	return ""
}

func actionLabel(action string) string {
	switch action {
	case domain.ActionApprove:
		return "Approved"
	case domain.ActionRequestChange:
		return "Requested changes"
	case domain.ActionAskQuestion:
		return "Asked a question"
	case domain.ActionESigned:
		return "E-signed"
	}
	return action
}
