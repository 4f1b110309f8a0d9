package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"archboard/api/internal/client/api"
	"archboard/api/internal/domain"
)

var templatesCmd = &cobra.Command{
	Use:     "templates",
	Aliases: []string{"template"},
	Short:   "Manage the template library",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := api.TemplateQuery{}
		q.Search, _ = cmd.Flags().GetString("search")
		q.Type, _ = cmd.Flags().GetString("type")
		q.Status, _ = cmd.Flags().GetString("status")
		q.SortBy, _ = cmd.Flags().GetString("sort")
		q.SortOrder, _ = cmd.Flags().GetString("order")
		q.Page, _ = cmd.Flags().GetInt("page")
		q.PageSize, _ = cmd.Flags().GetInt("page-size")

		c, err := newClient()
		if err != nil {
			return err
		}
		page, err := c.ListTemplates(cmd.Context(), q)
		if err != nil {
			return explain(cmd, err)
		}
		out := cmd.OutOrStdout()
		if len(page.Items) == 0 {
			fmt.Fprintln(out, "No templates found.")
			return nil
		}
		w := newTable(out, "ID", "TITLE", "TYPE", "STATUS", "VERSION", "USED")
		for _, t := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\tv%d\t%d\n", t.ID, t.Title, t.Type, statusColor(t.Status), t.CurrentVersion, t.UsageCount)
		}
		w.Flush()
		fmt.Fprintf(out, "Page %d · %d of %d\n", page.Page, len(page.Items), page.Total)
		return nil
	},
}

func printVersion(cmd *cobra.Command, v *api.TemplateVersion) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nVersion %d", v.Version)
	if v.CommitHash != "" {
		fmt.Fprintf(out, " (%s)", shortHash(v.CommitHash))
	}
	fmt.Fprintln(out)
	if len(v.Milestones) > 0 {
		w := newTable(out, "#", "MILESTONE", "PHASE", "OFFSET")
		for _, m := range v.Milestones {
			offset := "-"
			if m.DueOffsetDays != nil {
				offset = fmt.Sprintf("+%dd", *m.DueOffsetDays)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.OrderIndex, m.Name, orDash(domain.PhaseLabel(m.PhaseID)), offset)
		}
		w.Flush()
	}
	if len(v.DecisionStubs) > 0 {
		fmt.Fprintln(out, "Decisions:")
		for _, d := range v.DecisionStubs {
			fmt.Fprintf(out, "  %d. %s\n", d.OrderIndex, d.Title)
		}
	}
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

var templatesShowCmd = &cobra.Command{
	Use:   "show [template-id]",
	Short: "Show a template and its current version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		detail, err := c.GetTemplate(cmd.Context(), args[0])
		if err != nil {
			return explain(cmd, err)
		}
		t := detail.Template
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  %s\n", color.New(color.Bold).Sprint(t.Title), statusColor(t.Status))
		fmt.Fprintf(out, "ID: %s\nType: %s\nUsed: %d times\n", t.ID, t.Type, t.UsageCount)
		if t.Description != "" {
			fmt.Fprintf(out, "\n%s\n", t.Description)
		}
		if detail.CurrentVersion != nil {
			printVersion(cmd, detail.CurrentVersion)
		}
		return nil
	},
}

// readDraft builds a draft from --file (YAML) and then applies any flags on
// top of it.
func readDraft(cmd *cobra.Command) (api.TemplateDraft, error) {
	var d api.TemplateDraft
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return d, fmt.Errorf("read template file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &d); err != nil {
			return d, fmt.Errorf("parse template file: %w", err)
		}
	}
	if v := optional(cmd, "title"); v != nil {
		d.Title = v
	}
	if v := optional(cmd, "description"); v != nil {
		d.Description = v
	}
	if v := optional(cmd, "type"); v != nil {
		d.Type = v
	}
	if v := optional(cmd, "status"); v != nil {
		d.Status = v
	}
	if v := optionalInt(cmd, "expected-version"); v != nil {
		d.ExpectedVersion = v
	}
	return d, nil
}

var templatesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a template from flags or a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		draft, err := readDraft(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		t, err := c.CreateTemplate(cmd.Context(), draft)
		if err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created template %s (v%d)\n", t.ID, t.CurrentVersion)
		return nil
	},
}

var templatesUpdateCmd = &cobra.Command{
	Use:   "update [template-id]",
	Short: "Update a template; content changes record a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		draft, err := readDraft(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		t, err := c.UpdateTemplate(cmd.Context(), args[0], draft)
		if err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated template %s (now v%d)\n", t.ID, t.CurrentVersion)
		return nil
	},
}

var templatesDeleteCmd = &cobra.Command{
	Use:   "delete [template-id]",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.DeleteTemplate(cmd.Context(), args[0]); err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted template %s\n", args[0])
		return nil
	},
}

var templatesVersionsCmd = &cobra.Command{
	Use:   "versions [template-id]",
	Short: "List a template's versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		versions, err := c.TemplateVersions(cmd.Context(), args[0])
		if err != nil {
			return explain(cmd, err)
		}
		w := newTable(cmd.OutOrStdout(), "VERSION", "TITLE", "MILESTONES", "DECISIONS", "COMMIT", "CREATED")
		for _, v := range versions {
			fmt.Fprintf(w, "v%d\t%s\t%d\t%d\t%s\t%s\n",
				v.Version, v.Title, len(v.Milestones), len(v.DecisionStubs), orDash(shortHash(v.CommitHash)), v.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()
		return nil
	},
}

var templatesApplyCmd = &cobra.Command{
	Use:   "apply [template-id]",
	Short: "Create a project from a template, or add it to an existing project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.ApplyRequest{TemplateID: args[0]}
		req.ProjectName, _ = cmd.Flags().GetString("project-name")
		req.ProjectID, _ = cmd.Flags().GetString("project")
		req.StartDate, _ = cmd.Flags().GetString("start")

		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.ApplyTemplate(cmd.Context(), req)
		if err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied to project %s: %d milestones, %d decisions\n", res.ProjectID, res.Milestones, res.Decisions)
		return nil
	},
}

func addDraftFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "YAML file with title, description, milestones and decision_stubs")
	cmd.Flags().String("title", "", "Title")
	cmd.Flags().String("description", "", "Description")
	cmd.Flags().String("type", "", "project|decision_set")
	cmd.Flags().String("status", "", "draft|active|archived")
}

func init() {
	templatesListCmd.Flags().String("search", "", "Search title and description")
	templatesListCmd.Flags().String("type", "", "Filter by type (project|decision_set)")
	templatesListCmd.Flags().String("status", "", "Filter by status (draft|active|archived)")
	templatesListCmd.Flags().String("sort", "updated_at", "Sort by title|updated_at|usage_count")
	templatesListCmd.Flags().String("order", "desc", "Sort order (asc|desc)")
	templatesListCmd.Flags().Int("page", 1, "Page number")
	templatesListCmd.Flags().Int("page-size", 20, "Items per page")

	addDraftFlags(templatesCreateCmd)
	addDraftFlags(templatesUpdateCmd)
	templatesUpdateCmd.Flags().Int("expected-version", 0, "Fail if the template moved past this version")

	templatesApplyCmd.Flags().String("project-name", "", "Name for a new project")
	templatesApplyCmd.Flags().String("project", "", "Existing project ID")
	templatesApplyCmd.Flags().String("start", "", "Start date (YYYY-MM-DD) for milestone offsets")

	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesShowCmd)
	templatesCmd.AddCommand(templatesCreateCmd)
	templatesCmd.AddCommand(templatesUpdateCmd)
	templatesCmd.AddCommand(templatesDeleteCmd)
	templatesCmd.AddCommand(templatesVersionsCmd)
	templatesCmd.AddCommand(templatesApplyCmd)
}

// TemplatesCmd returns the templates command
func TemplatesCmd() *cobra.Command {
	return templatesCmd
}
