package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"archboard/api/internal/client/api"
	"archboard/api/internal/client/listing"
	"archboard/api/internal/domain"
)

var decisionsCmd = &cobra.Command{
	Use:     "decisions",
	Aliases: []string{"decision-log"},
	Short:   "Browse and approve project decisions",
}

var decisionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List decisions, across projects unless --project is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := api.DecisionQuery{}
		q.ProjectID, _ = cmd.Flags().GetString("project")
		q.Status, _ = cmd.Flags().GetString("status")
		q.Phase, _ = cmd.Flags().GetString("phase")
		q.Assignee, _ = cmd.Flags().GetString("assignee")
		q.CostImpact, _ = cmd.Flags().GetString("cost")
		q.Search, _ = cmd.Flags().GetString("search")
		q.SortBy, _ = cmd.Flags().GetString("sort")
		q.SortOrder, _ = cmd.Flags().GetString("order")
		q.Page, _ = cmd.Flags().GetInt("page")
		q.PageSize, _ = cmd.Flags().GetInt("page-size")

		c, err := newClient()
		if err != nil {
			return err
		}
		page, err := c.ListDecisions(cmd.Context(), q)
		if err != nil {
			return explain(cmd, err)
		}
		out := cmd.OutOrStdout()
		if len(page.Items) == 0 {
			fmt.Fprintln(out, "No decisions found.")
			return nil
		}
		now := time.Now()
		w := newTable(out, "ID", "TITLE", "STATUS", "PHASE", "COST", "UPDATED")
		for _, d := range page.Items {
			updated := d.UpdatedAt
			if d.PublishedAt != nil {
				updated = *d.PublishedAt
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				d.ID,
				d.Title,
				statusColor(d.Status),
				domain.PhaseLabel(d.PhaseID),
				formatCost(d.CostDelta),
				listing.TimeAgo(updated, now),
			)
		}
		w.Flush()
		fmt.Fprintf(out, "Page %d · %d of %d\n", page.Page, len(page.Items), page.Total)
		return nil
	},
}

var decisionsShowCmd = &cobra.Command{
	Use:   "show [decision-id]",
	Short: "Show a decision with its versions, audit trail and related items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		c, err := newClient()
		if err != nil {
			return err
		}
		detail, err := c.DecisionDetail(cmd.Context(), projectID, args[0])
		if err != nil {
			return explain(cmd, err)
		}
		out := cmd.OutOrStdout()
		d := detail.Decision
		fmt.Fprintf(out, "%s  %s\n", color.New(color.Bold).Sprint(d.Title), statusColor(d.Status))
		fmt.Fprintf(out, "ID: %s\n", d.ID)
		fmt.Fprintf(out, "Phase: %s\n", domain.PhaseLabel(d.PhaseID))
		fmt.Fprintf(out, "Cost impact: %s\n", formatCost(d.CostDelta))
		if d.Description != "" {
			fmt.Fprintf(out, "\n%s\n", d.Description)
		}
		if len(d.Options) > 0 {
			fmt.Fprintln(out, "\nOptions:")
			for _, o := range d.Options {
				marker := " "
				if o.IsRecommended || o.ID == d.RecommendedOptionID {
					marker = color.New(color.FgGreen).Sprint("★")
				}
				fmt.Fprintf(out, "  %s %s (%s)\n", marker, o.Label, formatCost(o.CostDelta))
			}
		}
		if len(detail.Versions) > 0 {
			fmt.Fprintln(out, "\nVersions:")
			w := newTable(out, "VERSION", "ID", "PUBLISHED")
			for _, v := range detail.Versions {
				fmt.Fprintf(w, "v%d\t%s\t%s\n", v.Version, v.ID, v.PublishedAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
		}
		if len(detail.AuditLog) > 0 {
			fmt.Fprintln(out, "\nAudit trail:")
			for _, e := range detail.AuditLog {
				fmt.Fprintf(out, "  %s  %s  %s\n", e.Timestamp.Format("2006-01-02 15:04"), orDash(e.UserName), e.Action)
			}
		}
		if len(detail.RelatedItems) > 0 {
			fmt.Fprintln(out, "\nRelated:")
			for _, r := range detail.RelatedItems {
				fmt.Fprintf(out, "  [%s] %s %s\n", r.Type, r.Title, r.URL)
			}
		}
		return nil
	},
}

// latestVersion picks the newest published version of a decision.
func latestVersion(detail *api.DecisionDetail) (string, error) {
	best := -1
	id := ""
	for _, v := range detail.Versions {
		if v.Version > best {
			best, id = v.Version, v.ID
		}
	}
	if id == "" {
		return "", errors.New("decision has no published version")
	}
	return id, nil
}

var decisionsApproveCmd = &cobra.Command{
	Use:   "approve [decision-id]",
	Short: "Approve, request changes, ask a question or e-sign a decision version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.ApprovalRequest{DecisionID: args[0]}
		req.ProjectID, _ = cmd.Flags().GetString("project")
		req.VersionID, _ = cmd.Flags().GetString("version")
		req.Action, _ = cmd.Flags().GetString("action")
		req.Comment, _ = cmd.Flags().GetString("comment")

		c, err := newClient()
		if err != nil {
			return err
		}
		if req.VersionID == "" {
			detail, err := c.DecisionDetail(cmd.Context(), req.ProjectID, req.DecisionID)
			if err != nil {
				return explain(cmd, err)
			}
			if req.VersionID, err = latestVersion(detail); err != nil {
				return err
			}
		}
		res, err := c.Approve(cmd.Context(), req)
		if err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s on %s (version %s)\n", statusColor(res.Approval.Action), req.DecisionID, req.VersionID)
		return nil
	},
}

var decisionsDownloadCmd = &cobra.Command{
	Use:   "download [decision-id]",
	Short: "Get a download link for a decision version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.DownloadRequest{DecisionID: args[0]}
		req.ProjectID, _ = cmd.Flags().GetString("project")
		req.VersionID, _ = cmd.Flags().GetString("version")
		req.Format, _ = cmd.Flags().GetString("format")

		c, err := newClient()
		if err != nil {
			return err
		}
		if req.VersionID == "" {
			detail, err := c.DecisionDetail(cmd.Context(), req.ProjectID, req.DecisionID)
			if err != nil {
				return explain(cmd, err)
			}
			if req.VersionID, err = latestVersion(detail); err != nil {
				return err
			}
		}
		link, err := c.Download(cmd.Context(), req)
		if err != nil {
			return explain(cmd, err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\n", link.Filename, link.Format)
		fmt.Fprintln(out, link.URL)
		return nil
	},
}

func init() {
	decisionsCmd.PersistentFlags().String("project", "", "Project ID")

	decisionsListCmd.Flags().String("status", "", "Filter by status (draft|pending|approved|changes_requested)")
	decisionsListCmd.Flags().String("phase", "", "Filter by phase")
	decisionsListCmd.Flags().String("assignee", "", "Filter by assignee ID")
	decisionsListCmd.Flags().String("cost", "", "Filter by cost impact (any|none|positive)")
	decisionsListCmd.Flags().String("search", "", "Search title and description")
	decisionsListCmd.Flags().String("sort", "date", "Sort by date|status|cost|title|phase")
	decisionsListCmd.Flags().String("order", "desc", "Sort order (asc|desc)")
	decisionsListCmd.Flags().Int("page", 1, "Page number")
	decisionsListCmd.Flags().Int("page-size", 20, "Items per page")

	decisionsApproveCmd.Flags().String("version", "", "Version ID (defaults to the latest)")
	decisionsApproveCmd.Flags().String("action", "approve", "approve|request_change|ask_question|e_signed")
	decisionsApproveCmd.Flags().String("comment", "", "Comment for the approval record")

	decisionsDownloadCmd.Flags().String("version", "", "Version ID (defaults to the latest)")
	decisionsDownloadCmd.Flags().String("format", "pdf", "Export format (pdf|docx|html)")

	decisionsCmd.AddCommand(decisionsListCmd)
	decisionsCmd.AddCommand(decisionsShowCmd)
	decisionsCmd.AddCommand(decisionsApproveCmd)
	decisionsCmd.AddCommand(decisionsDownloadCmd)
}

// DecisionsCmd returns the decisions command
func DecisionsCmd() *cobra.Command {
	return decisionsCmd
}
