package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"archboard/api/internal/client/api"
	"archboard/api/internal/client/forms"
	"archboard/api/internal/client/gantt"
	"archboard/api/internal/domain"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Phases, milestones and decision checkpoints of a project",
}

func projectFlag(cmd *cobra.Command) (string, error) {
	id, _ := cmd.Flags().GetString("project")
	if strings.TrimSpace(id) == "" {
		return "", errors.New("--project is required")
	}
	return id, nil
}

func progressBar(pct, width int) string {
	pct = max(0, min(100, pct))
	filled := pct * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

var timelineShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the project timeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := projectFlag(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		tl, err := c.Timeline(cmd.Context(), projectID)
		if err != nil {
			return explain(cmd, err)
		}
		out := cmd.OutOrStdout()
		if tl.Placeholder {
			fmt.Fprintln(out, color.New(color.FgYellow).Sprint("Timeline unavailable; showing default phases."))
		}
		fmt.Fprintln(out, color.New(color.Bold).Sprint(tl.ProjectName))

		w := newTable(out, "PHASE", "PROGRESS", "", "START", "END")
		for _, p := range tl.Phases {
			start, end := "-", "-"
			if p.StartDate != nil {
				start = *p.StartDate
			}
			if p.EndDate != nil {
				end = *p.EndDate
			}
			fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\n", orDash(p.Label), progressBar(p.PercentComplete, 20), p.PercentComplete, start, end)
		}
		w.Flush()

		if len(tl.Milestones) > 0 {
			fmt.Fprintln(out)
			printMilestones(out, tl.Milestones)
		}
		if len(tl.DecisionCheckpoints) > 0 {
			fmt.Fprintln(out, "\nDecision checkpoints:")
			for _, cp := range tl.DecisionCheckpoints {
				fmt.Fprintf(out, "  %s  %s  %s\n", domain.PhaseLabel(cp.PhaseID), orDash(cp.DecisionTitle), statusColor(cp.DecisionStatus))
			}
		}
		return nil
	},
}

func printMilestones(out io.Writer, items []api.Milestone) {
	w := newTable(out, "ID", "MILESTONE", "PHASE", "DUE", "STATUS", "ASSIGNEE")
	for _, m := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", m.ID, m.Name, domain.PhaseLabel(m.PhaseID), orDash(m.DueDate), statusColor(m.Status), orDash(m.AssigneeName))
	}
	w.Flush()
}

var timelineGanttCmd = &cobra.Command{
	Use:   "gantt",
	Short: "Draw milestones on a date track",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := projectFlag(cmd)
		if err != nil {
			return err
		}
		cols, _ := cmd.Flags().GetInt("width")
		c, err := newClient()
		if err != nil {
			return err
		}
		tl, err := c.Timeline(cmd.Context(), projectID)
		if err != nil {
			return explain(cmd, err)
		}
		out := cmd.OutOrStdout()
		bars, scale, err := gantt.Layout(tl.Milestones, cols)
		if errors.Is(err, gantt.ErrNoDates) {
			fmt.Fprintln(out, "No scheduled milestones.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s → %s\n", scale.Start.Format(gantt.DateLayout), scale.End.Format(gantt.DateLayout))
		w := newTable(out, "MILESTONE", "TRACK", "DUE", "STATUS")
		for _, b := range bars {
			track := []rune(strings.Repeat("·", max(cols, 1)))
			track[b.Column] = '◆'
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Milestone.Name, string(track), b.Milestone.DueDate, statusColor(b.Milestone.Status))
		}
		w.Flush()
		return nil
	},
}

var timelinePhaseCmd = &cobra.Command{
	Use:   "phase [phase-id]",
	Short: "Update a phase's progress or dates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := projectFlag(cmd)
		if err != nil {
			return err
		}
		if !domain.IsPhase(args[0]) {
			return fmt.Errorf("unknown phase %q (want one of %s)", args[0], strings.Join(domain.PhaseOrder, ", "))
		}
		in := api.PhaseUpdate{
			PhaseID:         args[0],
			PercentComplete: optionalInt(cmd, "percent"),
			StartDate:       optional(cmd, "start"),
			EndDate:         optional(cmd, "end"),
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.UpdatePhase(cmd.Context(), projectID, in); err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", domain.PhaseLabel(args[0]))
		return nil
	},
}

var timelineMilestonesCmd = &cobra.Command{
	Use:   "milestones",
	Short: "List milestones",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := projectFlag(cmd)
		if err != nil {
			return err
		}
		filter, _ := cmd.Flags().GetString("filter")
		c, err := newClient()
		if err != nil {
			return err
		}
		items, err := c.ListMilestones(cmd.Context(), projectID, filter)
		if err != nil {
			return explain(cmd, err)
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No milestones.")
			return nil
		}
		printMilestones(cmd.OutOrStdout(), items)
		return nil
	},
}

var timelineAddMilestoneCmd = &cobra.Command{
	Use:   "add-milestone",
	Short: "Add a milestone",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := projectFlag(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		phase, _ := cmd.Flags().GetString("phase")
		due, _ := cmd.Flags().GetString("due")
		in := api.MilestoneDraft{
			Name:       &name,
			PhaseID:    &phase,
			DueDate:    &due,
			AssigneeID: optional(cmd, "assignee"),
			DecisionID: optional(cmd, "decision"),
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		id, err := c.CreateMilestone(cmd.Context(), projectID, in)
		if err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created milestone %s\n", id)
		return nil
	},
}

var timelineRescheduleCmd = &cobra.Command{
	Use:   "reschedule [milestone-id] [YYYY-MM-DD]",
	Short: "Move a milestone to a new due date",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := projectFlag(cmd)
		if err != nil {
			return err
		}
		if _, err := gantt.ParseDate(args[1]); err != nil {
			return explain(cmd, forms.Errors{"dueDate": "Use the YYYY-MM-DD format"})
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		status, err := c.Reschedule(cmd.Context(), projectID, args[0], args[1])
		if err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Milestone %s due %s (%s)\n", args[0], args[1], statusColor(status))
		return nil
	},
}

var timelineDragCmd = &cobra.Command{
	Use:   "drag [milestone-id]",
	Short: "Reschedule a milestone by its position on the gantt track",
	Long: `Reschedule a milestone by dropping it at --offset on a track --width wide,
the way 'timeline gantt' draws it. The date under the offset becomes the new due date.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := projectFlag(cmd)
		if err != nil {
			return err
		}
		cols, _ := cmd.Flags().GetInt("width")
		offset, _ := cmd.Flags().GetFloat64("offset")
		c, err := newClient()
		if err != nil {
			return err
		}
		tl, err := c.Timeline(cmd.Context(), projectID)
		if err != nil {
			return explain(cmd, err)
		}
		var target *api.Milestone
		for i := range tl.Milestones {
			if tl.Milestones[i].ID == args[0] {
				target = &tl.Milestones[i]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("milestone %s not found on project %s", args[0], projectID)
		}
		scale, err := gantt.NewScale(tl.Milestones, float64(max(cols, 1)-1))
		if err != nil {
			return err
		}
		due, status, err := gantt.Reschedule(cmd.Context(), c, scale, *target, offset)
		if err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Milestone %s due %s (%s)\n", target.Name, due, statusColor(status))
		return nil
	},
}

var timelineCheckpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Pin decisions to phases",
}

var timelineCheckpointAddCmd = &cobra.Command{
	Use:   "add [decision-id]",
	Short: "Add a decision checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := projectFlag(cmd)
		if err != nil {
			return err
		}
		phase, _ := cmd.Flags().GetString("phase")
		if !domain.IsPhase(phase) {
			return fmt.Errorf("unknown phase %q (want one of %s)", phase, strings.Join(domain.PhaseOrder, ", "))
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		in := api.CheckpointRequest{DecisionID: args[0], PhaseID: phase, OrderIndex: optionalInt(cmd, "order")}
		if err := c.AddCheckpoint(cmd.Context(), projectID, in); err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pinned %s to %s\n", args[0], domain.PhaseLabel(phase))
		return nil
	},
}

var timelineCheckpointRemoveCmd = &cobra.Command{
	Use:   "remove [decision-id]",
	Short: "Remove a decision checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := projectFlag(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RemoveCheckpoint(cmd.Context(), projectID, args[0]); err != nil {
			return explain(cmd, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed checkpoint for %s\n", args[0])
		return nil
	},
}

func init() {
	timelineCmd.PersistentFlags().String("project", "", "Project ID")

	timelineGanttCmd.Flags().Int("width", 60, "Track width in columns")

	timelinePhaseCmd.Flags().Int("percent", 0, "Percent complete (0-100)")
	timelinePhaseCmd.Flags().String("start", "", "Start date (YYYY-MM-DD)")
	timelinePhaseCmd.Flags().String("end", "", "End date (YYYY-MM-DD)")

	timelineMilestonesCmd.Flags().String("filter", "", "upcoming|overdue|completed")

	timelineAddMilestoneCmd.Flags().String("name", "", "Milestone name")
	timelineAddMilestoneCmd.Flags().String("phase", "", "Phase ID")
	timelineAddMilestoneCmd.Flags().String("due", "", "Due date (YYYY-MM-DD)")
	timelineAddMilestoneCmd.Flags().String("assignee", "", "Assignee user ID")
	timelineAddMilestoneCmd.Flags().String("decision", "", "Linked decision ID")

	timelineDragCmd.Flags().Int("width", 60, "Track width in columns")
	timelineDragCmd.Flags().Float64("offset", 0, "Drop position on the track")

	timelineCheckpointAddCmd.Flags().String("phase", "", "Phase ID")
	timelineCheckpointAddCmd.Flags().Int("order", 0, "Order within the phase")
	timelineCheckpointCmd.AddCommand(timelineCheckpointAddCmd)
	timelineCheckpointCmd.AddCommand(timelineCheckpointRemoveCmd)

	timelineCmd.AddCommand(timelineShowCmd)
	timelineCmd.AddCommand(timelineGanttCmd)
	timelineCmd.AddCommand(timelinePhaseCmd)
	timelineCmd.AddCommand(timelineMilestonesCmd)
	timelineCmd.AddCommand(timelineAddMilestoneCmd)
	timelineCmd.AddCommand(timelineRescheduleCmd)
	timelineCmd.AddCommand(timelineDragCmd)
	timelineCmd.AddCommand(timelineCheckpointCmd)
}

// TimelineCmd returns the timeline command
func TimelineCmd() *cobra.Command {
	return timelineCmd
}
