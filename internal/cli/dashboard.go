package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"archboard/api/internal/client/listing"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show projects, pending approvals, activity and upcoming meetings",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ov, err := c.Overview(cmd.Context())
		if err != nil {
			return explain(cmd, err)
		}
		out := cmd.OutOrStdout()
		if ov.Placeholder {
			fmt.Fprintln(out, color.New(color.FgYellow).Sprint("Dashboard unavailable; showing sample data."))
		}

		fmt.Fprintln(out, color.New(color.Bold).Sprint("Projects"))
		w := newTable(out, "ID", "NAME", "STATUS", "PHASE", "PROGRESS", "PENDING")
		for _, p := range ov.Projects {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%d\n", p.ID, p.Name, statusColor(p.Status), orDash(p.Phase), p.Progress, p.PendingApprovals)
		}
		w.Flush()

		fmt.Fprintln(out)
		fmt.Fprintln(out, color.New(color.Bold).Sprint("Pending approvals"))
		if len(ov.PendingApprovals) == 0 {
			fmt.Fprintln(out, "Nothing waiting.")
		} else {
			w = newTable(out, "ID", "TITLE", "PROJECT", "STATUS")
			for _, a := range ov.PendingApprovals {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Title, a.ProjectName, statusColor(a.Status))
			}
			w.Flush()
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, color.New(color.Bold).Sprint("Recent activity"))
		for _, a := range ov.Activity {
			fmt.Fprintf(out, "  %s · %s · %s\n", a.Action, a.Project, activityTime(a.Time))
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, color.New(color.Bold).Sprint("Upcoming meetings"))
		for _, m := range ov.UpcomingMeetings {
			fmt.Fprintf(out, "  %s  %s\n", meetingTime(m.Start), m.Title)
		}
		return nil
	},
}

// activityTime accepts either a timestamp or an already relative label.
func activityTime(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return listing.TimeAgo(t, time.Now())
	}
	return s
}

func meetingTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("Mon Jan 2 15:04")
}

func DashboardCmd() *cobra.Command { return dashboardCmd }
