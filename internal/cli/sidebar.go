package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sidebarCmd = &cobra.Command{
	Use:   "sidebar",
	Short: "Navigation preferences",
}

var sidebarToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Collapse or expand the sidebar",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		collapsed, err := c.State().ToggleSidebar()
		if err != nil {
			return err
		}
		state := "expanded"
		if collapsed {
			state = "collapsed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sidebar %s\n", state)
		return nil
	},
}

func init() {
	sidebarCmd.AddCommand(sidebarToggleCmd)
}

func SidebarCmd() *cobra.Command { return sidebarCmd }
