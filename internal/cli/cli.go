// Package cli holds the archctl commands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"archboard/api/internal/client/api"
	"archboard/api/internal/client/baas"
	"archboard/api/internal/client/config"
	"archboard/api/internal/client/forms"
	"archboard/api/internal/client/query"
	"archboard/api/internal/client/rest"
	"archboard/api/internal/client/sdk"
	"archboard/api/internal/client/session"
	"archboard/api/internal/logging"
)

var (
	configPath string
	verbose    bool
)

// newClient builds the SDK client for a command. Tests swap it.
var newClient = buildClient

// AddGlobalFlags registers the flags every command shares.
func AddGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log client diagnostics to stderr")
}

// RootCmd assembles the full command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "archctl",
		Short:         "archctl - projects, decisions, templates and timelines from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddGlobalFlags(root)

	root.AddCommand(LoginCmd())
	root.AddCommand(SignupCmd())
	root.AddCommand(FirmSignupCmd())
	root.AddCommand(LogoutCmd())
	root.AddCommand(WhoamiCmd())
	root.AddCommand(RefreshCmd())
	root.AddCommand(InviteCmd())
	root.AddCommand(DashboardCmd())
	root.AddCommand(DecisionsCmd())
	root.AddCommand(TemplatesCmd())
	root.AddCommand(TimelineCmd())
	root.AddCommand(SidebarCmd())
	return root
}

func buildClient() (*sdk.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	sess := session.NewManager(session.FileStore{Path: cfg.StateFile})
	if err := sess.Load(); err != nil {
		return nil, err
	}

	level := "error"
	if verbose {
		level = "debug"
	}
	log := logging.New(level)

	restClient := rest.New(cfg.APIBase, sess, rest.OnUnauthorized(func() {
		sess.ClearAccessToken()
		log.Debug("session expired, access token cleared")
	}))
	var fn *baas.Client
	if cfg.FunctionMode() {
		fn = baas.New(baas.Config{URL: cfg.BackendURL, AnonKey: cfg.BackendAnonKey}).WithTokens(sess)
	}
	cache, err := query.New(256, 0)
	if err != nil {
		return nil, err
	}
	backend := api.New(restClient, fn)
	log.Debug("client ready", zap.Bool("functions", api.IsFunctionBackend(backend)), zap.String("api_base", cfg.APIBase))
	return sdk.New(backend, sess, cache, sdk.WithLogger(log)), nil
}

// explain turns an error into what the user should see. Field errors are
// printed one per line.
func explain(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs forms.Errors
	if errors.As(err, &fieldErrs) {
		keys := make([]string, 0, len(fieldErrs))
		for k := range fieldErrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w := cmd.ErrOrStderr()
		for _, k := range keys {
			fmt.Fprintf(w, "  %s %s\n", color.New(color.FgRed).Sprint(k+":"), fieldErrs[k])
		}
		return errors.New("invalid input")
	}
	if errors.Is(err, api.ErrUnauthorized) || errors.Is(err, sdk.ErrNotSignedIn) {
		return fmt.Errorf("%w (run `archctl login`)", err)
	}
	return err
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))
	return tw
}

func statusColor(status string) string {
	switch status {
	case "approved", "completed", "active", "e_signed", "approve":
		return color.New(color.FgGreen).Sprint(status)
	case "pending", "in_progress", "upcoming", "draft":
		return color.New(color.FgYellow).Sprint(status)
	case "changes_requested", "overdue", "request_change", "archived":
		return color.New(color.FgRed).Sprint(status)
	case "":
		return "-"
	}
	return status
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatCost(v *float64) string {
	if v == nil {
		return "-"
	}
	if *v > 0 {
		return fmt.Sprintf("+%.0f", *v)
	}
	return fmt.Sprintf("%.0f", *v)
}

// optional returns a pointer to the flag value when the flag was set.
func optional(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func optionalInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}
