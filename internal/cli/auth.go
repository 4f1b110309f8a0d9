package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"archboard/api/internal/client/api"
)

// readPassword takes --password, or the first line of stdin when the flag is
// empty.
func readPassword(cmd *cobra.Command) (string, error) {
	pw, _ := cmd.Flags().GetString("password")
	if pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printSession(w io.Writer, s *api.Session) {
	fmt.Fprintf(w, "Signed in as %s <%s> (%s)\n", orDash(s.User.Name), s.User.Email, s.User.Role)
	if s.ExpiresAt > 0 {
		fmt.Fprintf(w, "Access token expires %s\n", time.Unix(s.ExpiresAt, 0).Format(time.RFC1123))
	}
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		remember, _ := cmd.Flags().GetBool("remember")
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.SignIn(cmd.Context(), api.LoginRequest{Email: email, Password: password, RememberMe: remember})
		if err != nil {
			return explain(cmd, err)
		}
		if resp.Session == nil {
			fmt.Fprintln(cmd.OutOrStdout(), orDash(resp.Message))
			return nil
		}
		printSession(cmd.OutOrStdout(), resp.Session)
		return nil
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account, optionally from an invite",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		invite, _ := cmd.Flags().GetString("invite")
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.SignUp(cmd.Context(), api.SignUpRequest{Email: email, Password: password, Name: name, InviteToken: invite})
		if err != nil {
			return explain(cmd, err)
		}
		out := cmd.OutOrStdout()
		if resp.Session != nil {
			printSession(out, resp.Session)
			return nil
		}
		fmt.Fprintln(out, orDash(resp.Message))
		if resp.DevVerificationToken != "" {
			fmt.Fprintf(out, "Verification token: %s\n", resp.DevVerificationToken)
		}
		return nil
	},
}

var firmSignupCmd = &cobra.Command{
	Use:   "firm-signup",
	Short: "Request a firm account for your company",
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.FirmSignup(cmd.Context(), api.FirmSignupRequest{Company: company, AdminEmail: email, AdminName: name})
		if err != nil {
			return explain(cmd, err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, orDash(resp.Message))
		if resp.DevSignupToken != "" {
			fmt.Fprintf(out, "Signup token: %s\n", resp.DevSignupToken)
		}
		return nil
	},
}

var firmSignupCompleteCmd = &cobra.Command{
	Use:   "complete [token]",
	Short: "Finish a firm signup and sign in as its admin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.CompleteFirmSignup(cmd.Context(), args[0], password)
		if err != nil {
			return explain(cmd, err)
		}
		if resp.Session != nil {
			printSession(cmd.OutOrStdout(), resp.Session)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.SignOut(cmd.Context()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s remote sign-out failed: %v\n", color.New(color.FgYellow).Sprint("warning:"), err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		s, err := c.Session(cmd.Context())
		if err != nil {
			return explain(cmd, err)
		}
		if s == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
			return nil
		}
		printSession(cmd.OutOrStdout(), s)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for a new access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		resp, err := c.Refresh(cmd.Context())
		if err != nil {
			return explain(cmd, err)
		}
		if resp.Session != nil {
			printSession(cmd.OutOrStdout(), resp.Session)
		}
		return nil
	},
}

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Work with invitations",
}

var inviteVerifyCmd = &cobra.Command{
	Use:   "verify [token]",
	Short: "Check whether an invite token is still valid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		st, err := c.VerifyInvite(cmd.Context(), args[0])
		if err != nil {
			return explain(cmd, err)
		}
		if !st.Valid {
			fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgRed).Sprint("Invite is invalid or expired."))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s invite for %s\n", color.New(color.FgGreen).Sprint("Valid"), st.Email)
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "Account email")
	loginCmd.Flags().String("password", "", "Password (read from stdin when empty)")
	loginCmd.Flags().Bool("remember", false, "Keep the session for longer")

	signupCmd.Flags().String("email", "", "Account email")
	signupCmd.Flags().String("password", "", "Password (read from stdin when empty)")
	signupCmd.Flags().String("name", "", "Display name")
	signupCmd.Flags().String("invite", "", "Invite token")

	firmSignupCmd.Flags().String("company", "", "Company name")
	firmSignupCmd.Flags().String("email", "", "Admin email")
	firmSignupCmd.Flags().String("name", "", "Admin name")
	firmSignupCompleteCmd.Flags().String("password", "", "Admin password (read from stdin when empty)")
	firmSignupCmd.AddCommand(firmSignupCompleteCmd)

	inviteCmd.AddCommand(inviteVerifyCmd)
}

func LoginCmd() *cobra.Command { return loginCmd }

func SignupCmd() *cobra.Command { return signupCmd }

func FirmSignupCmd() *cobra.Command { return firmSignupCmd }

func LogoutCmd() *cobra.Command { return logoutCmd }

func WhoamiCmd() *cobra.Command { return whoamiCmd }

func RefreshCmd() *cobra.Command { return refreshCmd }

func InviteCmd() *cobra.Command { return inviteCmd }
