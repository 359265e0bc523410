package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jrsteele09/scholarhub-auth/authclient"
	"github.com/jrsteele09/scholarhub-auth/users"
	"github.com/spf13/cobra"
)

// readSecret returns the flag value, or the first line of stdin when the flag is empty.
func readSecret(cmd *cobra.Command, value, name string) (string, error) {
	if value != "" {
		return value, nil
	}
	printf(cmd.ErrOrStderr(), "%s: ", name)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return line, nil
}

func loginCmd(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd, password, "password")
			if err != nil {
				return err
			}
			user, err := a.svc.Login(cmd.Context(), email, secret)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "signed in as %s (%s)", user.Email, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session on the server and forget it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.Logout(cmd.Context()); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	return withRoute(&cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.svc.Me(cmd.Context())
			if err != nil {
				if authclient.IsUnauthorized(err) {
					return errNotLoggedIn
				}
				return err
			}
			out := cmd.OutOrStdout()
			printf(out, "  Email:  %s\n", user.Email)
			printf(out, "  Name:   %s\n", user.FullName())
			printf(out, "  Role:   %s\n", user.Role)
			printf(out, "  Joined: %s\n", user.DateJoined.Format(time.DateOnly))
			return nil
		},
	}, routeAccount+"/whoami")
}

func refreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.svc.RefreshToken(cmd.Context()); err != nil {
				if errors.Is(err, authclient.ErrNoRefreshToken) {
					return errNotLoggedIn
				}
				return err
			}
			user := a.svc.CurrentUser()
			success(cmd.OutOrStdout(), "session refreshed, access token valid until %s", user.Expiry().Format(time.RFC3339))
			return nil
		},
	}
}

// statusCmd only decodes the stored token. It never calls the API.
func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the locally stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			access := a.svc.AccessToken()
			user := a.svc.CurrentUser()
			if user == nil {
				printf(out, "  Signed in: no\n")
				if pending, ok := a.svc.PendingSignup(); ok {
					printf(out, "  Pending signup: %s (%s), rerun `scholarctl signup --resume`\n", pending.Email, pending.Role)
				}
				return nil
			}

			state := "valid"
			if a.svc.IsExpired(access) {
				state = "expired"
			}
			printf(out, "  Signed in:     yes\n")
			printf(out, "  Email:         %s\n", user.Email)
			printf(out, "  Role:          %s\n", user.Role)
			printf(out, "  Access token:  %s\n", state)
			if user.HasExpiry() {
				printf(out, "  Expires:       %s\n", user.Expiry().Format(time.RFC3339))
			}
			printf(out, "  Refresh token: %t\n", a.svc.RefreshTokenValue() != "")
			printf(out, "  Refresh policy: %s\n", a.svc.Policy())
			return nil
		},
	}
}

func signupCmd(a *app) *cobra.Command {
	var (
		req      authclient.SignupRequest
		role     string
		password string
		resume   bool
	)

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a student or provider account",
		Long: `Register a student or provider account and sign in.
The form is kept locally until the account is created, so a failed signup can be
finished with --resume. The password is never stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume {
				pending, ok := a.svc.PendingSignup()
				if !ok {
					return errors.New("no pending signup to resume")
				}
				req = mergeSignup(req, pending)
			}
			if role != "" {
				parsed, ok := users.ParseRole(role)
				if !ok || !parsed.SelfRegistrable() {
					return fmt.Errorf("role must be %s or %s", users.RoleStudent, users.RoleProvider)
				}
				req.Role = parsed
			}
			if req.Email == "" || req.Role == "" {
				return errors.New("--email and --role are required")
			}

			if err := a.svc.SavePendingSignup(req); err != nil {
				return err
			}
			secret, err := readSecret(cmd, password, "password")
			if err != nil {
				return err
			}
			req.Password = secret

			user, err := a.svc.Signup(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("%w (form saved, rerun with --resume)", err)
			}
			success(cmd.OutOrStdout(), "account created, signed in as %s (%s)", user.Email, user.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "account email")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&role, "role", "", "student or provider")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (read from stdin when empty)")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue the last unfinished signup")
	return cmd
}

// mergeSignup fills the fields not given on the command line from the saved form.
func mergeSignup(flags, saved authclient.SignupRequest) authclient.SignupRequest {
	if flags.Email == "" {
		flags.Email = saved.Email
	}
	if flags.FirstName == "" {
		flags.FirstName = saved.FirstName
	}
	if flags.LastName == "" {
		flags.LastName = saved.LastName
	}
	if flags.Role == "" {
		flags.Role = saved.Role
	}
	return flags
}
