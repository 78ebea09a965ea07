package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pliu/bizdir/internal/api"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.err, label)
	return a.readLine()
}

// promptPassword reads without echo when stdin is a terminal.
func (a *app) promptPassword(label string) (string, error) {
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.err, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.err)
		return string(b), err
	}
	return a.prompt(label)
}

func newLoginCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if email == "" {
				if email, err = a.prompt("Email: "); err != nil {
					return err
				}
			}
			password, err := a.promptPassword("Password: ")
			if err != nil {
				return err
			}
			if strings.TrimSpace(email) == "" || password == "" {
				return errors.New("email and password are required")
			}
			if err := a.session.SignIn(cmd.Context(), strings.TrimSpace(email), password); err != nil {
				return err
			}
			id, _ := a.session.Identity()
			fmt.Fprintf(a.out, "Signed in as %s (%s)\n", id.Username, id.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	var req api.SignUpRequest
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.Username == "" {
				if req.Username, err = a.prompt("Username: "); err != nil {
					return err
				}
			}
			if req.Email == "" {
				if req.Email, err = a.prompt("Email: "); err != nil {
					return err
				}
			}
			if req.Password, err = a.promptPassword("Password: "); err != nil {
				return err
			}
			if req.Username == "" || req.Email == "" || req.Password == "" {
				return errors.New("username, email and password are required")
			}
			if err := a.api.SignUp(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Account created. Run `bizdir login` to sign in.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "display name")
	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "account email")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Forget the stored credential",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offline: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session.SignOut(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, ok := a.session.Identity()
			if !ok {
				fmt.Fprintln(a.out, "Not signed in.")
				return nil
			}
			fmt.Fprintf(a.out, "%s <%s>\nrole: %s\nid:   %s\n", id.Username, id.Email, id.Role, id.ID)
			return nil
		},
	}
}
