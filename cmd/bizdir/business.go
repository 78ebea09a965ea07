package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pliu/bizdir/internal/access"
	"github.com/pliu/bizdir/internal/models"
	"github.com/spf13/cobra"
)

func newBusinessListCmd(a *app) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List verified businesses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.api.ListVerified(cmd.Context())
			if err != nil {
				return err
			}
			printBusinesses(a.out, matchBusinesses(list, search))
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "only businesses whose name or address contains this text")
	return cmd
}

// matchBusinesses keeps the businesses whose name or address contains q,
// ignoring case.
func matchBusinesses(list []models.Business, q string) []models.Business {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return list
	}
	var out []models.Business
	for _, b := range list {
		if strings.Contains(strings.ToLower(b.Name), q) || strings.Contains(strings.ToLower(b.Address), q) {
			out = append(out, b)
		}
	}
	return out
}

func newBusinessCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "business",
		Aliases: []string{"biz"},
		Short:   "Browse and manage business listings",
	}
	cmd.AddCommand(
		newBusinessListCmd(a),
		&cobra.Command{
			Use:   "show <id>",
			Short: "Show a business with its comments",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := a.api.BusinessDetail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printBusiness(a.out, b)
				comments, err := a.api.ListComments(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out)
				printComments(a.out, comments)
				return nil
			},
		},
		&cobra.Command{
			Use:   "mine",
			Short: "List your own businesses",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.gate(access.ViewBusiness); err != nil {
					return err
				}
				id, _ := a.session.Identity()
				list, err := a.api.ListBusinesses(cmd.Context(), id.ID)
				if err != nil {
					return err
				}
				printBusinesses(a.out, list)
				return nil
			},
		},
		newBusinessWriteCmd(a, "register", "Register a new business", cobra.NoArgs),
		newBusinessWriteCmd(a, "edit <id>", "Edit one of your businesses", cobra.ExactArgs(1)),
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete one of your businesses",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.gate(access.ViewBusiness); err != nil {
					return err
				}
				if err := a.api.DeleteBusiness(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Business deleted.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "analytics",
			Short: "Show visit analytics for your businesses",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.gate(access.ViewBusiness); err != nil {
					return err
				}
				series, err := a.api.Analytics(cmd.Context())
				if err != nil {
					return err
				}
				printAnalytics(a.out, series)
				return nil
			},
		},
	)
	return cmd
}

// newBusinessWriteCmd builds "register" and "edit", which share the listing
// flags.
func newBusinessWriteCmd(a *app, use, short string, args cobra.PositionalArgs) *cobra.Command {
	var (
		in        models.BusinessInput
		imagePath string
	)
	editing := use != "register"
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			if editing {
				if err := a.gate(access.ViewBusiness); err != nil {
					return err
				}
			} else if err := a.requireLogin(); err != nil {
				return err
			}
			if !editing && (in.Name == "" || in.Address == "") {
				return errors.New("--name and --address are required")
			}
			if imagePath != "" {
				f, err := os.Open(imagePath)
				if err != nil {
					return err
				}
				defer f.Close()
				in.Image = f
				in.ImageName = filepath.Base(imagePath)
			}

			if editing {
				if err := a.api.EditBusiness(cmd.Context(), args[0], in); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Business updated.")
				return nil
			}
			if err := a.api.RegisterBusiness(cmd.Context(), in); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Business registered. It is listed once an admin verifies it.")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "business name")
	f.StringVar(&in.Description, "description", "", "short description")
	f.StringVar(&in.Phone, "phone", "", "contact phone")
	f.StringVar(&in.Email, "email", "", "contact email")
	f.StringVar(&in.Address, "address", "", "street address")
	f.Float64Var(&in.Latitude, "lat", 0, "latitude")
	f.Float64Var(&in.Longitude, "lng", 0, "longitude")
	f.StringVar(&imagePath, "image", "", "path to a listing image")
	return cmd
}

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Review businesses awaiting verification",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd); err != nil {
				return err
			}
			return a.gate(access.ViewAdmin)
		},
	}
	verify := func(use, short string, approve bool, done string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.api.VerifyBusiness(cmd.Context(), args[0], approve); err != nil {
					return err
				}
				fmt.Fprintln(a.out, done)
				return nil
			},
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "pending",
			Short: "List unverified businesses",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				list, err := a.api.ListUnverified(cmd.Context())
				if err != nil {
					return err
				}
				printBusinesses(a.out, list)
				return nil
			},
		},
		verify("approve <id>", "Verify a business", true, "Business verified."),
		verify("reject <id>", "Reject a business", false, "Business rejected."),
	)
	return cmd
}

func newCommentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Read and write comments on a business",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <business-id>",
			Short: "List comments",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				comments, err := a.api.ListComments(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printComments(a.out, comments)
				return nil
			},
		},
		&cobra.Command{
			Use:   "post <business-id> <text>",
			Short: "Post a comment",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.requireLogin(); err != nil {
					return err
				}
				if err := a.api.PostComment(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				comments, err := a.api.ListComments(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printComments(a.out, comments)
				return nil
			},
		},
	)
	return cmd
}
