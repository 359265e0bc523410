package main

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func adminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Account moderation (admin only)",
	}
	cmd.AddCommand(adminUsersCmd(a), adminBlockCmd(a, true), adminBlockCmd(a, false))
	return cmd
}

func adminUsersCmd(a *app) *cobra.Command {
	var offset, limit int

	cmd := withRoute(&cobra.Command{
		Use:   "users",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.svc.ListUsers(cmd.Context(), offset, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "EMAIL\tNAME\tROLE\tBLOCKED\n")
			for _, u := range list {
				printf(tw, "%s\t%s\t%s\t%t\n", u.Email, u.FullName(), u.Role, u.Blocked)
			}
			return tw.Flush()
		},
	}, routeAdmin+"/users")

	cmd.Flags().IntVar(&offset, "offset", 0, "first account to show")
	cmd.Flags().IntVar(&limit, "limit", 50, "number of accounts to show")
	return cmd
}

func adminBlockCmd(a *app, blocked bool) *cobra.Command {
	use, short := "block <email>", "Block an account and end its sessions"
	if !blocked {
		use, short = "unblock <email>", "Unblock an account"
	}

	return withRoute(&cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := a.svc.SetUserBlocked(cmd.Context(), args[0], blocked)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "%s: %s", args[0], msg)
			return nil
		},
	}, routeAdmin+"/users/block")
}
