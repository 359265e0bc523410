package main

import (
	"github.com/spf13/cobra"
)

func changePasswordCmd(a *app) *cobra.Command {
	var current, next string

	cmd := withRoute(&cobra.Command{
		Use:   "change-password",
		Short: "Change the signed in user's password",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := a.svc.ChangePassword(cmd.Context(), current, next)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "%s", msg)
			return nil
		},
	}, routeAccount+"/change-password")

	cmd.Flags().StringVar(&current, "current", "", "current password")
	cmd.Flags().StringVar(&next, "new", "", "new password")
	_ = cmd.MarkFlagRequired("current")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func forgotPasswordCmd(a *app) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset token",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := a.svc.ForgotPassword(cmd.Context(), email)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "%s", msg)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func resetPasswordCmd(a *app) *cobra.Command {
	var resetToken, password, confirm string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password with a reset token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if confirm == "" {
				confirm = password
			}
			msg, err := a.svc.ResetPassword(cmd.Context(), resetToken, password, confirm)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "%s", msg)
			return nil
		},
	}

	cmd.Flags().StringVar(&resetToken, "token", "", "reset token")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	cmd.Flags().StringVar(&confirm, "confirm", "", "new password again (defaults to --password)")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
