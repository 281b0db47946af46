package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sarayalth/nxapi/internal/domain"
)

func (c *cli) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage linked Nintendo Accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List linked accounts; the default is marked with *",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts := c.app.Accounts()
			ids, err := accounts.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := accounts.Selected(cmd.Context())
			if err != nil && !errors.Is(err, domain.ErrNoSelectedUser) {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No linked accounts. Run `nxapi auth` to add one.")
				return nil
			}
			for _, id := range ids {
				marker := " "
				if id == selected {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "select <account-id>",
		Short: "Set the default account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Accounts().Select(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Set %s as default user\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "forget <account-id>",
		Short: "Unlink an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.Accounts().Forget(cmd.Context(), args[0])
		},
	})
	return cmd
}
