package root

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConsentCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Show or change the tracking consent",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether tracking is allowed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			client, err := flags.openClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if client.IsOptedIn(ctx) {
				fmt.Fprintln(cmd.OutOrStdout(), "allowed")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "denied")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "grant",
		Short: "Opt in to tracking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			client, err := flags.openClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Grant(ctx); err != nil {
				return RuntimeError{Err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tracking allowed")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke",
		Short: "Opt out of tracking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			client, err := flags.openClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Revoke(ctx); err != nil {
				return RuntimeError{Err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tracking denied")
			return nil
		},
	})

	return cmd
}
