package root

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFlushCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Deliver the queued events now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			client, err := flags.openClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			res := client.Flush(ctx)
			out := cmd.OutOrStdout()
			for _, ev := range res.Failed {
				fmt.Fprintf(out, "[%s] %s (#%d) stays queued\n", statusFail.label(colorEnabled(out)), ev.Name, ev.ID)
			}
			fmt.Fprintf(out, "Delivered %d event(s), %d remaining\n", res.DeliveredCount(), res.Remaining())

			if len(res.Failed) > 0 {
				return RuntimeError{Err: fmt.Errorf("%d event(s) could not be delivered", len(res.Failed))}
			}
			return nil
		},
	}
}
