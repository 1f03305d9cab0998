package root

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newQueueCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the telemetry queue",
	}
	cmd.AddCommand(newQueueListCmd(flags))
	return cmd
}

func newQueueListCmd(flags *rootFlags) *cobra.Command {
	var showProps bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the queued events, oldest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			client, err := flags.openClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			events := client.Pending(ctx)
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEVENT\tENQUEUED")
			for _, ev := range events {
				fmt.Fprintf(w, "%d\t%s\t%s\n", ev.ID, ev.Name, ev.EnqueuedAt.UTC().Format(time.RFC3339))
				if showProps {
					props, err := json.Marshal(ev.Properties)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "\t%s\t\n", props)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVarP(&showProps, "properties", "p", false, "Show the properties of each event")
	return cmd
}
