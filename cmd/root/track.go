package root

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docker/plugin-telemetry/pkg/event"
)

func newTrackCmd(flags *rootFlags) *cobra.Command {
	var immediate bool

	cmd := &cobra.Command{
		Use:   "track <event> [key=value]...",
		Short: "Record a test event",
		Long: `Record an event through the same consent and enrichment path a plugin uses.
The event is queued unless --now is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProperties(args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client, err := flags.openClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if !client.IsOptedIn(ctx) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Tracking is not allowed, the event is dropped")
				return nil
			}

			if immediate {
				client.TrackImmediate(ctx, args[0], props)
			} else {
				client.Track(ctx, args[0], props)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d event(s) queued\n", client.QueueLength(ctx))
			return nil
		},
	}

	cmd.Flags().BoolVar(&immediate, "now", false, "Send right away, queueing only on failure")
	return cmd
}

func parseProperties(args []string) (*event.Properties, error) {
	props := event.New()
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", arg)
		}
		props.Set(k, v)
	}
	return props, nil
}
