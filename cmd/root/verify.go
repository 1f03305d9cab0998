package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/docker/plugin-telemetry/pkg/paths"
)

// queueWarnThreshold is the backlog past which verify warns that events are
// not leaving the queue.
const queueWarnThreshold = 100

type status int

const (
	statusPass status = iota
	statusWarn
	statusFail
)

var (
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
)

func (s status) label(colored bool) string {
	text, paint := "PASS", green
	switch s {
	case statusWarn:
		text, paint = "WARN", yellow
	case statusFail:
		text, paint = "FAIL", red
	}
	if !colored {
		return text
	}
	return paint(text)
}

// colorEnabled reports whether w is a terminal that should get colors.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && !color.NoColor && isatty.IsTerminal(f.Fd())
}

type check struct {
	status status
	name   string
	detail string
}

func newVerifyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the telemetry installation is usable",
		Long: `Load the host configuration, open the telemetry storage and report consent,
the installation id and the queue state. Exits with an error if any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			checks := flags.runChecks(cmd.Context())
			if failed := printChecks(cmd.OutOrStdout(), checks); failed > 0 {
				return RuntimeError{Err: fmt.Errorf("%d check(s) failed", failed)}
			}
			return nil
		},
	}
}

func (f *rootFlags) runChecks(ctx context.Context) []check {
	path := f.hostConfigPath()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return []check{{statusFail, "Host configuration", "not found at " + path}}
	}
	if _, err := f.loadHostConfig(); err != nil {
		return []check{{statusFail, "Host configuration", err.Error()}}
	}
	checks := []check{{statusPass, "Host configuration", path}}

	client, err := f.openClient(ctx)
	if err != nil {
		return append(checks, check{statusFail, "Telemetry client", err.Error()})
	}
	defer client.Close()

	cfg := client.Config()
	checks = append(checks, check{statusPass, "Telemetry client", fmt.Sprintf("%s (%s)", cfg.PluginName, client.Slug())})

	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = paths.DefaultDatabasePath()
	}
	if info, err := os.Stat(dbPath); err == nil {
		checks = append(checks, check{statusPass, "Storage", fmt.Sprintf("%s (%s)", dbPath, units.HumanSize(float64(info.Size())))})
	} else if cfg.DatabasePath != "" || !errors.Is(err, os.ErrNotExist) {
		checks = append(checks, check{statusWarn, "Storage", err.Error()})
	}

	if cfg.Debug {
		checks = append(checks, check{statusWarn, "Delivery", "debug mode, events are logged instead of sent"})
	} else {
		checks = append(checks, check{statusPass, "Delivery", "OpenPanel"})
	}

	if client.IsOptedIn(ctx) {
		checks = append(checks, check{statusPass, "Consent", "opted in"})
	} else {
		checks = append(checks, check{statusWarn, "Consent", "not opted in, nothing is collected"})
	}

	checks = append(checks, check{statusPass, "Unique ID", client.UniqueID()})
	checks = append(checks, check{statusPass, "Schedule", fmt.Sprintf("%s every %s", client.ScheduleName(), cfg.ReportInterval)})

	n := client.QueueLength(ctx)
	queued := check{statusPass, "Queue", fmt.Sprintf("%d events waiting", n)}
	if n > queueWarnThreshold {
		queued.status = statusWarn
	}
	checks = append(checks, queued)

	if last := client.LastSend(ctx); last.IsZero() {
		checks = append(checks, check{statusWarn, "Last delivery", "never"})
	} else {
		ago := units.HumanDuration(time.Since(last))
		checks = append(checks, check{statusPass, "Last delivery", fmt.Sprintf("%s (%s ago)", last.UTC().Format(time.RFC3339), ago)})
	}

	return checks
}

// printChecks writes one line per check and returns how many failed.
func printChecks(w io.Writer, checks []check) int {
	colored := colorEnabled(w)
	failed := 0
	for _, c := range checks {
		fmt.Fprintf(w, "[%s] %s: %s\n", c.status.label(colored), c.name, c.detail)
		if c.status == statusFail {
			failed++
		}
	}
	return failed
}
