package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/globetrotter/auth-service/internal/client"
)

var (
	watchInterval   time.Duration
	watchWarnBefore time.Duration
	watchPoll       time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session alive until interrupted",
	Long: `Checks the stored credential on an interval, renewing it shortly
before it expires. Stops when interrupted; a logout from another terminal
is reported as it happens.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		notifier := stopOnEnd{terminalNotifier: terminalNotifier{out: cmd.ErrOrStderr()}, stop: cancel}
		c, err := newClient(cmd, notifier, client.WithPollInterval(watchPoll))
		if err != nil {
			return err
		}
		if _, ok := c.Token(); !ok {
			return describe(client.ErrNoSession)
		}

		monitor := client.NewMonitor(c, client.MonitorConfig{
			Interval:   watchInterval,
			WarnBefore: watchWarnBefore,
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Watching session (checks every %s)...\n", watchInterval)
		return monitor.Run(ctx)
	},
}

// stopOnEnd ends the watch once the session is gone.
type stopOnEnd struct {
	terminalNotifier
	stop context.CancelFunc
}

func (n stopOnEnd) SessionEnded(reason string) {
	n.terminalNotifier.SessionEnded(reason)
	n.stop()
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Minute, "How often to check the credential")
	watchCmd.Flags().DurationVar(&watchWarnBefore, "warn-before", 10*time.Minute, "Renew when less than this remains")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", time.Second, "How often to look for changes from other terminals")
	rootCmd.AddCommand(watchCmd)
}
