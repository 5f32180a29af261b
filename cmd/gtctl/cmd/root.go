package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/globetrotter/auth-service/internal/client"
)

const defaultAPIURL = "http://localhost:5000"

var (
	apiURL    string
	storePath string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "gtctl",
	Short: "gtctl manages a GlobeTrotter session from the terminal",
	Long: `Sign in to the GlobeTrotter API and keep the session alive.
The credential is stored in a local file shared by every gtctl process,
so a logout in one terminal ends the session in a running "gtctl watch".`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("GLOBETROTTER_API_URL", defaultAPIURL), "Base URL of the auth API")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", defaultStorePath(), "Path of the session file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests and refreshes")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "gtctl-session.db"
	}
	return filepath.Join(dir, "gtctl", "session.db")
}

// terminalNotifier prints session notices for the user.
type terminalNotifier struct {
	out io.Writer
}

func (n terminalNotifier) SessionEnded(reason string) {
	switch reason {
	case client.ReasonLoggedOut:
		fmt.Fprintln(n.out, "Logged out.")
	case client.ReasonRemoteLogout:
		fmt.Fprintln(n.out, "Session ended from another terminal.")
	default:
		fmt.Fprintf(n.out, "Session ended (%s). Please log in again.\n", reason)
	}
}

func (n terminalNotifier) Warn(message string) {
	fmt.Fprintf(n.out, "Warning: %s\n", message)
}

func newClient(cmd *cobra.Command, notifier client.Notifier, opts ...client.BoltOption) (*client.Client, error) {
	if notifier == nil {
		notifier = terminalNotifier{out: cmd.ErrOrStderr()}
	}
	if err := os.MkdirAll(filepath.Dir(storePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	storage, err := client.NewBoltStorage(storePath, opts...)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}

	return client.New(client.Config{
		BaseURL:  apiURL,
		Storage:  storage,
		Notifier: notifier,
		Logger:   logger,
	})
}
