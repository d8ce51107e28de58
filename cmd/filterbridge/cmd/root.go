package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nfrund/filterbridge/internal/client"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "filterbridge",
	Short: "Ad-blocker background messaging service",
	Long: `filterbridge runs the background side of an ad-blocking extension: the
one-shot message routers, long-lived page connections and the services
behind them. The other commands talk to a running instance.

Available commands:
  serve     Run the service
  send      Send one message and print the reply
  listen    Subscribe to events and print every push
  events    List the events pages can subscribe to
  version   Print the version

Use "filterbridge [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newMessenger(opts ...client.Option) *client.Messenger {
	return client.New(serverURL, opts...)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of a running service")
}
