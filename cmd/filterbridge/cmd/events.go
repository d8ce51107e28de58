package cmd

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/jsoncodec"
)

var eventsOutputFormat string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the events pages can subscribe to",
	Long: `List every bus event name a long-lived connection or a content-script
listener can subscribe to.

Output formats:
  table - Human-readable table format (default)
  json  - Machine-readable JSON array`,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := events.All()
		slices.Sort(names)

		switch eventsOutputFormat {
		case "json":
			b, err := jsoncodec.MarshalIndent(names, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
		case "table":
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "NAME")
			fmt.Fprintln(w, "----")
			for _, n := range names {
				fmt.Fprintln(w, n)
			}
		default:
			return fmt.Errorf("unsupported output format %q, use table or json", eventsOutputFormat)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().StringVarP(&eventsOutputFormat, "format", "f", "table", "Output format (table, json)")
}
