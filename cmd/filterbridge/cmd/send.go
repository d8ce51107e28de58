package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/filterbridge/internal/client"
	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
)

var (
	sendHandler string
	sendTab     int
)

var sendCmd = &cobra.Command{
	Use:   "send <type> [json]",
	Short: "Send one message and print the reply",
	Long: `Send a one-shot message to a running service and print its reply.

Examples:
  filterbridge send getOptionsData --handler app
  filterbridge send saveUserRules '{"value":"||ads.example^"}'
  filterbridge send getSelectorsAndScripts '{"documentUrl":"https://example.org/"}' --tab 1`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data any
		if len(args) == 2 {
			if err := jsoncodec.Unmarshal([]byte(args[1]), &data); err != nil {
				return fmt.Errorf("message data is not JSON: %w", err)
			}
		}

		opts := []client.Option{client.WithHandlerName(sendHandler)}
		if sendTab != 0 {
			opts = append(opts, client.WithSender(message.Sender{TabID: sendTab}))
		}
		reply, err := newMessenger(opts...).Request(cmd.Context(), message.Type(args[0]), data)
		if err != nil {
			return err
		}
		if reply == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "(no reply)")
			return nil
		}

		var v any
		if err := jsoncodec.Unmarshal(reply, &v); err != nil {
			return err
		}
		out, err := jsoncodec.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendHandler, "handler", "", `Routing marker: "", "app" or "tsWebExtension"`)
	sendCmd.Flags().IntVar(&sendTab, "tab", 0, "Send as the top frame of this tab")
}
