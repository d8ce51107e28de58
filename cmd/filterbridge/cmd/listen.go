package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfrund/filterbridge/internal/client"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
)

var listenTab int

var listenCmd = &cobra.Command{
	Use:   "listen <page> <event>...",
	Short: "Subscribe to events and print every push",
	Long: `Open a long-lived connection as the given page and print each pushed
event as one JSON line until interrupted.

With --tab the command behaves like a content script instead: it opens the
tab's inbox and registers a background listener with a one-shot message.
The page argument is then ignored.

Examples:
  filterbridge listen filtering-log log.event.added log.tab.update
  filterbridge listen - event.update.setting.value --tab 1`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := events.ParseNames(args[1:])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		emit := func(ev client.Event) {
			line, err := jsoncodec.Marshal(map[string]any{"event": ev.Name, "data": ev.Data})
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "encode event: %v\n", err)
				return
			}
			fmt.Fprintln(out, string(line))
		}

		var dispose client.Disposer
		if listenTab != 0 {
			dispose, err = listenInbox(ctx, names, emit)
		} else {
			dispose, err = newMessenger().OpenEventChannel(ctx, args[0], names, emit)
		}
		if err != nil {
			return err
		}
		defer dispose()

		<-ctx.Done()
		return nil
	},
}

func listenInbox(ctx context.Context, names []events.Name, onEvent func(client.Event)) (client.Disposer, error) {
	m := newMessenger(client.WithSender(message.Sender{TabID: listenTab}))
	inbox, err := m.OpenTabInbox(ctx, listenTab)
	if err != nil {
		return nil, err
	}
	dispose, err := m.SubscribeViaOneShot(ctx, inbox, names, onEvent)
	if err != nil {
		_ = inbox.Close()
		return nil, err
	}
	return func() {
		dispose()
		_ = inbox.Close()
	}, nil
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().IntVar(&listenTab, "tab", 0, "Listen through the inbox of this tab")
}
