package clientcmd

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// NewEventsCommand builds the `events` subcommand: history queries and live
// watching.
func NewEventsCommand(apiURL APIURLFunc) *cobra.Command {
	eventsCmd := &cobra.Command{Use: "events", Short: "Event operations"}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Query stored event history",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			hours, _ := cmd.Flags().GetInt("hours")
			token, _ := cmd.Flags().GetString("token")
			exhaustive, _ := cmd.Flags().GetBool("exhaustive")
			filter, _ := cmd.Flags().GetString("filter")
			follow, _ := cmd.Flags().GetBool("all")

			for {
				params := url.Values{}
				if limit > 0 {
					params.Set("limit", strconv.Itoa(limit))
				}
				if hours > 0 {
					params.Set("hours", strconv.Itoa(hours))
				}
				if token != "" {
					params.Set("continuationToken", token)
				}
				if exhaustive {
					params.Set("exhaustive", "true")
				}
				if filter != "" {
					params.Set("filter", filter)
				}

				var out struct {
					Events    []map[string]any `json:"events"`
					NextToken *string          `json:"nextToken"`
				}
				if err := getJSON(apiURL()+"/v1/events/history?"+params.Encode(), &out); err != nil {
					return err
				}
				for _, ev := range out.Events {
					if err := printJSON(ev); err != nil {
						return err
					}
				}
				if out.NextToken == nil || !follow {
					if out.NextToken != nil {
						fmt.Fprintln(os.Stderr, "next token:", *out.NextToken)
					}
					return nil
				}
				token = *out.NextToken
			}
		},
	}
	historyCmd.Flags().Int("limit", 0, "Events per page (server default when 0)")
	historyCmd.Flags().Int("hours", 0, "Lookback window in hours (server default when 0)")
	historyCmd.Flags().String("token", "", "Continuation token from a previous page")
	historyCmd.Flags().Bool("exhaustive", false, "Fill the page past filtered-out events")
	historyCmd.Flags().String("filter", "", "CEL filter expression")
	historyCmd.Flags().Bool("all", false, "Follow continuation tokens until the window is drained")
	eventsCmd.AddCommand(historyCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live events over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, _ := cmd.Flags().GetString("filter")

			wsURL := "ws" + strings.TrimPrefix(apiURL(), "http") + "/v1/ws"
			if filter != "" {
				wsURL += "?filter=" + url.QueryEscape(filter)
			}
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				fmt.Println(string(raw))
			}
		},
	}
	watchCmd.Flags().String("filter", "", "CEL filter expression")
	eventsCmd.AddCommand(watchCmd)

	return eventsCmd
}

// NewConnectionsCommand builds the `connections` subcommand.
func NewConnectionsCommand(apiURL APIURLFunc) *cobra.Command {
	connCmd := &cobra.Command{Use: "connections", Short: "Subscriber connection operations"}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active subscriber connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := getJSON(apiURL()+"/v1/connections", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	connCmd.AddCommand(listCmd)
	return connCmd
}
