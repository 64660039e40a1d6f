package clientcmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// NewHookCommand builds the `hook` subcommand for sending test deliveries.
func NewHookCommand(apiURL APIURLFunc) *cobra.Command {
	hookCmd := &cobra.Command{Use: "hook", Short: "Webhook operations"}

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send a test webhook to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := cmd.Flags().GetString("body")
			file, _ := cmd.Flags().GetString("file")
			source, _ := cmd.Flags().GetString("source")

			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				body = string(b)
			}
			if body == "" {
				body = `{"test":true}`
			}

			req, err := http.NewRequest(http.MethodPost, apiURL()+"/v1/hooks", strings.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			switch source {
			case "github":
				req.Header.Set("X-GitHub-Event", "push")
			case "stripe":
				req.Header.Set("Stripe-Signature", "t=0,v1=test")
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			fmt.Println(string(out))
			return nil
		},
	}
	sendCmd.Flags().String("body", "", "JSON body to send")
	sendCmd.Flags().String("file", "", "Read body from file")
	sendCmd.Flags().String("source", "", "Fake a source signature: github|stripe")
	hookCmd.AddCommand(sendCmd)
	return hookCmd
}
