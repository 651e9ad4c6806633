// habitctl is a small operator CLI for smoke-testing the notifications
// service over its HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var apiURL string

func main() {
	root := &cobra.Command{
		Use:   "habitctl",
		Short: "Operator CLI for the HabitFlow notifications service",
	}
	root.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8086", "notifications API base URL")

	root.AddCommand(sendCmd(), feedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func sendCmd() *cobra.Command {
	var (
		userID    string
		notifType string
		recipient string
		title     string
		message   string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"user_id":       userID,
				"type":          notifType,
				"recipient":     recipient,
				"title":         title,
				"message":       message,
				"scheduled_for": time.Now().UTC(),
			}
			body, err := json.Marshal(payload)
			if err != nil {
				return err
			}

			resp, err := http.Post(apiURL+"/notifications", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out, _ := io.ReadAll(resp.Body)
			fmt.Printf("%s\n%s\n", resp.Status, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&notifType, "type", "HABIT_REMINDER", "notification type")
	cmd.Flags().StringVar(&recipient, "to", "", "recipient address or device token")
	cmd.Flags().StringVar(&title, "title", "", "override subject")
	cmd.Flags().StringVar(&message, "message", "", "override body")
	cmd.MarkFlagRequired("user")
	return cmd
}

func feedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feed <user-id>",
		Short: "Fetch a user's notification feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiURL + "/users/" + args[0] + "/notifications")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out, _ := io.ReadAll(resp.Body)
			fmt.Printf("%s\n%s\n", resp.Status, out)
			return nil
		},
	}
}
