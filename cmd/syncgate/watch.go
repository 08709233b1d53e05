package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"syncgate/internal/api"
)

func newWatchCmd() *cobra.Command {
	var server, token, jobID string
	var queues []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live job events from a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := streamURL(server, queues, jobID)
			if err != nil {
				return err
			}
			hdr := http.Header{}
			if token != "" {
				hdr.Set("Authorization", "Bearer "+token)
			}
			c, resp, err := websocket.DefaultDialer.Dial(u, hdr)
			if err != nil {
				if resp != nil {
					return fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
				}
				return fmt.Errorf("dial %s: %w", u, err)
			}
			defer func() { _ = c.Close() }()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			done := make(chan error, 1)
			go func() {
				for {
					_, raw, err := c.ReadMessage()
					if err != nil {
						done <- err
						return
					}
					msg, err := api.DecodeStreamMessage(raw)
					if err != nil || msg.Event == nil {
						continue
					}
					e := msg.Event
					fmt.Fprintf(cmd.OutOrStdout(), "%s %-8s %-14s %s %v\n", e.At.Format("15:04:05"), e.Queue, e.Type, e.JobID, e.Data)
				}
			}()

			select {
			case err := <-done:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return nil
				}
				return err
			case <-interrupt:
				_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
		},
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:"+port, "Server base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("SYNCGATE_TOKEN"), "Bearer token")
	cmd.Flags().StringSliceVarP(&queues, "queue", "q", nil, "Queues to watch (default all)")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show events for this job")
	return cmd
}

func streamURL(server string, queues []string, jobID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/v1/jobs/stream"
	q := url.Values{}
	for _, name := range queues {
		q.Add("queue", name)
	}
	if jobID != "" {
		q.Set("jobId", jobID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
