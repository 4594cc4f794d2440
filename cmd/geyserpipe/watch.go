package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/geyserpipe/geyserpipe/pkg/api"
)

var (
	watchEndpoint string
	watchPrograms []string
	watchAccounts []string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream committed account updates to the terminal",
	Long: `Connect to a running geyserpipe instance and print committed account
updates as they arrive on the WebSocket stream. Without filters every
update is printed; --programs and --accounts narrow the stream the same
way the stream endpoint's query parameters do.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchEndpoint, "endpoint", "e", "http://127.0.0.1:8080",
		"base URL or stream URL of the geyserpipe API")
	watchCmd.Flags().StringSliceVarP(&watchPrograms, "programs", "p", nil,
		"owner program addresses to filter on (base58)")
	watchCmd.Flags().StringSliceVarP(&watchAccounts, "accounts", "a", nil,
		"account addresses to filter on (base58)")
	rootCmd.AddCommand(watchCmd)
}

// streamURL turns the endpoint flag into a WebSocket stream URL. A bare base
// URL gets the stream path appended; http(s) schemes are mapped to ws(s).
func streamURL(endpoint string, programs, accounts []string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q (use http, https, ws or wss)", u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/api/v1/stream"
	}

	q := u.Query()
	if len(programs) > 0 {
		q.Set("programs", strings.Join(programs, ","))
	}
	if len(accounts) > 0 {
		q.Set("accounts", strings.Join(accounts, ","))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	target, err := streamURL(watchEndpoint, watchPrograms, watchAccounts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer conn.Close()

	fmt.Printf("watching %s\n", target)

	// a clean close on interrupt, so the server unsubscribes immediately
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}

		var u api.StreamUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			return fmt.Errorf("decoding stream update: %w", err)
		}
		fmt.Println(formatUpdate(&u))
	}
}

func formatUpdate(u *api.StreamUpdate) string {
	line := fmt.Sprintf("slot=%d wv=%d account=%s owner=%s lamports=%d data=%dB",
		u.Slot, u.WriteVersion, u.Account, u.Owner, u.Lamports, len(u.Data))
	if u.Deleted {
		line += " deleted"
	}
	return line
}
