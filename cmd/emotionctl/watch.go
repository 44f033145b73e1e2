package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/hubenschmidt/emotion-monitor/internal/analytics"
	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

// wsURL turns the monitor base URL into a websocket endpoint.
func wsURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}

type liveMessage struct {
	Type  string          `json:"type"`
	Event *emotion.Event  `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newWatchCmd(api func() string) *cobra.Command {
	var channel string
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live events (video channel) or stats pushes (data channel)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if channel != "video" && channel != "data" {
				return fmt.Errorf("channel must be video or data, got %q", channel)
			}
			u := wsURL(api(), "/ws/"+channel)
			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", u, err)
			}
			defer conn.Close()
			go func() {
				<-cmd.Context().Done()
				conn.Close()
			}()
			return follow(conn, cmd.OutOrStdout(), count)
		},
	}
	cmd.Flags().StringVarP(&channel, "channel", "c", "video", "video or data")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many printed lines (0 = forever)")
	return cmd
}

// follow prints accepted events and stats snapshots. Frames without an
// event are not printed.
func follow(conn *websocket.Conn, out io.Writer, count int) error {
	printed := 0
	for count <= 0 || printed < count {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var msg liveMessage
		if err = json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "frame":
			if msg.Event == nil {
				continue
			}
			ev := msg.Event
			fmt.Fprintf(out, "%s %s %-9s %.3f\n", ev.Date, ev.Time, ev.Label, ev.Confidence)
		case "stats_update":
			var st analytics.Stats
			if err = json.Unmarshal(msg.Data, &st); err != nil {
				continue
			}
			dominant := "none"
			if st.DominantEmotion != nil {
				dominant = string(*st.DominantEmotion)
			}
			fmt.Fprintf(out, "stats %dh: %d detections, dominant %s\n", st.PeriodHours, st.TotalDetections, dominant)
		default:
			continue
		}
		printed++
	}
	return nil
}
