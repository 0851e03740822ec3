package kalshi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsTestServer accepts one connection, acknowledges subscribe commands and
// then replays the given ticker updates on the assigned sid.
func wsTestServer(t *testing.T, updates []TickerUpdate) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Cmd != "subscribe" {
			t.Errorf("unexpected cmd: %s", cmd.Cmd)
			return
		}

		ack := map[string]interface{}{
			"id":   cmd.ID,
			"type": "subscribed",
			"msg":  wsSubscribedMsg{Channel: "ticker", Sid: 7},
		}
		if err := conn.WriteJSON(ack); err != nil {
			return
		}

		for _, u := range updates {
			msg, _ := json.Marshal(u)
			conn.WriteJSON(map[string]interface{}{
				"type": "ticker",
				"sid":  7,
				"msg":  json.RawMessage(msg),
			})
		}

		// Hold the connection open until the client disconnects
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClientSubscribeTicker(t *testing.T) {
	srv := wsTestServer(t, []TickerUpdate{
		{MarketTicker: "INXD-26AUG25-B5450", Price: 55, YesBid: 54, YesAsk: 56, Ts: 1700000000},
		{MarketTicker: "INXD-26AUG25-B5450", Price: 57, Ts: 1700000060},
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewWSClient(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeTicker(ctx, []string{"INXD-26AUG25-B5450"})
	if err != nil {
		t.Fatalf("SubscribeTicker: %v", err)
	}

	var got []TickerUpdate
	for len(got) < 2 {
		select {
		case u := <-ch:
			got = append(got, u)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d updates", len(got))
		}
	}

	if got[0].Mid() != 0.55 {
		t.Errorf("first mid = %v, want 0.55", got[0].Mid())
	}
	if got[1].Mid() != 0.57 {
		t.Errorf("second mid (last-trade fallback) = %v, want 0.57", got[1].Mid())
	}
}

func TestWSClientCloseIdempotent(t *testing.T) {
	srv := wsTestServer(t, nil)
	defer srv.Close()

	client, err := NewWSClient(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWSClientSubscribeAfterClose(t *testing.T) {
	srv := wsTestServer(t, nil)
	defer srv.Close()

	client, err := NewWSClient(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	client.Close()

	if _, err := client.SubscribeTicker(context.Background(), []string{"X-1"}); err == nil {
		t.Fatal("expected error subscribing on closed client")
	}
}
