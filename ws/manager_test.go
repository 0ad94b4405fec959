package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signage-fleet/events"

	"github.com/gorilla/websocket"
)

func TestPublishNudgesConnectedDevice(t *testing.T) {
	m := NewManager()
	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		m.Register("lobby", conn)
		close(registered)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	<-registered

	if !m.IsConnected("lobby") || len(m.List()) != 1 {
		t.Fatalf("expected lobby registered, got %v", m.List())
	}

	ev := events.Event{Kind: events.KindCommandDispatched, DeviceID: "lobby", Timestamp: time.Now().UTC()}
	if err := m.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var hint SyncHint
	if err := json.Unmarshal(msg, &hint); err != nil {
		t.Fatal(err)
	}
	if hint.Type != "sync" || hint.Reason != events.KindCommandDispatched {
		t.Errorf("unexpected hint %+v", hint)
	}

	// devices without a socket pick the change up on their next poll
	if err := m.Publish(context.Background(), events.Event{Kind: events.KindCommandDispatched, DeviceID: "cafe"}); err != nil {
		t.Errorf("publish to an offline device should be silent, got %v", err)
	}
	if err := m.SendToDevice("cafe", []byte("{}")); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
