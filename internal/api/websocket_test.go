package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/beacon-fence-core/internal/auth"
	"github.com/nerrad567/beacon-fence-core/internal/beacon"
)

func dialFeed(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "sub-1", Payload: WSSubscribePayload{Channels: channels}}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", msg)
	}
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_BeaconTriggered(t *testing.T) {
	env := newTestEnv(t, "")
	ws := dialFeed(t, env, "")
	subscribe(t, ws, ChannelBeaconTriggered)

	env.srv.hub.BeaconTriggered(beacon.DispatchItem{
		RegionID:   "front-door",
		Kind:       beacon.EventEnter,
		RSSI:       beacon.Int(-58),
		CallbackID: 42,
		Beacon: beacon.ActiveBeacon{
			ID:       "front-door",
			UUID:     "e2c56db5-dffb-48d2-b060-d0f5a71096e0",
			Triggers: []beacon.Event{beacon.EventEnter},
		},
	})

	msg := readMessage(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelBeaconTriggered {
		t.Fatalf("message = %+v", msg)
	}
	raw, _ := json.Marshal(msg.Payload)
	var payload TriggeredPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.RegionID != "front-door" || payload.Event != "enter" || payload.RSSI == nil || *payload.RSSI != -58 {
		t.Errorf("payload = %+v", payload)
	}
	if payload.CallbackHandle != 42 || payload.Beacon.Triggers[0] != "enter" {
		t.Errorf("payload beacon = %+v", payload)
	}
}

func TestWebSocket_UnsubscribedClientsSkipped(t *testing.T) {
	env := newTestEnv(t, "")
	ws := dialFeed(t, env, "")
	waitForClients(t, env.srv.hub, 1)

	env.srv.hub.BeaconTriggered(beacon.DispatchItem{RegionID: "b1", Kind: beacon.EventExit})

	// A ping round-trip proves the event was never queued ahead of it.
	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("got %+v, want pong", msg)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	env := newTestEnv(t, "")
	ws := dialFeed(t, env, "")
	subscribe(t, ws, ChannelBeaconTriggered)

	if err := ws.WriteJSON(WSMessage{Type: WSTypeUnsubscribe, ID: "u1", Payload: WSSubscribePayload{Channels: []string{ChannelBeaconTriggered}}}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeResponse || msg.ID != "u1" {
		t.Fatalf("unsubscribe response = %+v", msg)
	}
	env.srv.hub.BeaconTriggered(beacon.DispatchItem{RegionID: "b1"})

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p2"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypePong {
		t.Errorf("got %+v after unsubscribe, want pong", msg)
	}
}

func TestWebSocket_BadMessages(t *testing.T) {
	env := newTestEnv(t, "")
	ws := dialFeed(t, env, "")

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeError {
		t.Errorf("got %+v, want error", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: "dance", ID: "d1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeError || msg.ID != "d1" {
		t.Errorf("got %+v, want error for d1", msg)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := newTestEnv(t, testSecret)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}

	ws := dialFeed(t, env, "?access_token="+token(t, auth.RoleViewer))
	subscribe(t, ws, ChannelBeaconTriggered)
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t, "")
	ws := dialFeed(t, env, "")
	waitForClients(t, env.srv.hub, 1)

	ws.Close()
	waitForClients(t, env.srv.hub, 0)
}
