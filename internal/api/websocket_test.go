package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/command"
	"github.com/nerrad567/keygate/internal/infrastructure/config"
	"github.com/nerrad567/keygate/internal/infrastructure/logging"
)

// wsFrame is an outbound frame as a client sees it.
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of type want arrives, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, want string) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test deadline
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if f.Type == want {
			return f
		}
	}
}

func sendWS(t *testing.T, conn *websocket.Conn, msgType, id string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(wsInbound{Type: msgType, ID: id, Payload: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketHandshakeRequiresCredential(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	for _, suffix := range []string{"", "?token=bogus"} {
		_, resp, err := websocket.DefaultDialer.Dial(url+suffix, nil)
		if err == nil {
			t.Fatalf("dial %q succeeded", suffix)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial %q: response = %v, want 401", suffix, resp)
		}
	}
}

func TestWebSocketConnectAndPing(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, e.login(t, "member"))

	f := readUntil(t, conn, command.EventKillSwitchUpdate)
	var ks command.KillSwitchState
	if err := json.Unmarshal(f.Payload, &ks); err != nil || ks.Enabled {
		t.Errorf("kill switch state = %s", f.Payload)
	}

	f = readUntil(t, conn, command.EventPresenceUpdate)
	var online []map[string]any
	if err := json.Unmarshal(f.Payload, &online); err != nil || len(online) != 1 {
		t.Errorf("presence = %s", f.Payload)
	}

	sendWS(t, conn, WSTypePing, "p1", nil)
	if f := readUntil(t, conn, WSTypePong); f.ID != "p1" {
		t.Errorf("pong id = %q", f.ID)
	}

	sendWS(t, conn, "shout", "x1", nil)
	if f := readUntil(t, conn, WSTypeError); f.ID != "x1" {
		t.Errorf("error id = %q", f.ID)
	}
}

func TestWebSocketKickCommand(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()

	modConn := dialWS(t, ts, e.login(t, "mod"))
	memberConn := dialWS(t, ts, e.login(t, "member"))
	readUntil(t, memberConn, command.EventKillSwitchUpdate)

	sendWS(t, modConn, command.EventCommand, "c1", command.Command{Target: "member", Action: command.ActionKick})

	ackFrame := readUntil(t, modConn, WSTypeCommandAck)
	var ack command.Ack
	if err := json.Unmarshal(ackFrame.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if !ack.OK || ack.ID != "c1" {
		t.Errorf("ack = %+v", ack)
	}

	f := readUntil(t, memberConn, command.EventKicked)
	var kicked command.Kicked
	if err := json.Unmarshal(f.Payload, &kicked); err != nil {
		t.Fatal(err)
	}
	if kicked.Reason != command.ActionKick || kicked.By != "mod" {
		t.Errorf("kicked = %+v", kicked)
	}
	if _, _, err := memberConn.ReadMessage(); err == nil {
		t.Error("member connection still open after kick")
	}

	if ids := e.srv.registry.FindByUsername("member"); len(ids) != 0 {
		t.Errorf("member still online: %v", ids)
	}
}

func TestWebSocketMemberCannotCommand(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()

	e.login(t, "mod")
	conn := dialWS(t, ts, e.login(t, "member"))

	sendWS(t, conn, command.EventCommand, "c1", command.Command{Target: "mod", Action: command.ActionKick})
	var ack command.Ack
	if err := json.Unmarshal(readUntil(t, conn, WSTypeCommandAck).Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.OK || ack.Reason != command.ReasonForbidden {
		t.Errorf("ack = %+v", ack)
	}

	sendWS(t, conn, WSTypeKillSwitch, "k1", killSwitchRequest{Enable: true})
	if err := json.Unmarshal(readUntil(t, conn, WSTypeCommandAck).Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.OK || ack.Reason != command.ReasonForbidden {
		t.Errorf("kill switch ack = %+v", ack)
	}
}

func TestWebSocketKillSwitchBroadcast(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()

	ownerConn := dialWS(t, ts, e.login(t, "owner"))
	memberConn := dialWS(t, ts, e.login(t, "member"))
	readUntil(t, memberConn, command.EventKillSwitchUpdate)

	sendWS(t, ownerConn, WSTypeKillSwitch, "k1", killSwitchRequest{Enable: true})

	var ack command.Ack
	if err := json.Unmarshal(readUntil(t, ownerConn, WSTypeCommandAck).Payload, &ack); err != nil || !ack.OK {
		t.Errorf("ack = %+v, err = %v", ack, err)
	}
	var ks command.KillSwitchState
	if err := json.Unmarshal(readUntil(t, memberConn, command.EventKillSwitchUpdate).Payload, &ks); err != nil || !ks.Enabled {
		t.Errorf("member saw kill switch = %+v, err = %v", ks, err)
	}
	if !e.srv.vault.KillSwitchEnabled() {
		t.Error("kill switch not enabled")
	}
}

func TestHubDisconnectSessions(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard(), nil)
	a := &WSClient{hub: hub, send: make(chan []byte, 4), principal: auth.Principal{Username: "a", SessionID: "s1"}}
	b := &WSClient{hub: hub, send: make(chan []byte, 4), principal: auth.Principal{Username: "b", SessionID: "s2"}}
	hub.Register(a)
	hub.Register(b)

	if n := hub.DisconnectSessions([]string{"s1"}, command.Kicked{Reason: "revoked"}); n != 1 {
		t.Fatalf("DisconnectSessions() = %d, want 1", n)
	}
	if hub.HasSession("s1") || !hub.HasSession("s2") {
		t.Error("wrong client evicted")
	}

	msg, ok := <-a.send
	if !ok || !strings.Contains(string(msg), `"kicked"`) {
		t.Errorf("notice = %q", msg)
	}
	if _, ok := <-a.send; ok {
		t.Error("send channel not closed")
	}
	if hub.Unregister(a) {
		t.Error("Unregister() of an evicted client reported true")
	}

	if n := hub.SendTo([]string{"s2"}, command.EventCommand, nil); n != 1 {
		t.Errorf("SendTo() = %d", n)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d", hub.ClientCount())
	}
}

func TestRegisterClientEvictsEndedSession(t *testing.T) {
	e := newTestEnv(t)
	tok := e.login(t, "member")
	p, err := e.srv.auth.Validate(tok)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if rec := e.do(t, http.MethodPost, "/api/logout", tok, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}

	c := &WSClient{hub: e.srv.hub, send: make(chan []byte, 4), principal: p}
	if e.srv.registerClient(c) {
		t.Fatal("registerClient() = true for a logged-out session")
	}
	if e.srv.hub.HasSession(p.SessionID) {
		t.Error("client for a logged-out session still registered")
	}
	msg, ok := <-c.send
	if !ok || !strings.Contains(string(msg), `"kicked"`) {
		t.Errorf("notice = %q", msg)
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel not closed")
	}

	live, err := e.srv.auth.Validate(e.login(t, "member"))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	c = &WSClient{hub: e.srv.hub, send: make(chan []byte, 4), principal: live}
	if !e.srv.registerClient(c) {
		t.Fatal("registerClient() = false for a live session")
	}
	if !e.srv.hub.HasSession(live.SessionID) {
		t.Error("live client not registered")
	}
}

type recordingMirror struct {
	events chan string
}

func (m *recordingMirror) PublishEvent(eventType string, _ any) error {
	m.events <- eventType
	return nil
}

func TestHubBroadcastMirrors(t *testing.T) {
	mirror := &recordingMirror{events: make(chan string, 1)}
	hub := NewHub(config.WebSocketConfig{}, logging.Discard(), mirror)
	c := &WSClient{hub: hub, send: make(chan []byte, 1), principal: auth.Principal{SessionID: "s1"}}
	hub.Register(c)

	hub.Broadcast(command.EventPresenceUpdate, []string{})

	if msg := <-c.send; !strings.Contains(string(msg), command.EventPresenceUpdate) {
		t.Errorf("client got %q", msg)
	}
	select {
	case ev := <-mirror.events:
		if ev != command.EventPresenceUpdate {
			t.Errorf("mirrored %q", ev)
		}
	case <-time.After(2 * time.Second):
		t.Error("event not mirrored")
	}
}
