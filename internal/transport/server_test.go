package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/logging"
	"github.com/actiongate/actiongate/pkg/protocol"
)

type recordingHandler struct {
	mu        sync.Mutex
	commands  []protocol.ActionCommand
	cancelled []string
	seen      chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(chan struct{}, 16)}
}

func (h *recordingHandler) HandleCommand(_ context.Context, cmd protocol.ActionCommand) {
	h.mu.Lock()
	h.commands = append(h.commands, cmd)
	h.mu.Unlock()
	h.seen <- struct{}{}
}

func (h *recordingHandler) CancelPending(reason string) bool {
	h.mu.Lock()
	h.cancelled = append(h.cancelled, reason)
	h.mu.Unlock()
	h.seen <- struct{}{}
	return true
}

func (h *recordingHandler) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
}

func newTestServer(t *testing.T) (*Server, *recordingHandler, *httptest.Server) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	srv := NewServer(&Config{ProjectName: "testproj", EnableCORS: true}, bus, logging.Nop())
	h := newRecordingHandler()
	srv.SetHandler(h)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, h, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestNotConnectedErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	require.False(t, srv.Connected())
	require.ErrorIs(t, srv.Startup(), ErrNotConnected)
	require.ErrorIs(t, srv.SendContext("hello", false), ErrNotConnected)

	// Empty payloads are no-ops even without a connection.
	require.NoError(t, srv.RegisterActions(nil))
	require.NoError(t, srv.UnregisterActions(nil))
}

func TestConnectHookAndStartup(t *testing.T) {
	srv, _, ts := newTestServer(t)

	var hookMu sync.Mutex
	var reconnects []bool
	srv.SetConnectHook(func(reconnect bool) {
		hookMu.Lock()
		reconnects = append(reconnects, reconnect)
		hookMu.Unlock()
		_ = srv.Startup()
	})

	conn := dial(t, ts)
	env := readEnvelope(t, conn)
	require.Equal(t, protocol.CmdStartup, env.Command)
	require.Equal(t, "testproj", env.Game)
	require.True(t, srv.Connected())

	conn.Close()
	require.Eventually(t, func() bool { return !srv.Connected() }, 2*time.Second, 10*time.Millisecond)

	conn2 := dial(t, ts)
	readEnvelope(t, conn2)

	hookMu.Lock()
	defer hookMu.Unlock()
	require.Equal(t, []bool{false, true}, reconnects)
}

func TestInboundActionReachesHandler(t *testing.T) {
	_, h, ts := newTestServer(t)
	conn := dial(t, ts)

	data, _ := json.Marshal(protocol.ActionCommand{ID: "cmd-1", Name: "open_file", Data: `{"path":"a.go"}`})
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Command: protocol.CmdAction, Data: data}))
	h.wait(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.commands, 1)
	require.Equal(t, "cmd-1", h.commands[0].ID)
	require.Equal(t, "open_file", h.commands[0].Name)
}

func TestInboundCancelReachesHandler(t *testing.T) {
	_, h, ts := newTestServer(t)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(protocol.Envelope{Command: protocol.CmdActionsCancel}))
	h.wait(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Equal(t, []string{"cancelled by agent"}, h.cancelled)
}

func TestMalformedFramesAreDiscarded(t *testing.T) {
	_, h, ts := newTestServer(t)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Command: "no/such/command"}))

	// The connection survives and a valid frame still gets through.
	data, _ := json.Marshal(protocol.ActionCommand{ID: "cmd-2", Name: "chat"})
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Command: protocol.CmdAction, Data: data}))
	h.wait(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.commands, 1)
	require.Empty(t, h.cancelled)
}

func TestOutboundFrames(t *testing.T) {
	srv, _, ts := newTestServer(t)
	conn := dial(t, ts)
	require.Eventually(t, srv.Connected, 2*time.Second, 10*time.Millisecond)

	specs := []protocol.ActionSpec{{Name: "chat", Description: "say something"}}
	require.NoError(t, srv.RegisterActions(specs))

	env := readEnvelope(t, conn)
	require.Equal(t, protocol.CmdRegister, env.Command)
	var reg protocol.RegisterData
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	require.Len(t, reg.Actions, 1)
	require.Equal(t, "chat", reg.Actions[0].Name)

	msg := "done"
	require.NoError(t, srv.SendResult("cmd-3", true, &msg))
	env = readEnvelope(t, conn)
	require.Equal(t, protocol.CmdActionResult, env.Command)
	var res protocol.ResultData
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Equal(t, "cmd-3", res.ID)
	require.True(t, res.Success)
	require.NotNil(t, res.Message)

	require.NoError(t, srv.ForceActions(protocol.ForceData{Query: "pick one", ActionNames: []string{"chat"}}))
	env = readEnvelope(t, conn)
	require.Equal(t, protocol.CmdForce, env.Command)
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, ts := newTestServer(t)
	srv.SetStatusFunc(func() Status {
		return Status{
			Project: "testproj",
			Actions: []string{"chat", "open_file"},
			Pending: &PendingApproval{RequestID: "req-1", Action: "run_command", Prompt: "Run ls?"},
		}
	})

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.False(t, st.Connected)
	require.Equal(t, []string{"chat", "open_file"}, st.Actions)
	require.NotNil(t, st.Pending)
	require.Equal(t, "run_command", st.Pending.Action)

	dial(t, ts)
	require.Eventually(t, srv.Connected, 2*time.Second, 10*time.Millisecond)

	resp2, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&st))
	require.True(t, st.Connected)
}

func TestApprovalEndpoint(t *testing.T) {
	srv, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/approval", "application/json", strings.NewReader(`{"accept":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var got []bool
	srv.SetResolveFunc(func(accept bool) bool {
		got = append(got, accept)
		return accept
	})

	resp, err = http.Post(ts.URL+"/approval", "application/json", strings.NewReader(`{"accept":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/approval", "application/json", strings.NewReader(`{"accept":false}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	require.Equal(t, []bool{true, false}, got)
}

func TestForceEndpoints(t *testing.T) {
	srv, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/force", "application/json", strings.NewReader(`{"actionNames":["chat"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var forced []ForceRequest
	aborted := false
	srv.SetForceFuncs(
		func(req ForceRequest) error {
			if len(req.ActionNames) == 0 {
				return errors.New("force requires at least one action name")
			}
			forced = append(forced, req)
			return nil
		},
		func() bool {
			was := !aborted && len(forced) > 0
			aborted = true
			return was
		},
	)

	body := `{"actionNames":["chat","open_file"],"query":"which file?","level":"copilot","strict":true}`
	resp, err = http.Post(ts.URL+"/force", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, forced, 1)
	require.Equal(t, []string{"chat", "open_file"}, forced[0].ActionNames)
	require.Equal(t, "which file?", forced[0].Query)
	require.Equal(t, "copilot", forced[0].Level)
	require.True(t, forced[0].Strict)

	resp, err = http.Post(ts.URL+"/force", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/force", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}
