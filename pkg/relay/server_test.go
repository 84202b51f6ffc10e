package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func startRelay(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(opts, zap.NewNop())
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMsg(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, data, err := ws.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
}

func sendJSON(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func TestRelayJoinOfferFlow(t *testing.T) {
	s, ts := startRelay(t, Options{})

	x := dial(t, ts, "?roomId=abc123&userId=X")
	hello := readMsg(t, x)
	assert.Equal(t, protocol.TypeUserID, hello.Type)
	assert.Equal(t, "X", hello.UserID)
	assert.Equal(t, "ABC123", hello.RoomID)
	assert.Empty(t, hello.Peers)

	y := dial(t, ts, "?roomId=ABC123&userId=Y")
	helloY := readMsg(t, y)
	assert.Equal(t, []string{"X"}, helloY.Peers)

	joined := readMsg(t, x)
	assert.Equal(t, protocol.TypeUserJoined, joined.Type)
	assert.Equal(t, "Y", joined.From)
	assert.Equal(t, "Y", joined.UserID)

	sendJSON(t, y, map[string]interface{}{
		"type":    "offer",
		"payload": map[string]string{"type": "offer", "sdp": "v=0"},
		"from":    "someone-else",
	})
	offer := readMsg(t, x)
	assert.Equal(t, protocol.TypeOffer, offer.Type)
	assert.Equal(t, "Y", offer.From, "relay stamps the sender")
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(offer.Payload))
	expectSilence(t, x)
	expectSilence(t, y)

	assert.Equal(t, 1, s.Registry().RoomCount())
}

func TestRelayDropsBadFramesAndKeepsConnection(t *testing.T) {
	_, ts := startRelay(t, Options{})
	x := dial(t, ts, "?roomId=ROOM&userId=X")
	readMsg(t, x)
	y := dial(t, ts, "?roomId=ROOM&userId=Y")
	readMsg(t, y)
	readMsg(t, x) // user-joined

	require.NoError(t, x.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendJSON(t, x, map[string]string{"type": "user-left"})
	sendJSON(t, x, map[string]string{"type": "user-id"})
	sendJSON(t, x, map[string]string{"type": "nonsense"})
	sendJSON(t, x, map[string]interface{}{"type": "ice-candidate", "payload": map[string]string{"candidate": "c1"}})

	got := readMsg(t, y)
	assert.Equal(t, protocol.TypeICECandidate, got.Type)
	assert.Equal(t, "X", got.From)
	expectSilence(t, y)
}

func TestRelayUserLeftExactlyOnce(t *testing.T) {
	s, ts := startRelay(t, Options{})
	x := dial(t, ts, "?roomId=ROOM&userId=X")
	readMsg(t, x)
	y := dial(t, ts, "?roomId=ROOM&userId=Y")
	readMsg(t, y)
	readMsg(t, x)

	require.NoError(t, x.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	x.Close()

	left := readMsg(t, y)
	assert.Equal(t, protocol.TypeUserLeft, left.Type)
	assert.Equal(t, "X", left.UserID)
	expectSilence(t, y)

	assert.Equal(t, []string{"Y"}, s.Registry().Members("ROOM"))
	y.Close()
	assert.Eventually(t, func() bool { return s.Registry().RoomCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRelayJoinByFirstMessage(t *testing.T) {
	s, ts := startRelay(t, Options{})
	ws := dial(t, ts, "")
	sendJSON(t, ws, protocol.JoinRequest{Type: protocol.TypeJoin, RoomID: "lobby1"})

	hello := readMsg(t, ws)
	assert.Equal(t, protocol.TypeUserID, hello.Type)
	assert.Regexp(t, `^user_[0-9a-z]{13}$`, hello.UserID)
	assert.Equal(t, "LOBBY1", hello.RoomID)
	assert.True(t, s.Registry().HasRoom("LOBBY1"))
}

func TestRelayRejectsBadJoin(t *testing.T) {
	s, ts := startRelay(t, Options{})
	ws := dial(t, ts, "")
	sendJSON(t, ws, map[string]string{"type": "offer"})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	assert.Equal(t, 0, s.Registry().RoomCount())

	resp, err := http.Get(ts.URL + "/ws?roomId=bad-room")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	s := NewServer(Options{Environment: "test"}, zap.NewNop())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	dial(t, ts, "?roomId=ROOM&userId=X")
	require.Eventually(t, func() bool { return s.Registry().RoomCount() == 1 }, time.Second, 10*time.Millisecond)

	for _, path := range []string{"/health", "/healthcheck"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

			var body healthResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "ok", body.Status)
			assert.Equal(t, 1, body.Rooms)
			assert.Equal(t, "test", body.Environment)
			assert.Equal(t, "2024-05-01T12:00:00.000Z", body.Timestamp)
		})
	}
}

func TestPreflightAndMetrics(t *testing.T) {
	_, ts := startRelay(t, Options{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/anything", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "chatme_relay_rooms")
}

func TestRoomsAndStatic(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>chat</html>"), 0o600))
	s, ts := startRelay(t, Options{StaticRoot: root})
	dial(t, ts, "?roomId=ROOMA&userId=X")
	require.Eventually(t, func() bool { return s.Registry().HasRoom("ROOMA") }, time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/rooms")
	require.NoError(t, err)
	var rooms struct {
		Rooms []RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	resp.Body.Close()
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, "ROOMA", rooms.Rooms[0].ID)
	assert.Equal(t, 1, rooms.Rooms[0].Members)

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "<html>chat</html>", string(body))

	resp, err = http.Get(ts.URL + "/missing.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestShutdownNotifiesPeers(t *testing.T) {
	s, ts := startRelay(t, Options{})
	x := dial(t, ts, "?roomId=ROOM&userId=X")
	readMsg(t, x)

	s.Shutdown()
	require.NoError(t, x.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := x.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Eventually(t, func() bool { return s.Registry().RoomCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
