package transport

import (
	"context"
	"net/url"
	"sync"
	"time"

	apperrors "github.com/AmoolyaSuneja/ChatMe/pkg/errors"
	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// WebSocketTransport talks to the relay over one websocket.
type WebSocketTransport struct {
	conn     *websocket.Conn
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
	log      *zap.Logger

	dispatcher
	failMu    sync.Mutex
	onFailure func(error)
}

// DialWebSocket connects to the relay at rawURL and joins roomID as
// userID (empty lets the relay assign one). The connect attempt is bounded
// by ctx.
func DialWebSocket(ctx context.Context, rawURL, roomID, userID string, log *zap.Logger) (*WebSocketTransport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.Transport(err, "invalid signaling url")
	}
	q := u.Query()
	q.Set("roomId", roomID)
	if userID != "" {
		q.Set("userId", userID)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: writeWait}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, apperrors.Transport(err, "connect to relay")
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	t := &WebSocketTransport{
		conn:     conn,
		outgoing: make(chan []byte, 32),
		done:     make(chan struct{}),
		log:      log,
	}
	go t.readPump()
	go t.writePump()
	return t, nil
}

func (t *WebSocketTransport) Kind() Kind { return KindRelay }

func (t *WebSocketTransport) AnnouncesJoin() bool { return true }

func (t *WebSocketTransport) OnMessage(h Handler) { t.set(h) }

// OnFailure registers f to run once if the connection drops without Close.
func (t *WebSocketTransport) OnFailure(f func(error)) {
	t.failMu.Lock()
	t.onFailure = f
	t.failMu.Unlock()
}

func (t *WebSocketTransport) Send(ctx context.Context, msg *protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	select {
	case t.outgoing <- frame:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return apperrors.Transport(ctx.Err(), "send to relay")
	}
}

func (t *WebSocketTransport) Close() error {
	t.shutdown()
	return nil
}

func (t *WebSocketTransport) shutdown() bool {
	first := false
	t.once.Do(func() {
		first = true
		close(t.done)
	})
	return first
}

func (t *WebSocketTransport) fail(err error) {
	if !t.shutdown() {
		return
	}
	t.log.Warn("relay connection lost", zap.Error(err))
	t.failMu.Lock()
	f := t.onFailure
	t.failMu.Unlock()
	if f != nil {
		f(apperrors.Transport(err, "relay connection lost"))
	}
}

func (t *WebSocketTransport) readPump() {
	defer t.conn.Close()
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.fail(err)
			return
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
		msg, err := protocol.Decode(data)
		if err != nil {
			t.log.Warn("dropping malformed frame from relay", zap.Error(err))
			continue
		}
		t.dispatch(msg)
	}
}

func (t *WebSocketTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case frame := <-t.outgoing:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.fail(err)
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.fail(err)
				return
			}
		case <-t.done:
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
