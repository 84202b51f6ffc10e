package relay

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/AmoolyaSuneja/ChatMe/pkg/errors"
	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
	"github.com/AmoolyaSuneja/ChatMe/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configures a relay Server. Zero values fall back to defaults.
type Options struct {
	MaxMessageBytes int64
	SendQueueSize   int
	WriteWait       time.Duration
	PongWait        time.Duration
	StaticRoot      string
	Environment     string
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.Environment == "" {
		o.Environment = "development"
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// Server accepts signaling connections and relays messages between the
// members of a room.
type Server struct {
	opts     Options
	registry *Registry
	metrics  *Metrics
	upgrader websocket.Upgrader
	log      *zap.Logger
	now      func() time.Time
}

func NewServer(opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	metrics := NewMetrics()
	return &Server{
		opts:     opts,
		registry: NewRegistry(log.Named("registry"), metrics),
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
		now: time.Now,
	}
}

func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) Metrics() *Metrics { return s.metrics }

// Router builds the HTTP surface: websocket upgrade on / and /ws, health,
// metrics, room listing and optional static assets.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware(), requestLogger(s.log))

	r.GET("/ws", s.HandleWS)
	r.GET("/", func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			s.HandleWS(c)
			return
		}
		s.serveStatic(c)
	})
	r.GET("/health", s.handleHealth)
	r.GET("/healthcheck", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.GET("/api/rooms", s.handleRooms)
	r.NoRoute(s.serveStatic)
	return r
}

type healthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Rooms       int    `json:"rooms"`
	Environment string `json:"environment"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Rooms:       s.registry.RoomCount(),
		Environment: s.opts.Environment,
	})
}

func (s *Server) handleRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.registry.Rooms()})
}

func (s *Server) serveStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		writeError(c, apperrors.NewAppError(apperrors.ErrCodeNotFound, "not found"))
		return
	}
	if s.opts.StaticRoot == "" {
		writeError(c, apperrors.NewAppError(apperrors.ErrCodeNotFound, "not found"))
		return
	}
	rel := filepath.Clean("/" + c.Request.URL.Path)
	if rel == "/" {
		rel = "/index.html"
	}
	path := filepath.Join(s.opts.StaticRoot, rel)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		c.Data(http.StatusNotFound, "text/html; charset=utf-8", []byte("<h1>404 Not Found</h1>"))
		return
	}
	c.File(path)
}

func writeError(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, err)
}

// HandleWS upgrades the request and runs the connection until it closes.
// The room may come from ?roomId=&userId= or from a first "join" frame.
func (s *Server) HandleWS(c *gin.Context) {
	roomID := protocol.NormalizeRoomID(c.Query("roomId"))
	userID := strings.TrimSpace(c.Query("userId"))
	if roomID != "" && !protocol.ValidRoomID(roomID) {
		writeError(c, apperrors.NewAppErrorf(apperrors.ErrCodeProtocol, "invalid roomId %q", roomID))
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.MaxMessageBytes)

	conn := NewConnection(s.opts.SendQueueSize)
	s.metrics.connOpened()
	log := s.log.With(zap.String("conn", conn.ID), zap.String("remote", c.ClientIP()))
	log.Debug("connection opened", clientFields(c.Request.UserAgent())...)

	if roomID == "" {
		roomID, userID, err = s.readJoin(ws, userID)
		if err != nil {
			log.Warn("join rejected", zap.Error(err))
			s.reject(ws, conn, err)
			return
		}
	}
	if userID == "" {
		userID = utils.GenerateParticipantID()
	}

	// user-id is queued under the registry lock so it precedes anything a
	// peer relays to the newcomer.
	_, err = s.registry.JoinWithGreeting(roomID, conn, userID, func(peers []*Connection) *protocol.Message {
		roster := make([]string, 0, len(peers))
		for _, p := range peers {
			roster = append(roster, p.ParticipantID())
		}
		return &protocol.Message{
			Type:      protocol.TypeUserID,
			UserID:    userID,
			RoomID:    protocol.NormalizeRoomID(roomID),
			Peers:     roster,
			Timestamp: s.now().UnixMilli(),
		}
	})
	if err != nil {
		log.Warn("join failed", zap.Error(err))
		s.reject(ws, conn, err)
		return
	}

	go s.writePump(ws, conn)

	s.registry.Broadcast(conn.RoomID(), conn, &protocol.Message{
		Type:      protocol.TypeUserJoined,
		UserID:    userID,
		Timestamp: s.now().UnixMilli(),
	})

	s.readPump(ws, conn, log.With(zap.String("participant", userID), zap.String("room", conn.RoomID())))
}

// readJoin waits for the first frame and requires it to be a join request.
func (s *Server) readJoin(ws *websocket.Conn, userID string) (string, string, error) {
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", "", apperrors.Transport(err, "read join request")
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return "", "", err
	}
	if msg.Type != protocol.TypeJoin {
		return "", "", apperrors.NewAppErrorf(apperrors.ErrCodeProtocol, "expected join, got %s", msg.Type)
	}
	roomID := protocol.NormalizeRoomID(msg.RoomID)
	if !protocol.ValidRoomID(roomID) {
		return "", "", apperrors.NewAppErrorf(apperrors.ErrCodeProtocol, "invalid roomId %q", msg.RoomID)
	}
	if msg.UserID != "" {
		userID = msg.UserID
	}
	return roomID, userID, nil
}

func (s *Server) reject(ws *websocket.Conn, conn *Connection, cause error) {
	reason := cause.Error()
	if len(reason) > 120 {
		reason = reason[:120]
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(s.opts.WriteWait))
	if conn.BeginClose() {
		conn.MarkClosed()
		s.metrics.connClosed()
	}
	_ = ws.Close()
}

func (s *Server) readPump(ws *websocket.Conn, conn *Connection, log *zap.Logger) {
	defer s.closeConnection(ws, conn, log)

	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Info("connection read error", zap.Error(err))
			}
			return
		}
		s.handleFrame(conn, data, log)
	}
}

// handleFrame relays one inbound frame. Bad frames are dropped and the
// connection stays open.
func (s *Server) handleFrame(conn *Connection, data []byte, log *zap.Logger) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.metrics.protocolError()
		log.Warn("dropping malformed message", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	if !msg.Type.Relayable() {
		s.metrics.protocolError()
		log.Warn("dropping non-relayable message", zap.String("type", string(msg.Type)))
		return
	}
	n := s.registry.Broadcast(conn.RoomID(), conn, msg)
	log.Debug("relayed", zap.String("type", string(msg.Type)), zap.Int("peers", n))
}

func (s *Server) writePump(ws *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(s.opts.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case frame := <-conn.Outbox():
			_ = ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("write failed", zap.String("conn", conn.ID), zap.Error(err))
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				return
			}
		case <-conn.closeRequested():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(s.opts.WriteWait))
			_ = ws.Close()
			return
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.opts.WriteWait))
			_ = ws.Close()
			return
		}
	}
}

// closeConnection runs teardown once: leave the room, tell the remaining
// members, release the write pump.
func (s *Server) closeConnection(ws *websocket.Conn, conn *Connection, log *zap.Logger) {
	if !conn.BeginClose() {
		return
	}
	participant := conn.ParticipantID()
	if roomID, remaining, ok := s.registry.Leave(conn); ok {
		n := s.registry.deliver(remaining, conn, &protocol.Message{
			Type:      protocol.TypeUserLeft,
			UserID:    participant,
			RoomID:    roomID,
			Timestamp: s.now().UnixMilli(),
		})
		log.Info("connection closed", zap.Int("notified", n))
	}
	conn.MarkClosed()
	s.metrics.connClosed()
	_ = ws.Close()
}

// Shutdown asks every joined connection to close; each one then runs its
// normal teardown.
func (s *Server) Shutdown() {
	s.registry.mu.RLock()
	var all []*Connection
	for _, room := range s.registry.rooms {
		for _, c := range room.members {
			all = append(all, c)
		}
	}
	s.registry.mu.RUnlock()
	for _, c := range all {
		c.RequestClose()
	}
}
