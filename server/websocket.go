package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wizz/protocol"
)

// Clients are native apps rather than browsers, so any origin is accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsTransport carries exactly one frame per binary WebSocket message.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	maxSize      int
}

func (t *wsTransport) ReadPacket() (*protocol.Packet, error) {
	mt, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, &protocol.FormatError{Op: "websocket", Reason: "text message where a binary frame was expected"}
	}
	return protocol.DecodeLimit(data, t.maxSize)
}

func (t *wsTransport) WriteFrame(b []byte) error {
	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (t *wsTransport) Close() error { return t.conn.Close() }

func (t *wsTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(int64(s.config.MaxPacketSize + protocol.HeaderSize))

	s.serveTransport(&wsTransport{
		conn:         conn,
		writeTimeout: s.config.WriteTimeout,
		maxSize:      s.config.MaxPacketSize,
	})
}
