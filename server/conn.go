package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wizz/protocol"
)

// transport is a framed byte stream to one client.
type transport interface {
	ReadPacket() (*protocol.Packet, error)
	WriteFrame(b []byte) error
	Close() error
	RemoteAddr() string
}

type tcpTransport struct {
	conn         net.Conn
	reader       *bufio.Reader
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxSize      int
}

func newTCPTransport(conn net.Conn, config *ServerConfig) *tcpTransport {
	return &tcpTransport{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
		maxSize:      config.MaxPacketSize,
	}
}

func (t *tcpTransport) ReadPacket() (*protocol.Packet, error) {
	if t.readTimeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
	return protocol.ReadPacket(t.reader, t.maxSize)
}

func (t *tcpTransport) WriteFrame(b []byte) error {
	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	_, err := t.conn.Write(b)
	return err
}

func (t *tcpTransport) Close() error { return t.conn.Close() }

func (t *tcpTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

// client pairs a transport with a bounded send queue drained by writePump.
// enqueue is safe from any goroutine.
type client struct {
	handle    Handle
	t         transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(t transport, queueSize int) *client {
	if queueSize < 1 {
		queueSize = 1
	}
	return &client{
		handle: newHandle(),
		t:      t,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

func (c *client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// close stops the writer; frames already queued are flushed first.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *client) writePump() {
	defer c.t.Close()
	for {
		select {
		case b := <-c.send:
			if err := c.t.WriteFrame(b); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *client) flush() {
	for {
		select {
		case b := <-c.send:
			if err := c.t.WriteFrame(b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func isClosedConnError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure)
}
