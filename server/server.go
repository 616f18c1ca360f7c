package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wizz/gateway"
	"wizz/models"
	"wizz/protocol"
)

const (
	eventQueueSize = 1024
	callTimeout    = 5 * time.Second
)

// Server owns the session registry and presence map. Both are only touched
// from the loop goroutine started by run; connection goroutines talk to it
// through events and storage workers through the gateway response queue.
type Server struct {
	config  *ServerConfig
	logger  *zap.Logger
	metrics *metrics
	promReg *prometheus.Registry
	gateway *gateway.Gateway

	sessions *Registry
	presence *Presence
	now      func() time.Time

	events   chan event
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	running  atomic.Bool

	coreOnce     sync.Once
	shutdownOnce sync.Once
}

type ServerConfig struct {
	Port          int
	HTTPAddress   string // serves /ws and /metrics; empty disables
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxPacketSize int
	// StorageWorkers above 1 gives up ordering between storage tasks.
	StorageWorkers int
	SendQueueSize  int
	// Registry collects the server metrics. A fresh one is created when nil.
	Registry *prometheus.Registry
}

type eventKind int

const (
	evConnect eventKind = iota
	evPacket
	evDisconnect
)

type event struct {
	kind   eventKind
	client *client
	packet *protocol.Packet
}

// result is a storage task outcome applied on the owning loop.
type result interface {
	apply(s *Server)
}

func New(store gateway.Store, blobs gateway.Blobs, config *ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxPacketSize <= 0 {
		config.MaxPacketSize = protocol.DefaultMaxPacketSize
	}
	if config.SendQueueSize < 1 {
		config.SendQueueSize = 256
	}
	if config.StorageWorkers < 1 {
		config.StorageWorkers = 1
	}
	reg := config.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := newMetrics(reg)
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:   config,
		logger:   logger,
		metrics:  m,
		promReg:  reg,
		gateway:  gateway.New(store, blobs, config.StorageWorkers, logger.Named("storage"), m),
		sessions: NewRegistry(),
		presence: NewPresence(),
		now:      time.Now,
		events:   make(chan event, eventQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
}

// Start listens on the configured TCP port and serves until ctx is done or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.startCore()
	defer listener.Close()

	var httpSrv *http.Server
	if s.config.HTTPAddress != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.handleWebSocket)
		mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
		httpSrv = &http.Server{Addr: s.config.HTTPAddress, Handler: mux}

		go func() {
			s.logger.Info("http listener started", zap.String("address", s.config.HTTPAddress))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http listener failed", zap.Error(err))
			}
		}()
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		listener.Close()
		if httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), callTimeout)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}
	}()

	s.logger.Info("wizz server started", zap.String("address", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		go s.handleConnection(conn)
	}
}

// startCore launches the storage workers and the owning loop.
func (s *Server) startCore() {
	s.coreOnce.Do(func() {
		s.gateway.Start()
		s.running.Store(true)
		go s.run()
	})
}

func (s *Server) run() {
	defer close(s.loopDone)

	responses := s.gateway.Responses()
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
		case <-responses.Notify():
			for _, r := range responses.Drain() {
				s.apply(r)
			}
		case <-s.ctx.Done():
			for _, sess := range s.sessions.sessions() {
				sess.client.close()
			}
			return
		}
	}
}

func (s *Server) dispatch(ev event) {
	switch ev.kind {
	case evConnect:
		s.sessions.Attach(&Session{Handle: ev.client.handle, client: ev.client})
		s.metrics.setConnections(s.sessions.Connections())
	case evPacket:
		sess := s.sessions.LookupByHandle(ev.client.handle)
		if sess == nil || sess.client.closed() {
			return
		}
		s.handlePacket(sess, ev.packet)
	case evDisconnect:
		s.handleDisconnect(ev.client.handle)
	}
}

func (s *Server) apply(r any) {
	switch v := r.(type) {
	case result:
		v.apply(s)
	case func():
		v()
	default:
		s.logger.Warn("dropping unknown storage response", zap.Any("response", r))
	}
}

// post hands an event to the owning loop. It fails once the loop has stopped.
func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// call runs fn on the owning loop and waits for it to finish.
func (s *Server) call(fn func()) bool {
	if !s.running.Load() {
		return false
	}
	done := make(chan struct{})
	if !s.gateway.PostResponse(func() {
		fn()
		close(done)
	}) {
		return false
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-s.loopDone:
		return false
	case <-timer.C:
		return false
	}
}

func (s *Server) postTask(t gateway.Task) {
	if !s.gateway.PostTask(t) {
		s.logger.Warn("storage task dropped, gateway closed")
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	s.serveTransport(newTCPTransport(conn, s.config))
}

// serveTransport runs the read side of one connection until it fails or the
// owning loop closes it.
func (s *Server) serveTransport(t transport) {
	c := newClient(t, s.config.SendQueueSize)
	go c.writePump()

	log := s.logger.With(zap.Stringer("handle", c.handle), zap.String("remote", t.RemoteAddr()))
	log.Debug("client connected")

	if !s.post(event{kind: evConnect, client: c}) {
		c.close()
		return
	}
	defer func() {
		s.post(event{kind: evDisconnect, client: c})
		c.close()
		log.Debug("client disconnected")
	}()

	for {
		p, err := t.ReadPacket()
		if err != nil {
			switch {
			case protocol.IsFormatError(err):
				log.Warn("malformed packet, closing connection", zap.Error(err))
				s.metrics.recordProtocolError()
				c.enqueue(protocol.NewNotice(protocol.TypeError, "Malformed packet").Bytes())
			case c.closed() || isClosedConnError(err):
			default:
				log.Info("read failed", zap.Error(err))
			}
			return
		}

		if !s.post(event{kind: evPacket, client: c, packet: p}) {
			return
		}
	}
}

// Status returns the presence of identity: the explicitly set status if
// there is one, otherwise Online while a session is registered and Offline
// when none is. Owning loop only.
func (s *Server) Status(identity string) models.Status {
	if st, ok := s.presence.Get(identity); ok {
		return st
	}
	if s.sessions.LookupByIdentity(identity) != nil {
		return models.StatusOnline
	}
	return models.StatusOffline
}

// GetStats returns server statistics as a formatted string.
func (s *Server) GetStats() string {
	var stats string
	ok := s.call(func() {
		stats = "connections=" + strconv.Itoa(s.sessions.Connections()) +
			",online=" + strconv.Itoa(s.sessions.Online()) +
			",users=" + strings.Join(s.sessions.Identities(), ";") +
			",pending_tasks=" + strconv.Itoa(s.gateway.Pending())
	})
	if !ok {
		return "unavailable"
	}
	return stats
}

// Shutdown tells every connected client why the server is going away,
// closes all connections, stops the owning loop and waits for the storage
// workers to finish the queued tasks. completionTime is optional.
func (s *Server) Shutdown(reason string, completionTime time.Time) {
	s.shutdownOnce.Do(func() {
		text := "Server shutting down: " + reason
		if !completionTime.IsZero() {
			text += " (back at " + completionTime.UTC().Format("2006-01-02T15:04:05Z") + ")"
		}
		s.logger.Info("shutting down", zap.String("reason", reason), zap.Time("completion", completionTime))

		notice := protocol.NewNotice(protocol.TypeError, text)
		s.call(func() {
			for _, sess := range s.sessions.sessions() {
				sess.send(notice)
				sess.client.close()
			}
		})

		s.cancel()
		if s.running.Load() {
			<-s.loopDone
		}
		s.gateway.Close()
	})
}
