package relay

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/forcegrip/logging"
	"go.viam.com/forcegrip/utils"
)

// ServerStats counts relay traffic since the server started.
type ServerStats struct {
	Peers     int
	Received  uint64
	Delivered uint64
	Dropped   uint64
}

// Server is a websocket fan-out relay. Every text frame a peer sends is queued for every
// connected peer, in the order the relay received it. The peer set is owned by one hub
// goroutine; connections only talk to it over channels.
type Server struct {
	cfg      ServerConfig
	logger   logging.Logger
	upgrader websocket.Upgrader
	workers  *utils.StoppableWorkers

	register   chan *peer
	unregister chan *peer
	broadcast  chan envelope
	peerCount  chan chan int

	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64

	mu          sync.Mutex
	closed      bool
	activeConns sync.WaitGroup
	closeOnce   sync.Once
}

type envelope struct {
	from uuid.UUID
	data []byte
}

type peer struct {
	id    uuid.UUID
	conn  *websocket.Conn
	queue *utils.DropOldestQueue[[]byte]
	// done is closed once the peer is removed from the hub.
	done     chan struct{}
	stopOnce sync.Once
}

func (p *peer) stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		//nolint:errcheck
		p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second),
		)
		//nolint:errcheck
		p.conn.Close()
	})
}

// NewServer validates cfg and starts the hub. The returned server serves websocket upgrades
// through ServeHTTP and must be closed with Close.
func NewServer(cfg ServerConfig, logger logging.Logger) (*Server, error) {
	if err := cfg.Validate("relay"); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			// Any local client may connect; there is no authentication.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		register:   make(chan *peer),
		unregister: make(chan *peer),
		broadcast:  make(chan envelope, defaultBroadcastSize),
		peerCount:  make(chan chan int),
	}
	s.workers = utils.NewStoppableWorkers(context.Background(), s.runHub)
	return s, nil
}

func (s *Server) runHub(ctx context.Context) {
	peers := map[uuid.UUID]*peer{}
	defer func() {
		for _, p := range peers {
			p.stop()
		}
	}()
	echo := s.cfg.Echo()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-s.register:
			peers[p.id] = p
			s.logger.Infow("peer connected", "peer", p.id, "remote", p.conn.RemoteAddr(), "peers", len(peers))
		case p := <-s.unregister:
			if _, ok := peers[p.id]; !ok {
				continue
			}
			delete(peers, p.id)
			p.stop()
			s.logger.Infow("peer disconnected", "peer", p.id, "dropped", p.queue.Dropped(), "peers", len(peers))
		case env := <-s.broadcast:
			for id, p := range peers {
				if id == env.from && !echo {
					continue
				}
				if p.queue.Push(env.data) {
					s.dropped.Inc()
					s.logger.Debugw("peer queue full, dropped oldest frame", "peer", id)
				}
			}
		case reply := <-s.peerCount:
			reply <- len(peers)
		}
	}
}

// ServeHTTP upgrades the request to a websocket and relays its frames until either side
// disconnects or the server closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "relay closed", http.StatusServiceUnavailable)
		return
	}
	s.activeConns.Add(1)
	s.mu.Unlock()
	defer s.activeConns.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		s.logger.Debugw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if s.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	p := &peer{
		id:    uuid.New(),
		conn:  conn,
		queue: utils.NewDropOldestQueue[[]byte](s.cfg.PeerQueueSize),
		done:  make(chan struct{}),
	}

	ctx := s.workers.Context()
	select {
	case s.register <- p:
	case <-ctx.Done():
		p.stop()
		return
	}
	s.workers.AddWorkers(func(ctx context.Context) { s.writeLoop(ctx, p) })
	s.readLoop(ctx, p)
}

func (s *Server) readLoop(ctx context.Context, p *peer) {
	defer s.remove(ctx, p)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
				// Closed by the hub.
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debugw("peer read failed", "peer", p.id, "error", err)
				}
			}
			return
		}
		s.received.Inc()
		select {
		case s.broadcast <- envelope{from: p.id, data: data}:
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, p *peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case msg := <-p.queue.C():
			if err := p.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout())); err != nil {
				s.remove(ctx, p)
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debugw("peer write failed", "peer", p.id, "error", err)
				s.remove(ctx, p)
				return
			}
			s.delivered.Inc()
		}
	}
}

// remove asks the hub to forget p. Once the hub is gone the peer is stopped directly.
func (s *Server) remove(ctx context.Context, p *peer) {
	select {
	case s.unregister <- p:
	case <-ctx.Done():
		p.stop()
	}
}

// PeerCount returns the number of registered peers, or zero once the server is closed.
func (s *Server) PeerCount() int {
	reply := make(chan int, 1)
	select {
	case s.peerCount <- reply:
		return <-reply
	case <-s.workers.Context().Done():
		return 0
	}
}

// Stats returns traffic counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Peers:     s.PeerCount(),
		Received:  s.received.Load(),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Serve accepts connections on ln until ctx is done, then shuts the listener down and closes
// the server.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infow("relay listening", "address", ln.Addr().String(), "path", s.cfg.Path, "echo", s.cfg.Echo())
	serveErr := make(chan error, 1)
	goutils.PanicCapturingGo(func() {
		serveErr <- httpServer.Serve(ln)
	})

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by the http server; Close ends them.
	return multierr.Combine(err, httpServer.Shutdown(shutdownCtx), s.Close())
}

// ListenAndServe listens on the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.cfg.Address())
	}
	return s.Serve(ctx, ln)
}

// Close disconnects every peer, stops the hub and waits for every connection handler to return.
// It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.workers.Stop()
		s.activeConns.Wait()
		s.logger.Infow("relay closed",
			"received", s.received.Load(), "delivered", s.delivered.Load(), "dropped", s.dropped.Load())
	})
	return nil
}
