package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomcast/hub"
)

const (
	// DefaultPort is used when Config.Port is zero.
	DefaultPort = 3000

	defaultPath = "/ws"

	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrInvalidConfig     = errors.New("invalid server config")
	ErrAdapterAlreadySet = errors.New("adapter is already set")
	ErrUnexpected        = errors.New("unexpected server error")
)

// Server events observable via On/Once.
const (
	// EventConnection fires with the accepted *hub.Connection.
	EventConnection = "connection"
	// EventDisconnect fires with the departed *hub.Connection.
	EventDisconnect = "disconnect"
)

type (
	// Adapter mirrors room/broadcast state to other processes. Init must
	// complete before the adapter is considered attached; an Init error
	// leaves the server without a recorded adapter.
	Adapter interface {
		Init(ctx context.Context, registry *hub.Registry, srv *Server) error
	}

	Config struct {
		Logger   *zerolog.Logger
		Registry *hub.Registry
		Port     int
		Path     string
		SSL      bool
		CertFile string
		KeyFile  string
	}

	// Server accepts transport connections, wraps each in a hub.Connection
	// and keeps the pool of everything currently connected.
	Server struct {
		id       string
		registry *hub.Registry
		pool     *hub.Pool
		emitter  *hub.Emitter
		ws       *websocket.Upgrader
		ssl      bool
		certFile string
		keyFile  string
		*http.Server

		mx      sync.Mutex
		adapter Adapter

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("registry is required"))
	}
	if cfg.SSL && (cfg.CertFile == "" || cfg.KeyFile == "") {
		return nil, errors.Join(ErrInvalidConfig, errors.New("ssl requires both key and cert"))
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	path := cfg.Path
	if path == "" {
		path = defaultPath
	}

	srv := &Server{
		id:       uuid.NewString(),
		logger:   cfg.Logger.With().Str("component", "websocket-server").Logger(),
		registry: cfg.Registry,
		pool:     hub.NewPool(cfg.Registry),
		emitter:  hub.NewEmitter(),
		ssl:      cfg.SSL,
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, srv.accept)

	srv.Server = &http.Server{
		Addr:    net.JoinHostPort("", strconv.Itoa(port)),
		Handler: mux,
	}
	return srv, nil
}

// ID is the process-unique id of this accepting endpoint.
func (srv *Server) ID() string {
	return srv.id
}

// Pool exposes the live connection pool.
func (srv *Server) Pool() *hub.Pool {
	return srv.pool
}

// On registers fn for every occurrence of a server event.
func (srv *Server) On(event string, fn hub.Handler) *hub.Subscription {
	return srv.emitter.On(event, fn)
}

// Once registers fn for the next occurrence of a server event only.
func (srv *Server) Once(event string, fn hub.Handler) *hub.Subscription {
	return srv.emitter.Once(event, fn)
}

// Broadcast publishes one envelope to every pooled connection not excluded.
func (srv *Server) Broadcast(event string, data map[string]any, exclude ...string) error {
	return srv.pool.Broadcast(event, data, exclude...)
}

// SetAdapter attaches the adapter after a successful Init. A server carries
// at most one adapter; attaching twice fails with ErrAdapterAlreadySet.
func (srv *Server) SetAdapter(ctx context.Context, a Adapter) error {
	if a == nil {
		return errors.Join(hub.ErrInvalidArgument, errors.New("nil adapter"))
	}
	srv.mx.Lock()
	defer srv.mx.Unlock()
	if srv.adapter != nil {
		return ErrAdapterAlreadySet
	}
	if err := a.Init(ctx, srv.registry, srv); err != nil {
		return err
	}
	srv.adapter = a
	return nil
}

// Adapter returns the attached adapter, or nil.
func (srv *Server) Adapter() Adapter {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	return srv.adapter
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		errc <- errors.Join(ErrUnexpected, err)
		return
	}
	srv.registry.NotifyListening(srv.id)
	srv.logger.Info().Str("addr", srv.Addr).Bool("ssl", srv.ssl).Msg("server started")

	errSrv := make(chan error)
	go func() {
		if srv.ssl {
			errSrv <- srv.ServeTLS(ln, srv.certFile, srv.keyFile)
		} else {
			errSrv <- srv.Serve(ln)
		}
	}()

	select {
	case err = <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err = srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) accept(w http.ResponseWriter, r *http.Request) {
	wsConn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	tr := newWSTransport()
	conn := hub.NewConnection(tr, srv.registry, &srv.logger)
	srv.pool.Add(conn)
	srv.emitter.Emit(EventConnection, conn)

	logger := srv.logger.With().Str("connection", conn.ID()).Logger()
	logger.Debug().Str("remote", wsConn.RemoteAddr().String()).Msg("connection accepted")

	go srv.writePump(wsConn, tr, &logger)
	go srv.readPump(wsConn, conn, &logger)
}

// readPump feeds inbound frames into the connection's state machine and owns
// teardown: once the peer is unreadable the connection leaves the pool and
// every room before anything else can observe it as a member.
func (srv *Server) readPump(wsConn *websocket.Conn, conn *hub.Connection, logger *zerolog.Logger) {
	defer srv.teardown(conn, logger)

	wsConn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadlineFunc := func(deadline time.Duration) error {
		return wsConn.SetReadDeadline(time.Now().Add(deadline))
	}
	wsConn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadlineFunc(defaultPongWait)
	})
	if err := readDeadlineFunc(defaultPongWait); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

	for {
		_, msg, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("connection closed")
			} else {
				logger.Error().Err(err).Msg("unexpected error during receive")
			}
			return
		}
		conn.HandleInbound(msg)
	}
}

func (srv *Server) teardown(conn *hub.Connection, logger *zerolog.Logger) {
	if removed := srv.pool.Remove(conn.ID()); removed != nil {
		srv.emitter.Emit(EventDisconnect, conn)
	}
	if err := conn.Close(); err != nil && !errors.Is(err, hub.ErrTransportClosed) {
		logger.Error().Err(err).Msg("connection close failed")
	}
	logger.Debug().Msg("connection torn down")
}

// writePump serializes all socket writes: queued payloads, keepalive pings
// and the final close frame.
func (srv *Server) writePump(wsConn *websocket.Conn, tr *wsTransport, logger *zerolog.Logger) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		webSocketCloser(wsConn, logger)
	}()

	for {
		select {
		case <-tr.done:
			return
		case <-pingTicker.C:
			wsErr := wsConn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				_ = tr.Close()
				return
			}
			wsErr = wsConn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
				_ = tr.Close()
				return
			}
			logger.Trace().Msg("ping sent")

		case b := <-tr.send:
			wsErr := wsConn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				_ = tr.Close()
				return
			}
			wsErr = wsConn.WriteMessage(websocket.TextMessage, b)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing message")
				_ = tr.Close()
				return
			}
		}
	}
}

func webSocketCloser(wsConn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := wsConn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = wsConn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil {
			logger.Debug().Err(wsErr).Msg("failed to write close frame")
		}
	}
	wsErr = wsConn.Close()
	if wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
}
