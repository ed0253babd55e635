// Package webserver implements the single HTTP+WebSocket listener of
// spec §4.3: request routing to actions, the CORS/security/correlation
// header contract, static file serving with conditional GETs, and the
// WebSocket frame protocol — the same Dispatcher the job runtime uses.
package webserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
	"github.com/evantahler/bun-actionhero-sub000/internal/actionerr"
	"github.com/evantahler/bun-actionhero-sub000/internal/config"
	"github.com/evantahler/bun-actionhero-sub000/internal/connection"
	"github.com/evantahler/bun-actionhero-sub000/internal/pubsub"
)

// Server is the single listener handling both plain HTTP requests and
// WebSocket upgrades (spec §4.3: "Single HTTP listener handles both
// plain HTTP and WebSocket upgrades"). Every request is resolved by one
// handler registered via gin.Engine.NoRoute, rather than gin's own route
// tree, so routing follows the regex-over-pathname contract §4.3 spells
// out literally instead of gin's httprouter matching.
type Server struct {
	cfg        *config.Config
	dispatcher *action.Dispatcher
	registry   *action.Registry
	conns      *connection.Registry
	bus        *pubsub.Bus
	log        *zap.Logger

	routes  []compiledRoute
	engine  *gin.Engine
	httpSrv *http.Server
}

func New(cfg *config.Config, dispatcher *action.Dispatcher, registry *action.Registry, conns *connection.Registry, bus *pubsub.Bus, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		registry:   registry,
		conns:      conns,
		bus:        bus,
		log:        log.Named("webserver"),
		routes:     buildRoutes(registry),
	}
	bus.SetReceiver(s.deliverBroadcast)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.securityHeaders())
	engine.Use(s.serverName())
	engine.Use(s.cors())
	engine.Use(s.correlationID())
	engine.NoRoute(s.handle)
	s.engine = engine

	return s
}

// Start binds the listener and serves in the background; it returns
// once the socket is bound, matching the teacher's own
// "report readiness, then serve" start-up shape.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.WebServerHost, s.cfg.WebServerPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webserver: listen %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{Handler: s.engine}
	s.log.Info("listening", zap.String("addr", addr))

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("serve error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown closes the listener and waits (up to ctx's deadline) for
// in-flight requests to finish (spec §5 "Cancellation": "the web server
// closes listeners, then awaits in-flight HTTP completion or the
// timeout").
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// handle is the sole entry point for every request (spec §4.3
// "Routing"): it derives the connection id and peer IP, then dispatches
// to the websocket, static, or action path in that order.
func (s *Server) handle(c *gin.Context) {
	r := c.Request
	connID := s.connectionID(c)
	peerIP := connection.PeerIPFromAddr(r.RemoteAddr)

	if websocket.IsWebSocketUpgrade(r) {
		respHeader := http.Header{}
		respHeader.Set("Set-Cookie", s.sessionCookie(connID).String())
		s.handleWebSocket(c.Writer, r, connID, peerIP, respHeader)
		return
	}

	if r.Method == http.MethodGet && s.cfg.StaticEnabled && strings.HasPrefix(r.URL.Path, s.cfg.StaticRoute) {
		if s.serveStatic(c) {
			return
		}
	}

	pathname := strings.TrimPrefix(r.URL.Path, s.cfg.WebServerAPIRoute)
	a, pathParams, found := s.match(r.Method, pathname)
	if !found {
		s.writeSessionCookie(c, connID)
		s.writeError(c, actionerr.New(actionerr.ActionNotFound, fmt.Sprintf("no action matches %s %s", r.Method, r.URL.Path)))
		return
	}

	conn := connection.New(connection.TypeWeb, peerIP, connID)
	s.conns.Add(conn)
	defer s.conns.Remove(conn.ID)

	body, err := bodyParams(c)
	if err != nil {
		s.writeSessionCookie(c, connID)
		s.writeError(c, actionerr.Wrap(err))
		return
	}

	params := action.MergeParams(pathParams, queryParams(r), body)
	outcome := s.dispatcher.Act(r.Context(), conn, a.Name, params, r.Method, r.URL.Path)

	s.writeSessionCookie(c, connID)
	s.writeRateLimitHeaders(c, conn)

	if outcome.Err != nil {
		s.writeError(c, outcome.Err)
		return
	}
	c.JSON(http.StatusOK, outcome.Response)
}

// connectionID derives the stable connection id from the session
// cookie, minting a fresh UUID when absent (spec §4.3 "Routing").
func (s *Server) connectionID(c *gin.Context) string {
	if v, err := c.Cookie(s.cfg.SessionCookieName); err == nil && v != "" {
		return v
	}
	return uuid.NewString()
}

func (s *Server) sessionCookie(connID string) *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.SessionCookieName,
		Value:    connID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
	}
}
