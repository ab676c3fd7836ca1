package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ridelink/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Server exposes the hub over HTTP: the websocket endpoint and a liveness
// check.
type Server struct {
	hub    *Hub
	tokens map[string]string
	logger *zap.Logger

	upgrader websocket.Upgrader
	router   *gin.Engine
	http     *http.Server
	listen   string
}

// NewServer builds the router. tokens maps bearer tokens to user ids.
func NewServer(listen string, tokens map[string]string, hub *Hub, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		hub:    hub,
		tokens: tokens,
		logger: logger,
		listen: listen,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// dev relay: clients are CLIs, not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", s.handleWS)
	r.GET("/healthz", s.handleHealth)
	s.router = r
	s.http = &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until Stop. Returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listen, err)
	}
	s.logger.Info("http server starting", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes every websocket session and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	s.hub.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}

func (s *Server) handleWS(c *gin.Context) {
	token := bearerToken(c.Request)
	userID, ok := s.tokens[token]
	if token == "" || !ok {
		s.logger.Info("rejected websocket upgrade", zap.String("remote", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown token"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(userID, conn, s.hub, s.logger)
	hello, err := transport.NewEnvelope(transport.FrameConnected, transport.ConnectedPayload{UserID: userID})
	if err != nil {
		_ = conn.Close()
		return
	}
	// queued before Register so it is the session's first frame
	client.Send(hello)
	s.hub.Register(client)
	client.start()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.hub.Sessions(),
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
