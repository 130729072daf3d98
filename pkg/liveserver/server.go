// Package liveserver streams engine events to WebSocket clients. Each
// client picks the topic prefixes it wants through the connection query
// or subscribe commands.
package liveserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"trade_engine/internal/core"
	"trade_engine/pkg/logging"
)

var (
	streamActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trade_engine_stream_active_connections",
		Help: "Current number of live stream connections",
	})

	streamRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trade_engine_stream_rejected_total",
		Help: "Live stream connections rejected before upgrade",
	}, []string{"reason"})

	streamDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trade_engine_stream_dropped_total",
		Help: "Messages dropped because the hub or a client buffer was full",
	})
)

func init() {
	prometheus.MustRegister(streamActiveConnections, streamRejectedTotal, streamDroppedTotal)
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// HealthReporter is what /health asks about the rest of the node
type HealthReporter interface {
	IsHealthy() bool
	GetStatus() map[string]string
}

// Config tunes connection admission
type Config struct {
	AllowedOrigins []string
	MaxConnections int
	RateLimit      float64
	RateBurst      int
	Production     bool
}

// DefaultConfig allows localhost origins, 1000 connections and 10
// upgrades per second per IP with a burst of 20
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"http://localhost:8081"},
		MaxConnections: 1000,
		RateLimit:      10,
		RateBurst:      20,
	}
}

// Server upgrades /ws requests into hub clients and serves /health and
// /metrics next to it
type Server struct {
	hub      *Hub
	logger   core.ILogger
	upgrader websocket.Upgrader
	health   HealthReporter

	mu            sync.Mutex
	srv           *http.Server
	cfg           Config
	connSemaphore chan struct{}
	ipLimiters    sync.Map // map[string]*rate.Limiter
}

// NewServer creates a Server bound to hub
func NewServer(hub *Hub, logger core.ILogger, cfg Config) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}

	s := &Server{
		hub:           hub,
		logger:        logger.WithField("component", "live_server"),
		cfg:           cfg,
		connSemaphore: make(chan struct{}, cfg.MaxConnections),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetHealthReporter makes /health reflect r
func (s *Server) SetHealthReporter(r HealthReporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = r
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info("Starting live server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping live server")
	err := s.srv.Shutdown(ctx)
	s.srv = nil
	return err
}

// Publish broadcasts data under topic
func (s *Server) Publish(topic string, data interface{}) {
	s.hub.Broadcast(NewMessage(topic, data))
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// checkOrigin validates the Origin header against the whitelist. A "*"
// entry admits any origin outside production mode.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		s.logger.Warn("Rejected stream connection with missing Origin header", "remote_addr", r.RemoteAddr)
		streamRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		s.logger.Warn("Rejected stream connection with invalid Origin", "origin", origin, "error", err)
		streamRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	originStr := parsed.Scheme + "://" + parsed.Host

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	for _, allowed := range cfg.AllowedOrigins {
		if allowed == "*" {
			if cfg.Production {
				s.logger.Warn("Rejected wildcard origin in production mode", "origin", origin)
				streamRejectedTotal.WithLabelValues("invalid_origin").Inc()
				return false
			}
			return true
		}
		if originStr == allowed {
			return true
		}
	}

	s.logger.Warn("Rejected stream connection from unauthorized origin",
		"origin", origin,
		"remote_addr", r.RemoteAddr)
	streamRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// rate limits apply before the upgrade allocates anything
	ip := remoteIP(r)
	if !s.ipLimiter(ip).Allow() {
		s.logger.Warn("IP rate limit exceeded", "ip", ip)
		streamRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.connSemaphore <- struct{}{}:
		streamActiveConnections.Inc()
		defer func() {
			<-s.connSemaphore
			streamActiveConnections.Dec()
		}()
	default:
		s.logger.Warn("Max connections reached")
		streamRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{""}
	}
	client := NewClient(uuid.New().String(), topics...)
	client.Send(NewMessage(TopicWelcome, map[string]interface{}{
		"client_id": client.id,
		"topics":    client.Topics(),
	}))
	if !s.hub.Register(client) {
		return
	}
	s.logger.Info("Client connected", "client_id", client.id, "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()

	s.logger.Info("Client disconnected", "client_id", client.id)
}

func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		// unblocks readPump
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Warn("Write error", "client_id", client.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump applies subscribe and unsubscribe commands until the
// connection drops
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("Read error", "client_id", client.id, "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Debug("Ignoring malformed command", "client_id", client.id, "error", err)
			continue
		}
		switch cmd.Action {
		case ActionSubscribe:
			client.Subscribe(cmd.Topic)
		case ActionUnsubscribe:
			client.Unsubscribe(cmd.Topic)
		default:
			s.logger.Debug("Ignoring unknown command", "client_id", client.id, "action", cmd.Action)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reporter := s.health
	s.mu.Unlock()

	response := map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"time":    time.Now().Unix(),
	}
	status := http.StatusOK
	if reporter != nil {
		response["components"] = reporter.GetStatus()
		if !reporter.IsHealthy() {
			response["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// SetProduction toggles production mode, which refuses wildcard origins
func (s *Server) SetProduction(prod bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Production = prod
}

// SetRateLimit updates the per-IP upgrade rate and drops existing limiters
func (s *Server) SetRateLimit(limit float64, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.RateLimit = limit
	s.cfg.RateBurst = burst
	s.ipLimiters.Range(func(k, _ any) bool {
		s.ipLimiters.Delete(k)
		return true
	})
}

func (s *Server) ipLimiter(ip string) *rate.Limiter {
	if v, ok := s.ipLimiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	s.mu.Lock()
	limit := rate.Limit(s.cfg.RateLimit)
	if s.cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := s.cfg.RateBurst
	s.mu.Unlock()

	v, _ := s.ipLimiters.LoadOrStore(ip, rate.NewLimiter(limit, burst))
	return v.(*rate.Limiter)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
