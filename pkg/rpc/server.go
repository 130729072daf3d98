package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"trade_engine/internal/core"
	"trade_engine/pkg/concurrency"
	"trade_engine/pkg/telemetry"

	"github.com/go-zeromq/zmq4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Procedure is a callable exposed by a Server
type Procedure func(args Args, kwargs Kwargs) (any, error)

// Server answers calls on a REP socket and broadcasts on a PUB socket.
// Calls are handled one at a time in arrival order.
type Server struct {
	cfg    ServerConfig
	logger core.ILogger

	mu         sync.RWMutex
	procedures map[string]Procedure

	runMu  sync.Mutex
	active atomic.Bool
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
	rep    zmq4.Socket
	pub    zmq4.Socket
	outbox *concurrency.Queue[zmq4.Msg]

	lastHeartbeat atomic.Int64

	requests  metric.Int64Counter
	latency   metric.Float64Histogram
	published metric.Int64Counter
}

// NewServer creates a stopped server
func NewServer(cfg ServerConfig, logger core.ILogger) *Server {
	meter := telemetry.GetMeter("rpc-server")
	requests, _ := meter.Int64Counter(telemetry.MetricRPCRequestsTotal,
		metric.WithDescription("RPC requests handled"))
	latency, _ := meter.Float64Histogram(telemetry.MetricRPCRequestDuration,
		metric.WithDescription("RPC procedure latency in milliseconds"))
	published, _ := meter.Int64Counter(telemetry.MetricRPCPublishedTotal,
		metric.WithDescription("Frames sent on the PUB socket"))

	return &Server{
		cfg:        cfg.withDefaults(),
		logger:     logger.WithField("component", "rpc_server"),
		procedures: make(map[string]Procedure),
		requests:   requests,
		latency:    latency,
		published:  published,
	}
}

// Register exposes fn under name, replacing any previous registration
func (s *Server) Register(name string, fn Procedure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procedures[name] = fn
	s.logger.Debug("Registered RPC procedure", "method", name)
}

// Methods returns the registered procedure names
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.procedures))
	for name := range s.procedures {
		names = append(names, name)
	}
	return names
}

// Start binds both sockets and launches the request loop, the publisher
// and the heartbeat worker. Starting an active server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.active.Load() {
		return nil
	}

	sockCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rep := zmq4.NewRep(sockCtx)
	if err := rep.Listen(listenEndpoint(s.cfg.RepAddress)); err != nil {
		cancel()
		return &TransportError{Op: "listen " + s.cfg.RepAddress, Err: err}
	}
	pub := zmq4.NewPub(sockCtx)
	if err := pub.Listen(listenEndpoint(s.cfg.PubAddress)); err != nil {
		_ = rep.Close()
		cancel()
		return &TransportError{Op: "listen " + s.cfg.PubAddress, Err: err}
	}

	s.rep, s.pub, s.cancel = rep, pub, cancel
	s.stopCh = make(chan struct{})
	s.outbox = concurrency.NewQueue[zmq4.Msg](0)
	s.lastHeartbeat.Store(time.Now().UnixNano())
	s.active.Store(true)

	s.wg.Add(3)
	go s.serve()
	go s.publishLoop()
	go s.heartbeatLoop()

	s.logger.Info("RPC server started", "rep", s.RepAddr(), "pub", s.PubAddr())
	return nil
}

// Stop closes both sockets and waits for the workers. Frames already
// queued for publishing are flushed first.
func (s *Server) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.active.Swap(false) {
		return
	}
	close(s.stopCh)
	if err := s.rep.Close(); err != nil {
		s.logger.Warn("Error closing REP socket", "error", err)
	}
	s.outbox.Close()
	s.wg.Wait()

	if err := s.pub.Close(); err != nil {
		s.logger.Warn("Error closing PUB socket", "error", err)
	}
	s.cancel()
	s.logger.Info("RPC server stopped")
}

// Active reports whether the server is running
func (s *Server) Active() bool { return s.active.Load() }

// RepAddr returns the bound REP endpoint, including the chosen port when
// the configured one was 0
func (s *Server) RepAddr() string { return boundAddr(s.rep, s.cfg.RepAddress) }

// PubAddr returns the bound PUB endpoint
func (s *Server) PubAddr() string { return boundAddr(s.pub, s.cfg.PubAddress) }

func boundAddr(sock zmq4.Socket, fallback string) string {
	if sock == nil || sock.Addr() == nil {
		return fallback
	}
	return "tcp://" + sock.Addr().String()
}

// Publish queues data for broadcast under topic. Encoding happens on the
// caller so a bad value is reported here.
func (s *Server) Publish(topic string, data any) error {
	if !s.active.Load() {
		return ErrNotStarted
	}
	msg, err := NewMessage(topic, data)
	if err != nil {
		return &SerializationError{Err: err}
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return &SerializationError{Err: err}
	}
	if err := s.outbox.Push(zmq4.NewMsgFrom([]byte(topic), frame)); err != nil {
		return ErrNotStarted
	}
	return nil
}

// LastHeartbeat returns when the last heartbeat was queued
func (s *Server) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load())
}

func (s *Server) serve() {
	defer s.wg.Done()

	failures := 0
	for {
		msg, err := s.rep.Recv()
		if err != nil {
			if !s.active.Load() {
				return
			}
			failures++
			s.logger.Warn("Failed to receive request", "error", err, "failures", failures)
			select {
			case <-s.stopCh:
				return
			case <-time.After(min(time.Duration(failures)*10*time.Millisecond, time.Second)):
			}
			continue
		}
		failures = 0

		reply, err := json.Marshal(s.handle(msg))
		if err != nil {
			s.logger.Error("Failed to encode response", "error", err)
			reply, _ = json.Marshal(Failure(fmt.Sprintf("encode response: %v", err)))
		}
		if err := s.rep.Send(zmq4.NewMsg(reply)); err != nil && s.active.Load() {
			s.logger.Warn("Failed to send response", "error", err)
		}
	}
}

func (s *Server) handle(msg zmq4.Msg) Response {
	if len(msg.Frames) == 0 {
		return Failure("Invalid request format: empty message")
	}

	var req Request
	if err := json.Unmarshal(msg.Frames[len(msg.Frames)-1], &req); err != nil {
		s.logger.Warn("Malformed request", "error", err)
		s.requests.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", "malformed")))
		return Failure(fmt.Sprintf("Invalid request format: %v", err))
	}

	s.mu.RLock()
	fn, ok := s.procedures[req.Method]
	s.mu.RUnlock()
	if !ok {
		s.requests.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("method", req.Method), attribute.String("status", "not_found")))
		return Failure("method not found: " + req.Method)
	}

	start := time.Now()
	resp := s.invoke(req, fn)
	status := "ok"
	if !resp.OK {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("method", req.Method), attribute.String("status", status))
	s.requests.Add(context.Background(), 1, attrs)
	s.latency.Record(context.Background(), float64(time.Since(start).Microseconds())/1000, attrs)
	return resp
}

func (s *Server) invoke(req Request, fn Procedure) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("RPC procedure panicked", "method", req.Method, "panic", fmt.Sprint(r))
			resp = Failure(fmt.Sprint(r))
		}
	}()

	result, err := fn(req.Args, req.Kwargs)
	if err != nil {
		s.logger.Debug("RPC procedure failed", "method", req.Method, "error", err)
		return Failure(err.Error())
	}
	resp, err = Success(result)
	if err != nil {
		return Failure(fmt.Sprintf("encode result of %s: %v", req.Method, err))
	}
	return resp
}

// publishLoop is the only writer of the PUB socket
func (s *Server) publishLoop() {
	defer s.wg.Done()

	for {
		msg, ok := s.outbox.Pop(DefaultPollInterval)
		if !ok {
			if s.outbox.Closed() {
				return
			}
			continue
		}
		if err := s.pub.SendMulti(msg); err != nil {
			s.logger.Warn("Failed to publish", "topic", string(msg.Frames[0]), "error", err)
			continue
		}
		s.published.Add(context.Background(), 1, metric.WithAttributes(attribute.String("topic", topicLabel(msg.Frames[0]))))
	}
}

func (s *Server) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.lastHeartbeat.Store(now.UnixNano())
			ts := float64(now.UnixNano()) / float64(time.Second)
			if err := s.Publish(HeartbeatTopic, ts); err != nil {
				s.logger.Debug("Heartbeat not queued", "error", err)
			}
		}
	}
}

// topicLabel keeps metric cardinality bounded by dropping the subject
func topicLabel(topic []byte) string {
	for i, b := range topic {
		if b == '.' {
			return string(topic[:i+1])
		}
	}
	return string(topic)
}
