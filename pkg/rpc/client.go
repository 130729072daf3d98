package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trade_engine/internal/core"
	"trade_engine/pkg/concurrency"
	"trade_engine/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/go-zeromq/zmq4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DisconnectedMarker is delivered on HeartbeatTopic when heartbeats stop
var DisconnectedMarker = json.RawMessage(`"disconnected"`)

// Callback receives every published frame except heartbeats
type Callback func(topic string, data json.RawMessage)

type delivery struct {
	topic string
	data  json.RawMessage
}

// Client issues calls over REQ and receives broadcasts over SUB.
// Calls are serialized; a timed out call resets the REQ socket so a late
// reply cannot be read by the next call. Callbacks run on one delivery
// goroutine in arrival order.
type Client struct {
	cfg    ClientConfig
	logger core.ILogger

	runMu  sync.Mutex
	active atomic.Bool
	wg     sync.WaitGroup

	// written by Start under both runMu and reqMu
	reqMu    sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	req      zmq4.Socket
	reqStale atomic.Bool

	subMu  sync.Mutex
	sub    zmq4.Socket
	topics map[string]struct{}

	cbMu     sync.RWMutex
	callback Callback
	inbox    atomic.Pointer[concurrency.Queue[delivery]]

	cache         *lru.Cache[string, json.RawMessage]
	startedAt     atomic.Int64
	lastHeartbeat atomic.Int64
	connected     atomic.Bool
	redial        retrypolicy.RetryPolicy[any]

	tracer   trace.Tracer
	calls    metric.Int64Counter
	timeouts metric.Int64Counter
}

// NewClient creates a stopped client
func NewClient(cfg ClientConfig, logger core.ILogger) (*Client, error) {
	cfg = cfg.withDefaults()
	cache, err := lru.New[string, json.RawMessage](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create message cache: %w", err)
	}

	meter := telemetry.GetMeter("rpc-client")
	calls, _ := meter.Int64Counter(telemetry.MetricRPCCallsTotal,
		metric.WithDescription("RPC calls issued"))
	timeouts, _ := meter.Int64Counter(telemetry.MetricRPCCallTimeoutsTotal,
		metric.WithDescription("RPC calls that hit their deadline"))

	return &Client{
		cfg:    cfg,
		logger: logger.WithFields(map[string]interface{}{"component": "rpc_client", "client": cfg.Name}),
		topics: make(map[string]struct{}),
		cache:  cache,
		redial: retrypolicy.NewBuilder[any]().
			WithBackoff(100*time.Millisecond, 5*time.Second).
			WithMaxRetries(-1).
			Build(),
		tracer:   telemetry.GetTracer("rpc-client"),
		calls:    calls,
		timeouts: timeouts,
	}, nil
}

// Start connects both sockets and launches the subscription worker, the
// heartbeat monitor and the callback worker. Starting an active client is
// a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.active.Load() {
		return nil
	}

	sockCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.reqMu.Lock()
	c.ctx, c.cancel = sockCtx, cancel
	c.stopCh = make(chan struct{})
	c.reqStale.Store(false)
	err := c.resetReqLocked()
	c.reqMu.Unlock()
	if err != nil {
		cancel()
		return err
	}
	if err := c.openSub(sockCtx); err != nil {
		c.closeReq()
		cancel()
		return err
	}

	inbox := concurrency.NewQueue[delivery](0)
	c.inbox.Store(inbox)
	c.lastHeartbeat.Store(0)
	c.startedAt.Store(time.Now().UnixNano())
	c.setConnected(true)
	c.active.Store(true)

	c.wg.Add(3)
	go c.subscriptionLoop(sockCtx)
	go c.monitorLoop(c.stopCh)
	go c.deliveryLoop(inbox)

	c.logger.Info("RPC client started", "req", c.cfg.ReqAddress, "sub", c.cfg.SubAddress)
	return nil
}

// Stop closes both sockets and waits for the workers. No callback runs
// after Stop returns.
func (c *Client) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if !c.active.Swap(false) {
		return
	}
	close(c.stopCh)
	c.cancel()
	c.closeSub()
	c.closeReq()
	if inbox := c.inbox.Load(); inbox != nil {
		inbox.Close()
	}
	c.wg.Wait()
	c.setConnected(false)
	c.logger.Info("RPC client stopped")
}

// Active reports whether the client is running
func (c *Client) Active() bool { return c.active.Load() }

// Call invokes method with the configured timeout
func (c *Client) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	return c.CallWithTimeout(ctx, method, args, kwargs, c.cfg.Timeout)
}

// CallInto invokes method and decodes the result into out
func (c *Client) CallInto(ctx context.Context, out any, method string, args []any, kwargs map[string]any) error {
	raw, err := c.Call(ctx, method, args, kwargs)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &SerializationError{Err: fmt.Errorf("decode result of %s: %w", method, err)}
	}
	return nil
}

// CallWithTimeout invokes method, waiting at most timeout for the reply
func (c *Client) CallWithTimeout(ctx context.Context, method string, args []any, kwargs map[string]any, timeout time.Duration) (json.RawMessage, error) {
	req, err := NewRequest(method, args, kwargs)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}

	ctx, span := c.tracer.Start(ctx, "rpc.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", method)))
	defer span.End()

	value, err := c.roundTrip(ctx, req, timeout)
	var terr *TransportError
	if errors.As(err, &terr) {
		c.markDisconnected()
	}
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method), attribute.String("status", status)))
	return value, err
}

type reply struct {
	msg zmq4.Msg
	err error
}

func (c *Client) roundTrip(ctx context.Context, req Request, timeout time.Duration) (json.RawMessage, error) {
	if !c.active.Load() {
		return nil, ErrNotStarted
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	stopCh := c.stopCh

	sock, err := c.sendLocked(frame)
	if err != nil {
		return nil, err
	}

	done := make(chan reply, 1)
	go func() {
		msg, err := sock.Recv()
		done <- reply{msg: msg, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			c.transportFailed("recv", r.err)
			return nil, &TransportError{Op: "recv", Err: r.err}
		}
		return decodeReply(r.msg)
	case <-timer.C:
		c.logger.Warn("RPC call timed out", "method", req.Method, "timeout_ms", timeout.Milliseconds())
		c.timeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("method", req.Method)))
		c.discardReqLocked()
		return nil, &TimeoutError{Timeout: timeout, Request: req}
	case <-ctx.Done():
		c.discardReqLocked()
		return nil, ctx.Err()
	case <-stopCh:
		return nil, ErrNotStarted
	}
}

// sendLocked writes frame on the REQ socket, dialing a fresh one when none
// is open or the server came back since the last dial. A failed send never
// reached the server, so it is tried once more on a new socket.
func (c *Client) sendLocked(frame []byte) (zmq4.Socket, error) {
	for attempt := 0; ; attempt++ {
		if c.req == nil || c.reqStale.Swap(false) {
			if err := c.resetReqLocked(); err != nil {
				return nil, err
			}
		}
		sock := c.req
		err := sock.Send(zmq4.NewMsg(frame))
		if err == nil {
			return sock, nil
		}
		c.logger.Warn("RPC transport error", "op", "send", "attempt", attempt+1, "error", err)
		_ = sock.Close()
		c.req = nil
		if attempt > 0 {
			return nil, &TransportError{Op: "send", Err: err}
		}
	}
}

func decodeReply(msg zmq4.Msg) (json.RawMessage, error) {
	if len(msg.Frames) == 0 {
		return nil, &SerializationError{Err: fmt.Errorf("empty reply")}
	}
	var resp Response
	if err := json.Unmarshal(msg.Frames[len(msg.Frames)-1], &resp); err != nil {
		return nil, &SerializationError{Err: err}
	}
	if !resp.OK {
		return nil, &RemoteError{Message: resp.ErrorMessage()}
	}
	return resp.Value, nil
}

// transportFailed replaces the REQ socket. Caller holds reqMu.
func (c *Client) transportFailed(op string, err error) {
	c.logger.Warn("RPC transport error", "op", op, "error", err)
	c.discardReqLocked()
}

// discardReqLocked closes the REQ socket and dials a fresh one. If the
// dial fails the next call retries it.
func (c *Client) discardReqLocked() {
	if err := c.resetReqLocked(); err != nil {
		c.logger.Warn("REQ socket reset failed", "error", err)
	}
}

func (c *Client) resetReqLocked() error {
	if c.req != nil {
		_ = c.req.Close()
		c.req = nil
	}
	sock := zmq4.NewReq(c.ctx, c.dialOptions()...)
	if err := sock.Dial(c.cfg.ReqAddress); err != nil {
		_ = sock.Close()
		return &TransportError{Op: "dial " + c.cfg.ReqAddress, Err: err}
	}
	c.req = sock
	return nil
}

func (c *Client) closeReq() {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if c.req != nil {
		_ = c.req.Close()
		c.req = nil
	}
}

func (c *Client) dialOptions() []zmq4.Option {
	return []zmq4.Option{
		zmq4.WithDialerRetry(100 * time.Millisecond),
		zmq4.WithDialerMaxRetries(c.cfg.DialRetries),
	}
}

// SubscribeTopic passes frames whose topic starts with prefix. An empty
// prefix passes everything. Topics added before Start are applied on
// connect.
func (c *Client) SubscribeTopic(prefix string) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.topics[prefix] = struct{}{}
	if c.sub != nil {
		if err := c.sub.SetOption(zmq4.OptionSubscribe, prefix); err != nil {
			return &TransportError{Op: "subscribe " + prefix, Err: err}
		}
	}
	c.logger.Info("Subscribed to topic", "topic", prefix)
	return nil
}

// UnsubscribeTopic removes a prefix added by SubscribeTopic
func (c *Client) UnsubscribeTopic(prefix string) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if _, ok := c.topics[prefix]; !ok {
		return nil
	}
	delete(c.topics, prefix)
	if c.sub != nil && prefix != HeartbeatTopic {
		if err := c.sub.SetOption(zmq4.OptionUnsubscribe, prefix); err != nil {
			return &TransportError{Op: "unsubscribe " + prefix, Err: err}
		}
	}
	c.logger.Info("Unsubscribed from topic", "topic", prefix)
	return nil
}

// Topics returns the subscribed prefixes
func (c *Client) Topics() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SetCallback installs fn as the receiver of published frames
func (c *Client) SetCallback(fn Callback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.callback = fn
}

// IsConnected reports whether a heartbeat arrived within the tolerance and
// no transport error happened since. Until the first heartbeat the
// tolerance counts from Start.
func (c *Client) IsConnected() bool {
	return c.active.Load() && c.connected.Load() && time.Since(c.lastSeen()) <= c.cfg.HeartbeatTolerance
}

// IsHealthy implements core.IHealthReporter
func (c *Client) IsHealthy() bool { return c.IsConnected() }

// Err returns ErrDisconnected while the server is considered lost
func (c *Client) Err() error {
	if !c.active.Load() {
		return ErrNotStarted
	}
	if !c.IsConnected() {
		return ErrDisconnected
	}
	return nil
}

// LastHeartbeat returns when the last heartbeat was received since Start,
// or the zero time if none has arrived yet
func (c *Client) LastHeartbeat() time.Time {
	ns := c.lastHeartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Client) lastSeen() time.Time {
	seen := c.startedAt.Load()
	if hb := c.lastHeartbeat.Load(); hb > seen {
		seen = hb
	}
	return time.Unix(0, seen)
}

// LastMessage returns the most recent data seen on topic
func (c *Client) LastMessage(topic string) (json.RawMessage, bool) {
	return c.cache.Get(topic)
}

// CachedTopics lists the topics held by the last-message cache, oldest first
func (c *Client) CachedTopics() []string {
	return c.cache.Keys()
}

func (c *Client) openSub(ctx context.Context) error {
	sock := zmq4.NewSub(ctx, c.dialOptions()...)
	if err := sock.Dial(c.cfg.SubAddress); err != nil {
		_ = sock.Close()
		return &TransportError{Op: "dial " + c.cfg.SubAddress, Err: err}
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	// heartbeat goes last: once one arrives every earlier prefix is active
	topics := make([]string, 0, len(c.topics)+1)
	for t := range c.topics {
		if t != HeartbeatTopic {
			topics = append(topics, t)
		}
	}
	topics = append(topics, HeartbeatTopic)
	for _, t := range topics {
		if err := sock.SetOption(zmq4.OptionSubscribe, t); err != nil {
			_ = sock.Close()
			return &TransportError{Op: "subscribe " + t, Err: err}
		}
	}
	c.sub = sock
	return nil
}

func (c *Client) closeSub() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub != nil {
		_ = c.sub.Close()
		c.sub = nil
	}
}

func (c *Client) currentSub() zmq4.Socket {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.sub
}

func (c *Client) subscriptionLoop(ctx context.Context) {
	defer c.wg.Done()

	for c.active.Load() {
		sub := c.currentSub()
		if sub == nil {
			if !c.reconnectSub(ctx) {
				return
			}
			continue
		}

		msg, err := sub.Recv()
		if err != nil {
			if !c.active.Load() {
				return
			}
			c.logger.Warn("Subscription receive failed", "error", err)
			c.markDisconnected()
			c.closeSub()
			continue
		}
		c.handleFrame(msg)
	}
}

// reconnectSub dials a new SUB socket until it succeeds or the client stops
func (c *Client) reconnectSub(ctx context.Context) bool {
	err := failsafe.With[any](c.redial).WithContext(ctx).Run(func() error {
		if !c.active.Load() {
			return nil
		}
		return c.openSub(ctx)
	})
	if err != nil || !c.active.Load() {
		return false
	}
	c.logger.Info("Subscription socket reconnected", "sub", c.cfg.SubAddress)
	return true
}

func (c *Client) handleFrame(msg zmq4.Msg) {
	if len(msg.Frames) == 0 {
		return
	}
	var m Message
	if err := json.Unmarshal(msg.Frames[len(msg.Frames)-1], &m); err != nil {
		c.logger.Warn("Dropping malformed published frame", "error", err)
		return
	}

	if m.Topic == HeartbeatTopic {
		c.lastHeartbeat.Store(time.Now().UnixNano())
		if c.connected.CompareAndSwap(false, true) {
			// the REQ peer may be a restarted server
			c.reqStale.Store(true)
			telemetry.GetGlobalMetrics().SetRPCConnected(c.cfg.Name, true)
			c.logger.Info("RPC server connection restored")
		}
		return
	}
	if !c.accepts(m.Topic) {
		return
	}

	c.cache.Add(m.Topic, m.Data)
	c.deliver(m.Topic, m.Data)
}

// accepts filters locally so an unsubscribe takes effect even for frames
// already in flight
func (c *Client) accepts(topic string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for prefix := range c.topics {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// deliver queues a frame for the callback. It never blocks, so a callback
// may itself call into the client.
func (c *Client) deliver(topic string, data json.RawMessage) {
	if inbox := c.inbox.Load(); inbox != nil {
		_ = inbox.Push(delivery{topic: topic, data: data})
	}
}

func (c *Client) deliveryLoop(inbox *concurrency.Queue[delivery]) {
	defer c.wg.Done()

	for {
		d, ok := inbox.Pop(c.cfg.PollInterval)
		if !ok {
			if inbox.Closed() {
				return
			}
			continue
		}
		if c.active.Load() {
			c.invoke(d)
		}
	}
}

func (c *Client) invoke(d delivery) {
	c.cbMu.RLock()
	cb := c.callback
	c.cbMu.RUnlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Subscription callback panicked", "topic", d.topic, "panic", fmt.Sprint(r))
		}
	}()
	cb(d.topic, d.data)
}

func (c *Client) monitorLoop(stopCh <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if time.Since(c.lastSeen()) > c.cfg.HeartbeatTolerance {
				c.markDisconnected()
			}
		}
	}
}

// markDisconnected flips the state once and notifies the callback. A
// transport error counts as a lost connection until the next heartbeat.
func (c *Client) markDisconnected() {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	telemetry.GetGlobalMetrics().SetRPCConnected(c.cfg.Name, false)
	c.logger.Warn("RPC server connection lost",
		"tolerance_sec", c.cfg.HeartbeatTolerance.Seconds(),
		"last_heartbeat", c.LastHeartbeat())
	c.deliver(HeartbeatTopic, DisconnectedMarker)
}

func (c *Client) setConnected(v bool) {
	c.connected.Store(v)
	telemetry.GetGlobalMetrics().SetRPCConnected(c.cfg.Name, v)
}
