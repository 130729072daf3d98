package gateway

import (
	"context"
	"fmt"

	"trade_engine/internal/core"
	"trade_engine/internal/event"
	"trade_engine/internal/trader"
	apperrors "trade_engine/pkg/errors"
)

// Settings are the connection parameters a gateway accepts. Values come
// straight from YAML or RPC, so numbers may be int or float64.
type Settings map[string]any

// String returns the setting as a string, or def when absent
func (s Settings) String(key, def string) string {
	if v, ok := s[key]; ok {
		return fmt.Sprint(v)
	}
	return def
}

// Int returns the setting as an int, or def when absent or not numeric
func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Gateway is implemented by every exchange adapter. Callbacks flow back
// through the EventAdapter the gateway was built with.
type Gateway interface {
	Name() string
	Exchanges() []trader.Exchange
	DefaultSetting() Settings

	Connect(ctx context.Context, setting Settings) error
	Close() error

	Subscribe(ctx context.Context, req trader.SubscribeRequest) error
	// SendOrder returns the vt_orderid of the new order
	SendOrder(ctx context.Context, req trader.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, req trader.CancelRequest) error
	// SendQuote returns the vt_quoteid of the new quote
	SendQuote(ctx context.Context, req trader.QuoteRequest) (string, error)
	CancelQuote(ctx context.Context, req trader.CancelRequest) error

	QueryAccount(ctx context.Context) error
	QueryPosition(ctx context.Context) error
}

// BaseGateway provides the adapter plumbing and default behaviour shared by
// gateway implementations. Embed it and override what the venue supports.
type BaseGateway struct {
	*EventAdapter
	Logger    core.ILogger
	exchanges []trader.Exchange
}

// NewBaseGateway creates the shared part of a gateway
func NewBaseGateway(name string, exchanges []trader.Exchange, sink event.Sink, logger core.ILogger) *BaseGateway {
	return &BaseGateway{
		EventAdapter: NewEventAdapter(name, sink, logger),
		Logger:       logger.WithField("gateway", name),
		exchanges:    exchanges,
	}
}

func (b *BaseGateway) Name() string { return b.GatewayName() }

func (b *BaseGateway) Exchanges() []trader.Exchange {
	return append([]trader.Exchange(nil), b.exchanges...)
}

func (b *BaseGateway) DefaultSetting() Settings { return Settings{} }

func (b *BaseGateway) SendQuote(ctx context.Context, req trader.QuoteRequest) (string, error) {
	return "", fmt.Errorf("%s send quote: %w", b.Name(), apperrors.ErrUnsupported)
}

func (b *BaseGateway) CancelQuote(ctx context.Context, req trader.CancelRequest) error {
	return fmt.Errorf("%s cancel quote: %w", b.Name(), apperrors.ErrUnsupported)
}

func (b *BaseGateway) QueryAccount(ctx context.Context) error { return nil }

func (b *BaseGateway) QueryPosition(ctx context.Context) error { return nil }
