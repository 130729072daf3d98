package trader

import (
	"encoding/json"
	"fmt"

	"trade_engine/internal/event"
)

// Envelope is the JSON form of an event payload, used wherever events
// leave the process
type Envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodePayload wraps p in an Envelope
func EncodePayload(p event.Payload) (Envelope, error) {
	if p == nil {
		p = event.Opaque{}
	}
	var value any = p
	if o, ok := p.(event.Opaque); ok {
		value = o.Value
	}
	data, err := json.Marshal(value)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", p.PayloadKind(), err)
	}
	return Envelope{Kind: p.PayloadKind().String(), Data: data}, nil
}

// DecodePayload restores the concrete payload carried by env. Opaque
// payloads come back as event.Opaque holding the raw JSON.
func DecodePayload(env Envelope) (event.Payload, error) {
	kind, err := event.ParseKind(env.Kind)
	if err != nil {
		return nil, err
	}

	var target event.Payload
	switch kind {
	case event.KindTick:
		target = &TickData{}
	case event.KindTrade:
		target = &TradeData{}
	case event.KindOrder:
		target = &OrderData{}
	case event.KindPosition:
		target = &PositionData{}
	case event.KindAccount:
		target = &AccountData{}
	case event.KindQuote:
		target = &QuoteData{}
	case event.KindContract:
		target = &ContractData{}
	case event.KindLog:
		target = &LogData{}
	default:
		raw := append(json.RawMessage(nil), env.Data...)
		if len(raw) == 0 || string(raw) == "null" {
			return event.Opaque{}, nil
		}
		return event.Opaque{Value: raw}, nil
	}

	if err := json.Unmarshal(env.Data, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return target, nil
}

// WithGatewayName returns a copy of p whose gateway name is replaced.
// Opaque payloads are returned unchanged.
func WithGatewayName(p event.Payload, name string) event.Payload {
	switch v := p.(type) {
	case *TickData:
		c := v.Clone()
		c.GatewayName = name
		return &c
	case *TradeData:
		c := v.Clone()
		c.GatewayName = name
		return &c
	case *OrderData:
		c := v.Clone()
		c.GatewayName = name
		return &c
	case *PositionData:
		c := v.Clone()
		c.GatewayName = name
		return &c
	case *AccountData:
		c := v.Clone()
		c.GatewayName = name
		return &c
	case *QuoteData:
		c := v.Clone()
		c.GatewayName = name
		return &c
	case *ContractData:
		c := v.Clone()
		c.GatewayName = name
		return &c
	case *LogData:
		c := *v
		c.GatewayName = name
		return &c
	}
	return p
}
