// Package event implements the in-process event bus: a multi-producer
// queue, a single dispatcher fanning events out to typed and general
// handlers, and a periodic timer event.
package event

import (
	"fmt"
	"strings"
)

// Event type prefixes. Subject-scoped types append an identifier to the
// prefixes ending in a dot, e.g. "eTick.BTCUSDT.BINANCE".
const (
	TypeTimer    = "eTimer"
	TypeTick     = "eTick."
	TypeTrade    = "eTrade."
	TypeOrder    = "eOrder."
	TypePosition = "ePosition."
	TypeAccount  = "eAccount."
	TypeQuote    = "eQuote."
	TypeContract = "eContract."
	TypeLog      = "eLog"
)

var prefixes = []string{
	TypeTimer, TypeTick, TypeTrade, TypeOrder, TypePosition,
	TypeAccount, TypeQuote, TypeContract, TypeLog,
}

// Prefix returns the well-known prefix of eventType, or "" for custom types
func Prefix(eventType string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(eventType, p) {
			return p
		}
	}
	return ""
}

// Kind tags the payload variant carried by an event
type Kind uint8

const (
	KindOpaque Kind = iota
	KindTick
	KindTrade
	KindOrder
	KindPosition
	KindAccount
	KindQuote
	KindContract
	KindLog
)

var kindNames = [...]string{
	KindOpaque:   "opaque",
	KindTick:     "tick",
	KindTrade:    "trade",
	KindOrder:    "order",
	KindPosition: "position",
	KindAccount:  "account",
	KindQuote:    "quote",
	KindContract: "contract",
	KindLog:      "log",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return KindOpaque, fmt.Errorf("unknown payload kind %q", s)
}

// Payload is the closed set of values an event can carry: the trading
// objects of package trader plus Opaque. Handlers switch on PayloadKind
// or on the concrete type and must treat payloads as read-only.
type Payload interface {
	PayloadKind() Kind
}

// Opaque carries a user-defined value
type Opaque struct {
	Value any
}

func (Opaque) PayloadKind() Kind { return KindOpaque }

// Event is an immutable (type, payload) pair
type Event struct {
	Type    string
	Payload Payload
}

// New builds an event. A nil payload becomes an empty Opaque.
func New(eventType string, payload Payload) Event {
	if payload == nil {
		payload = Opaque{}
	}
	return Event{Type: eventType, Payload: payload}
}

// Kind returns the payload kind, KindOpaque for a nil payload
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return KindOpaque
	}
	return e.Payload.PayloadKind()
}

// Sink accepts events. *Engine and Sender implement it.
type Sink interface {
	Put(Event) error
}
