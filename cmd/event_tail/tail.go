package main

import (
	"encoding/json"
	"strings"

	"trade_engine/internal/core"
	"trade_engine/internal/event"
	"trade_engine/internal/trader"
	"trade_engine/pkg/liveserver"
)

// printer logs events whose type matches one of its prefixes
type printer struct {
	logger core.ILogger
	topics []string
}

func newPrinter(logger core.ILogger, topics []string) *printer {
	return &printer{logger: logger.WithField("component", "event_tail"), topics: topics}
}

// match skips timer ticks and the firehose copy of subject-scoped events
func (p *printer) match(topic string) bool {
	if topic == event.TypeTimer || strings.HasSuffix(topic, ".") {
		return false
	}
	if len(p.topics) == 0 {
		return true
	}
	for _, t := range p.topics {
		if strings.HasPrefix(topic, t) {
			return true
		}
	}
	return false
}

func (p *printer) onEvent(ev event.Event) {
	if !p.match(ev.Type) {
		return
	}
	env, err := trader.EncodePayload(ev.Payload)
	if err != nil {
		p.logger.Warn("Undecodable event", "type", ev.Type, "error", err)
		return
	}
	p.print(ev.Type, env)
}

type streamFrame struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func (p *printer) onFrame(data []byte) {
	var frame streamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		p.logger.Warn("Malformed stream frame", "error", err)
		return
	}
	if frame.Topic == liveserver.TopicWelcome {
		p.logger.Info("Joined live stream", "session", string(frame.Data))
		return
	}
	if !p.match(frame.Topic) {
		return
	}
	var env trader.Envelope
	if err := json.Unmarshal(frame.Data, &env); err != nil {
		p.logger.Warn("Malformed stream frame", "topic", frame.Topic, "error", err)
		return
	}
	p.print(frame.Topic, env)
}

func (p *printer) print(topic string, env trader.Envelope) {
	p.logger.Info("Event", "type", topic, "kind", env.Kind, "data", string(env.Data))
}
