// Package rpc exposes registered procedures over a REQ/REP socket pair and
// broadcasts topic-tagged messages over PUB/SUB, with heartbeat-based
// liveness detection on the client side.
package rpc

import (
	"strings"
	"time"
)

// HeartbeatTopic is the reserved topic carrying the server timestamp
const HeartbeatTopic = "heartbeat"

// Defaults
const (
	DefaultHeartbeatInterval  = 10 * time.Second
	DefaultHeartbeatTolerance = 30 * time.Second
	DefaultTimeout            = 30 * time.Second
	DefaultPollInterval       = time.Second
	DefaultCacheSize          = 100
	DefaultDialRetries        = 3

	DefaultRepAddress = "tcp://*:2014"
	DefaultPubAddress = "tcp://*:4102"
	DefaultReqAddress = "tcp://localhost:2014"
	DefaultSubAddress = "tcp://localhost:4102"
)

// ServerConfig holds the bind addresses of a Server
type ServerConfig struct {
	RepAddress        string
	PubAddress        string
	HeartbeatInterval time.Duration
}

// DefaultServerConfig binds every interface on the standard ports
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RepAddress:        DefaultRepAddress,
		PubAddress:        DefaultPubAddress,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.RepAddress == "" {
		c.RepAddress = DefaultRepAddress
	}
	if c.PubAddress == "" {
		c.PubAddress = DefaultPubAddress
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return c
}

// ClientConfig holds the peer addresses and timing of a Client
type ClientConfig struct {
	// Name labels the client in metrics and logs
	Name               string
	ReqAddress         string
	SubAddress         string
	Timeout            time.Duration
	HeartbeatTolerance time.Duration
	PollInterval       time.Duration
	CacheSize          int
	DialRetries        int
}

// DefaultClientConfig connects to a server on localhost
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Name:               "rpc_client",
		ReqAddress:         DefaultReqAddress,
		SubAddress:         DefaultSubAddress,
		Timeout:            DefaultTimeout,
		HeartbeatTolerance: DefaultHeartbeatTolerance,
		PollInterval:       DefaultPollInterval,
		CacheSize:          DefaultCacheSize,
		DialRetries:        DefaultDialRetries,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.ReqAddress == "" {
		c.ReqAddress = def.ReqAddress
	}
	if c.SubAddress == "" {
		c.SubAddress = def.SubAddress
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.HeartbeatTolerance <= 0 {
		c.HeartbeatTolerance = def.HeartbeatTolerance
	}
	if c.PollInterval <= 0 || c.PollInterval > time.Second {
		c.PollInterval = def.PollInterval
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.DialRetries < 0 {
		c.DialRetries = def.DialRetries
	}
	return c
}

// listenEndpoint rewrites the wildcard host into one net.Listen accepts
func listenEndpoint(ep string) string {
	return strings.Replace(ep, "://*:", "://0.0.0.0:", 1)
}
