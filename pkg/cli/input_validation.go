// Package cli validates user supplied addresses and topics before they
// reach a socket
package cli

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrMaliciousInput flags shell or path injection patterns
var ErrMaliciousInput = errors.New("potentially malicious input detected")

// ValidateInput rejects command chaining and path traversal patterns
func ValidateInput(input string) error {
	if strings.Contains(input, ";") || strings.Contains(input, "&&") || strings.Contains(input, "||") {
		return ErrMaliciousInput
	}
	if strings.Contains(input, "../") || strings.Contains(input, "..\\") {
		return ErrMaliciousInput
	}
	return nil
}

// ValidateEndpoint accepts tcp://host:port, where host may be "*" for
// bind addresses and port may be 0 for an ephemeral one
func ValidateEndpoint(addr string) error {
	rest, ok := strings.CutPrefix(addr, "tcp://")
	if !ok {
		return fmt.Errorf("must be a tcp:// endpoint")
	}
	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		return fmt.Errorf("must be tcp://host:port: %w", err)
	}
	if host == "" {
		return fmt.Errorf("missing host")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return ValidateInput(addr)
}

// ValidateStreamURL accepts ws:// and wss:// URLs
func ValidateStreamURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// ValidateTopic accepts event type prefixes: printable, no whitespace
func ValidateTopic(topic string) error {
	for _, r := range topic {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("topic %q contains whitespace or control characters", topic)
		}
	}
	return ValidateInput(topic)
}
