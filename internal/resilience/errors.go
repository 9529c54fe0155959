package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// IsTransientNetwork reports whether err is a network-level failure worth
// retrying: timeouts, DNS resolution failures and dropped connections.
// HTTP status errors and malformed payloads are never transient.
func IsTransientNetwork(err error) bool {
	if err == nil {
		return false
	}

	// A cancelled caller is not a network fault.
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped errors from HTTP clients sometimes only survive as text.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
