package httputil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsConnectError reports whether err happened while establishing a
// connection: DNS resolution, refused or unreachable dials, dial timeouts.
func IsConnectError(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// IsReadError reports whether err happened after the connection was made:
// response timeouts, resets and truncated reads.
func IsReadError(err error) bool {
	if err == nil || IsConnectError(err) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
