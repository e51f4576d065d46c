package fetch

import (
	"context"
	"errors"
	"net"
	"strings"
)

// IsTransient reports whether err is worth a bounded retry at the stage or
// dispatcher level: timeouts, connection resets, DNS hiccups, and 5xx/429
// responses. Structural errors (missing markers, 4xx other than 429) are not
// transient — retrying cannot fix a changed page.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || (se.Code >= 500 && se.Code < 600)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		// Shutdown, not a network fault.
		return false
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"tls handshake timeout",
		"unexpected eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
