package monitor

import "errors"

// ErrConfig marks a configuration rejected at load time. A source carrying a
// config error is never scheduled; the process refuses to start instead of
// polling with wrong parameters.
var ErrConfig = errors.New("monitor: invalid configuration")

// ErrUnknownSource is returned for operations naming a source id that is not
// configured.
var ErrUnknownSource = errors.New("monitor: unknown source")

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}
