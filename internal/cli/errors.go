package cli

import "errors"

var ErrDaemonUnavailable = errors.New("cannot reach the daemon")
