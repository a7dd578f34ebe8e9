package wsbroker

import "errors"

var errNotConnected = errors.New("wsbroker: not connected")
