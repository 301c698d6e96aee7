// Package commsutil provides COMMS connection helpers and utilities.
package commsutil

import (
	"fmt"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/whisprhq/reactorpc/pkg/logging"
)

var log = logging.Prefixed("commsutil:connect")

// Connect creates a COMMS connection to the given URL.
func Connect(url, name string) (*comms.Conn, error) {
	log.Info("connecting to COMMS at %s as %s", url, name)

	nc, err := comms.Connect(url,
		comms.Name(name),
		comms.Timeout(10*time.Second),
		comms.ReconnectWait(2*time.Second),
		comms.MaxReconnects(60),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			log.Warn("COMMS disconnected: %v", err)
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			log.Info("COMMS reconnected to %s", nc.ConnectedUrl())
		}),
		comms.ClosedHandler(func(nc *comms.Conn) {
			log.Info("COMMS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("commsutil:connect - failed to connect to COMMS: %w", err)
	}

	log.Info("connected to COMMS at %s", nc.ConnectedUrl())
	return nc, nil
}
