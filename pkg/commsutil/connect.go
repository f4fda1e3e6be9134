// Package commsutil provides COMMS (NATS) connection helpers, event subjects
// and the event wire codec.
package commsutil

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// DefaultDialTimeout bounds the first connection attempt.
const DefaultDialTimeout = 5 * time.Second

var validSchemes = map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}

// Options configures Dial.
type Options struct {
	// URL is NATS_URL; a comma separated list of servers is accepted.
	URL string
	// Name identifies this client on the server (instance id or "<service>-cli").
	Name    string
	Timeout time.Duration
	Logger  *slog.Logger
}

// ValidateURL checks every server in a comma separated NATS_URL.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s - COMMS url is empty", logPrefix)
	}
	for _, s := range strings.Split(raw, ",") {
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%s - invalid COMMS url %q: %w", logPrefix, s, err)
		}
		if !validSchemes[u.Scheme] || u.Host == "" {
			return fmt.Errorf("%s - invalid COMMS url %q: want nats://host:port", logPrefix, s)
		}
	}
	return nil
}

// Dial connects to COMMS. Once connected the client reconnects forever and
// buffers publishes while disconnected, so event delivery is best effort.
func Dial(opts Options) (*comms.Conn, error) {
	if err := ValidateURL(opts.URL); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	nc, err := comms.Connect(opts.URL,
		comms.Name(opts.Name),
		comms.Timeout(timeout),
		comms.ReconnectWait(2*time.Second),
		comms.MaxReconnects(-1),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			if err != nil {
				logger.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			logger.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - dial %s: %w", logPrefix, redactURL(opts.URL), err)
	}
	logger.Info(fmt.Sprintf("%s - Connected to COMMS at %s as %s", logPrefix, redactURL(nc.ConnectedUrl()), opts.Name))
	return nc, nil
}

// Drain flushes pending publishes and closes nc. Errors are logged only.
func Drain(nc *comms.Conn) {
	if nc == nil || nc.IsClosed() {
		return
	}
	if err := nc.Drain(); err != nil {
		slog.Warn(fmt.Sprintf("%s - drain: %v", logPrefix, err))
	}
}

// redactURL hides credentials embedded in a server URL.
func redactURL(raw string) string {
	parts := strings.Split(raw, ",")
	for i, s := range parts {
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil || u.User == nil {
			continue
		}
		u.User = url.User("***")
		parts[i] = u.String()
	}
	return strings.Join(parts, ",")
}
