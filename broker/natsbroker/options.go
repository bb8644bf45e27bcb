package natsbroker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/CodeByJF/mqbridge/broker"
)

// Option configures a Client during construction.
type Option func(*Client) error

// WithDeliveryMode selects between core and jetstream delivery.
func WithDeliveryMode(mode DeliveryMode) Option {
	return func(c *Client) error {
		switch mode {
		case ModeCore, ModeJetStream:
			c.mode = mode
			return nil
		default:
			return fmt.Errorf("unknown delivery mode %q", mode)
		}
	}
}

// WithStream sets the JetStream stream and durable consumer names.
func WithStream(stream, durable string) Option {
	return func(c *Client) error {
		if stream == "" {
			return fmt.Errorf("stream name cannot be empty")
		}
		c.streamName = stream
		c.durable = durable
		return nil
	}
}

// WithAckWait sets how long the broker waits for an acknowledgment before
// redelivering a message (jetstream mode only).
func WithAckWait(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("ack wait must be positive, got %v", d)
		}
		c.ackWait = d
		return nil
	}
}

// WithCredentials sets username/password authentication.
func WithCredentials(username, password string) Option {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS sets the client certificate and key files for mutual TLS.
func WithTLS(certFile, keyFile string) Option {
	return func(c *Client) error {
		if certFile == "" || keyFile == "" {
			return fmt.Errorf("both cert and key files required for TLS")
		}
		c.tlsCertFile = certFile
		c.tlsKeyFile = keyFile
		return nil
	}
}

// WithRootCA sets a custom CA bundle for server verification.
func WithRootCA(caFile string) Option {
	return func(c *Client) error {
		c.tlsCAFile = caFile
		return nil
	}
}

// WithName sets the client connection name reported to the broker.
func WithName(name string) Option {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithConnectTimeout sets the timeout for the initial connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds how long Close waits for in-flight messages.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", d)
		}
		c.drainTimeout = d
		return nil
	}
}

// WithBackoff overrides the reconnect backoff schedule.
func WithBackoff(b broker.Backoff) Option {
	return func(c *Client) error {
		if b.Initial <= 0 {
			return fmt.Errorf("backoff initial delay must be positive, got %v", b.Initial)
		}
		c.backoff = b
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithOnFatal registers a callback invoked when the broker permanently
// rejects the client (authorization or permissions failures). The bridge
// uses this to shut down instead of retrying forever.
func WithOnFatal(fn func(error)) Option {
	return func(c *Client) error {
		c.onFatal = fn
		return nil
	}
}
