// Package pingclient is a small client for the liveness check: it sends
// PING requests over TCP and expects the +PONG acknowledgement.
package pingclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/pingd/protocol"
)

// ErrUnexpectedReply is returned when the server answers with anything other
// than the acknowledgement.
var ErrUnexpectedReply = errors.New("unexpected reply")

// Config holds client settings.
type Config struct {
	// Address is the "host:port" of the server.
	Address string
	// ConnectionTimeout bounds dialing; 0 means no timeout.
	ConnectionTimeout time.Duration
	// ReadTimeout bounds waiting for a reply; 0 means no timeout.
	ReadTimeout time.Duration
	// WriteTimeout bounds sending a request; 0 means no timeout.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config for address with 5s dial and 10s read and
// write timeouts.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Client is one connection to the server. Ping calls are serialized.
type Client struct {
	config Config
	conn   net.Conn

	mu     sync.Mutex
	closed bool
}

// Dial connects to config.Address.
func Dial(ctx context.Context, config Config) (*Client, error) {
	dialer := net.Dialer{Timeout: config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", config.Address, err)
	}

	return &Client{config: config, conn: conn}, nil
}

// Ping sends one request and waits for its acknowledgement. Deadlines come
// from the config timeouts, shortened by ctx's deadline when it has one.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return net.ErrClosed
	}

	if err := c.conn.SetWriteDeadline(deadline(ctx, c.config.WriteTimeout)); err != nil {
		return err
	}

	if _, err := io.WriteString(c.conn, protocol.Request); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	if err := c.conn.SetReadDeadline(deadline(ctx, c.config.ReadTimeout)); err != nil {
		return err
	}

	reply := make([]byte, len(protocol.Reply))
	if _, err := io.ReadFull(c.conn, reply); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	if string(reply) != protocol.Reply {
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
	}

	return nil
}

// Close closes the connection. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	return c.conn.Close()
}

// LocalAddr returns the client side address of the connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Check dials, pings once and closes, returning the round-trip time of the
// ping.
func Check(ctx context.Context, config Config) (time.Duration, error) {
	client, err := Dial(ctx, config)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		return 0, err
	}

	return time.Since(start), nil
}

// CheckMany runs n checks concurrently, each on its own connection. It
// returns the round-trip times in check order, or the first error.
func CheckMany(ctx context.Context, config Config, n int) ([]time.Duration, error) {
	rtts := make([]time.Duration, n)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			rtt, err := Check(ctx, config)
			if err != nil {
				return fmt.Errorf("check %d: %w", i, err)
			}

			rtts[i] = rtt
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return rtts, nil
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}

	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}

	return d
}
