// Package tcpserver implements the liveness-check TCP service: an Acceptor
// admitting connections, a StreamHandler per connection answering PING
// requests, and a Server that races the Acceptor against the aggregator of
// handler failures.
package tcpserver

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/cyberinferno/pingd/errchan"
	"github.com/cyberinferno/pingd/failure"
	"github.com/cyberinferno/pingd/logger"
)

// Server owns the listening socket and the error channel. Run may be called
// once.
type Server struct {
	cfg      Config
	logger   logger.Logger
	listener net.Listener
	rx       *errchan.Receiver
	acceptor *Acceptor
	running  atomic.Bool
}

// New validates cfg, binds the listening socket and creates the error
// channel with cfg.Capacity slots.
//
// Parameters:
//   - cfg: Server settings (see DefaultConfig)
//   - log: Logger for server and connection events
//
// Returns:
//   - The bound Server, ready to Run
//   - An error if cfg is invalid or binding fails
func New(cfg Config, log logger.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server %s: invalid config: %w", cfg.Name, err)
	}

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("server %s failed to listen on %s: %w", cfg.Name, cfg.Address, failure.IO("bind", err))
	}

	tx, rx, err := errchan.New(cfg.Capacity)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("server %s: %w", cfg.Name, err)
	}

	log = log.With(logger.Field{Key: "server", Value: cfg.Name})
	return &Server{
		cfg:      cfg,
		logger:   log,
		listener: ln,
		rx:       rx,
		acceptor: NewAcceptor(ln, tx, cfg, log),
	}, nil
}

// Run starts the Acceptor and the aggregator concurrently and returns as soon
// as either finishes; the other is abandoned. The Acceptor only finishes once
// the listener is closed, in which case its result (nil) is returned. The
// aggregator only finishes once every Sender is gone, in which case nil or
// the aggregate of every handler failure is returned.
//
// On return the listener is closed and the receiver is marked gone, so
// handlers still running drop their records instead of blocking.
func (s *Server) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("server %s already running", s.cfg.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.rx.Close()
	defer s.listener.Close()

	s.logger.Info(fmt.Sprintf("%s server started", s.cfg.Name),
		logger.Field{Key: "addr", Value: s.Addr().String()},
		logger.Field{Key: "capacity", Value: s.cfg.Capacity},
	)

	acceptDone := make(chan error, 1)
	aggregateDone := make(chan error, 1)
	go func() { acceptDone <- guard(s.acceptor.Run) }()
	go func() {
		aggregateDone <- guard(func() error {
			return errchan.NewAggregator(s.rx).Run(ctx)
		})
	}()

	select {
	case err := <-acceptDone:
		return err
	case err := <-aggregateDone:
		return err
	}
}

// Close closes the listener, which ends Run. Connections already accepted
// are left to finish on their own.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// IP returns the bound IP address as a string.
func (s *Server) IP() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// ActiveConnections returns the number of connections being handled.
func (s *Server) ActiveConnections() int {
	return s.acceptor.ActiveConnections()
}

// Connections returns the peer address of every live connection keyed by id.
func (s *Server) Connections() map[uint32]string {
	return s.acceptor.Connections()
}

// guard runs fn, reporting a panic as a join failure.
func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = failure.Join(v)
		}
	}()

	return fn()
}
