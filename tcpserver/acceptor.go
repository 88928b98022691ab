package tcpserver

import (
	"errors"
	"net"
	"sync"

	"github.com/cyberinferno/pingd/errchan"
	"github.com/cyberinferno/pingd/failure"
	"github.com/cyberinferno/pingd/logger"
)

// Acceptor admits connections from a listener and runs a StreamHandler for
// each one in its own goroutine. Failed handlers report into the error
// channel through a cloned Sender.
type Acceptor struct {
	listener net.Listener
	tx       *errchan.Sender
	cfg      Config
	logger   logger.Logger
	conns    connRegistry
	wg       sync.WaitGroup
}

// NewAcceptor returns an Acceptor that takes ownership of tx: the handle is
// released when Run returns.
func NewAcceptor(listener net.Listener, tx *errchan.Sender, cfg Config, log logger.Logger) *Acceptor {
	return &Acceptor{
		listener: listener,
		tx:       tx,
		cfg:      cfg,
		logger:   log,
	}
}

// Run accepts connections until the listener is closed. A failed Accept is
// logged and the loop continues; it is never retried with backoff nor
// returned. Run does not wait for the handlers it started.
//
// Returns:
//   - nil once the listener has been closed
func (a *Acceptor) Run() error {
	defer a.tx.Release()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				a.logger.Info("acceptor stopped", logger.Field{Key: "addr", Value: a.listener.Addr().String()})
				return nil
			}

			a.logger.Error("accept error", logger.Err(err))
			continue
		}

		a.spawn(conn)
	}
}

// Wait blocks until every handler started so far has finished.
func (a *Acceptor) Wait() {
	a.wg.Wait()
}

// ActiveConnections returns the number of handlers still running.
func (a *Acceptor) ActiveConnections() int {
	return a.conns.len()
}

// Connections returns the peer address of every live connection keyed by
// connection id.
func (a *Acceptor) Connections() map[uint32]string {
	return a.conns.remotes()
}

func (a *Acceptor) spawn(conn net.Conn) {
	tx := a.tx.Clone()
	id := a.conns.add(conn)
	log := a.logger.With(
		logger.Field{Key: "conn", Value: id},
		logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
	)
	handler := NewStreamHandler(conn, a.cfg, log)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer tx.Release()
		defer a.conns.remove(id)

		err := guard(handler.Process)
		if err == nil {
			log.Debug("connection closed", logger.Field{Key: "replies", Value: handler.Replies()})
			return
		}

		rec := failure.From(err)
		log.Debug("connection failed", logger.Err(rec), logger.Field{Key: "kind", Value: rec.Kind.String()})
		if err := tx.Send(rec); err != nil {
			log.Warn("error channel receiver gone, dropping record", logger.Err(err))
		}
	}()
}

