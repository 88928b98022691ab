package tcpserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/pingd/failure"
	"github.com/cyberinferno/pingd/logger"
	"github.com/cyberinferno/pingd/pingclient"
	"github.com/cyberinferno/pingd/protocol"
)

func runServer(t *testing.T, srv *Server) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()
	t.Cleanup(func() { _ = srv.Close() })

	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1:6379")
	assert.Equal(t, "pingd", cfg.Name)
	assert.Equal(t, "127.0.0.1:6379", cfg.Address)
	assert.Equal(t, 100, cfg.Capacity)
	assert.Equal(t, 512, cfg.ReadChunkSize)
	assert.Equal(t, 64*1024, cfg.MaxRequestBuffer)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"zero capacity is hand-off", func(c *Config) { c.Capacity = 0 }, true},
		{"negative capacity", func(c *Config) { c.Capacity = -1 }, false},
		{"one-byte reads", func(c *Config) { c.ReadChunkSize = 1 }, true},
		{"zero chunk size", func(c *Config) { c.ReadChunkSize = 0 }, false},
		{"buffer too small for a request", func(c *Config) { c.MaxRequestBuffer = 5 }, false},
		{"buffer exactly one request", func(c *Config) { c.MaxRequestBuffer = 6 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("127.0.0.1:0")
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("invalid config is rejected before binding", func(t *testing.T) {
		cfg := DefaultConfig("127.0.0.1:0")
		cfg.Capacity = -1

		srv, err := New(cfg, logger.NewNopLogger())
		assert.Error(t, err)
		assert.Nil(t, srv)
	})

	t.Run("bind failure is an IO error", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		srv, err := New(DefaultConfig(ln.Addr().String()), logger.NewNopLogger())
		require.Error(t, err)
		assert.Nil(t, srv)
		assert.True(t, failure.Is(err, failure.KindIO))
	})

	t.Run("accessors report the bound address", func(t *testing.T) {
		srv, err := New(DefaultConfig("127.0.0.1:0"), logger.NewNopLogger())
		require.NoError(t, err)
		defer srv.Close()

		assert.Equal(t, "127.0.0.1", srv.IP())
		assert.NotZero(t, srv.Port())
		assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", srv.Port()), srv.Addr().String())
		assert.Equal(t, 0, srv.ActiveConnections())
	})
}

func TestServer_Run(t *testing.T) {
	var logs bytes.Buffer
	srv, err := New(DefaultConfig("127.0.0.1:0"), logger.NewWriterLogger(&logs, "pingd", zerolog.InfoLevel))
	require.NoError(t, err)
	done := runServer(t, srv)

	ctx := context.Background()
	addr := srv.Addr().String()

	t.Run("answers pings", func(t *testing.T) {
		_, err := pingclient.Check(ctx, pingclient.DefaultConfig(addr))
		require.NoError(t, err)
	})

	t.Run("serves concurrent connections", func(t *testing.T) {
		rtts, err := pingclient.CheckMany(ctx, pingclient.DefaultConfig(addr), 20)
		require.NoError(t, err)
		assert.Len(t, rtts, 20)
	})

	t.Run("tracks live connections", func(t *testing.T) {
		client, err := pingclient.Dial(ctx, pingclient.DefaultConfig(addr))
		require.NoError(t, err)
		require.NoError(t, client.Ping(ctx))

		assert.Eventually(t, func() bool {
			for _, remote := range srv.Connections() {
				if remote == client.LocalAddr().String() {
					return true
				}
			}
			return false
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, client.Close())
		assert.Eventually(t, func() bool { return srv.ActiveConnections() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("second run is rejected", func(t *testing.T) {
		assert.Error(t, srv.Run())
	})

	t.Run("close ends run successfully", func(t *testing.T) {
		require.NoError(t, srv.Close())
		assert.NoError(t, waitRun(t, done))
		assert.Contains(t, logs.String(), "pingd server started")
		assert.Contains(t, logs.String(), "acceptor stopped")
	})
}

func TestServer_Run_ZeroCapacity(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1:0")
	cfg.Capacity = 0

	srv, err := New(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	done := runServer(t, srv)

	addr := srv.Addr().String()

	// A failing connection must not wedge the server with no buffer slots.
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = io.WriteString(conn, protocol.Request)
	require.NoError(t, err)
	reply := make([]byte, len(protocol.Reply))
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
	require.NoError(t, conn.Close())

	_, err = pingclient.Check(context.Background(), pingclient.DefaultConfig(addr))
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	assert.NoError(t, waitRun(t, done))
}

func TestServer_Run_HandlersDoNotOutliveReceiver(t *testing.T) {
	srv, err := New(DefaultConfig("127.0.0.1:0"), logger.NewNopLogger())
	require.NoError(t, err)
	done := runServer(t, srv)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	_, err = io.WriteString(conn, protocol.Request)
	require.NoError(t, err)
	reply := make([]byte, len(protocol.Reply))
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	require.NoError(t, waitRun(t, done))

	// The connection outlives Run; its failure is dropped rather than blocking.
	require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
	require.NoError(t, conn.Close())

	finished := make(chan struct{})
	go func() {
		srv.acceptor.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("handler still blocked after Run returned")
	}
}

func TestGuard(t *testing.T) {
	t.Run("passes through results", func(t *testing.T) {
		assert.NoError(t, guard(func() error { return nil }))
		assert.ErrorIs(t, guard(func() error { return assert.AnError }), assert.AnError)
	})

	t.Run("panic becomes a join record", func(t *testing.T) {
		err := guard(func() error { panic("boom") })
		assert.True(t, failure.Is(err, failure.KindJoin))
	})
}

func TestConnRegistry(t *testing.T) {
	var r connRegistry

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	first := r.add(server)
	second := r.add(client)
	assert.Equal(t, uint32(1), first)
	assert.Equal(t, uint32(2), second)
	assert.Equal(t, 2, r.len())
	assert.Len(t, r.remotes(), 2)

	r.remove(first)
	r.remove(first)
	assert.Equal(t, 1, r.len())

	r.remove(second)
	assert.Equal(t, 0, r.len())
	assert.Empty(t, r.remotes())
}
