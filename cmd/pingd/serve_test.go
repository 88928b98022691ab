package main

import (
	"bytes"
	"strings"
	"syscall"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/pingd/failure"
	"github.com/cyberinferno/pingd/logger"
)

func TestServeConfig_ServerConfig(t *testing.T) {
	t.Run("empty values fall back to defaults", func(t *testing.T) {
		sc := (&serveConfig{Capacity: 100}).serverConfig()

		assert.Equal(t, defaultAddr, sc.Address)
		assert.Equal(t, 100, sc.Capacity)
		assert.Equal(t, 512, sc.ReadChunkSize)
		assert.Equal(t, 64*1024, sc.MaxRequestBuffer)
		assert.NoError(t, sc.Validate())
	})

	t.Run("explicit values are kept", func(t *testing.T) {
		sc := (&serveConfig{Addr: "0.0.0.0:7000", Capacity: 0, Chunk: 64, MaxBuffer: 1024}).serverConfig()

		assert.Equal(t, "0.0.0.0:7000", sc.Address)
		assert.Equal(t, 0, sc.Capacity)
		assert.Equal(t, 64, sc.ReadChunkSize)
		assert.Equal(t, 1024, sc.MaxRequestBuffer)
	})
}

func TestServeConfig_NewLogger(t *testing.T) {
	t.Run("file logger when a directory is given", func(t *testing.T) {
		l, err := (&serveConfig{LogDir: t.TempDir(), Debug: true}).newLogger("pingd")
		require.NoError(t, err)
		assert.NoError(t, l.Close())
	})

	t.Run("console logger otherwise", func(t *testing.T) {
		l, err := (&serveConfig{}).newLogger("pingd")
		require.NoError(t, err)
		assert.NoError(t, l.Close())
	})
}

func TestReportFailure(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWriterLogger(&buf, "pingd", zerolog.InfoLevel)

	agg := failure.Multiple(
		failure.From(failure.IO("read", syscall.ECONNRESET)),
		failure.Join("boom"),
	)
	reportFailure(l, agg)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"kind":"IO"`)
	assert.Contains(t, lines[1], `"kind":"Join"`)
}
