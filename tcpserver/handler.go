package tcpserver

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/cyberinferno/pingd/failure"
	"github.com/cyberinferno/pingd/logger"
	"github.com/cyberinferno/pingd/protocol"
)

// StreamHandler owns one connection end to end. It accumulates incoming
// bytes, answers every recognized request, and closes the connection when
// its loop ends.
type StreamHandler struct {
	stream    io.ReadWriteCloser
	writer    *bufio.Writer
	logger    logger.Logger
	chunkSize int
	maxBuffer int
	replies   atomic.Int64
}

// NewStreamHandler returns a handler for stream using the chunk size and
// buffer cap from cfg.
func NewStreamHandler(stream io.ReadWriteCloser, cfg Config, log logger.Logger) *StreamHandler {
	return &StreamHandler{
		stream:    stream,
		writer:    bufio.NewWriter(stream),
		logger:    log,
		chunkSize: cfg.ReadChunkSize,
		maxBuffer: cfg.MaxRequestBuffer,
	}
}

// Process runs the read loop until the peer shuts down or an I/O call fails.
// The stream is closed before Process returns.
//
// Returns:
//   - nil when the peer closed the connection cleanly
//   - a failure.KindIO error when a read, write or flush failed
func (h *StreamHandler) Process() error {
	defer h.stream.Close()

	chunk := make([]byte, h.chunkSize)
	var pending strings.Builder
	for {
		n, err := h.stream.Read(chunk)
		if n > 0 {
			pending.WriteString(protocol.Decode(chunk[:n]))
			if werr := h.answer(&pending); werr != nil {
				return werr
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return failure.IO("read", err)
		}

		if n == 0 {
			return nil
		}
	}
}

// Replies returns the number of acknowledgements written so far.
func (h *StreamHandler) Replies() int64 {
	return h.replies.Load()
}

// answer writes one reply per request found in pending and clears it. Any
// bytes after the last request are discarded with the rest of the buffer.
func (h *StreamHandler) answer(pending *strings.Builder) error {
	count := protocol.CountRequests(pending.String())
	if count == 0 {
		h.trim(pending)
		return nil
	}

	for i := 0; i < count; i++ {
		if _, err := h.writer.WriteString(protocol.Reply); err != nil {
			return failure.IO("write", err)
		}
	}

	if err := h.writer.Flush(); err != nil {
		return failure.IO("flush", err)
	}

	h.replies.Add(int64(count))
	pending.Reset()
	return nil
}

// trim resets an oversized buffer, keeping just enough trailing bytes for a
// request split across the cut to still complete.
func (h *StreamHandler) trim(pending *strings.Builder) {
	if pending.Len() <= h.maxBuffer {
		return
	}

	keep := len(protocol.Request) - 1
	tail := pending.String()[pending.Len()-keep:]
	h.logger.Warn("request buffer overflow, discarding",
		logger.Field{Key: "size", Value: pending.Len()},
		logger.Field{Key: "limit", Value: h.maxBuffer},
	)

	pending.Reset()
	pending.WriteString(tail)
}
