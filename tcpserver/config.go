package tcpserver

import (
	"fmt"

	"github.com/cyberinferno/pingd/protocol"
)

// Config holds the settings the server is constructed with.
type Config struct {
	// Name identifies the server in log entries.
	Name string
	// Address is the "host:port" to listen on. Port 0 picks a free port.
	Address string
	// Capacity is the number of failure records that may wait for the
	// aggregator before handlers block. 0 means strict hand-off.
	Capacity int
	// ReadChunkSize is the number of bytes requested per read.
	ReadChunkSize int
	// MaxRequestBuffer caps the bytes kept per connection while no request
	// has been recognized.
	MaxRequestBuffer int
}

// DefaultConfig returns a Config for address with a capacity of 100, 512-byte
// reads and a 64 KiB request buffer cap.
func DefaultConfig(address string) Config {
	return Config{
		Name:             "pingd",
		Address:          address,
		Capacity:         100,
		ReadChunkSize:    512,
		MaxRequestBuffer: 64 * 1024,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative, got %d", c.Capacity)
	}

	if c.ReadChunkSize < 1 {
		return fmt.Errorf("read chunk size must be at least 1, got %d", c.ReadChunkSize)
	}

	if c.MaxRequestBuffer < len(protocol.Request) {
		return fmt.Errorf("max request buffer must hold at least %d bytes, got %d", len(protocol.Request), c.MaxRequestBuffer)
	}

	return nil
}
