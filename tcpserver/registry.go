package tcpserver

import (
	"net"
	"sync"
	"sync/atomic"
)

// connRegistry tracks live connections by id. Ids start at 1 and increase
// monotonically for the life of the registry.
type connRegistry struct {
	lastID atomic.Uint32
	count  atomic.Int64
	conns  sync.Map // uint32 -> net.Conn
}

func (r *connRegistry) add(conn net.Conn) uint32 {
	id := r.lastID.Add(1)
	r.conns.Store(id, conn)
	r.count.Add(1)
	return id
}

func (r *connRegistry) remove(id uint32) {
	if _, loaded := r.conns.LoadAndDelete(id); loaded {
		r.count.Add(-1)
	}
}

func (r *connRegistry) len() int {
	return int(r.count.Load())
}

// remotes returns the peer address of every live connection keyed by id.
func (r *connRegistry) remotes() map[uint32]string {
	out := make(map[uint32]string)
	r.conns.Range(func(k, v any) bool {
		out[k.(uint32)] = v.(net.Conn).RemoteAddr().String()
		return true
	})

	return out
}
