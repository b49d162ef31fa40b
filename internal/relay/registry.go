package relay

import "github.com/gorilla/websocket"

// registry is the set of consumers that receive broadcasts, keyed by connection.
// It is owned by the Relay goroutine and is not safe for concurrent use on its own.
type registry struct {
	consumers map[*websocket.Conn]*clientWriter
}

func newRegistry() *registry {
	return &registry{consumers: make(map[*websocket.Conn]*clientWriter)}
}

func (r *registry) contains(conn *websocket.Conn) bool {
	_, ok := r.consumers[conn]
	return ok
}

// add inserts cw and reports whether it was added. Adding a connection that is
// already present is a no-op.
func (r *registry) add(cw *clientWriter) bool {
	if r.contains(cw.connection) {
		return false
	}
	r.consumers[cw.connection] = cw
	return true
}

// remove deletes the writer for conn, returning it if it was present.
func (r *registry) remove(conn *websocket.Conn) (*clientWriter, bool) {
	cw, ok := r.consumers[conn]
	if !ok {
		return nil, false
	}
	delete(r.consumers, conn)
	return cw, true
}

// snapshot returns the current members in unspecified order. The slice is a copy,
// so callers may add or remove while walking it.
func (r *registry) snapshot() []*clientWriter {
	out := make([]*clientWriter, 0, len(r.consumers))
	for _, cw := range r.consumers {
		out = append(out, cw)
	}
	return out
}

func (r *registry) len() int {
	return len(r.consumers)
}
