// Package bridge implements the Local Bridge: an ephemeral loopback TCP
// listener that splices its first accepted connection to the tunnel's
// inner TLS stream, letting an off-the-shelf DB driver "dial localhost"
// while actually speaking to the remote database.
//
// Grounded on the teacher's doProxyTcp/copyConn splice in
// pkg/tunnel/tunnel.go, narrowed from an accept loop serving many logical
// streams to a single accept (spec §4.3: subsequent accepts are closed
// immediately, never spliced).
package bridge

import (
	"io"
	"net"

	"github.com/rs/zerolog"
)

// Bridge owns the loopback listener and the single spliced connection
// pair for one tunneled query.
type Bridge struct {
	listener net.Listener
	log      zerolog.Logger
	done     chan struct{}
}

// Start binds 127.0.0.1:0 and begins accepting. The caller gets back the
// listener's assigned port immediately; splicing happens asynchronously
// as soon as the driver connects.
func Start(inner io.ReadWriteCloser, log zerolog.Logger) (*Bridge, int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, err
	}

	b := &Bridge{
		listener: ln,
		log:      log.With().Str("component", "bridge").Logger(),
		done:     make(chan struct{}),
	}

	go b.serve(inner)

	port := ln.Addr().(*net.TCPAddr).Port
	return b, port, nil
}

// serve accepts exactly one connection and splices it to inner in both
// directions. Any connection accepted afterward (not expected in normal
// operation) is closed immediately without being spliced.
func (b *Bridge) serve(inner io.ReadWriteCloser) {
	defer close(b.done)

	conn, err := b.listener.Accept()
	if err != nil {
		// The listener was closed by Close(); nothing to splice.
		return
	}

	go b.drainExtraConnections()

	splice(conn, inner, b.log)
}

// drainExtraConnections accepts and immediately closes any connection
// beyond the first, until the listener is closed.
func (b *Bridge) drainExtraConnections() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		_ = conn.Close()
	}
}

// splice copies bytes bidirectionally between conn and inner until either
// side closes. Errors are swallowed: the driver may close abruptly once
// its query completes, which is expected teardown, not a failure.
func splice(conn net.Conn, inner io.ReadWriteCloser, log zerolog.Logger) {
	done := make(chan struct{}, 2)

	go func() {
		_, _ = io.Copy(inner, conn)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, inner)
		done <- struct{}{}
	}()

	<-done
	_ = conn.Close()
	_ = inner.Close()
	<-done
	log.Debug().Msg("bridge splice finished")
}

// Close releases the listener. Safe to call multiple times.
func (b *Bridge) Close() error {
	return b.listener.Close()
}

// Wait blocks until the spliced connection (if any was accepted) has
// finished. Callers use this to know when it is safe to tear the tunnel
// down without cutting off in-flight driver I/O.
func (b *Bridge) Wait() {
	<-b.done
}
