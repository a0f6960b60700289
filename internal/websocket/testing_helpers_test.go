package websocket

import (
	"net"
	"testing"

	"github.com/gorilla/websocket"
)

// newTestConnection builds a Connection backed by an in-memory net.Pipe,
// bypassing the HTTP upgrade handshake entirely — sufficient for
// exercising table, router, and presence logic without a real listener.
func newTestConnection(t *testing.T, id string) (*Connection, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	wsConn := websocket.NewConn(serverSide, true, 4096, 4096)
	conn := newConnection(id, wsConn, ClientMetadata{RemoteAddr: "127.0.0.1"})
	t.Cleanup(func() { _ = clientSide.Close() })
	return conn, clientSide
}
