package minerapi

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeMiner answers every connection through handler and closes it.
type fakeMiner struct {
	listener net.Listener
	handler  func(command string) []byte

	mu       sync.Mutex
	received []string
}

func newFakeMiner(t *testing.T, handler func(command string) []byte) *fakeMiner {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := &fakeMiner{listener: ln, handler: handler}
	t.Cleanup(func() { ln.Close() })

	go m.serve()
	return m
}

func (m *fakeMiner) serve() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		go m.handle(conn)
	}
}

func (m *fakeMiner) handle(conn net.Conn) {
	defer conn.Close()

	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(conn).Decode(&req); err != nil && err != io.EOF {
		return
	}

	m.mu.Lock()
	m.received = append(m.received, req.Command)
	m.mu.Unlock()

	if reply := m.handler(req.Command); reply != nil {
		conn.Write(reply)
	}
}

func (m *fakeMiner) Address(t *testing.T) Address {
	t.Helper()
	addr, err := ParseAddress(m.listener.Addr().String())
	require.NoError(t, err)
	return addr
}

func (m *fakeMiner) Received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.received...)
}
