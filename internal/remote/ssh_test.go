package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type execHandler func(cmd string, stdin []byte) (stdout, stderr string, status uint32, ok bool)

// startSSHServer serves exec requests for user root / password admin.
func startSSHServer(t *testing.T, handler execHandler) Credentials {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == "root" && string(password) == "admin" {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, config, handler)
		}
	}()

	port, err := strconv.Atoi(strings.TrimPrefix(ln.Addr().String(), "127.0.0.1:"))
	require.NoError(t, err)
	return Credentials{Username: "root", Password: "admin", Port: port}
}

func serveSSH(conn net.Conn, config *ssh.ServerConfig, handler execHandler) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go serveSession(channel, requests, handler)
	}
}

func serveSession(channel ssh.Channel, requests <-chan *ssh.Request, handler execHandler) {
	defer channel.Close()

	for req := range requests {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			continue
		}

		var stdin []byte
		if strings.HasPrefix(payload.Command, "cat > ") {
			req.Reply(true, nil)
			stdin, _ = io.ReadAll(channel)
		}

		stdout, stderr, status, ok := handler(payload.Command, stdin)
		if !strings.HasPrefix(payload.Command, "cat > ") {
			req.Reply(ok, nil)
		}
		if !ok {
			continue
		}

		io.WriteString(channel, stdout)
		io.WriteString(channel.Stderr(), stderr)
		channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

func TestRun(t *testing.T) {
	creds := startSSHServer(t, func(cmd string, _ []byte) (string, string, uint32, bool) {
		switch cmd {
		case "cat /proc/sys/kernel/hostname":
			return "miner-01\n", "", 0, true
		default:
			return "", "sh: not found\n", 127, true
		}
	})
	client := NewClient("127.0.0.1", creds, 2*time.Second, nil)

	result, err := client.Run(context.Background(), "cat /proc/sys/kernel/hostname")
	require.NoError(t, err)
	assert.Equal(t, "miner-01\n", result.Stdout)
	assert.Equal(t, 0, result.ExitStatus)

	result, err = client.Run(context.Background(), "bogus")
	require.NoError(t, err)
	assert.Equal(t, 127, result.ExitStatus)
	assert.Equal(t, "sh: not found\n", result.Stderr)
}

func TestRunRetriesRejectedExec(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	creds := startSSHServer(t, func(cmd string, _ []byte) (string, string, uint32, bool) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < runAttempts {
			return "", "", 0, false
		}
		return "ok", "", 0, true
	})
	client := NewClient("127.0.0.1", creds, 2*time.Second, nil)

	result, err := client.Run(context.Background(), "/etc/init.d/bosminer restart")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Stdout)

	mu.Lock()
	assert.Equal(t, runAttempts, attempts)
	mu.Unlock()
}

func TestRunGivesUpAfterThreeAttempts(t *testing.T) {
	creds := startSSHServer(t, func(string, []byte) (string, string, uint32, bool) {
		return "", "", 0, false
	})
	client := NewClient("127.0.0.1", creds, 2*time.Second, nil)

	_, err := client.Run(context.Background(), "reboot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestReadWriteFile(t *testing.T) {
	var mu sync.Mutex
	files := map[string][]byte{"/etc/bosminer.toml": []byte("[format]\nversion = \"1.2+\"\n")}

	creds := startSSHServer(t, func(cmd string, stdin []byte) (string, string, uint32, bool) {
		mu.Lock()
		defer mu.Unlock()

		if path, ok := strings.CutPrefix(cmd, "cat > "); ok {
			files[strings.Trim(path, "'")] = stdin
			return "", "", 0, true
		}
		if path, ok := strings.CutPrefix(cmd, "cat "); ok {
			data, found := files[strings.Trim(path, "'")]
			if !found {
				return "", "cat: can't open\n", 1, true
			}
			return string(data), "", 0, true
		}
		return "", "", 127, true
	})
	client := NewClient("127.0.0.1", creds, 2*time.Second, nil)
	ctx := context.Background()

	data, err := client.ReadFile(ctx, "/etc/bosminer.toml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "version")

	require.NoError(t, client.WriteFile(ctx, "/etc/new.toml", []byte("a = 1\n")))
	data, err = client.ReadFile(ctx, "/etc/new.toml")
	require.NoError(t, err)
	assert.Equal(t, "a = 1\n", string(data))

	_, err = client.ReadFile(ctx, "/etc/missing")
	assert.ErrorContains(t, err, "can't open")
}

func TestWrongPassword(t *testing.T) {
	creds := startSSHServer(t, func(string, []byte) (string, string, uint32, bool) {
		return "", "", 0, true
	})
	creds.Password = "wrong"

	_, err := NewClient("127.0.0.1", creds, time.Second, nil).Run(context.Background(), "true")
	assert.ErrorContains(t, err, "handshake")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/etc/a b'`, shellQuote("/etc/a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
