package minerapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// DefaultTimeout bounds one request when neither caller nor Transport sets one.
const DefaultTimeout = 10 * time.Second

const readChunkSize = 4096

// Exchanger sends one payload to addr and returns everything the peer wrote before closing.
type Exchanger interface {
	Exchange(ctx context.Context, addr Address, payload []byte) ([]byte, error)
}

// Transport opens one TCP connection per Exchange. No reuse, no retries.
type Transport struct {
	Timeout time.Duration
	dialer  net.Dialer
}

func NewTransport(timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Transport{Timeout: timeout}
}

// Exchange writes payload and reads until EOF or the deadline.
// Refused or unreachable hosts yield ErrConnection, an exceeded deadline ErrTimeout.
func (t *Transport) Exchange(ctx context.Context, addr Address, payload []byte) ([]byte, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := t.dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, classifyNetError(ctx, addr, err)
	}
	defer conn.Close()

	// Deadline auf die gesamte Verbindung anwenden
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// Context cancellation must interrupt blocked reads as well
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return nil, classifyNetError(ctx, addr, err)
	}

	var response bytes.Buffer
	buf := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(buf)
		response.Write(buf[:n])
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if isTimeout(err) || ctx.Err() != nil {
			return nil, classifyNetError(ctx, addr, err)
		}
		// Peer reset after sending data; keep what arrived
		if response.Len() > 0 {
			break
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, addr, err)
	}

	return response.Bytes(), nil
}

func classifyNetError(ctx context.Context, addr Address, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: %s", ErrTimeout, addr)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnection, addr, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
