package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/errs"
)

// minAgentOutput is the shortest output a working agent can produce.
const minAgentOutput = 16

// TCP reads the agent output from a host's agent port until the agent closes the connection.
type TCP struct {
	Address        string // host:port
	ConnectTimeout time.Duration
	Logger         *zap.SugaredLogger

	conn net.Conn
}

func (t *TCP) Open(ctx context.Context) error {
	if host, _, _ := net.SplitHostPort(t.Address); host == "" {
		return errs.Transport(nil, "host has no IP address configured")
	}

	dialer := &net.Dialer{Timeout: t.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return classify(ctx, err, "connecting to %s", t.Address)
	}
	t.Logger.Debugw("connected to agent", "address", t.Address)
	t.conn = conn
	return nil
}

func (t *TCP) Fetch(ctx context.Context) ([]byte, error) {
	if t.conn == nil {
		return nil, errs.Transport(nil, "not connected to %s", t.Address)
	}

	// unblock the read when the context ends
	conn := t.conn
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	buf, err := io.ReadAll(conn)
	if err != nil {
		return nil, classify(ctx, err, "reading from %s", t.Address)
	}
	if ctx.Err() != nil {
		return nil, classify(ctx, ctx.Err(), "reading from %s", t.Address)
	}

	if len(buf) == 0 {
		return nil, &errs.EmptyDataError{Msg: "empty output from agent at TCP port"}
	}
	if len(buf) < minAgentOutput {
		return nil, errs.Transport(nil, "too short output from agent: %q", buf)
	}
	return buf, nil
}

func (t *TCP) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}
	return nil
}
