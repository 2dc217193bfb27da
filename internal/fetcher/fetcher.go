// Package fetcher retrieves raw data from the transports a host can be monitored through.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jveski/hostsections/internal/errs"
)

// Fetcher is a scoped data acquisition: Open, Fetch and Close.
// Close is called on every exit path, use Run instead of calling the methods directly.
type Fetcher interface {
	Open(ctx context.Context) error
	Fetch(ctx context.Context) ([]byte, error)
	Close() error
}

// Run opens f, fetches its data and closes it again.
func Run(ctx context.Context, f Fetcher) (buf []byte, err error) {
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing fetcher: %w", cerr)
		}
	}()

	if err := f.Open(ctx); err != nil {
		return nil, err
	}
	return f.Fetch(ctx)
}

// classify maps context and network failures onto the error kinds of the pipeline.
// Cancellation is returned unchanged so it propagates as termination.
func classify(ctx context.Context, err error, format string, args ...any) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &errs.TimeoutError{Msg: fmt.Sprintf(format, args...) + ": timed out"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &errs.TimeoutError{Msg: fmt.Sprintf(format, args...) + ": timed out"}
	}
	return errs.Transport(err, format, args...)
}
