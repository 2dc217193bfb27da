package fetcher

import (
	"context"
	"time"

	"github.com/jveski/hostsections/internal/piggyback"
)

// Piggyback reads the data other hosts forwarded for a host, addressed either by
// its name or by its IP address.
type Piggyback struct {
	Store    *piggyback.Store
	Hostname string
	Address  string
	MaxAge   time.Duration
}

func (p *Piggyback) Open(ctx context.Context) error { return nil }

func (p *Piggyback) Fetch(ctx context.Context) ([]byte, error) {
	buf, err := p.Store.Get(p.Hostname, p.MaxAge)
	if err != nil {
		return nil, classify(ctx, err, "reading piggyback data of %s", p.Hostname)
	}

	if p.Address != "" && p.Address != p.Hostname {
		byAddr, err := p.Store.Get(p.Address, p.MaxAge)
		if err != nil {
			return nil, classify(ctx, err, "reading piggyback data of %s", p.Address)
		}
		buf = append(buf, byAddr...)
	}
	return buf, nil
}

func (p *Piggyback) Close() error { return nil }
