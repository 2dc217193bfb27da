package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/errs"
	"github.com/jveski/hostsections/internal/parser"
	"github.com/jveski/hostsections/internal/sections"
)

// Walker retrieves SNMP tables from a device.
type Walker interface {
	Walk(ctx context.Context, address string, credentials map[string]string) (sections.Table, error)
}

// SNMP fetches tables through a Walker. The result is msgpack encoded so it can be
// cached like any other raw data.
type SNMP struct {
	Address     string
	Credentials map[string]string
	Walker      Walker
}

func (s *SNMP) Open(ctx context.Context) error {
	if s.Walker == nil {
		return errs.Transport(nil, "no SNMP backend configured")
	}
	return nil
}

func (s *SNMP) Fetch(ctx context.Context) ([]byte, error) {
	table, err := s.Walker.Walk(ctx, s.Address, s.Credentials)
	if err != nil {
		if errs.KindOf(err) != errs.KindException || errs.IsTerminate(err) {
			return nil, err
		}
		return nil, classify(ctx, err, "walking %s", s.Address)
	}
	return parser.EncodeTable(table)
}

func (s *SNMP) Close() error { return nil }

// CommandWalker runs an external backend that prints the tables of a device in
// the agent format, one section per table.
// The command supports the $HOSTADDRESS$ macro and receives the credentials as
// SNMP_<KEY> environment variables.
type CommandWalker struct {
	Command string
	Logger  *zap.SugaredLogger
}

func (c *CommandWalker) Walk(ctx context.Context, address string, credentials map[string]string) (sections.Table, error) {
	command := ExpandMacros(c.Command, MacroContext{Address: address, Hostname: address})
	out, err := runCommandEnv(ctx, command, credentialEnv("SNMP_", credentials), c.Logger)
	if err != nil {
		return nil, err
	}

	p := &parser.AgentParser{Logger: c.Logger, Now: time.Now}
	hs, err := p.Parse(out)
	if err != nil {
		return nil, fmt.Errorf("parsing backend output: %w", err)
	}
	return sections.Table(hs.Sections), nil
}
