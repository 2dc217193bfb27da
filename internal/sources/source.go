// Package sources decides where the data of a host comes from and runs the
// fetch, parse and reconcile steps for each of those sources.
package sources

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jveski/hostsections/internal/sections"
)

type Kind int

const (
	KindAgent Kind = iota
	KindProgram
	KindSpecialAgent
	KindPiggyback
	KindSNMP
	KindIPMI
)

func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindProgram:
		return "program"
	case KindSpecialAgent:
		return "special agent"
	case KindPiggyback:
		return "piggyback"
	case KindSNMP:
		return "snmp"
	case KindIPMI:
		return "ipmi"
	default:
		return "unknown"
	}
}

// Source is one way of retrieving data for a host. It is a plain configuration
// value, see NewChecker for turning it into something that runs.
type Source struct {
	// ID names the source on disk: agent, special_<name>, piggyback, snmp, mgmt_snmp or mgmt_ipmi.
	ID         string
	Kind       Kind
	Hostname   sections.HostName
	Address    string
	SourceType sections.SourceType

	Port             int
	Program          string // datasource program template
	SpecialAgent     string
	SpecialAgentArgs []string
	Credentials      map[string]string
}

func (s *Source) Key() sections.HostKey {
	return sections.HostKey{Hostname: s.Hostname, Address: s.Address, SourceType: s.SourceType}
}

func (s *Source) Describe() string {
	switch s.Kind {
	case KindAgent:
		return "TCP: " + net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
	case KindProgram:
		return "Program: " + s.Program
	case KindSpecialAgent:
		return strings.TrimSpace(fmt.Sprintf("Program: agent_%s %s", s.SpecialAgent, strings.Join(s.SpecialAgentArgs, " ")))
	case KindPiggyback:
		return "Process piggyback data from " + string(s.Hostname)
	case KindSNMP:
		if s.SourceType == sections.SourceTypeManagement {
			return "Management board - SNMP (" + s.Address + ")"
		}
		return "SNMP (" + s.Address + ")"
	case KindIPMI:
		return "Management board - IPMI (" + s.Address + ")"
	default:
		return s.ID
	}
}
