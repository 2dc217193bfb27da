package sources

import (
	"sort"
	"strings"

	"github.com/jveski/hostsections/internal/errs"
	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/sections"
)

// ForHost returns the sources of host, piggyback last. Clusters have no sources
// of their own, their data comes from the nodes.
func ForHost(host *hostconfig.HostConfig) ([]*Source, error) {
	if host.IsCluster() {
		return []*Source{}, nil
	}

	name := sections.HostName(host.Name)
	list := []*Source{}

	switch {
	case host.IsAllAgentsHost():
		list = append(list, agentSource(host))
		for _, sa := range host.SpecialAgents {
			list = append(list, specialAgentSource(host, sa))
		}

	case host.IsAllSpecialAgentsHost():
		for _, sa := range host.SpecialAgents {
			list = append(list, specialAgentSource(host, sa))
		}

	case host.IsTCPHost():
		if len(host.SpecialAgents) > 0 {
			list = append(list, specialAgentSource(host, host.SpecialAgents[0]))
		} else {
			list = append(list, agentSource(host))
		}
	}

	if host.IsSNMPHost() {
		list = append(list, &Source{ID: "snmp", Kind: KindSNMP, Hostname: name, Address: host.Address})
	}

	if host.HasManagementBoard() {
		src := &Source{
			Hostname:    name,
			Address:     host.Management.Address,
			SourceType:  sections.SourceTypeManagement,
			Credentials: host.Management.Credentials,
		}
		switch host.Management.Protocol {
		case "snmp":
			src.ID, src.Kind = "mgmt_snmp", KindSNMP
		case "ipmi":
			src.ID, src.Kind = "mgmt_ipmi", KindIPMI
		default:
			return nil, errs.Configuration("unknown management board protocol %q of host %q", host.Management.Protocol, host.Name)
		}
		list = append(list, src)
	}

	if !host.PiggybackDisabled() {
		list = append(list, &Source{ID: "piggyback", Kind: KindPiggyback, Hostname: name, Address: host.Address})
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Kind != KindPiggyback && list[j].Kind == KindPiggyback
	})
	return list, nil
}

func agentSource(host *hostconfig.HostConfig) *Source {
	src := &Source{
		ID:       "agent",
		Kind:     KindAgent,
		Hostname: sections.HostName(host.Name),
		Address:  host.Address,
		Port:     host.Port(),
	}
	if host.DatasourceProgram != "" {
		src.Kind = KindProgram
		src.Program = host.DatasourceProgram
	}
	return src
}

func specialAgentSource(host *hostconfig.HostConfig, sa *hostconfig.SpecialAgent) *Source {
	return &Source{
		ID:               "special_" + sa.Name,
		Kind:             KindSpecialAgent,
		Hostname:         sections.HostName(host.Name),
		Address:          host.Address,
		SpecialAgent:     sa.Name,
		SpecialAgentArgs: sa.Args,
	}
}

// DescribeSources returns a one line summary of where the data of host comes from.
func DescribeSources(host *hostconfig.HostConfig) (string, error) {
	if host.IsCluster() {
		return "Cluster of " + strings.Join(host.Nodes, ", "), nil
	}

	list, err := ForHost(host)
	if err != nil {
		return "", err
	}

	descs := make([]string, len(list))
	for i, src := range list {
		descs[i] = src.Describe()
	}
	return strings.Join(descs, ", "), nil
}
