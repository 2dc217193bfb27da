package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/sections"
)

func checkMK(rows ...sections.Row) *sections.HostSections {
	hs := sections.New()
	hs.Sections["check_mk"] = rows
	return hs
}

func TestAgentSummarizer(t *testing.T) {
	hs := checkMK(sections.Row{"Version:", "2.1.0p3"}, sections.Row{"AgentOS:", "linux"})

	tests := []struct {
		Name   string
		Host   *hostconfig.HostConfig
		HS     *sections.HostSections
		State  State
		Output string
	}{
		{
			Name:   "plain",
			Host:   &hostconfig.HostConfig{},
			HS:     hs,
			Output: "Version: 2.1.0p3, OS: linux",
		},
		{
			Name:   "no check_mk section",
			Host:   &hostconfig.HostConfig{},
			HS:     sections.New(),
			Output: "Version: unknown, OS: unknown",
		},
		{
			Name:   "cluster",
			Host:   &hostconfig.HostConfig{Nodes: []string{"a"}},
			HS:     hs,
			Output: "",
		},
		{
			Name:   "exact version matches",
			Host:   &hostconfig.HostConfig{AgentTargetVersion: &hostconfig.AgentTargetVersion{Exact: "2.1.0p3"}},
			HS:     hs,
			Output: "Version: 2.1.0p3, OS: linux",
		},
		{
			Name:   "exact version differs",
			Host:   &hostconfig.HostConfig{AgentTargetVersion: &hostconfig.AgentTargetVersion{Exact: "2.2.0"}},
			HS:     hs,
			State:  StateWarn,
			Output: "Version: 2.1.0p3, OS: linux, unexpected agent version 2.1.0p3 (should be 2.2.0)(!)",
		},
		{
			Name:   "at least satisfied",
			Host:   &hostconfig.HostConfig{AgentTargetVersion: &hostconfig.AgentTargetVersion{AtLeast: "2.1.0"}},
			HS:     hs,
			Output: "Version: 2.1.0p3, OS: linux",
		},
		{
			Name: "at least violated with override",
			Host: &hostconfig.HostConfig{
				AgentTargetVersion: &hostconfig.AgentTargetVersion{AtLeast: "2.1.0p4"},
				ExitCodes:          hostconfig.ExitCodeSpec{"wrong_version": 2},
			},
			HS:     hs,
			State:  StateCrit,
			Output: "Version: 2.1.0p3, OS: linux, unexpected agent version 2.1.0p3 (should be at least release 2.1.0p4)(!!)",
		},
		{
			Name:   "only from matches",
			Host:   &hostconfig.HostConfig{OnlyFrom: []string{"10.0.0.{1,2}"}},
			HS:     checkMK(sections.Row{"Version:", "2.1.0"}, sections.Row{"OnlyFrom:", "10.0.0.2", "10.0.0.1"}),
			Output: "Version: 2.1.0, OS: unknown, allowed IP ranges: 10.0.0.1 10.0.0.2",
		},
		{
			Name:   "only from differs",
			Host:   &hostconfig.HostConfig{OnlyFrom: []string{"10.0.0.1", "10.0.0.3"}},
			HS:     checkMK(sections.Row{"Version:", "2.1.0"}, sections.Row{"OnlyFrom:", "10.0.0.{1,2}"}),
			State:  StateWarn,
			Output: "Version: 2.1.0, OS: unknown, invalid access configuration: agent allows extra: 10.0.0.2, agent blocks: 10.0.0.3(!)",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			result := (&AgentSummarizer{Host: test.Host}).Summarize(test.HS)
			assert.Equal(t, test.State, result.State)
			assert.Equal(t, test.Output, result.Output)
		})
	}
}

func TestVersionOrdering(t *testing.T) {
	ordered := []string{"1.6.0i1", "1.6.0b1", "1.6.0b2", "1.6.0", "1.6.0p1", "1.6.0p12", "2.0.0"}
	for i := 1; i < len(ordered); i++ {
		assert.Equal(t, -1, compareVersions(parseVersion(ordered[i-1]), parseVersion(ordered[i])), ordered[i])
	}
	assert.Equal(t, 0, compareVersions(parseVersion("1.6"), parseVersion("1.6.0")))
	assert.True(t, isDailyBuild("2024.06.01"))
	assert.True(t, isDailyBuild("1.6.0-2024.06.01"))
	assert.False(t, isExpectedVersion("2024.06.01", &hostconfig.AgentTargetVersion{AtLeast: "1.0"}))
}

func TestStateMarker(t *testing.T) {
	assert.Equal(t, "", StateOK.Marker())
	assert.Equal(t, "(!)", StateWarn.Marker())
	assert.Equal(t, "(!!)", StateCrit.Marker())
	assert.Equal(t, "(?)", StateUnknown.Marker())
	assert.Equal(t, "(?)", State(7).Marker())
}

func TestPiggybackSummarizer(t *testing.T) {
	s := &PiggybackSummarizer{Sources: func() []string { return nil }}
	assert.Equal(t, "", s.Summarize(sections.New()).Output)

	s = &PiggybackSummarizer{Sources: func() []string { return []string{"esx1", "esx2"} }}
	assert.Equal(t, "Successfully processed from source(s) esx1, esx2", s.Summarize(sections.New()).Output)
}
