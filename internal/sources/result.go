package sources

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/sections"
)

type State int

const (
	StateOK State = iota
	StateWarn
	StateCrit
	StateUnknown
)

var stateMarkers = []string{"", "(!)", "(!!)", "(?)"}

// Marker is appended to the text of a summary to highlight its state.
func (s State) Marker() string {
	if s < 0 || int(s) >= len(stateMarkers) {
		return stateMarkers[StateUnknown]
	}
	return stateMarkers[s]
}

func (s State) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateWarn:
		return "WARN"
	case StateCrit:
		return "CRIT"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Result struct {
	State    State    `json:"state"`
	Output   string   `json:"output"`
	Perfdata []string `json:"perfdata"`
}

// Summarizer describes the outcome of a successful run of a source.
type Summarizer interface {
	Summarize(hs *sections.HostSections) *Result
}

type SummarizerFunc func(hs *sections.HostSections) *Result

func (s SummarizerFunc) Summarize(hs *sections.HostSections) *Result { return s(hs) }

// DefaultSummarizer reports success without further details.
var DefaultSummarizer = SummarizerFunc(func(*sections.HostSections) *Result {
	return &Result{State: StateOK, Output: "Success", Perfdata: []string{}}
})

// AgentSummarizer reports the agent version and operating system found in the
// check_mk section and compares the agent's settings with the host configuration.
type AgentSummarizer struct {
	Host *hostconfig.HostConfig
}

func (a *AgentSummarizer) Summarize(hs *sections.HostSections) *Result {
	cmk := hs.Sections["check_mk"]
	info := agentInfo(cmk)

	result := &Result{State: StateOK, Perfdata: []string{}}
	output := []string{}
	if !a.Host.IsCluster() {
		output = append(output, "Version: "+info["version"], "OS: "+info["agentos"])
	}

	if len(cmk) > 0 {
		for _, sub := range []func(map[string]string) (State, string, bool){a.checkVersion, a.checkOnlyFrom} {
			state, text, ok := sub(info)
			if !ok {
				continue
			}
			if state > result.State {
				result.State = state
			}
			output = append(output, text)
		}
	}

	result.Output = strings.Join(output, ", ")
	return result
}

func agentInfo(cmk []sections.Row) map[string]string {
	info := map[string]string{"version": "unknown", "agentos": "unknown"}
	for _, row := range cmk {
		if len(row) < 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSuffix(row[0], ":"))
		info[key] = strings.Join(row[1:], " ")
	}
	return info
}

func (a *AgentSummarizer) checkVersion(info map[string]string) (State, string, bool) {
	target := a.Host.AgentTargetVersion
	if target == nil || (target.Exact == "" && target.AtLeast == "") {
		return 0, "", false
	}

	version := info["version"]
	if isExpectedVersion(version, target) {
		return 0, "", false
	}

	expected := target.Exact
	if expected == "" {
		expected = "at least release " + target.AtLeast
	}
	state := State(a.Host.ExitCodes.Get("wrong_version", int(StateWarn)))
	return state, fmt.Sprintf("unexpected agent version %s (should be %s)%s", version, expected, state.Marker()), true
}

func isExpectedVersion(version string, target *hostconfig.AgentTargetVersion) bool {
	switch version {
	case "", "unknown", "(unknown)", "None":
		return false
	}
	if target.Exact != "" {
		return version == target.Exact
	}
	if isDailyBuild(version) {
		return false
	}
	return compareVersions(parseVersion(version), parseVersion(target.AtLeast)) >= 0
}

var dailyBuild = regexp.MustCompile(`(^|-)\d{4}\.\d{2}\.\d{2}$`)

func isDailyBuild(version string) bool { return dailyBuild.MatchString(version) }

var versionPattern = regexp.MustCompile(`^(\d+(?:\.\d+)*)(?:([ibp])(\d+))?`)

// parseVersion turns versions like 1.6.0, 1.6.0i3, 1.6.0b2 or 1.6.0p12 into
// comparable numbers. Innovation releases sort before betas, betas before the
// release and patch releases after it.
func parseVersion(version string) []int {
	match := versionPattern.FindStringSubmatch(version)
	if match == nil {
		return nil
	}

	parts := []int{}
	for _, p := range strings.Split(match[1], ".") {
		n, _ := strconv.Atoi(p)
		parts = append(parts, n)
	}
	for len(parts) < 3 {
		parts = append(parts, 0)
	}

	rank := map[string]int{"i": 0, "b": 1, "": 2, "p": 3}[match[2]]
	suffix, _ := strconv.Atoi(match[3])
	return append(parts, rank, suffix)
}

func compareVersions(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func (a *AgentSummarizer) checkOnlyFrom(info map[string]string) (State, string, bool) {
	agentOnlyFrom, ok := info["onlyfrom"]
	if !ok || a.Host.OnlyFrom == nil {
		return 0, "", false
	}

	allowed := expandAddresses(strings.Fields(agentOnlyFrom))
	expected := expandAddresses(a.Host.OnlyFrom)

	exceeding := difference(allowed, expected)
	missing := difference(expected, allowed)
	if len(exceeding) == 0 && len(missing) == 0 {
		return StateOK, "allowed IP ranges: " + strings.Join(sortedKeys(allowed), " "), true
	}

	texts := []string{}
	if len(exceeding) > 0 {
		texts = append(texts, "agent allows extra: "+strings.Join(exceeding, " "))
	}
	if len(missing) > 0 {
		texts = append(texts, "agent blocks: "+strings.Join(missing, " "))
	}
	return StateWarn, "invalid access configuration: " + strings.Join(texts, ", ") + StateWarn.Marker(), true
}

// expandAddresses expands words like 10.0.0.{1,2} into 10.0.0.1 and 10.0.0.2.
func expandAddresses(words []string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, word := range words {
		prefix, rest, ok := strings.Cut(word, "{")
		if !ok {
			set[word] = struct{}{}
			continue
		}
		alternatives, suffix, ok := strings.Cut(rest, "}")
		if !ok {
			set[word] = struct{}{}
			continue
		}
		for _, alt := range strings.Split(alternatives, ",") {
			set[prefix+alt+suffix] = struct{}{}
		}
	}
	return set
}

func difference(a, b map[string]struct{}) []string {
	list := []string{}
	for key := range a {
		if _, ok := b[key]; !ok {
			list = append(list, key)
		}
	}
	sort.Strings(list)
	return list
}

func sortedKeys(m map[string]struct{}) []string {
	return difference(m, nil)
}

// PiggybackSummarizer names the hosts that forwarded data.
type PiggybackSummarizer struct {
	Sources func() []string
}

func (p *PiggybackSummarizer) Summarize(hs *sections.HostSections) *Result {
	sources := p.Sources()
	if len(sources) == 0 {
		return &Result{State: StateOK, Output: "", Perfdata: []string{}}
	}
	return &Result{
		State:    StateOK,
		Output:   "Successfully processed from source(s) " + strings.Join(sources, ", "),
		Perfdata: []string{},
	}
}
