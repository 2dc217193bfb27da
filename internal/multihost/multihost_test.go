package multihost

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/errs"
	"github.com/jveski/hostsections/internal/sections"
)

func hostSections(data map[sections.SectionName][]sections.Row) *sections.HostSections {
	hs := sections.New()
	for name, rows := range data {
		hs.Sections[name] = rows
	}
	return hs
}

func key(name string) sections.HostKey {
	return sections.HostKey{Hostname: sections.HostName(name), SourceType: sections.SourceTypeHost}
}

func TestSupersession(t *testing.T) {
	invoked := map[sections.SectionName]int{}
	track := func(name sections.SectionName) ParseFunc {
		return func(rows []sections.Row) (any, error) {
			invoked[name]++
			return rows, nil
		}
	}

	reg := NewRegistry()
	require.NoError(t, reg.Register(&SectionPlugin{Name: "lnx_if", ParsedName: "interfaces", Parse: track("lnx_if"), Supersedes: []sections.SectionName{"if"}}))
	require.NoError(t, reg.Register(&SectionPlugin{Name: "if", ParsedName: "if", Parse: track("if")}))

	data := map[sections.SectionName][]sections.Row{
		"lnx_if": {{"eth0"}},
		"if":     {{"1"}},
	}
	m := New(reg, zap.NewNop().Sugar())
	m.AddOrMerge(key("a"), hostSections(data))
	m.AddOrMerge(key("b"), hostSections(data))

	assert.Equal(t, []sections.SectionName{"lnx_if"}, m.RankedSections(key("a"), []sections.ParsedSectionName{"interfaces"}))
	assert.Equal(t, []sections.SectionName{"if"}, m.RankedSections(key("a"), []sections.ParsedSectionName{"if"}))

	value, _ := m.GetParsedSection(key("a"), "interfaces")
	assert.Equal(t, []sections.Row{{"eth0"}}, value)

	// the superseded section resolves to nothing once its superseder parsed
	value, _ = m.GetParsedSection(key("a"), "if")
	assert.Nil(t, value)

	// and also when it is requested before its superseder
	value, _ = m.GetParsedSection(key("b"), "if")
	assert.Nil(t, value)

	assert.Equal(t, 2, invoked["lnx_if"])
	assert.Equal(t, 0, invoked["if"])
}

func TestSupersessionFallback(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&SectionPlugin{
		Name:       "lnx_if",
		ParsedName: "interfaces",
		Parse:      func(rows []sections.Row) (any, error) { return nil, nil },
		Supersedes: []sections.SectionName{"if"},
	}))
	require.NoError(t, reg.Register(&SectionPlugin{Name: "if", ParsedName: "interfaces"}))

	m := New(reg, zap.NewNop().Sugar())
	m.AddOrMerge(key("a"), hostSections(map[sections.SectionName][]sections.Row{
		"lnx_if": {},
		"if":     {{"1"}},
	}))

	value, _ := m.GetParsedSection(key("a"), "interfaces")
	assert.Equal(t, []sections.Row{{"1"}}, value)
}

func TestTransitiveRanking(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&SectionPlugin{Name: "c", ParsedName: "x", Supersedes: []sections.SectionName{"b"}}))
	require.NoError(t, reg.Register(&SectionPlugin{Name: "b", ParsedName: "x", Supersedes: []sections.SectionName{"a"}}))
	require.NoError(t, reg.Register(&SectionPlugin{Name: "a", ParsedName: "x"}))
	require.NoError(t, reg.Register(&SectionPlugin{Name: "d", ParsedName: "x"}))

	m := New(reg, zap.NewNop().Sugar())
	m.AddOrMerge(key("h"), hostSections(map[sections.SectionName][]sections.Row{"a": {}, "b": {}, "c": {}, "d": {}}))

	assert.Equal(t, []sections.SectionName{"c", "b", "a", "d"}, m.RankedSections(key("h"), []sections.ParsedSectionName{"x"}))
	assert.Nil(t, m.RankedSections(key("other"), []sections.ParsedSectionName{"x"}))
}

func TestSupersessionCycle(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&SectionPlugin{Name: "a", Supersedes: []sections.SectionName{"b"}}))
	require.NoError(t, reg.Register(&SectionPlugin{Name: "b", Supersedes: []sections.SectionName{"a"}}))

	m := New(reg, zap.NewNop().Sugar())
	m.AddOrMerge(key("h"), hostSections(map[sections.SectionName][]sections.Row{"a": {{"1"}}, "b": {{"2"}}}))

	// the section asked for first yields to the other one
	value, _ := m.GetParsedSection(key("h"), "a")
	assert.Nil(t, value)
	value, _ = m.GetParsedSection(key("h"), "b")
	assert.Equal(t, []sections.Row{{"2"}}, value)
}

func TestClusterKwargs(t *testing.T) {
	m := New(NewRegistry(), zap.NewNop().Sugar())
	m.AddOrMerge(key("n1"), hostSections(map[sections.SectionName][]sections.Row{"x": {{"1"}}}))
	m.AddOrMerge(key("n2"), hostSections(map[sections.SectionName][]sections.Row{"y": {{"2"}}}))

	kwargs := m.GetSectionClusterKwargs([]sections.HostKey{key("n1"), key("n2")}, []sections.ParsedSectionName{"x"})
	assert.Equal(t, map[string]any{
		"section": map[sections.HostName]any{"n1": []sections.Row{{"1"}}, "n2": nil},
	}, kwargs)

	kwargs = m.GetSectionClusterKwargs([]sections.HostKey{key("n1"), key("n2")}, []sections.ParsedSectionName{"z"})
	assert.Equal(t, map[string]any{}, kwargs)
}

func TestSectionKwargs(t *testing.T) {
	m := New(NewRegistry(), zap.NewNop().Sugar())
	m.AddOrMerge(key("a"), hostSections(map[sections.SectionName][]sections.Row{"x": {{"1"}}, "y": {}}))

	assert.Equal(t, map[string]any{"section": []sections.Row{{"1"}}}, m.GetSectionKwargs(key("a"), []sections.ParsedSectionName{"x"}))
	assert.Equal(t, map[string]any{
		"section_x": []sections.Row{{"1"}},
		"section_z": nil,
	}, m.GetSectionKwargs(key("a"), []sections.ParsedSectionName{"x", "z"}))
	assert.Equal(t, map[string]any{}, m.GetSectionKwargs(key("a"), []sections.ParsedSectionName{"z"}))
	assert.Equal(t, map[string]any{}, m.GetSectionKwargs(key("nope"), []sections.ParsedSectionName{"x"}))

	// a section without rows is still a section
	assert.Equal(t, map[string]any{"section": []sections.Row{}}, m.GetSectionKwargs(key("a"), []sections.ParsedSectionName{"y"}))
}

func TestParseErrors(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, reg.Register(&SectionPlugin{Name: "x", Parse: func(rows []sections.Row) (any, error) { return nil, boom }}))

	m := New(reg, zap.NewNop().Sugar())
	m.AddOrMerge(key("a"), hostSections(map[sections.SectionName][]sections.Row{"x": {{"1"}}}))

	value, info := m.GetParsedSection(key("a"), "x")
	assert.Nil(t, value)
	assert.Nil(t, info)

	parseErrs := m.ParseErrors()
	require.Len(t, parseErrs, 1)
	assert.ErrorIs(t, parseErrs[0], boom)
	pe := &errs.ParseError{}
	require.ErrorAs(t, parseErrs[0], &pe)
	assert.Equal(t, "x", pe.Section)

	m.Reset()
	assert.Empty(t, m.ParseErrors())
}

func TestMemoization(t *testing.T) {
	calls := 0
	reg := NewRegistry()
	require.NoError(t, reg.Register(&SectionPlugin{Name: "x", Parse: func(rows []sections.Row) (any, error) {
		calls++
		return len(rows), nil
	}}))

	m := New(reg, zap.NewNop().Sugar())
	m.AddOrMerge(key("a"), hostSections(map[sections.SectionName][]sections.Row{"x": {{"1"}}}))

	for i := 0; i < 3; i++ {
		value, _ := m.GetParsedSection(key("a"), "x")
		assert.Equal(t, 1, value)
	}
	assert.Equal(t, 1, calls)

	// new data invalidates the memo tables
	m.AddOrMerge(key("a"), hostSections(map[sections.SectionName][]sections.Row{"x": {{"2"}}}))
	value, _ := m.GetParsedSection(key("a"), "x")
	assert.Equal(t, 2, value)
	assert.Equal(t, 2, calls)
}

func TestCacheInfo(t *testing.T) {
	m := New(NewRegistry(), zap.NewNop().Sugar())

	a := hostSections(map[sections.SectionName][]sections.Row{"x": {{"1"}}})
	a.CacheInfo["x"] = sections.CacheInfo{CachedAt: 100, Interval: 60}
	b := hostSections(map[sections.SectionName][]sections.Row{"x": {{"1"}}})
	b.CacheInfo["x"] = sections.CacheInfo{CachedAt: 200, Interval: 120}
	m.AddOrMerge(key("a"), a)
	m.AddOrMerge(key("b"), b)

	assert.Equal(t, &sections.CacheInfo{CachedAt: 100, Interval: 120}, m.GetCacheInfo([]sections.ParsedSectionName{"x"}))
	assert.Nil(t, m.GetCacheInfo([]sections.ParsedSectionName{"y"}))

	_, info := m.GetParsedSection(key("b"), "x")
	assert.Equal(t, &sections.CacheInfo{CachedAt: 200, Interval: 120}, info)
}

func TestKeys(t *testing.T) {
	m := New(NewRegistry(), zap.NewNop().Sugar())
	mgmt := sections.HostKey{Hostname: "a", Address: "10.0.1.1", SourceType: sections.SourceTypeManagement}
	m.AddOrMerge(key("b"), sections.New())
	m.AddOrMerge(mgmt, sections.New())
	m.AddOrMerge(key("a"), sections.New())

	assert.Equal(t, []sections.HostKey{key("a"), mgmt, key("b")}, m.Keys())
}

func TestRegisterErrors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&SectionPlugin{Name: "x"}))
	assert.Error(t, reg.Register(&SectionPlugin{Name: "x"}))
	assert.Error(t, reg.Register(&SectionPlugin{Name: "not valid"}))
}
