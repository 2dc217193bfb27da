package multihost

import (
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/errs"
	"github.com/jveski/hostsections/internal/metrics"
	"github.com/jveski/hostsections/internal/sections"
)

type parsedKey struct {
	host sections.HostKey
	name sections.ParsedSectionName
}

type sectionKey struct {
	host sections.HostKey
	name sections.SectionName
}

type parsedResult struct {
	value     any
	cacheInfo *sections.CacheInfo
}

// MultiHostSections holds the host sections of one run. Parse results are
// memoized until the next Reset or AddOrMerge.
type MultiHostSections struct {
	Registry *Registry
	Logger   *zap.SugaredLogger

	mut         sync.Mutex
	hosts       map[sections.HostKey]*sections.HostSections
	parsed      map[parsedKey]*parsedResult
	rawParsed   map[sectionKey]any
	parseErrors []error
}

func New(registry *Registry, logger *zap.SugaredLogger) *MultiHostSections {
	m := &MultiHostSections{
		Registry: registry,
		Logger:   logger,
		hosts:    map[sections.HostKey]*sections.HostSections{},
	}
	m.reset()
	return m
}

func (m *MultiHostSections) AddOrMerge(key sections.HostKey, hs *sections.HostSections) {
	m.mut.Lock()
	defer m.mut.Unlock()

	existing, ok := m.hosts[key]
	if !ok {
		existing = sections.New()
		m.hosts[key] = existing
	}
	existing.Merge(hs)
	m.reset()
}

// HostSections returns the data of key or nil.
func (m *MultiHostSections) HostSections(key sections.HostKey) *sections.HostSections {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.hosts[key]
}

func (m *MultiHostSections) Keys() []sections.HostKey {
	m.mut.Lock()
	defer m.mut.Unlock()

	keys := make([]sections.HostKey, 0, len(m.hosts))
	for key := range m.hosts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Hostname != b.Hostname {
			return a.Hostname < b.Hostname
		}
		if a.Address != b.Address {
			return a.Address < b.Address
		}
		return a.SourceType < b.SourceType
	})
	return keys
}

// Reset forgets every memoized parse result.
func (m *MultiHostSections) Reset() {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.reset()
}

func (m *MultiHostSections) reset() {
	m.parsed = map[parsedKey]*parsedResult{}
	m.rawParsed = map[sectionKey]any{}
	m.parseErrors = nil
}

// ParseErrors returns the failures of parse functions since the last reset.
func (m *MultiHostSections) ParseErrors() []error {
	m.mut.Lock()
	defer m.mut.Unlock()
	return append([]error{}, m.parseErrors...)
}

// RankedSections returns the raw sections of key that produce one of
// parsedNames. Sections superseding more sections come first, ties are broken
// by name.
func (m *MultiHostSections) RankedSections(key sections.HostKey, parsedNames []sections.ParsedSectionName) []sections.SectionName {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.rankedSections(key, parsedNames)
}

func (m *MultiHostSections) rankedSections(key sections.HostKey, parsedNames []sections.ParsedSectionName) []sections.SectionName {
	hs, ok := m.hosts[key]
	if !ok {
		return nil
	}

	wanted := map[sections.ParsedSectionName]bool{}
	for _, name := range parsedNames {
		wanted[name] = true
	}

	list := []sections.SectionName{}
	for name := range hs.Sections {
		if wanted[m.Registry.Plugin(name).ParsedName] {
			list = append(list, name)
		}
	}
	m.rank(list)
	return list
}

func (m *MultiHostSections) rank(list []sections.SectionName) {
	sort.Slice(list, func(i, j int) bool {
		a, b := len(m.Registry.supersedes(list[i])), len(m.Registry.supersedes(list[j]))
		if a != b {
			return a > b
		}
		return list[i] < list[j]
	})
}

// GetParsedSection resolves a parsed section of a host. The first raw section
// in rank order that parses to a non nil value wins.
func (m *MultiHostSections) GetParsedSection(key sections.HostKey, name sections.ParsedSectionName) (any, *sections.CacheInfo) {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.getParsedSection(key, name)
}

func (m *MultiHostSections) getParsedSection(key sections.HostKey, name sections.ParsedSectionName) (any, *sections.CacheInfo) {
	pk := parsedKey{host: key, name: name}
	if result, ok := m.parsed[pk]; ok {
		return result.value, result.cacheInfo
	}

	result := &parsedResult{}
	for _, raw := range m.rankedSections(key, []sections.ParsedSectionName{name}) {
		value := m.parseRaw(key, raw)
		if value == nil {
			continue
		}
		result.value = value
		if info, ok := m.hosts[key].CacheInfo[raw]; ok {
			result.cacheInfo = &info
		}
		break
	}

	m.parsed[pk] = result
	return result.value, result.cacheInfo
}

// parseRaw returns the memoized parse result of a raw section. Sections that are
// superseded by an available section which parses successfully resolve to nil
// without being parsed.
func (m *MultiHostSections) parseRaw(key sections.HostKey, name sections.SectionName) any {
	sk := sectionKey{host: key, name: name}
	if value, ok := m.rawParsed[sk]; ok {
		return value
	}

	m.rawParsed[sk] = nil // breaks supersession cycles

	hs := m.hosts[key]
	for _, superseder := range m.supersededBy(hs, name) {
		if m.parseRaw(key, superseder) != nil {
			m.rawParsed[sk] = nil
			return nil
		}
	}

	rows, ok := hs.Sections[name]
	if !ok {
		m.rawParsed[sk] = nil
		return nil
	}

	plugin := m.Registry.Plugin(name)
	value, err := plugin.Parse(rows)
	if err != nil {
		perr := &errs.ParseError{Section: string(name), Err: err}
		m.Logger.Warnw("parse function failed", "host", key.Hostname, "error", perr)
		m.parseErrors = append(m.parseErrors, perr)
		metrics.ParseErrors.Inc()
		value = nil
	}
	if isNil(value) {
		value = nil
	}
	m.rawParsed[sk] = value

	if value != nil {
		for _, superseded := range m.Registry.supersedes(name) {
			if _, ok := m.rawParsed[sectionKey{host: key, name: superseded}]; !ok {
				m.rawParsed[sectionKey{host: key, name: superseded}] = nil
			}
		}
	}
	return value
}

// supersededBy returns the available sections of hs that supersede name, in rank order.
func (m *MultiHostSections) supersededBy(hs *sections.HostSections, name sections.SectionName) []sections.SectionName {
	list := []sections.SectionName{}
	for candidate := range hs.Sections {
		if candidate == name {
			continue
		}
		for _, s := range m.Registry.supersedes(candidate) {
			if s == name {
				list = append(list, candidate)
				break
			}
		}
	}
	m.rank(list)
	return list
}

// GetSectionKwargs returns the arguments of a check function for a host: the
// parsed section under "section" when one name is requested, else every parsed
// section under "section_<name>". Nothing found at all yields an empty map.
func (m *MultiHostSections) GetSectionKwargs(key sections.HostKey, parsedNames []sections.ParsedSectionName) map[string]any {
	m.mut.Lock()
	defer m.mut.Unlock()

	kwargs := map[string]any{}
	found := false
	for _, name := range parsedNames {
		value, _ := m.getParsedSection(key, name)
		kwargs[argName(name, len(parsedNames))] = value
		found = found || value != nil
	}
	if !found {
		return map[string]any{}
	}
	return kwargs
}

// GetSectionClusterKwargs is like GetSectionKwargs but maps every argument to
// the parsed values of all nodes, keyed by node name.
func (m *MultiHostSections) GetSectionClusterKwargs(nodeKeys []sections.HostKey, parsedNames []sections.ParsedSectionName) map[string]any {
	m.mut.Lock()
	defer m.mut.Unlock()

	kwargs := map[string]any{}
	found := false
	for _, name := range parsedNames {
		perNode := map[sections.HostName]any{}
		for _, key := range nodeKeys {
			value, _ := m.getParsedSection(key, name)
			perNode[key.Hostname] = value
			found = found || value != nil
		}
		kwargs[argName(name, len(parsedNames))] = perNode
	}
	if !found {
		return map[string]any{}
	}
	return kwargs
}

// GetCacheInfo returns the oldest CachedAt and the largest Interval of the raw
// sections producing parsedNames across all hosts, or nil.
func (m *MultiHostSections) GetCacheInfo(parsedNames []sections.ParsedSectionName) *sections.CacheInfo {
	m.mut.Lock()
	defer m.mut.Unlock()

	wanted := map[sections.ParsedSectionName]bool{}
	for _, name := range parsedNames {
		wanted[name] = true
	}

	var result *sections.CacheInfo
	for _, hs := range m.hosts {
		for name, info := range hs.CacheInfo {
			if !wanted[m.Registry.Plugin(name).ParsedName] {
				continue
			}
			if result == nil {
				result = &sections.CacheInfo{CachedAt: info.CachedAt, Interval: info.Interval}
				continue
			}
			if info.CachedAt < result.CachedAt {
				result.CachedAt = info.CachedAt
			}
			if info.Interval > result.Interval {
				result.Interval = info.Interval
			}
		}
	}
	return result
}

func argName(name sections.ParsedSectionName, count int) string {
	if count == 1 {
		return "section"
	}
	return "section_" + string(name)
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}
