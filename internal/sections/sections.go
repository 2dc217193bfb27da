package sections

import (
	"regexp"
	"sort"
)

type (
	SectionName       string
	ParsedSectionName string
	HostName          string
)

// Row is one content line of a section split into fields.
type Row []string

var validSectionName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func (s SectionName) Valid() bool { return validSectionName.MatchString(string(s)) }

type CacheInfo struct {
	CachedAt int64 // epoch seconds
	Interval int64 // seconds
}

// PersistedSection is a section kept across runs until ValidUntil.
// Legacy is set for entries of the old two-field on-disk format, which are always expired.
type PersistedSection struct {
	CachedAt   int64
	ValidUntil int64
	Rows       []Row
	Legacy     bool
}

func (p PersistedSection) Expired(now int64) bool { return p.Legacy || now > p.ValidUntil }

type SourceType int

const (
	SourceTypeHost SourceType = iota
	SourceTypeManagement
)

func (s SourceType) String() string {
	if s == SourceTypeManagement {
		return "management"
	}
	return "host"
}

// HostKey identifies the data of one host in a run. Address is empty when unknown.
type HostKey struct {
	Hostname   HostName
	Address    string
	SourceType SourceType
}

type HostSections struct {
	Sections           map[SectionName][]Row
	CacheInfo          map[SectionName]CacheInfo
	PiggybackedRawData map[HostName][]string
	PersistedSections  map[SectionName]PersistedSection
}

func New() *HostSections {
	return &HostSections{
		Sections:           map[SectionName][]Row{},
		CacheInfo:          map[SectionName]CacheInfo{},
		PiggybackedRawData: map[HostName][]string{},
		PersistedSections:  map[SectionName]PersistedSection{},
	}
}

// Merge adds the data of other to h. Rows and piggyback lines are concatenated,
// cache info and persisted sections are overwritten per key (last writer wins).
func (h *HostSections) Merge(other *HostSections) {
	if other == nil {
		return
	}
	for name, rows := range other.Sections {
		existing, ok := h.Sections[name]
		if !ok {
			existing = []Row{}
		}
		h.Sections[name] = append(existing, rows...)
	}
	for name, info := range other.CacheInfo {
		h.CacheInfo[name] = info
	}
	for host, lines := range other.PiggybackedRawData {
		h.PiggybackedRawData[host] = append(h.PiggybackedRawData[host], lines...)
	}
	for name, entry := range other.PersistedSections {
		h.PersistedSections[name] = entry
	}
}

// AddPersistedSection makes a persisted entry available as a regular section.
func (h *HostSections) AddPersistedSection(name SectionName, entry PersistedSection) {
	h.Sections[name] = append([]Row{}, entry.Rows...)
	h.CacheInfo[name] = CacheInfo{CachedAt: entry.CachedAt, Interval: entry.ValidUntil - entry.CachedAt}
}

func (h *HostSections) Empty() bool {
	return len(h.Sections) == 0 && len(h.PiggybackedRawData) == 0 && len(h.PersistedSections) == 0
}

// SectionNames returns the names of all sections in a stable order.
func (h *HostSections) SectionNames() []SectionName {
	names := make([]SectionName, 0, len(h.Sections))
	for name := range h.Sections {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Table is the raw data of table based sources (SNMP).
type Table map[SectionName][]Row
