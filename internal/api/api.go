// Package api holds the types exchanged between the collector and sectionctl.
package api

import (
	"time"

	"github.com/jveski/hostsections/internal/sections"
)

type RunStatus struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Hosts    []*HostStatus `json:"hosts"`
}

type HostStatus struct {
	Name      string           `json:"name"`
	Sources   string           `json:"sources"` // one line description of where the data comes from
	Summaries []*SourceSummary `json:"summaries"`
}

type SourceSummary struct {
	Source      string `json:"source"`
	Description string `json:"description"`
	State       string `json:"state"`
	Output      string `json:"output"`
	FromCache   bool   `json:"fromCache,omitempty"`
}

// Sections is either the raw sections of a host or, when parsed sections were
// requested, the arguments a check function would receive.
type Sections struct {
	Host      string                                  `json:"host"`
	Raw       map[sections.SectionName][]sections.Row `json:"raw,omitempty"`
	Kwargs    map[string]any                          `json:"kwargs,omitempty"`
	CacheInfo *sections.CacheInfo                     `json:"cacheInfo,omitempty"`
}
