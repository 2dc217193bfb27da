// Package multihost aggregates the host sections of every host and source of a
// run and resolves the parsed sections consumers ask for.
package multihost

import (
	"fmt"
	"sort"

	"github.com/jveski/hostsections/internal/sections"
)

// ParseFunc turns the rows of a raw section into its parsed value. A nil value
// means the section holds nothing useful.
type ParseFunc func(rows []sections.Row) (any, error)

type SectionPlugin struct {
	Name       sections.SectionName
	ParsedName sections.ParsedSectionName
	Parse      ParseFunc
	// Supersedes lists raw sections that are ignored when this one parses successfully.
	Supersedes []sections.SectionName
}

type Registry struct {
	plugins map[sections.SectionName]*SectionPlugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: map[sections.SectionName]*SectionPlugin{}}
}

func (r *Registry) Register(p *SectionPlugin) error {
	if !p.Name.Valid() {
		return fmt.Errorf("invalid section name %q", p.Name)
	}
	if _, ok := r.plugins[p.Name]; ok {
		return fmt.Errorf("section %q is registered more than once", p.Name)
	}
	if p.ParsedName == "" {
		p.ParsedName = sections.ParsedSectionName(p.Name)
	}
	if p.Parse == nil {
		p.Parse = parseRows
	}
	r.plugins[p.Name] = p
	return nil
}

// Plugin returns the plugin of a raw section. Sections nobody registered parse
// to their rows under a parsed name equal to their own name.
func (r *Registry) Plugin(name sections.SectionName) *SectionPlugin {
	if p, ok := r.plugins[name]; ok {
		return p
	}
	return &SectionPlugin{Name: name, ParsedName: sections.ParsedSectionName(name), Parse: parseRows}
}

func parseRows(rows []sections.Row) (any, error) { return rows, nil }

// supersedes returns every section name superseded by name, directly or through
// the sections it supersedes.
func (r *Registry) supersedes(name sections.SectionName) []sections.SectionName {
	seen := map[sections.SectionName]bool{name: true}
	queue := []sections.SectionName{name}
	list := []sections.SectionName{}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, s := range r.Plugin(current).Supersedes {
			if seen[s] {
				continue
			}
			seen[s] = true
			list = append(list, s)
			queue = append(queue, s)
		}
	}

	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}
