// Package parser turns raw source data into HostSections.
package parser

import (
	"bytes"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/jveski/hostsections/internal/sections"
)

// AgentParser parses the line based agent output format:
//
//	<<<name:opt1(args):opt2>>>   section header
//	<<<>>>                       section footer
//	<<<<hostname>>>>             start of data forwarded for another host
//	<<<<>>>>                     end of forwarded data
//
// Parsing never fails. Malformed input is logged and skipped.
type AgentParser struct {
	Hostname      sections.HostName
	CheckInterval time.Duration
	Translate     func(string) string
	Logger        *zap.SugaredLogger
	Now           func() time.Time
}

func (p *AgentParser) Parse(raw []byte) (*sections.HostSections, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	s := &agentState{
		parser:       p,
		result:       sections.New(),
		now:          now().Unix(),
		piggybackAge: int64(1.5 * p.CheckInterval.Seconds()),
		persisting:   map[sections.SectionName]bool{},
	}

	for _, line := range bytes.Split(raw, []byte("\n")) {
		s.handle(strings.TrimRight(string(line), "\r"))
	}
	return s.result, nil
}

type agentState struct {
	parser *AgentParser
	result *sections.HostSections

	now          int64
	piggybackAge int64

	piggybackTarget sections.HostName

	current    *sectionHeader // nil while no (valid) section is open
	persisting map[sections.SectionName]bool
}

func (s *agentState) handle(line string) {
	stripped := strings.TrimSpace(line)

	switch {
	case isPiggybackHeader(stripped):
		s.current = nil
		s.piggybackTarget = s.piggybackHostname(stripped[4 : len(stripped)-4])

	case s.piggybackTarget != "":
		if isSectionHeader(stripped) && len(stripped) > 6 {
			line = addCacheInfo(stripped, s.now, s.piggybackAge)
		}
		s.result.PiggybackedRawData[s.piggybackTarget] = append(s.result.PiggybackedRawData[s.piggybackTarget], line)

	case isSectionHeader(stripped):
		s.openSection(stripped[3 : len(stripped)-3])

	case stripped != "" && s.current != nil:
		if !s.current.nostrip {
			line = stripped
		}
		row := s.current.split(line)
		for i, field := range row {
			row[i] = s.current.decode(field)
		}
		s.appendRow(row)
	}
}

func (s *agentState) piggybackHostname(name string) sections.HostName {
	if name == "" {
		return ""
	}
	if s.parser.Translate != nil {
		name = s.parser.Translate(name)
	}
	host := sections.HostName(sanitizeHostname(name))
	if host == "." || host == ".." {
		s.parser.Logger.Warnw("ignoring piggyback data for invalid hostname", "hostname", name)
		return ""
	}
	if host == s.parser.Hostname {
		return "" // never piggyback to ourselves
	}
	return host
}

func (s *agentState) openSection(header string) {
	if header == "" {
		s.current = nil
		return
	}

	h := parseSectionHeader(header, s.parser.Logger)
	if !h.name.Valid() {
		s.parser.Logger.Warnw("ignoring section with invalid name", "section", string(h.name))
		s.current = nil
		return
	}
	s.current = h

	if _, ok := s.result.Sections[h.name]; !ok {
		s.result.Sections[h.name] = []sections.Row{}
	}

	if h.persistUntil != nil {
		until := *h.persistUntil
		s.result.CacheInfo[h.name] = sections.CacheInfo{CachedAt: s.now, Interval: until - s.now}
		s.result.PersistedSections[h.name] = sections.PersistedSection{
			CachedAt:   s.now,
			ValidUntil: until,
			Rows:       append([]sections.Row{}, s.result.Sections[h.name]...),
		}
		s.persisting[h.name] = true
	}

	if h.cached != nil {
		s.result.CacheInfo[h.name] = *h.cached
	}
}

func (s *agentState) appendRow(row sections.Row) {
	name := s.current.name
	s.result.Sections[name] = append(s.result.Sections[name], row)

	if s.persisting[name] {
		entry := s.result.PersistedSections[name]
		entry.Rows = append(entry.Rows, row)
		s.result.PersistedSections[name] = entry
	}
}

type sectionHeader struct {
	name         sections.SectionName
	separator    string // raw bytes, empty splits on whitespace
	persistUntil *int64
	cached       *sections.CacheInfo
	encoding     string
	nostrip      bool
}

func parseSectionHeader(header string, logger *zap.SugaredLogger) *sectionHeader {
	parts := strings.Split(header, ":")
	h := &sectionHeader{name: sections.SectionName(parts[0])}

	for _, opt := range parts[1:] {
		name, args, _ := strings.Cut(opt, "(")
		args = strings.TrimSuffix(args, ")")

		switch name {
		case "sep":
			code, err := strconv.Atoi(args)
			if err != nil || code < 0 || code > utf8.MaxRune {
				logger.Debugw("ignoring invalid separator", "section", parts[0], "sep", args)
				continue
			}
			// codes below 256 are single bytes of the undecoded line
			if code < 0x100 {
				h.separator = string([]byte{byte(code)})
			} else {
				h.separator = string(rune(code))
			}

		case "persist":
			until, err := strconv.ParseInt(args, 10, 64)
			if err != nil {
				logger.Warnw("ignoring invalid persist option", "section", parts[0], "persist", args)
				continue
			}
			h.persistUntil = &until

		case "cached":
			at, interval, ok := strings.Cut(args, ",")
			cachedAt, err1 := strconv.ParseInt(strings.TrimSpace(at), 10, 64)
			cacheInterval, err2 := strconv.ParseInt(strings.TrimSpace(interval), 10, 64)
			if !ok || err1 != nil || err2 != nil {
				logger.Warnw("ignoring invalid cached option", "section", parts[0], "cached", args)
				continue
			}
			h.cached = &sections.CacheInfo{CachedAt: cachedAt, Interval: cacheInterval}

		case "encoding":
			h.encoding = args

		case "nostrip":
			h.nostrip = true
		}
	}

	return h
}

func (h *sectionHeader) split(line string) sections.Row {
	if h.separator == "" {
		return sections.Row(strings.Fields(line))
	}
	return sections.Row(strings.Split(line, h.separator))
}

// decode converts a field to UTF-8. Without a declared encoding, invalid UTF-8 is
// assumed to be Latin-1.
func (h *sectionHeader) decode(line string) string {
	if h.encoding != "" {
		enc, err := ianaindex.IANA.Encoding(h.encoding)
		if err == nil && enc != nil {
			if decoded, err := enc.NewDecoder().String(line); err == nil {
				return decoded
			}
		}
	}

	if utf8.ValidString(line) {
		return line
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().String(line)
	if err != nil {
		return strings.ToValidUTF8(line, string(utf8.RuneError))
	}
	return decoded
}

func isPiggybackHeader(line string) bool {
	return len(line) >= 8 && strings.HasPrefix(line, "<<<<") && strings.HasSuffix(line, ">>>>")
}

func isSectionHeader(line string) bool {
	return len(line) >= 6 && strings.HasPrefix(line, "<<<") && strings.HasSuffix(line, ">>>")
}

// addCacheInfo marks a forwarded section header with the time the data was received
// unless the source already provided that information.
func addCacheInfo(header string, cachedAt, age int64) string {
	if strings.Contains(header, ":cached(") || strings.Contains(header, ":persist(") {
		return header
	}
	return "<<<" + header[3:len(header)-3] + ":cached(" + strconv.FormatInt(cachedAt, 10) + "," + strconv.FormatInt(age, 10) + ")>>>"
}

func sanitizeHostname(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
