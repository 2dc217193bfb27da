package parser

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/jveski/hostsections/internal/sections"
)

// TableParser parses data fetched as already structured tables (SNMP).
type TableParser struct{}

func (TableParser) Parse(raw []byte) (*sections.HostSections, error) {
	hs := sections.New()
	if len(raw) == 0 {
		return hs, nil
	}

	table, err := DecodeTable(raw)
	if err != nil {
		return nil, err
	}
	for name, rows := range table {
		hs.Sections[name] = rows
	}
	return hs, nil
}

// EncodeTable serializes a table so it can be cached like any other raw data.
func EncodeTable(t sections.Table) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("encoding table: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeTable(raw []byte) (sections.Table, error) {
	t := sections.Table{}
	if err := msgpack.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decoding table: %w", err)
	}
	return t, nil
}
