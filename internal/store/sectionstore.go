package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/sections"
)

type PersistedSections = map[sections.SectionName]sections.PersistedSection

// SectionStore keeps the persisted sections of one (host, source) pair across runs.
type SectionStore struct {
	Path   string
	Logger *zap.SugaredLogger

	now func() time.Time
}

func NewSectionStore(dir, sourceID string, host sections.HostName, logger *zap.SugaredLogger) *SectionStore {
	return &SectionStore{
		Path:   filepath.Join(dir, sourceID, string(host)),
		Logger: logger,
		now:    time.Now,
	}
}

// Load returns the persisted sections on disk. Unless keepOutdated is set, expired
// and legacy entries are dropped. The file is removed once nothing valid is left in it.
func (s *SectionStore) Load(keepOutdated bool) (PersistedSections, error) {
	result := PersistedSections{}

	buf, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading persisted sections: %w", err)
	}

	onDisk := map[string]*diskEntry{}
	if err := msgpack.Unmarshal(buf, &onDisk); err != nil {
		s.Logger.Warnw("ignoring corrupt persisted sections file", "path", s.Path, "error", err)
		onDisk = map[string]*diskEntry{}
	}

	now := s.now().Unix()
	for name, entry := range onDisk {
		if entry == nil {
			continue
		}
		if !keepOutdated && entry.Expired(now) {
			s.Logger.Debugw("skipping outdated persisted section", "section", name, "outdatedBy", now-entry.ValidUntil)
			continue
		}
		result[sections.SectionName(name)] = entry.PersistedSection
	}

	if len(result) == 0 {
		s.Logger.Debugw("no persisted sections loaded")
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			s.Logger.Warnw("removing persisted sections file", "path", s.Path, "error", err)
		}
	}

	return result, nil
}

func (s *SectionStore) Store(entries PersistedSections) error {
	if len(entries) == 0 {
		return nil
	}

	onDisk := make(map[string]*diskEntry, len(entries))
	for name, entry := range entries {
		onDisk[string(name)] = &diskEntry{PersistedSection: entry}
	}

	buf := &bytes.Buffer{}
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(onDisk); err != nil {
		return fmt.Errorf("encoding persisted sections: %w", err)
	}

	if err := writeFile(s.Path, buf.Bytes()); err != nil {
		return fmt.Errorf("storing persisted sections: %w", err)
	}
	s.Logger.Debugw("stored persisted sections", "count", len(entries))
	return nil
}

// diskEntry is encoded as [cachedAt, validUntil, rows]. Files written by older
// versions contain [validUntil, rows].
type diskEntry struct {
	sections.PersistedSection
}

func (d *diskEntry) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}
	if err := enc.EncodeInt(d.CachedAt); err != nil {
		return err
	}
	if err := enc.EncodeInt(d.ValidUntil); err != nil {
		return err
	}
	return enc.Encode(d.Rows)
}

func (d *diskEntry) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}

	switch n {
	case 2:
		d.Legacy = true
		if d.ValidUntil, err = dec.DecodeInt64(); err != nil {
			return err
		}
	case 3:
		if d.CachedAt, err = dec.DecodeInt64(); err != nil {
			return err
		}
		if d.ValidUntil, err = dec.DecodeInt64(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unexpected persisted section entry length %d", n)
	}

	return dec.Decode(&d.Rows)
}
