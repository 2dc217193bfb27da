package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/sections"
)

// Policy controls the raw data cache for one run.
type Policy struct {
	// Disabled turns off reading and writing of cache files.
	Disabled bool
	// MayUse allows reading cache files that are younger than MaxAge.
	MayUse bool
	// UseOutdated allows reading cache files of any age.
	UseOutdated bool
	// Simulation always reads cache files regardless of MayUse and age.
	Simulation bool
	MaxAge     time.Duration
}

// FileCache is the raw data cache of one (host, source) pair.
type FileCache struct {
	Path   string
	Policy Policy
	Logger *zap.SugaredLogger

	now func() time.Time
}

func NewFileCache(dir, sourceID string, host sections.HostName, policy Policy, logger *zap.SugaredLogger) *FileCache {
	return &FileCache{
		Path:   filepath.Join(dir, sourceID, string(host)),
		Policy: policy,
		Logger: logger,
		now:    time.Now,
	}
}

// Read returns the cached raw data or nil if the cache must not be used.
func (f *FileCache) Read() ([]byte, error) {
	stat, err := os.Stat(f.Path)
	if os.IsNotExist(err) {
		f.Logger.Debugw("not using cache", "reason", "does not exist")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking cache file: %w", err)
	}

	if f.Policy.Disabled {
		f.Logger.Debugw("not using cache", "reason", "cache usage disabled")
		return nil, nil
	}

	if !f.Policy.MayUse && !f.Policy.Simulation {
		f.Logger.Debugw("not using cache", "reason", "not permitted")
		return nil, nil
	}

	age := f.now().Sub(stat.ModTime())
	if !f.Policy.UseOutdated && !f.Policy.Simulation && age > f.Policy.MaxAge {
		f.Logger.Debugw("not using cache", "reason", "too old", "age", age, "maxAge", f.Policy.MaxAge)
		return nil, nil
	}

	buf, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	if len(buf) == 0 {
		f.Logger.Debugw("not using cache", "reason", "empty")
		return nil, nil
	}

	f.Logger.Debugw("using data from cache file", "path", f.Path)
	return buf, nil
}

func (f *FileCache) Write(raw []byte) error {
	if f.Policy.Disabled {
		f.Logger.Debugw("not writing cache file", "reason", "cache usage disabled")
		return nil
	}

	if err := writeFile(f.Path, raw); err != nil {
		return fmt.Errorf("writing cache file %s: %w", f.Path, err)
	}
	f.Logger.Debugw("wrote cache file", "path", f.Path)
	return nil
}
