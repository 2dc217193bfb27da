// Package piggyback stores data that one host forwards on behalf of others.
// Files are laid out as <dir>/<target host>/<source host>.
package piggyback

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/sections"
)

type Store struct {
	Dir    string
	Logger *zap.SugaredLogger

	now func() time.Time
}

func NewStore(dir string, logger *zap.SugaredLogger) *Store {
	return &Store{Dir: dir, Logger: logger, now: time.Now}
}

// Write replaces everything source has forwarded so far with data. Targets the
// source no longer sends data for disappear.
func (s *Store) Write(source sections.HostName, data map[sections.HostName][]string) error {
	if err := s.remove(source); err != nil {
		return err
	}

	for target, lines := range data {
		if target == "" || target == source {
			continue
		}

		dir, ok := s.targetDir(string(target))
		if !ok {
			s.Logger.Warnw("ignoring piggyback data for invalid target", "source", source, "target", target)
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating piggyback directory: %w", err)
		}

		buf := []byte(strings.Join(lines, "\n") + "\n")
		if err := os.WriteFile(filepath.Join(dir, string(source)), buf, 0644); err != nil {
			return fmt.Errorf("writing piggyback data for %q: %w", target, err)
		}
		s.Logger.Debugw("stored piggyback data", "source", source, "target", target, "lines", len(lines))
	}
	return nil
}

func (s *Store) remove(source sections.HostName) error {
	targets, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing piggyback directory: %w", err)
	}

	for _, target := range targets {
		if !target.IsDir() {
			continue
		}
		err := os.Remove(filepath.Join(s.Dir, target.Name(), string(source)))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing piggyback data for %q: %w", target.Name(), err)
		}
	}
	return nil
}

// targetDir returns the directory holding the data of target. It is false for
// names that would resolve outside of Dir.
func (s *Store) targetDir(target string) (string, bool) {
	if target == "." || target == ".." || strings.ContainsAny(target, `/\`) {
		return "", false
	}
	dir := filepath.Join(s.Dir, target)
	if filepath.Dir(dir) != filepath.Clean(s.Dir) {
		return "", false
	}
	return dir, true
}

// Get returns the concatenated data forwarded for target by all sources. Files
// older than maxAge are ignored when maxAge is positive.
func (s *Store) Get(target string, maxAge time.Duration) ([]byte, error) {
	if target == "" {
		return nil, nil
	}

	dir, ok := s.targetDir(target)
	if !ok {
		return nil, nil
	}
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing piggyback data: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	buf := &bytes.Buffer{}
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		info, err := file.Info()
		if err != nil {
			return nil, fmt.Errorf("checking piggyback file: %w", err)
		}
		if age := s.now().Sub(info.ModTime()); maxAge > 0 && age > maxAge {
			s.Logger.Debugw("ignoring outdated piggyback data", "target", target, "source", file.Name(), "age", age)
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading piggyback data: %w", err)
		}
		buf.Write(content)
	}
	return buf.Bytes(), nil
}

// Sources lists the hosts that currently forward data for target.
func (s *Store) Sources(target string) []string {
	dir, ok := s.targetDir(target)
	if !ok {
		return nil
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	list := []string{}
	for _, file := range files {
		if !file.IsDir() {
			list = append(list, file.Name())
		}
	}
	sort.Strings(list)
	return list
}
