package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/sections"
)

func newTestFileCache(t *testing.T, policy Policy) *FileCache {
	return NewFileCache(t.TempDir(), "agent", "web1", policy, zap.NewNop().Sugar())
}

func TestFileCacheRead(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		fc := newTestFileCache(t, Policy{MayUse: true, MaxAge: time.Hour})
		buf, err := fc.Read()
		require.NoError(t, err)
		assert.Nil(t, buf)
	})

	t.Run("fresh file", func(t *testing.T) {
		fc := newTestFileCache(t, Policy{MayUse: true, MaxAge: time.Hour})
		require.NoError(t, fc.Write([]byte("<<<df>>>")))

		buf, err := fc.Read()
		require.NoError(t, err)
		assert.Equal(t, "<<<df>>>", string(buf))
	})

	t.Run("not permitted", func(t *testing.T) {
		fc := newTestFileCache(t, Policy{MaxAge: time.Hour})
		require.NoError(t, fc.Write([]byte("<<<df>>>")))

		buf, err := fc.Read()
		require.NoError(t, err)
		assert.Nil(t, buf)
	})

	t.Run("simulation grants permission", func(t *testing.T) {
		fc := newTestFileCache(t, Policy{Simulation: true})
		require.NoError(t, fc.Write([]byte("<<<df>>>")))
		fc.now = func() time.Time { return time.Now().Add(time.Hour * 24) }

		buf, err := fc.Read()
		require.NoError(t, err)
		assert.Equal(t, "<<<df>>>", string(buf))
	})

	t.Run("disabled", func(t *testing.T) {
		fc := newTestFileCache(t, Policy{MayUse: true, MaxAge: time.Hour})
		require.NoError(t, fc.Write([]byte("<<<df>>>")))
		fc.Policy.Disabled = true

		buf, err := fc.Read()
		require.NoError(t, err)
		assert.Nil(t, buf)
	})

	t.Run("empty file", func(t *testing.T) {
		fc := newTestFileCache(t, Policy{MayUse: true, MaxAge: time.Hour})
		require.NoError(t, fc.Write([]byte{}))

		buf, err := fc.Read()
		require.NoError(t, err)
		assert.Nil(t, buf)
	})
}

func TestFileCacheMaxAge(t *testing.T) {
	tests := []struct {
		Name        string
		Age         time.Duration
		UseOutdated bool
		Hit         bool
	}{
		{Name: "younger than max age", Age: time.Second * 30, Hit: true},
		{Name: "older than max age", Age: time.Minute * 5, Hit: false},
		{Name: "older than max age with outdated use", Age: time.Minute * 5, UseOutdated: true, Hit: true},
		{Name: "very old with outdated use", Age: time.Hour * 24 * 365, UseOutdated: true, Hit: true},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			fc := newTestFileCache(t, Policy{MayUse: true, UseOutdated: test.UseOutdated, MaxAge: time.Minute})
			require.NoError(t, fc.Write([]byte("data")))

			mtime := time.Now().Add(-test.Age)
			require.NoError(t, os.Chtimes(fc.Path, mtime, mtime))

			buf, err := fc.Read()
			require.NoError(t, err)
			if test.Hit {
				assert.Equal(t, "data", string(buf))
			} else {
				assert.Nil(t, buf)
			}
		})
	}
}

func TestFileCacheWrite(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		fc := newTestFileCache(t, Policy{Disabled: true})
		require.NoError(t, fc.Write([]byte("data")))

		_, err := os.Stat(fc.Path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("replaces existing content", func(t *testing.T) {
		fc := newTestFileCache(t, Policy{})
		require.NoError(t, fc.Write([]byte("first")))
		require.NoError(t, fc.Write([]byte("second")))

		buf, err := os.ReadFile(fc.Path)
		require.NoError(t, err)
		assert.Equal(t, "second", string(buf))

		entries, err := os.ReadDir(filepath.Dir(fc.Path))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temporary files are left behind")
	})

	t.Run("io failure", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "agent")
		require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0644))

		fc := NewFileCache(dir, "agent", "web1", Policy{}, zap.NewNop().Sugar())
		assert.Error(t, fc.Write([]byte("data")))
	})
}

func newTestSectionStore(t *testing.T, now int64) *SectionStore {
	s := NewSectionStore(t.TempDir(), "agent", "web1", zap.NewNop().Sugar())
	s.now = func() time.Time { return time.Unix(now, 0) }
	return s
}

func TestSectionStoreRoundTrip(t *testing.T) {
	s := newTestSectionStore(t, 1000)

	entries := PersistedSections{
		"df":  {CachedAt: 900, ValidUntil: 2000, Rows: []sections.Row{{"/dev/sda", "1"}}},
		"mem": {CachedAt: 900, ValidUntil: 1100, Rows: []sections.Row{}},
	}
	require.NoError(t, s.Store(entries))

	loaded, err := s.Load(false)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
	assert.Equal(t, int64(900), loaded["df"].CachedAt)
	assert.Equal(t, int64(2000), loaded["df"].ValidUntil)
	assert.Equal(t, []sections.Row{{"/dev/sda", "1"}}, loaded["df"].Rows)
}

func TestSectionStoreLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		s := newTestSectionStore(t, 1000)
		loaded, err := s.Load(false)
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("drops expired entries", func(t *testing.T) {
		s := newTestSectionStore(t, 1000)
		require.NoError(t, s.Store(PersistedSections{
			"old": {CachedAt: 100, ValidUntil: 500},
			"new": {CachedAt: 900, ValidUntil: 1500},
		}))

		loaded, err := s.Load(false)
		require.NoError(t, err)
		assert.Contains(t, loaded, sections.SectionName("new"))
		assert.NotContains(t, loaded, sections.SectionName("old"))
	})

	t.Run("keeps expired entries when asked", func(t *testing.T) {
		s := newTestSectionStore(t, 1000)
		require.NoError(t, s.Store(PersistedSections{
			"old": {CachedAt: 100, ValidUntil: 500},
		}))

		loaded, err := s.Load(true)
		require.NoError(t, err)
		assert.Contains(t, loaded, sections.SectionName("old"))

		_, err = os.Stat(s.Path)
		assert.NoError(t, err)
	})

	t.Run("deletes emptied file", func(t *testing.T) {
		s := newTestSectionStore(t, 1000)
		require.NoError(t, s.Store(PersistedSections{
			"old": {CachedAt: 100, ValidUntil: 500},
		}))

		loaded, err := s.Load(false)
		require.NoError(t, err)
		assert.Empty(t, loaded)

		_, err = os.Stat(s.Path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("legacy entries are expired", func(t *testing.T) {
		s := newTestSectionStore(t, 1000)
		buf, err := msgpack.Marshal(map[string][]any{
			"legacy": {int64(9999999999), [][]string{{"a"}}},
		})
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Dir(s.Path), 0755))
		require.NoError(t, os.WriteFile(s.Path, buf, 0644))

		loaded, err := s.Load(true)
		require.NoError(t, err)
		require.Contains(t, loaded, sections.SectionName("legacy"))
		assert.True(t, loaded["legacy"].Legacy)
		assert.Equal(t, []sections.Row{{"a"}}, loaded["legacy"].Rows)

		loaded, err = s.Load(false)
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("corrupt file", func(t *testing.T) {
		s := newTestSectionStore(t, 1000)
		require.NoError(t, os.MkdirAll(filepath.Dir(s.Path), 0755))
		require.NoError(t, os.WriteFile(s.Path, []byte("not msgpack at all"), 0644))

		loaded, err := s.Load(false)
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})
}

func TestSectionStoreStoreEmpty(t *testing.T) {
	s := newTestSectionStore(t, 1000)
	require.NoError(t, s.Store(PersistedSections{}))

	_, err := os.Stat(s.Path)
	assert.True(t, os.IsNotExist(err))
}
