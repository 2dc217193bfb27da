package sources

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/errs"
	"github.com/jveski/hostsections/internal/fetcher"
	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/piggyback"
	"github.com/jveski/hostsections/internal/sections"
	"github.com/jveski/hostsections/internal/store"
)

type Parser interface {
	Parse(raw []byte) (*sections.HostSections, error)
}

// Checker runs a single source: it gets raw data from the cache or the fetcher,
// parses it, merges persisted sections and remembers what went wrong.
type Checker struct {
	Source     *Source
	Fetcher    fetcher.Fetcher
	Parser     Parser
	Summarizer Summarizer
	ExitCodes  hostconfig.ExitCodeSpec

	Cache     *store.FileCache    // nil disables the raw data cache
	Persisted *store.SectionStore // nil disables persisted sections
	Piggyback *piggyback.Store    // receives forwarded data of fresh agent output

	Timeout              time.Duration
	Simulation           bool
	UseOutdatedPersisted bool
	// Debug returns every failure from Run instead of recording it.
	Debug bool

	Logger *zap.SugaredLogger

	hostSections *sections.HostSections
	exception    error
	fromCache    bool
}

// Run returns the host sections of the source. Failures are recorded (see
// Exception) and yield empty host sections. Only termination and configuration
// errors are returned, or every error in debug mode.
func (c *Checker) Run(ctx context.Context) (*sections.HostSections, error) {
	c.exception = nil
	c.fromCache = false

	hs, err := c.run(ctx)
	if err == nil {
		c.hostSections = hs
		return hs, nil
	}

	if errs.IsTerminate(err) || errs.IsConfiguration(err) || c.Debug {
		return nil, err
	}

	c.Logger.Warnw("source failed", "kind", errs.KindOf(err), "error", err)
	c.exception = err
	c.hostSections = sections.New()
	return c.hostSections, nil
}

func (c *Checker) run(ctx context.Context) (*sections.HostSections, error) {
	raw, err := c.rawData(ctx)
	if err != nil {
		return nil, err
	}

	hs, err := c.Parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing data of %s: %w", c.Source.ID, err)
	}

	if c.Piggyback != nil && !c.fromCache {
		if err := c.Piggyback.Write(c.Source.Hostname, hs.PiggybackedRawData); err != nil {
			return nil, err
		}
	}

	if err := c.reconcile(hs); err != nil {
		return nil, err
	}
	return hs, nil
}

func (c *Checker) rawData(ctx context.Context) ([]byte, error) {
	if c.Cache != nil {
		raw, err := c.Cache.Read()
		if err != nil {
			c.Logger.Warnw("unable to read cache file", "error", err)
		}
		if raw != nil {
			c.fromCache = true
			return raw, nil
		}
	}

	if c.Simulation {
		return nil, errs.Transport(nil, "got no data: simulation mode enabled and no cached data present")
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	c.Logger.Debugw("fetching data", "source", c.Source.Describe())
	raw, err := fetcher.Run(ctx, c.Fetcher)
	if err != nil {
		return nil, err
	}

	if c.Cache != nil {
		if err := c.Cache.Write(raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// reconcile stores new persisted sections and fills in the persisted sections
// the fresh data does not contain.
func (c *Checker) reconcile(hs *sections.HostSections) error {
	if c.Persisted == nil {
		return nil
	}

	stored, err := c.Persisted.Load(c.UseOutdatedPersisted)
	if err != nil {
		return err
	}

	if !c.fromCache && len(hs.PersistedSections) > 0 && changed(stored, hs.PersistedSections) {
		for name, entry := range hs.PersistedSections {
			stored[name] = entry
		}
		if err := c.Persisted.Store(stored); err != nil {
			return err
		}
	}

	for name, entry := range stored {
		if _, ok := hs.Sections[name]; ok {
			continue
		}
		c.Logger.Debugw("using persisted section", "section", name)
		hs.AddPersistedSection(name, entry)
	}
	return nil
}

func changed(stored, fresh store.PersistedSections) bool {
	for name, entry := range fresh {
		if current, ok := stored[name]; !ok || !reflect.DeepEqual(current, entry) {
			return true
		}
	}
	return false
}

// Exception returns the failure of the last run, if any.
func (c *Checker) Exception() error { return c.exception }

// HostSections returns the result of the last run.
func (c *Checker) HostSections() *sections.HostSections { return c.hostSections }

// FromCache reports whether the last run used cached raw data.
func (c *Checker) FromCache() bool { return c.fromCache }

// SummaryResult describes the last run. Failures are mapped to a state through
// the host's exit code specification.
func (c *Checker) SummaryResult() *Result {
	if c.exception == nil {
		hs := c.hostSections
		if hs == nil {
			hs = sections.New()
		}
		return c.Summarizer.Summarize(hs)
	}

	kind := errs.KindOf(c.exception)
	fallback := StateCrit
	if kind == errs.KindException {
		fallback = StateUnknown
	}

	state := State(c.ExitCodes.Get(string(kind), int(fallback)))
	return &Result{State: state, Output: c.exception.Error() + state.Marker(), Perfdata: []string{}}
}
