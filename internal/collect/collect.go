// Package collect runs every source of a set of hosts and gathers the results.
package collect

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jveski/hostsections/internal/errs"
	"github.com/jveski/hostsections/internal/fetcher"
	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/metrics"
	"github.com/jveski/hostsections/internal/multihost"
	"github.com/jveski/hostsections/internal/piggyback"
	"github.com/jveski/hostsections/internal/sections"
	"github.com/jveski/hostsections/internal/sources"
	"github.com/jveski/hostsections/internal/store"
)

// SourceSummary is the outcome of one source of a host.
type SourceSummary struct {
	SourceID    string        `json:"source"`
	Description string        `json:"description"`
	State       sources.State `json:"state"`
	Output      string        `json:"output"`
	FromCache   bool          `json:"fromCache"`
}

// Run is the result of one collection.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Config   *hostconfig.Config
	Sections *multihost.MultiHostSections

	summaries map[sections.HostName][]*SourceSummary
}

// Summaries returns the source summaries of a host in source order.
func (r *Run) Summaries(host sections.HostName) []*SourceSummary {
	return r.summaries[host]
}

// Hosts returns the names of all hosts that were collected.
func (r *Run) Hosts() []sections.HostName {
	list := make([]sections.HostName, 0, len(r.summaries))
	for host := range r.summaries {
		list = append(list, host)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// NodeKeys returns the host keys of the nodes of a cluster.
func (r *Run) NodeKeys(cluster *hostconfig.HostConfig) []sections.HostKey {
	keys := []sections.HostKey{}
	for _, name := range cluster.Nodes {
		node := r.Config.Lookup(name)
		if node == nil {
			continue
		}
		keys = append(keys, HostKey(node))
	}
	return keys
}

// HostKey returns the key of the primary data of host.
func HostKey(host *hostconfig.HostConfig) sections.HostKey {
	return sections.HostKey{Hostname: sections.HostName(host.Name), Address: host.Address, SourceType: sections.SourceTypeHost}
}

// ManagementKey returns the key of the data fetched from the management board
// of host. It is false when host has no management board.
func ManagementKey(host *hostconfig.HostConfig) (sections.HostKey, bool) {
	if !host.HasManagementBoard() {
		return sections.HostKey{}, false
	}
	return sections.HostKey{Hostname: sections.HostName(host.Name), Address: host.Management.Address, SourceType: sections.SourceTypeManagement}, true
}

type Collector struct {
	Config   *hostconfig.Config
	Env      *sources.Env
	Registry *multihost.Registry
	// Parallelism limits the number of hosts fetched at the same time.
	Parallelism int
	Logger      *zap.SugaredLogger
}

// Run collects the given hosts, or every configured host if names is empty.
// Clusters are collected through their nodes.
func (c *Collector) Run(ctx context.Context, names []string) (*Run, error) {
	hosts, err := c.resolve(names)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.Must(uuid.NewRandom()).String(),
		Started:   time.Now(),
		Config:    c.Config,
		Sections:  multihost.New(c.Registry, c.Logger),
		summaries: map[sections.HostName][]*SourceSummary{},
	}
	logger := c.Logger.With("run", run.ID)
	logger.Infow("starting collection", "hosts", len(hosts))

	plans := make([]*hostPlan, len(hosts))
	for i, host := range hosts {
		list, err := sources.ForHost(host)
		if err != nil {
			return nil, err
		}
		plans[i] = &hostPlan{host: host, srcs: list, summaries: []*SourceSummary{}}
	}

	// Piggyback sources read what the other sources of this run forwarded.
	for _, piggybackPhase := range []bool{false, true} {
		if err := c.runPhase(ctx, run, plans, piggybackPhase, logger); err != nil {
			return nil, err
		}
	}

	for _, plan := range plans {
		run.summaries[sections.HostName(plan.host.Name)] = plan.summaries
	}
	for _, host := range c.Config.Hosts {
		if host.IsCluster() && requested(names, host.Name) {
			run.summaries[sections.HostName(host.Name)] = []*SourceSummary{}
		}
	}

	run.Finished = time.Now()
	metrics.CollectionDuration.Observe(run.Finished.Sub(run.Started).Seconds())
	metrics.HostsCollected.Set(float64(len(hosts)))
	logger.Infow("finished collection", "hosts", len(hosts), "took", run.Finished.Sub(run.Started))
	return run, nil
}

// resolve returns the hosts to fetch. Cluster names are replaced by their nodes.
func (c *Collector) resolve(names []string) ([]*hostconfig.HostConfig, error) {
	if len(names) == 0 {
		for _, host := range c.Config.Hosts {
			names = append(names, host.Name)
		}
	}

	seen := map[string]bool{}
	list := []*hostconfig.HostConfig{}
	var add func(name string) error
	add = func(name string) error {
		host := c.Config.Lookup(name)
		if host == nil {
			return errs.Configuration("unknown host %q", name)
		}
		if host.IsCluster() {
			for _, node := range host.Nodes {
				if err := add(node); err != nil {
					return err
				}
			}
			return nil
		}
		if !seen[name] {
			seen[name] = true
			list = append(list, host)
		}
		return nil
	}

	for _, name := range names {
		if err := add(name); err != nil {
			return nil, err
		}
	}
	return list, nil
}

type hostPlan struct {
	host      *hostconfig.HostConfig
	srcs      []*sources.Source
	summaries []*SourceSummary
}

// runPhase fetches hosts in parallel. The sources of one host run one after another.
func (c *Collector) runPhase(ctx context.Context, run *Run, plans []*hostPlan, piggybackPhase bool, logger *zap.SugaredLogger) error {
	group, ctx := errgroup.WithContext(ctx)
	if c.Parallelism > 0 {
		group.SetLimit(c.Parallelism)
	}

	for _, plan := range plans {
		plan := plan
		group.Go(func() error {
			for _, src := range plan.srcs {
				if (src.Kind == sources.KindPiggyback) != piggybackPhase {
					continue
				}
				summary, err := c.runSource(ctx, run.Sections, plan.host, src, logger)
				if err != nil {
					return err
				}
				plan.summaries = append(plan.summaries, summary)
			}
			return nil
		})
	}
	return group.Wait()
}

func (c *Collector) runSource(ctx context.Context, mhs *multihost.MultiHostSections, host *hostconfig.HostConfig, src *sources.Source, logger *zap.SugaredLogger) (*SourceSummary, error) {
	checker := sources.NewChecker(c.Env, host, src)

	start := time.Now()
	hs, err := checker.Run(ctx)
	if err != nil {
		return nil, err
	}

	outcome := "ok"
	if exc := checker.Exception(); exc != nil {
		outcome = string(errs.KindOf(exc))
	}
	metrics.ObserveSource(src.ID, outcome, checker.FromCache(), time.Since(start))

	mhs.AddOrMerge(src.Key(), hs)

	result := checker.SummaryResult()
	logger.Debugw("ran source", "host", host.Name, "source", src.ID, "outcome", outcome)
	return &SourceSummary{
		SourceID:    src.ID,
		Description: src.Describe(),
		State:       result.State,
		Output:      result.Output,
		FromCache:   checker.FromCache(),
	}, nil
}

// requested reports whether name was asked for. An empty list asks for everything.
func requested(names []string, name string) bool {
	if len(names) == 0 {
		return true
	}
	for _, item := range names {
		if item == name {
			return true
		}
	}
	return false
}

// NewEnv builds the checker environment of a configuration. The SNMP and IPMI
// backends are only wired when their commands are configured.
func NewEnv(cfg *hostconfig.Config, policy store.Policy, logger *zap.SugaredLogger) *sources.Env {
	env := &sources.Env{
		Settings:  &cfg.Settings,
		Policy:    policy,
		Piggyback: piggyback.NewStore(cfg.Settings.PiggybackDir, logger),
		Logger:    logger,
		Now:       time.Now,
	}
	if cmd := cfg.Settings.SNMPWalkCommand; cmd != "" {
		env.Walker = &fetcher.CommandWalker{Command: cmd, Logger: logger}
	}
	if cmd := cfg.Settings.IPMICommand; cmd != "" {
		env.SensorReader = &fetcher.CommandSensorReader{Command: cmd, Logger: logger}
	}
	return env
}
