package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/collect"
	"github.com/jveski/hostsections/internal/errs"
	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/multihost"
	"github.com/jveski/hostsections/internal/parser"
	"github.com/jveski/hostsections/internal/sections"
	"github.com/jveski/hostsections/internal/sources"
	"github.com/jveski/hostsections/internal/store"
)

type fetchOptions struct {
	Policy               store.Policy
	UseOutdatedPersisted bool
	Debug                bool
	Parallelism          int
	PrintSections        bool
	Parsed               []string
}

func fetchCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := &fetchOptions{
		Policy: store.Policy{
			Disabled:    c.Bool("no-cache"),
			MayUse:      c.Bool("use-cache"),
			UseOutdated: c.Bool("use-outdated"),
			Simulation:  c.Bool("simulation"),
		},
		UseOutdatedPersisted: c.Bool("use-outdated-persisted"),
		Debug:                c.Bool("debug"),
		Parallelism:          c.Int("parallelism"),
		PrintSections:        c.Bool("sections"),
		Parsed:               c.StringSlice("parsed"),
	}
	return runFetch(c.Context, cfg, opts, c.Args().Slice(), os.Stdout, logger)
}

func runFetch(ctx context.Context, cfg *hostconfig.Config, opts *fetchOptions, names []string, w io.Writer, logger *zap.SugaredLogger) error {
	env := collect.NewEnv(cfg, opts.Policy, logger)
	env.UseOutdatedPersisted = opts.UseOutdatedPersisted
	env.Debug = opts.Debug

	collector := &collect.Collector{
		Config:      cfg,
		Env:         env,
		Registry:    multihost.NewRegistry(),
		Parallelism: opts.Parallelism,
		Logger:      logger,
	}
	run, err := collector.Run(ctx, names)
	if err != nil {
		return err
	}

	for _, name := range run.Hosts() {
		host := cfg.Lookup(string(name))
		fmt.Fprintf(w, "%s\n", name)
		printSummaries(run.Summaries(name), w)

		if opts.PrintSections && !host.IsCluster() {
			if hs := run.Sections.HostSections(collect.HostKey(host)); hs != nil {
				printSections(hs.Sections, w)
			}
		}

		if len(opts.Parsed) > 0 {
			names := make([]sections.ParsedSectionName, len(opts.Parsed))
			for i, p := range opts.Parsed {
				names[i] = sections.ParsedSectionName(p)
			}

			var kwargs map[string]any
			if host.IsCluster() {
				kwargs = run.Sections.GetSectionClusterKwargs(run.NodeKeys(host), names)
			} else {
				kwargs = run.Sections.GetSectionKwargs(collect.HostKey(host), names)
			}
			if err := printJSON(kwargs, w); err != nil {
				return err
			}
		}
		fmt.Fprintln(w)
	}

	for _, err := range run.Sections.ParseErrors() {
		fmt.Fprintf(w, "warning: %s\n", err)
	}
	return nil
}

func printSummaries(list []*collect.SourceSummary, w io.Writer) {
	tr := tabwriter.NewWriter(w, 6, 6, 4, ' ', 0)
	fmt.Fprintf(tr, "SOURCE\tSTATE\tCACHED\tOUTPUT\n")
	for _, s := range list {
		cached := ""
		if s.FromCache {
			cached = "yes"
		}
		fmt.Fprintf(tr, "%s\t%s\t%s\t%s\n", s.SourceID, s.State, cached, s.Output)
	}
	tr.Flush()
}

// printSections writes sections back in the agent format, one row per line.
func printSections(table map[sections.SectionName][]sections.Row, w io.Writer) {
	hs := &sections.HostSections{Sections: table}
	for _, name := range hs.SectionNames() {
		fmt.Fprintf(w, "<<<%s>>>\n", name)
		for _, row := range table[name] {
			fmt.Fprintf(w, "%s\n", strings.Join(row, " "))
		}
	}
}

func printJSON(v any, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sourcesCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return printSources(cfg, c.Args().Slice(), os.Stdout)
}

func printSources(cfg *hostconfig.Config, names []string, w io.Writer) error {
	if len(names) == 0 {
		for _, host := range cfg.Hosts {
			names = append(names, host.Name)
		}
	}

	tr := tabwriter.NewWriter(w, 6, 6, 4, ' ', 0)
	fmt.Fprintf(tr, "HOST\tSOURCES\n")
	for _, name := range names {
		host := cfg.Lookup(name)
		if host == nil {
			return errs.Configuration("unknown host %q", name)
		}

		desc, err := sources.DescribeSources(host)
		if err != nil {
			return err
		}
		fmt.Fprintf(tr, "%s\t%s\n", name, desc)
	}
	return tr.Flush()
}

// lookupSource resolves the host and source arguments shared by the inspection commands.
func lookupSource(c *cli.Context, cfg *hostconfig.Config) (*sources.Source, error) {
	if c.Args().Len() != 2 {
		return nil, errors.New("a host and a source are required")
	}
	return findSource(cfg, c.Args().Get(0), c.Args().Get(1))
}

func findSource(cfg *hostconfig.Config, hostname, id string) (*sources.Source, error) {
	host := cfg.Lookup(hostname)
	if host == nil {
		return nil, errs.Configuration("unknown host %q", hostname)
	}

	list, err := sources.ForHost(host)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(list))
	for i, src := range list {
		if src.ID == id {
			return src, nil
		}
		ids[i] = src.ID
	}
	return nil, fmt.Errorf("host %q has no source %q (has: %s)", hostname, id, strings.Join(ids, ", "))
}

func cacheCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	src, err := lookupSource(c, cfg)
	if err != nil {
		return err
	}
	return printCache(cfg, src, os.Stdout)
}

func printCache(cfg *hostconfig.Config, src *sources.Source, w io.Writer) error {
	cache := store.NewFileCache(cfg.Settings.CacheDir, src.ID, src.Hostname, store.Policy{MayUse: true, UseOutdated: true}, zap.NewNop().Sugar())
	raw, err := cache.Read()
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("no cached data for source %q of host %q", src.ID, src.Hostname)
	}

	if src.Kind != sources.KindSNMP {
		_, err := w.Write(raw)
		return err
	}

	table, err := parser.DecodeTable(raw)
	if err != nil {
		return err
	}
	printSections(table, w)
	return nil
}

func persistedCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	src, err := lookupSource(c, cfg)
	if err != nil {
		return err
	}

	entries, err := store.NewSectionStore(cfg.Settings.PersistedDir, src.ID, src.Hostname, zap.NewNop().Sugar()).Load(true)
	if err != nil {
		return err
	}
	printPersisted(entries, time.Now(), os.Stdout)
	return nil
}

func printPersisted(entries store.PersistedSections, now time.Time, w io.Writer) {
	hs := sections.New()
	for name := range entries {
		hs.Sections[name] = nil
	}

	tr := tabwriter.NewWriter(w, 6, 6, 4, ' ', 0)
	fmt.Fprintf(tr, "SECTION\tROWS\tCACHED\tEXPIRES\n")
	for _, name := range hs.SectionNames() {
		entry := entries[name]
		expires := "expired"
		if !entry.Expired(now.Unix()) {
			expires = "in " + durationToString(time.Unix(entry.ValidUntil, 0).Sub(now))
		}
		fmt.Fprintf(tr, "%s\t%d\t%s ago\t%s\n", name, len(entry.Rows), durationToString(now.Sub(time.Unix(entry.CachedAt, 0))), expires)
	}
	tr.Flush()
}
