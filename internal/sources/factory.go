package sources

import (
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/fetcher"
	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/parser"
	"github.com/jveski/hostsections/internal/piggyback"
	"github.com/jveski/hostsections/internal/store"
)

// Env holds everything shared by the checkers of one run.
type Env struct {
	Settings *hostconfig.Settings
	Policy   store.Policy

	Piggyback    *piggyback.Store
	Walker       fetcher.Walker
	SensorReader fetcher.SensorReader

	UseOutdatedPersisted bool
	Debug                bool

	Logger *zap.SugaredLogger
	Now    func() time.Time
}

// NewChecker composes the fetcher, parser and summarizer of src.
func NewChecker(env *Env, host *hostconfig.HostConfig, src *Source) *Checker {
	logger := env.Logger.With("source", src.ID, "host", src.Hostname)
	settings := env.Settings

	policy := env.Policy
	if policy.MaxAge == 0 {
		policy.MaxAge = settings.MaxCacheAge
	}

	c := &Checker{
		Source:               src,
		ExitCodes:            host.ExitCodes,
		Cache:                store.NewFileCache(settings.CacheDir, src.ID, src.Hostname, policy, logger),
		Persisted:            store.NewSectionStore(settings.PersistedDir, src.ID, src.Hostname, logger),
		Timeout:              settings.FetchTimeout,
		Simulation:           policy.Simulation,
		UseOutdatedPersisted: env.UseOutdatedPersisted,
		Debug:                env.Debug,
		Logger:               logger,
	}

	agentParser := &parser.AgentParser{
		Hostname:      src.Hostname,
		CheckInterval: host.Interval(),
		Translate:     host.TranslatePiggyback,
		Logger:        logger,
		Now:           env.Now,
	}
	macros := fetcher.MacroContext{Hostname: string(src.Hostname), Address: src.Address, Tags: host.Tags}

	switch src.Kind {
	case KindAgent:
		c.Fetcher = &fetcher.TCP{
			Address:        net.JoinHostPort(src.Address, strconv.Itoa(src.Port)),
			ConnectTimeout: settings.TCPConnectTimeout,
			Logger:         logger,
		}

	case KindProgram:
		c.Fetcher = &fetcher.Program{Command: fetcher.ExpandMacros(src.Program, macros), Logger: logger}

	case KindSpecialAgent:
		args := make([]string, len(src.SpecialAgentArgs))
		for i, arg := range src.SpecialAgentArgs {
			args[i] = fetcher.ExpandMacros(arg, macros)
		}
		command := fetcher.SpecialAgentCommand(settings.SpecialAgentsDir, src.SpecialAgent, args)
		c.Fetcher = &fetcher.Program{Command: command, Logger: logger}

	case KindPiggyback:
		c.Fetcher = &fetcher.Piggyback{
			Store:    env.Piggyback,
			Hostname: string(src.Hostname),
			Address:  src.Address,
			MaxAge:   settings.PiggybackMaxAge,
		}
		c.Cache = nil // the piggyback files are the cache
		c.Parser = agentParser
		c.Summarizer = &PiggybackSummarizer{Sources: func() []string {
			list := env.Piggyback.Sources(string(src.Hostname))
			if src.Address != "" && src.Address != string(src.Hostname) {
				list = append(list, env.Piggyback.Sources(src.Address)...)
			}
			return list
		}}
		return c

	case KindSNMP:
		c.Fetcher = &fetcher.SNMP{Address: src.Address, Credentials: src.Credentials, Walker: env.Walker}
		c.Parser = parser.TableParser{}
		c.Summarizer = DefaultSummarizer
		return c

	case KindIPMI:
		c.Fetcher = &fetcher.IPMI{Address: src.Address, Credentials: src.Credentials, Reader: env.SensorReader}
		c.Parser = agentParser
		c.Summarizer = DefaultSummarizer
		return c
	}

	// agent output of TCP, programs and special agents
	c.Parser = agentParser
	c.Summarizer = &AgentSummarizer{Host: host}
	c.Piggyback = env.Piggyback
	return c
}
