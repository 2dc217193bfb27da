package hostconfig

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	TagTCP           = "tcp"
	TagAllAgents     = "all-agents"
	TagSpecialAgents = "special-agents"
	TagNoAgent       = "no-agent"
	TagSNMP          = "snmp"
	TagNoPiggyback   = "no-piggyback"

	DefaultAgentPort     = 6556
	DefaultCheckInterval = time.Minute
)

type Config struct {
	Settings Settings      `toml:"settings"`
	Hosts    []*HostConfig `toml:"host" validate:"dive"`

	byName map[string]*HostConfig
}

type Settings struct {
	CacheDir          string        `toml:"cache_dir"`
	PersistedDir      string        `toml:"persisted_dir"`
	PiggybackDir      string        `toml:"piggyback_dir"`
	SpecialAgentsDir  string        `toml:"special_agents_dir"`
	MaxCacheAge       time.Duration `toml:"max_cache_age"`
	PiggybackMaxAge   time.Duration `toml:"piggyback_max_age"`
	TCPConnectTimeout time.Duration `toml:"tcp_connect_timeout"`
	FetchTimeout      time.Duration `toml:"fetch_timeout"`

	// Commands backing the SNMP and IPMI sources. Empty disables them.
	SNMPWalkCommand string `toml:"snmp_walk_command"`
	IPMICommand     string `toml:"ipmi_command"`
}

type HostConfig struct {
	Name               string              `toml:"name" validate:"required,excludesall=/"`
	Address            string              `toml:"address" validate:"omitempty,ip"`
	Tags               []string            `toml:"tags"`
	Nodes              []string            `toml:"nodes"`
	CheckInterval      time.Duration       `toml:"check_interval"`
	AgentPort          int                 `toml:"agent_port" validate:"omitempty,min=1,max=65535"`
	DatasourceProgram  string              `toml:"datasource_program"`
	SpecialAgents      []*SpecialAgent     `toml:"special_agent" validate:"dive"`
	Management         *Management         `toml:"management"`
	ExitCodes          ExitCodeSpec        `toml:"exit_codes"`
	AgentTargetVersion *AgentTargetVersion `toml:"agent_target_version"`
	OnlyFrom           []string            `toml:"only_from"`
	Translation        *Translation        `toml:"piggyback_translation"`
}

type SpecialAgent struct {
	Name string   `toml:"name" validate:"required"`
	Args []string `toml:"args"`
}

type Management struct {
	Protocol    string            `toml:"protocol"`
	Address     string            `toml:"address"`
	Credentials map[string]string `toml:"credentials"`
}

// AgentTargetVersion is either an exact version or a minimum release.
type AgentTargetVersion struct {
	Exact   string `toml:"exact"`
	AtLeast string `toml:"at_least"`
}

// ExitCodeSpec maps failure kinds to monitoring states.
type ExitCodeSpec map[string]int

func (e ExitCodeSpec) Get(kind string, fallback int) int {
	if state, ok := e[kind]; ok {
		return state
	}
	return fallback
}

func (h *HostConfig) HasTag(tag string) bool {
	for _, t := range h.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (h *HostConfig) IsCluster() bool { return len(h.Nodes) > 0 }

func (h *HostConfig) IsAllAgentsHost() bool { return h.HasTag(TagAllAgents) }

func (h *HostConfig) IsAllSpecialAgentsHost() bool { return h.HasTag(TagSpecialAgents) }

func (h *HostConfig) IsTCPHost() bool {
	if h.HasTag(TagNoAgent) {
		return false
	}
	return h.HasTag(TagTCP) || h.IsAllAgentsHost() || h.IsAllSpecialAgentsHost()
}

func (h *HostConfig) IsSNMPHost() bool { return h.HasTag(TagSNMP) }

func (h *HostConfig) PiggybackDisabled() bool { return h.HasTag(TagNoPiggyback) }

func (h *HostConfig) HasManagementBoard() bool {
	return h.Management != nil && h.Management.Protocol != "" && h.Management.Address != ""
}

func (h *HostConfig) Port() int {
	if h.AgentPort == 0 {
		return DefaultAgentPort
	}
	return h.AgentPort
}

func (h *HostConfig) Interval() time.Duration {
	if h.CheckInterval <= 0 {
		return DefaultCheckInterval
	}
	return h.CheckInterval
}

// TranslatePiggyback applies the host's piggyback translation to a forwarded hostname.
func (h *HostConfig) TranslatePiggyback(name string) string {
	if h.Translation == nil {
		return name
	}
	return h.Translation.Apply(name)
}

// Load reads and validates a host configuration file.
func Load(file string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(file, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.init(filepath.Dir(file)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode is like Load but reads the configuration from a string. Relative
// directories are resolved against baseDir.
func Decode(content, baseDir string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.Decode(content, cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.init(baseDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) init(baseDir string) error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	c.Settings.applyDefaults(baseDir)

	c.byName = make(map[string]*HostConfig, len(c.Hosts))
	for _, host := range c.Hosts {
		if _, ok := c.byName[host.Name]; ok {
			return fmt.Errorf("host %q is defined more than once", host.Name)
		}
		if host.Translation != nil {
			if err := host.Translation.compile(); err != nil {
				return fmt.Errorf("piggyback translation of host %q: %w", host.Name, err)
			}
		}
		c.byName[host.Name] = host
	}

	for _, host := range c.Hosts {
		for _, node := range host.Nodes {
			if _, ok := c.byName[node]; !ok {
				return fmt.Errorf("cluster %q references unknown node %q", host.Name, node)
			}
		}
	}
	return nil
}

func (s *Settings) applyDefaults(baseDir string) {
	resolve := func(dir *string, fallback string) {
		if *dir == "" {
			*dir = fallback
		}
		if !filepath.IsAbs(*dir) {
			*dir = filepath.Join(baseDir, *dir)
		}
	}
	resolve(&s.CacheDir, filepath.Join("var", "cache"))
	resolve(&s.PersistedDir, filepath.Join("var", "persisted"))
	resolve(&s.PiggybackDir, filepath.Join("var", "piggyback"))
	resolve(&s.SpecialAgentsDir, filepath.Join("agents", "special"))

	if s.MaxCacheAge == 0 {
		s.MaxCacheAge = time.Second * 90
	}
	if s.PiggybackMaxAge == 0 {
		s.PiggybackMaxAge = time.Hour
	}
	if s.TCPConnectTimeout == 0 {
		s.TCPConnectTimeout = time.Second * 5
	}
	if s.FetchTimeout == 0 {
		s.FetchTimeout = time.Minute
	}
}

func (c *Config) Lookup(name string) *HostConfig { return c.byName[name] }

// Translation rewrites piggybacked hostnames.
type Translation struct {
	Case       string            `toml:"case" validate:"omitempty,oneof=lower upper"`
	DropDomain bool              `toml:"drop_domain"`
	Regex      []*RegexRule      `toml:"regex"`
	Mapping    map[string]string `toml:"mapping"`
}

type RegexRule struct {
	Pattern string `toml:"pattern"`
	Replace string `toml:"replace"`

	re *regexp.Regexp
}

func (t *Translation) compile() error {
	for _, rule := range t.Regex {
		re, err := regexp.Compile("^(?:" + rule.Pattern + ")$")
		if err != nil {
			return fmt.Errorf("compiling %q: %w", rule.Pattern, err)
		}
		rule.re = re
	}
	return nil
}

func (t *Translation) Apply(name string) string {
	switch t.Case {
	case "lower":
		name = strings.ToLower(name)
	case "upper":
		name = strings.ToUpper(name)
	}

	if t.DropDomain && !looksLikeIP(name) {
		name, _, _ = strings.Cut(name, ".")
	}

	for _, rule := range t.Regex {
		if rule.re == nil {
			if err := t.compile(); err != nil {
				break
			}
		}
		if rule.re.MatchString(name) {
			name = rule.re.ReplaceAllString(name, rule.Replace)
			break
		}
	}

	if mapped, ok := t.Mapping[name]; ok {
		name = mapped
	}
	return name
}

func looksLikeIP(name string) bool {
	return strings.Trim(name, "0123456789.") == "" || strings.Contains(name, ":")
}
