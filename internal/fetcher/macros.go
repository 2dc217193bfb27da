package fetcher

import "strings"

// MacroContext holds the values substituted into datasource program templates.
type MacroContext struct {
	Hostname string
	Address  string
	Tags     []string
}

// ExpandMacros replaces <IP>, <HOST>, $HOSTNAME$, $HOSTADDRESS$ and $_HOSTTAGS$ in template.
func ExpandMacros(template string, m MacroContext) string {
	return strings.NewReplacer(
		"<IP>", m.Address,
		"<HOST>", m.Hostname,
		"$HOSTNAME$", m.Hostname,
		"$HOSTADDRESS$", m.Address,
		"$_HOSTTAGS$", strings.Join(m.Tags, " "),
	).Replace(template)
}
