// Package firewall compiles the prefix policy into an ordered iptables
// rule set and applies it through a backend. The packet-filter layer is
// one half of the dual-layer enforcement; internal/routing is the other.
package firewall

import (
	"strconv"
	"strings"
)

// Chain names used by the iptables backend. INPUT and OUTPUT jump into
// these chains for traffic scoped to the enforced interface, so the
// trailing drop in each chain acts as the interface default-deny.
const (
	ChainIn  = "WIFISPLIT-IN"
	ChainOut = "WIFISPLIT-OUT"
)

// Action selects the rule target.
type Action string

const (
	ActionPass  Action = "pass"
	ActionBlock Action = "block"
	ActionLog   Action = "log"
)

// Direction selects the traffic direction a rule matches.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Rule is a single compiled packet-filter rule. Field order in Spec() is
// fixed so that rendering is deterministic.
type Rule struct {
	Action    Action
	Direction Direction
	Interface string
	CIDR      string // peer network: destination for out, source for in; empty = any
	Proto     string // "tcp", "udp" or empty
	Port      uint16 // destination port, 0 = any
	CTState   string // conntrack state match, empty = stateless
	Comment   string
}

// Chain returns the chain this rule belongs to.
func (r Rule) Chain() string {
	if r.Direction == DirectionIn {
		return ChainIn
	}
	return ChainOut
}

// Spec returns the iptables rule specification as an argument vector.
// The match order is fixed: interface, address, protocol, port, conntrack,
// comment, target.
func (r Rule) Spec() []string {
	var spec []string

	if r.Direction == DirectionIn {
		spec = append(spec, "-i", r.Interface)
		if r.CIDR != "" {
			spec = append(spec, "-s", r.CIDR)
		}
	} else {
		spec = append(spec, "-o", r.Interface)
		if r.CIDR != "" {
			spec = append(spec, "-d", r.CIDR)
		}
	}

	if r.Proto != "" {
		spec = append(spec, "-p", r.Proto)
		if r.Port > 0 {
			spec = append(spec, "--dport", strconv.Itoa(int(r.Port)))
		}
	}

	if r.CTState != "" {
		spec = append(spec, "-m", "conntrack", "--ctstate", r.CTState)
	}

	if r.Comment != "" {
		spec = append(spec, "-m", "comment", "--comment", "wifisplit: "+r.Comment)
	}

	switch r.Action {
	case ActionPass:
		spec = append(spec, "-j", "ACCEPT")
	case ActionLog:
		spec = append(spec, "-j", "LOG", "--log-prefix", "wifisplit-drop: ")
	default:
		spec = append(spec, "-j", "DROP")
	}

	return spec
}

// RuleSet is an ordered sequence of rules for one interface. Order is
// semantically significant: the backend evaluates first match wins.
type RuleSet struct {
	Interface string
	Rules     []Rule
}

// Render returns the canonical textual form of the rule set, one rule per
// line prefixed with its chain. Compiling the same policy twice yields
// byte-identical output, which makes re-application after a transient
// failure a safe no-op diff.
func (s *RuleSet) Render() string {
	var sb strings.Builder
	for _, r := range s.Rules {
		sb.WriteString(r.Chain())
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(r.Spec(), " "))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Equal reports whether two rule sets render identically.
func (s *RuleSet) Equal(other *RuleSet) bool {
	if other == nil {
		return false
	}
	return s.Interface == other.Interface && s.Render() == other.Render()
}

// ChainRules returns the specs of all rules belonging to the given chain,
// preserving order.
func (s *RuleSet) ChainRules(chain string) [][]string {
	var specs [][]string
	for _, r := range s.Rules {
		if r.Chain() == chain {
			specs = append(specs, r.Spec())
		}
	}
	return specs
}
