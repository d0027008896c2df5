package firewall

import (
	"strings"
	"testing"
)

func TestRule_Spec_OutPass(t *testing.T) {
	r := Rule{
		Action:    ActionPass,
		Direction: DirectionOut,
		Interface: "wlan0",
		CIDR:      "10.0.0.0/9",
		CTState:   "NEW,ESTABLISHED",
		Comment:   "cutout 10.0.0.0/9",
	}

	want := "-o wlan0 -d 10.0.0.0/9 -m conntrack --ctstate NEW,ESTABLISHED " +
		"-m comment --comment wifisplit: cutout 10.0.0.0/9 -j ACCEPT"
	if got := strings.Join(r.Spec(), " "); got != want {
		t.Errorf("Spec() = %q, want %q", got, want)
	}
	if r.Chain() != ChainOut {
		t.Errorf("Chain() = %s, want %s", r.Chain(), ChainOut)
	}
}

func TestRule_Spec_InWithProtoAndPort(t *testing.T) {
	r := Rule{
		Action:    ActionPass,
		Direction: DirectionIn,
		Interface: "wlan0",
		Proto:     "udp",
		Port:      68,
		Comment:   "dhcp-client-in",
	}

	want := "-i wlan0 -p udp --dport 68 -m comment --comment wifisplit: dhcp-client-in -j ACCEPT"
	if got := strings.Join(r.Spec(), " "); got != want {
		t.Errorf("Spec() = %q, want %q", got, want)
	}
	if r.Chain() != ChainIn {
		t.Errorf("Chain() = %s, want %s", r.Chain(), ChainIn)
	}
}

func TestRule_Spec_LogAndBlock(t *testing.T) {
	logRule := Rule{Action: ActionLog, Direction: DirectionOut, Interface: "wlan0"}
	if got := strings.Join(logRule.Spec(), " "); !strings.Contains(got, "-j LOG --log-prefix") {
		t.Errorf("log rule spec = %q, expected LOG target with prefix", got)
	}

	blockRule := Rule{Action: ActionBlock, Direction: DirectionIn, Interface: "wlan0"}
	if got := strings.Join(blockRule.Spec(), " "); !strings.HasSuffix(got, "-j DROP") {
		t.Errorf("block rule spec = %q, expected DROP target", got)
	}
}

func TestRuleSet_RenderAndEqual(t *testing.T) {
	a := &RuleSet{Interface: "wlan0", Rules: []Rule{
		{Action: ActionPass, Direction: DirectionOut, Interface: "wlan0", CIDR: "10.0.0.0/8"},
		{Action: ActionBlock, Direction: DirectionOut, Interface: "wlan0"},
	}}
	b := &RuleSet{Interface: "wlan0", Rules: []Rule{
		{Action: ActionPass, Direction: DirectionOut, Interface: "wlan0", CIDR: "10.0.0.0/8"},
		{Action: ActionBlock, Direction: DirectionOut, Interface: "wlan0"},
	}}

	if !a.Equal(b) {
		t.Error("identical rule sets should be equal")
	}

	b.Rules = b.Rules[:1]
	if a.Equal(b) {
		t.Error("rule sets with different rules should not be equal")
	}
	if a.Equal(nil) {
		t.Error("rule set should not equal nil")
	}

	lines := strings.Split(strings.TrimSuffix(a.Render(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Render() produced %d lines, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], ChainOut+" ") {
		t.Errorf("rendered line %q should carry its chain prefix", lines[0])
	}
}

func TestRuleSet_ChainRules(t *testing.T) {
	rs := &RuleSet{Interface: "wlan0", Rules: []Rule{
		{Action: ActionPass, Direction: DirectionOut, Interface: "wlan0", CIDR: "10.0.0.0/8"},
		{Action: ActionPass, Direction: DirectionIn, Interface: "wlan0", CIDR: "10.0.0.0/8"},
		{Action: ActionBlock, Direction: DirectionOut, Interface: "wlan0"},
	}}

	if got := len(rs.ChainRules(ChainOut)); got != 2 {
		t.Errorf("ChainRules(%s) returned %d specs, want 2", ChainOut, got)
	}
	if got := len(rs.ChainRules(ChainIn)); got != 1 {
		t.Errorf("ChainRules(%s) returned %d specs, want 1", ChainIn, got)
	}
}
