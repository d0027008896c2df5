package firewall

import (
	"fmt"
	"net"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/config"
)

// Template variables available in exemption rule CIDRs.
const (
	tmplInterface = "interface"
	tmplGateway   = "gateway"
)

// essentialExemptions are always permitted regardless of policy: losing
// them breaks basic interface operation (addressing, lease renewal, name
// resolution against the local gateway).
var essentialExemptions = []*config.ExemptionRule{
	{Description: "link-local", Direction: "both", CIDR: "169.254.0.0/16"},
	{Description: "dhcp-client-out", Direction: "out", Proto: "udp", Port: 67},
	{Description: "dhcp-client-in", Direction: "in", Proto: "udp", Port: 68},
	{Description: "local-dns-udp", Direction: "out", Proto: "udp", Port: 53, CIDR: "{{gateway}}/32"},
	{Description: "local-dns-tcp", Direction: "out", Proto: "tcp", Port: 53, CIDR: "{{gateway}}/32"},
}

// Compile produces the ordered firewall rule set for a policy on the given
// interface.
//
// The backend evaluates rules first match wins, so the set is emitted in
// pass-before-deny order: one stateful pass pair per cutout block in
// ascending address order, then the essential exemptions, then any
// configured extra exemptions, and finally a log-and-drop catch-all pair.
// The interface default-deny of the abstract policy is realized by that
// trailing drop together with the interface-scoped chain jumps installed
// by Backend.Enable.
func Compile(policy *cidr.Policy, iface string, gateway net.IP, extra []*config.ExemptionRule) (*RuleSet, error) {
	rs := &RuleSet{Interface: iface}

	for _, block := range CompileRoutes(policy) {
		rs.Rules = append(rs.Rules,
			Rule{
				Action:    ActionPass,
				Direction: DirectionOut,
				Interface: iface,
				CIDR:      block.String(),
				CTState:   "NEW,ESTABLISHED",
				Comment:   "cutout " + block.String(),
			},
			Rule{
				Action:    ActionPass,
				Direction: DirectionIn,
				Interface: iface,
				CIDR:      block.String(),
				CTState:   "ESTABLISHED,RELATED",
				Comment:   "cutout " + block.String(),
			},
		)
	}

	for _, ex := range essentialExemptions {
		rules, err := exemptionRules(ex, iface, gateway)
		if err != nil {
			return nil, err
		}
		rs.Rules = append(rs.Rules, rules...)
	}

	for _, ex := range extra {
		rules, err := exemptionRules(ex, iface, gateway)
		if err != nil {
			return nil, fmt.Errorf("exemption %q: %w", ex.Description, err)
		}
		rs.Rules = append(rs.Rules, rules...)
	}

	for _, dir := range []Direction{DirectionOut, DirectionIn} {
		rs.Rules = append(rs.Rules,
			Rule{Action: ActionLog, Direction: dir, Interface: iface, Comment: "catch-all"},
			Rule{Action: ActionBlock, Direction: dir, Interface: iface, Comment: "catch-all"},
		)
	}

	return rs, nil
}

// CompileRoutes computes the route list for a policy: the cutouts of every
// included network against the full excluded set, deduplicated and
// coalesced, in ascending address order.
func CompileRoutes(policy *cidr.Policy) []cidr.Block {
	var all []cidr.Block
	for _, include := range policy.Included {
		all = append(all, cidr.Cutouts(include, policy.Excluded)...)
	}
	return cidr.Coalesce(all)
}

// exemptionRules expands one exemption into concrete rules, rendering
// template variables and fanning out "both" into an in/out pair.
func exemptionRules(ex *config.ExemptionRule, iface string, gateway net.IP) ([]Rule, error) {
	peer, ok, err := renderCIDR(ex.CIDR, iface, gateway)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Template variables could not be substituted for this connection;
		// dropping the exemption is safer than widening it to any peer.
		return nil, nil
	}

	directions := []Direction{Direction(ex.Direction)}
	if ex.Direction == "both" || ex.Direction == "" {
		directions = []Direction{DirectionOut, DirectionIn}
	}

	comment := ex.Description
	if comment == "" {
		comment = "exemption"
	}

	var rules []Rule
	for _, dir := range directions {
		rules = append(rules, Rule{
			Action:    ActionPass,
			Direction: dir,
			Interface: iface,
			CIDR:      peer,
			Proto:     ex.Proto,
			Port:      ex.Port,
			Comment:   comment,
		})
	}
	return rules, nil
}

// renderCIDR substitutes {{interface}} and {{gateway}} in an exemption
// CIDR and validates the result through the CIDR parser. ok is false when
// the template references a variable that is unavailable for this
// connection.
func renderCIDR(template string, iface string, gateway net.IP) (rendered string, ok bool, err error) {
	if template == "" {
		return "", true, nil
	}

	rendered = template
	if strings.Contains(template, "{{") {
		if gateway == nil {
			return "", false, nil
		}
		t := fasttemplate.New(template, "{{", "}}")
		rendered = t.ExecuteString(map[string]interface{}{
			tmplInterface: iface,
			tmplGateway:   gateway.String(),
		})
	}

	if _, err := cidr.Parse(rendered); err != nil {
		return "", false, err
	}
	return rendered, true, nil
}
