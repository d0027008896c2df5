package firewall

import (
	"net"
	"strings"
	"testing"

	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/config"
)

func testPolicy(t *testing.T) *cidr.Policy {
	t.Helper()
	return &cidr.Policy{
		Included: []cidr.Block{cidr.MustParse("10.0.0.0/8")},
		Excluded: []cidr.Block{cidr.MustParse("10.52.0.0/16"), cidr.MustParse("10.219.0.0/16")},
	}
}

func TestCompile_Deterministic(t *testing.T) {
	policy := testPolicy(t)
	gw := net.ParseIP("10.1.0.1")

	first, err := Compile(policy, "wlan0", gw, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	second, err := Compile(policy, "wlan0", gw, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if first.Render() != second.Render() {
		t.Error("compiling the same policy twice must produce byte-identical output")
	}
}

func TestCompile_Ordering(t *testing.T) {
	policy := testPolicy(t)
	rs, err := Compile(policy, "wlan0", net.ParseIP("10.1.0.1"), nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	rendered := rs.Render()

	// Pass rules for cutouts come before the exemptions, which come
	// before the trailing log+drop catch-all.
	firstCutout := strings.Index(rendered, "cutout")
	firstExemption := strings.Index(rendered, "link-local")
	catchAll := strings.Index(rendered, "catch-all")
	if firstCutout == -1 || firstExemption == -1 || catchAll == -1 {
		t.Fatalf("rendered rule set is missing sections:\n%s", rendered)
	}
	if !(firstCutout < firstExemption && firstExemption < catchAll) {
		t.Errorf("rule sections out of order (cutout=%d exemption=%d catch-all=%d)",
			firstCutout, firstExemption, catchAll)
	}

	// The very last rules are the drop catch-alls.
	lines := strings.Split(strings.TrimSuffix(rendered, "\n"), "\n")
	last := lines[len(lines)-1]
	if !strings.Contains(last, "-j DROP") {
		t.Errorf("last rule %q should be the drop catch-all", last)
	}

	// Cutout pass rules appear in ascending address order.
	var cutoutCIDRs []string
	for _, r := range rs.Rules {
		if r.Direction == DirectionOut && strings.HasPrefix(r.Comment, "cutout") {
			cutoutCIDRs = append(cutoutCIDRs, r.CIDR)
		}
	}
	routes := CompileRoutes(policy)
	if len(cutoutCIDRs) != len(routes) {
		t.Fatalf("%d outbound cutout rules, want %d", len(cutoutCIDRs), len(routes))
	}
	for i, block := range routes {
		if cutoutCIDRs[i] != block.String() {
			t.Errorf("cutout rule %d = %s, want %s", i, cutoutCIDRs[i], block)
		}
	}
}

func TestCompile_EssentialExemptions(t *testing.T) {
	rs, err := Compile(testPolicy(t), "wlan0", net.ParseIP("10.1.0.1"), nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	rendered := rs.Render()
	for _, want := range []string{
		"-d 169.254.0.0/16",
		"-s 169.254.0.0/16",
		"-p udp --dport 67",
		"-p udp --dport 68",
		"-d 10.1.0.1/32 -p udp --dport 53",
		"-d 10.1.0.1/32 -p tcp --dport 53",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered rule set missing essential exemption %q:\n%s", want, rendered)
		}
	}
}

func TestCompile_GatewayTemplateSkippedWithoutGateway(t *testing.T) {
	rs, err := Compile(testPolicy(t), "wlan0", nil, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if strings.Contains(rs.Render(), "--dport 53") {
		t.Error("gateway-templated DNS exemptions must be dropped when no gateway is known")
	}
}

func TestCompile_ExtraExemptions(t *testing.T) {
	extra := []*config.ExemptionRule{
		{Description: "printer", Direction: "out", Proto: "tcp", Port: 631, CIDR: "192.168.1.9/32"},
	}

	rs, err := Compile(testPolicy(t), "wlan0", net.ParseIP("10.1.0.1"), extra)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !strings.Contains(rs.Render(), "-d 192.168.1.9/32 -p tcp --dport 631") {
		t.Errorf("extra exemption missing from rule set:\n%s", rs.Render())
	}
}

func TestCompile_BadExemptionCIDR(t *testing.T) {
	extra := []*config.ExemptionRule{
		{Description: "broken", Direction: "out", CIDR: "not-a-cidr"},
	}

	if _, err := Compile(testPolicy(t), "wlan0", net.ParseIP("10.1.0.1"), extra); err == nil {
		t.Error("expected error for exemption with invalid CIDR")
	}
}

func TestCompileRoutes_DedupAndCoalesce(t *testing.T) {
	// Two includes producing overlapping cutouts; the route list must not
	// contain duplicates and sibling blocks must be merged.
	policy := &cidr.Policy{
		Included: []cidr.Block{
			cidr.MustParse("10.0.0.0/8"),
			cidr.MustParse("10.0.0.0/16"),
		},
		Excluded: []cidr.Block{cidr.MustParse("10.52.0.0/16")},
	}

	routes := CompileRoutes(policy)

	seen := make(map[string]bool)
	var total uint64
	for i, b := range routes {
		if seen[b.String()] {
			t.Errorf("duplicate route %s", b)
		}
		seen[b.String()] = true
		total += b.Size()
		if i > 0 && !routes[i-1].Less(b) {
			t.Errorf("routes not in ascending order at index %d", i)
		}
	}

	if want := uint64(1<<24) - (1 << 16); total != want {
		t.Errorf("total route coverage = %d, want %d", total, want)
	}
}

func TestCompileRoutes_ExampleFromSlash16(t *testing.T) {
	policy := &cidr.Policy{
		Included: []cidr.Block{cidr.MustParse("192.168.0.0/16")},
		Excluded: []cidr.Block{cidr.MustParse("192.168.1.0/24")},
	}

	want := []string{
		"192.168.0.0/24",
		"192.168.2.0/23",
		"192.168.4.0/22",
		"192.168.8.0/21",
		"192.168.16.0/20",
		"192.168.32.0/19",
		"192.168.64.0/18",
		"192.168.128.0/17",
	}

	routes := CompileRoutes(policy)
	if len(routes) != len(want) {
		t.Fatalf("CompileRoutes returned %d routes, want %d: %v", len(routes), len(want), routes)
	}
	for i, b := range routes {
		if b.String() != want[i] {
			t.Errorf("route[%d] = %s, want %s", i, b, want[i])
		}
	}
}
