package enforcer

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/netfence/wifisplit/internal/cidr"
	wferrors "github.com/netfence/wifisplit/internal/errors"
	"github.com/netfence/wifisplit/internal/routing"
)

const testIface = "wlan0"

var (
	testGateway   = net.ParseIP("172.16.0.1")
	wiredDefault  = &routing.DefaultRoute{Gateway: net.ParseIP("10.0.0.1"), Interface: "eth0"}
	testIncluded  = cidr.MustParse("192.168.0.0/16")
	testExcluded  = cidr.MustParse("192.168.1.0/24")
	cutoutsInTest = 8 // /16 minus one /24 bisects into 8 blocks
)

func testPolicy() *cidr.Policy {
	return &cidr.Policy{
		Included: []cidr.Block{testIncluded},
		Excluded: []cidr.Block{testExcluded},
	}
}

func newTestEnforcer(t *testing.T, fw *fakeFirewall, rt *fakeRouting) *Enforcer {
	t.Helper()
	opts := Options{
		Interface:      testIface,
		Policy:         testPolicy(),
		MaxRetries:     3,
		BackendTimeout: 5 * time.Second,
	}
	return New(opts, fw, rt, NewBackupStore(t.TempDir()))
}

func connectEvent() Event {
	return Event{Type: EventConnect, Interface: testIface, Gateway: testGateway}
}

func TestApplyFirewallBeforeRoutes(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	e.Apply(connectEvent())

	if got := e.Status().State; got != StateActive {
		t.Fatalf("state = %s, want %s", got, StateActive)
	}

	fwApply := rec.indexOf("fw.apply")
	if fwApply < 0 {
		t.Fatal("firewall apply never happened")
	}
	if enable := rec.indexOf("fw.enable"); enable < 0 || enable > fwApply {
		t.Errorf("fw.enable at %d, want before fw.apply at %d", enable, fwApply)
	}
	for i, op := range rec.all() {
		if strings.HasPrefix(op, "rt.addroute") && i < fwApply {
			t.Errorf("route mutation %q at %d before firewall apply at %d", op, i, fwApply)
		}
	}
	if rec.indexOf("rt.deldefault") < fwApply {
		t.Errorf("default route touched before firewall apply")
	}

	if n := rt.routeCount(); n != cutoutsInTest {
		t.Errorf("installed %d routes, want %d", n, cutoutsInTest)
	}
	if fw.installedSet() == nil {
		t.Error("no firewall rule set installed")
	}
}

func TestApplyFirewallFailureLeavesRoutesUntouched(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec, applyErr: errors.New("iptables exploded")}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	e.Apply(connectEvent())

	if got := e.Status().State; got != StateFailed {
		t.Fatalf("state = %s, want %s", got, StateFailed)
	}
	for _, op := range rec.all() {
		switch {
		case strings.HasPrefix(op, "rt.addroute"),
			op == "rt.deldefault",
			op == "rt.adddefault":
			t.Errorf("unexpected route mutation %q after firewall failure", op)
		}
	}
	if got := rt.currentDefault(); got == nil || !got.Gateway.Equal(wiredDefault.Gateway) {
		t.Errorf("default route disturbed: %+v", got)
	}
}

func TestApplyRoutingFailureRollsBackFirewall(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	rt.failAddAfter = 3
	e := newTestEnforcer(t, fw, rt)

	e.Apply(connectEvent())

	status := e.Status()
	if status.State != StateFailed {
		t.Fatalf("state = %s, want %s", status.State, StateFailed)
	}
	if !strings.Contains(status.Reason, "routing") {
		t.Errorf("failure reason %q does not name the routing layer", status.Reason)
	}

	// The firewall is flushed only after the routing failure.
	flush := rec.lastIndexOf("fw.flush")
	if flush < 0 {
		t.Fatal("firewall rules were not rolled back")
	}
	if fwApply := rec.indexOf("fw.apply"); flush < fwApply {
		t.Errorf("fw.flush at %d before fw.apply at %d", flush, fwApply)
	}
	if fw.installedSet() != nil {
		t.Error("firewall rule set still installed after rollback")
	}

	// Partially added routes are removed and the original default restored.
	if n := rt.routeCount(); n != 0 {
		t.Errorf("%d cutout routes left behind after rollback", n)
	}
	got := rt.currentDefault()
	if got == nil || !got.Gateway.Equal(wiredDefault.Gateway) || got.Interface != wiredDefault.Interface {
		t.Errorf("default route after rollback = %+v, want %+v", got, wiredDefault)
	}
}

func TestDuplicateConnectIsNoOp(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	e.Apply(connectEvent())
	if got := e.Status().State; got != StateActive {
		t.Fatalf("state = %s, want %s", got, StateActive)
	}
	before := len(rec.all())

	e.Apply(connectEvent())

	after := rec.all()[before:]
	for _, op := range after {
		if op != "fw.verify" {
			t.Errorf("duplicate connect performed %q, want verification only", op)
		}
	}
	if n := rt.routeCount(); n != cutoutsInTest {
		t.Errorf("route count changed to %d on duplicate connect", n)
	}
}

func TestReapplyAfterExternalFlush(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	e.Apply(connectEvent())

	// Somebody flushed the chains behind our back.
	fw.mu.Lock()
	fw.installed = nil
	fw.mu.Unlock()

	e.Apply(connectEvent())

	if got := e.Status().State; got != StateActive {
		t.Fatalf("state = %s, want %s", got, StateActive)
	}
	if rec.lastIndexOf("fw.apply") <= rec.indexOf("fw.apply") {
		t.Error("rule set was not re-applied after verification mismatch")
	}
	if fw.installedSet() == nil {
		t.Error("rule set missing after re-apply")
	}
}

func TestDisconnectInterruptsApply(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	// Queue the disconnect before the apply starts; the apply must notice
	// it after the firewall layer and never touch the routing layer.
	e.Submit(Event{Type: EventDisconnect, Interface: testIface})
	e.Apply(connectEvent())

	for _, op := range rec.all() {
		if strings.HasPrefix(op, "rt.addroute") {
			t.Errorf("route %q added during interrupted apply", op)
		}
	}

	// The queued disconnect then runs teardown and lands in Disabled.
	e.Teardown()
	if got := e.Status().State; got != StateDisabled {
		t.Fatalf("state = %s, want %s", got, StateDisabled)
	}
	if fw.installedSet() != nil {
		t.Error("firewall rule set survived teardown")
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec, applyErr: errors.New("still broken")}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)
	e.opts.MaxRetries = 1

	e.Apply(connectEvent())
	if st := e.Status(); st.State != StateFailed || st.RetriesExhausted {
		t.Fatalf("after first failure: state=%s exhausted=%v", st.State, st.RetriesExhausted)
	}

	e.Apply(connectEvent())
	if st := e.Status(); !st.RetriesExhausted {
		t.Fatal("budget of 1 retry not exhausted after second failure")
	}

	// Further connects are ignored until the session cycles.
	before := len(rec.all())
	e.Apply(connectEvent())
	if got := len(rec.all()); got != before {
		t.Errorf("exhausted enforcer still made %d backend calls", got-before)
	}

	// A disconnect resets the budget and the next connect applies cleanly.
	e.Teardown()
	fw.applyErr = nil
	e.Apply(connectEvent())
	if got := e.Status().State; got != StateActive {
		t.Fatalf("state after session cycle = %s, want %s", got, StateActive)
	}
}

func TestTeardownRestoresOriginalDefault(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	e.Apply(connectEvent())
	e.Teardown()

	if got := e.Status().State; got != StateDisabled {
		t.Fatalf("state = %s, want %s", got, StateDisabled)
	}
	if n := rt.routeCount(); n != 0 {
		t.Errorf("%d cutout routes left after teardown", n)
	}
	got := rt.currentDefault()
	if got == nil || !got.Gateway.Equal(wiredDefault.Gateway) || got.Interface != wiredDefault.Interface {
		t.Errorf("default route after teardown = %+v, want %+v", got, wiredDefault)
	}
	if fw.installedSet() != nil {
		t.Error("firewall rule set left after teardown")
	}
	if e.backups.Exists(testIface) {
		t.Error("route backup file left after teardown")
	}
}

func TestTeardownBestEffortOnBackendErrors(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	e.Apply(connectEvent())

	fw.flushErr = errors.New("flush refused")
	rt.deleteErr = errors.New("route stuck")

	e.Teardown()

	if got := e.Status().State; got != StateDisabled {
		t.Fatalf("state = %s, want %s; teardown must always land in disabled", got, StateDisabled)
	}
	if e.backups.Exists(testIface) {
		t.Error("route backup survived best-effort teardown")
	}
	// Every step ran despite the earlier failures.
	if rec.lastIndexOf("fw.flush") < 0 {
		t.Error("firewall flush was skipped")
	}
}

func TestTeardownWhenDisabledResetsSession(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	e.Teardown()

	if got := len(rec.all()); got != 0 {
		t.Errorf("teardown while disabled made %d backend calls, want 0", got)
	}
	if got := e.Status().State; got != StateDisabled {
		t.Fatalf("state = %s, want %s", got, StateDisabled)
	}
}

func TestForceTeardownFromDisabled(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	// Simulate leftovers from a previous process.
	rt.routes["192.168.0.0/24"] = "172.16.0.1"

	e.ForceTeardown()

	if rec.lastIndexOf("fw.flush") < 0 {
		t.Error("forced teardown skipped the firewall flush")
	}
	if n := rt.routeCount(); n != 0 {
		t.Errorf("%d leftover routes survived the forced teardown", n)
	}
	if got := e.Status().State; got != StateDisabled {
		t.Fatalf("state = %s, want %s", got, StateDisabled)
	}
}

func TestFlapLeavesCleanState(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	e.Apply(connectEvent())
	first := fw.installedSet().Render()
	e.Teardown()
	if n := rt.routeCount(); n != 0 {
		t.Fatalf("%d routes left between flap legs", n)
	}
	e.Apply(connectEvent())

	if got := e.Status().State; got != StateActive {
		t.Fatalf("state after flap = %s, want %s", got, StateActive)
	}
	if n := rt.routeCount(); n != cutoutsInTest {
		t.Errorf("route count after flap = %d, want %d", n, cutoutsInTest)
	}
	if second := fw.installedSet().Render(); second != first {
		t.Error("rule set after flap differs from the first apply")
	}
}

func TestNoPriorDefaultRoute(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, nil)
	e := newTestEnforcer(t, fw, rt)

	e.Apply(connectEvent())
	if got := e.Status().State; got != StateActive {
		t.Fatalf("state = %s, want %s", got, StateActive)
	}

	backup, err := e.backups.Load(testIface)
	if err != nil {
		t.Fatalf("backup not persisted: %v", err)
	}
	if !backup.NoPriorDefault {
		t.Error("backup does not carry the no-prior-default marker")
	}

	e.Teardown()
	if rec.indexOf("rt.adddefault") >= 0 {
		t.Error("teardown invented a default route that never existed")
	}
	if got := rt.currentDefault(); got != nil {
		t.Errorf("default route after teardown = %+v, want none", got)
	}
}

func TestForeignInterfaceEventIgnored(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	e.Apply(Event{Type: EventConnect, Interface: "eth1", Gateway: testGateway})

	if got := len(rec.all()); got != 0 {
		t.Errorf("foreign-interface event made %d backend calls, want 0", got)
	}
	if got := e.Status().State; got != StateDisabled {
		t.Fatalf("state = %s, want %s", got, StateDisabled)
	}
}

func TestBackendTimeout(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec, delay: 200 * time.Millisecond}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)
	e.opts.BackendTimeout = 20 * time.Millisecond

	e.Apply(connectEvent())

	status := e.Status()
	if status.State != StateFailed {
		t.Fatalf("state = %s, want %s", status.State, StateFailed)
	}
	if !strings.Contains(status.Reason, string(wferrors.ErrCodeTimeout)) {
		t.Errorf("failure reason %q does not carry the timeout code", status.Reason)
	}
}

func TestRetryReusesOriginalBackup(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	rt.failAddAfter = 2
	e := newTestEnforcer(t, fw, rt)

	e.Apply(connectEvent())
	if got := e.Status().State; got != StateFailed {
		t.Fatalf("state = %s, want %s", got, StateFailed)
	}
	first, err := e.backups.Load(testIface)
	if err != nil {
		t.Fatalf("backup missing after failed apply: %v", err)
	}

	// The default route looks different now (the failed attempt may have
	// disturbed it); the retry must keep trusting the original capture.
	rt.mu.Lock()
	rt.defaultRoute = &routing.DefaultRoute{Gateway: net.ParseIP("10.9.9.9"), Interface: "eth9"}
	rt.failAddAfter = 0
	rt.addCount = 0
	rt.mu.Unlock()

	e.Apply(connectEvent())
	if got := e.Status().State; got != StateActive {
		t.Fatalf("state after retry = %s, want %s", got, StateActive)
	}

	second, err := e.backups.Load(testIface)
	if err != nil {
		t.Fatalf("backup missing after retry: %v", err)
	}
	if !second.CapturedAt.Equal(first.CapturedAt) || !second.Gateway.Equal(first.Gateway) {
		t.Errorf("retry re-captured the backup: first=%+v second=%+v", first, second)
	}
}

func TestRunProcessesSubmittedEvents(t *testing.T) {
	rec := &opRecorder{}
	fw := &fakeFirewall{rec: rec}
	rt := newFakeRouting(rec, wiredDefault)
	e := newTestEnforcer(t, fw, rt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	e.Submit(connectEvent())
	waitForState(t, e, StateActive)

	e.Submit(Event{Type: EventDisconnect, Interface: testIface})
	waitForState(t, e, StateDisabled)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func waitForState(t *testing.T, e *Enforcer, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Status().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last seen %s", want, e.Status().State)
}
