package enforcer

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/firewall"
	"github.com/netfence/wifisplit/internal/routing"
)

// opRecorder collects the ordered sequence of backend calls across both
// fakes so tests can assert layer ordering.
type opRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *opRecorder) record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *opRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *opRecorder) indexOf(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.ops {
		if o == op {
			return i
		}
	}
	return -1
}

func (r *opRecorder) lastIndexOf(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.ops) - 1; i >= 0; i-- {
		if r.ops[i] == op {
			return i
		}
	}
	return -1
}

type fakeFirewall struct {
	rec *opRecorder

	enableErr error
	applyErr  error
	flushErr  error
	delay     time.Duration

	mu        sync.Mutex
	installed *firewall.RuleSet
}

func (f *fakeFirewall) Enable(iface string) error {
	f.rec.record("fw.enable")
	time.Sleep(f.delay)
	return f.enableErr
}

func (f *fakeFirewall) Apply(rs *firewall.RuleSet) error {
	f.rec.record("fw.apply")
	time.Sleep(f.delay)
	if f.applyErr != nil {
		return f.applyErr
	}
	f.mu.Lock()
	f.installed = rs
	f.mu.Unlock()
	return nil
}

func (f *fakeFirewall) Verify(rs *firewall.RuleSet) (bool, error) {
	f.rec.record("fw.verify")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed != nil && f.installed.Equal(rs), nil
}

func (f *fakeFirewall) Flush(iface string) error {
	f.rec.record("fw.flush")
	f.mu.Lock()
	f.installed = nil
	f.mu.Unlock()
	return f.flushErr
}

func (f *fakeFirewall) installedSet() *firewall.RuleSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed
}

type fakeRouting struct {
	rec *opRecorder

	defaultErr    error
	addDefaultErr error
	addRouteErr   error
	deleteErr     error
	failAddAfter  int // fail AddRoute once this many have succeeded (0 = never)

	mu           sync.Mutex
	defaultRoute *routing.DefaultRoute
	routes       map[string]string // dst -> gateway
	addCount     int
}

func newFakeRouting(rec *opRecorder, def *routing.DefaultRoute) *fakeRouting {
	return &fakeRouting{rec: rec, defaultRoute: def, routes: make(map[string]string)}
}

func (r *fakeRouting) DefaultRoute() (*routing.DefaultRoute, error) {
	r.rec.record("rt.getdefault")
	if r.defaultErr != nil {
		return nil, r.defaultErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultRoute == nil {
		return nil, nil
	}
	copied := *r.defaultRoute
	return &copied, nil
}

func (r *fakeRouting) AddDefaultRoute(gw net.IP, iface string) error {
	r.rec.record("rt.adddefault")
	if r.addDefaultErr != nil {
		return r.addDefaultErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultRoute = &routing.DefaultRoute{Gateway: gw, Interface: iface}
	return nil
}

func (r *fakeRouting) DeleteDefaultRoute(iface string) error {
	r.rec.record("rt.deldefault")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultRoute != nil && r.defaultRoute.Interface == iface {
		r.defaultRoute = nil
	}
	return nil
}

func (r *fakeRouting) AddRoute(dst cidr.Block, gw net.IP, iface string) error {
	r.rec.record("rt.addroute " + dst.String())
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAddAfter > 0 && r.addCount >= r.failAddAfter {
		return fmt.Errorf("injected route failure at %s", dst)
	}
	if r.addRouteErr != nil {
		return r.addRouteErr
	}
	// Idempotent like the real backend: re-adding an existing route is a no-op.
	if _, exists := r.routes[dst.String()]; exists {
		return nil
	}
	r.routes[dst.String()] = gw.String()
	r.addCount++
	return nil
}

func (r *fakeRouting) DeleteRoute(dst cidr.Block) error {
	r.rec.record("rt.delroute " + dst.String())
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, dst.String())
	return nil
}

func (r *fakeRouting) currentDefault() *routing.DefaultRoute {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultRoute == nil {
		return nil
	}
	copied := *r.defaultRoute
	return &copied
}

func (r *fakeRouting) routeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}
