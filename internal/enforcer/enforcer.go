// Package enforcer drives the dual-layer split-tunnel enforcement state
// machine. The firewall layer is always applied before any route mutation
// and removed only after a routing failure is confirmed, so that a
// half-applied configuration can never consist of new routes without the
// packet-filter default-deny behind them.
package enforcer

import (
	"context"
	stderrors "errors"
	"net"
	"sync"
	"time"

	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/config"
	"github.com/netfence/wifisplit/internal/errors"
	"github.com/netfence/wifisplit/internal/firewall"
	"github.com/netfence/wifisplit/internal/log"
	"github.com/netfence/wifisplit/internal/routing"
)

// State is the enforcement state for one monitored interface.
type State string

const (
	StateDisabled    State = "disabled"
	StateApplying    State = "applying"
	StateActive      State = "active"
	StateTearingDown State = "tearing_down"
	StateFailed      State = "failed"
)

// EventType distinguishes watcher events.
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
)

// Event is one network-state notification from the watcher.
type Event struct {
	Type      EventType
	Interface string
	SSID      string
	Gateway   net.IP
}

// errInterrupted aborts an in-flight apply when a disconnect event is
// queued; the disconnect teardown that follows does the cleanup.
var errInterrupted = stderrors.New("apply interrupted by disconnect")

// Options configures an Enforcer.
type Options struct {
	Interface      string
	Policy         *cidr.Policy
	Exemptions     []*config.ExemptionRule
	MaxRetries     int
	BackendTimeout time.Duration
}

// Enforcer owns the enforcement state machine for a single interface.
// Events are processed strictly sequentially: either through Run's loop or
// through direct Apply/Teardown calls from one-shot commands, never both
// at once.
type Enforcer struct {
	opts    Options
	fw      firewall.Backend
	rt      routing.Backend
	backups *BackupStore

	events  chan Event
	pending []Event // drained-but-unprocessed events, loop-goroutine only

	mu               sync.Mutex
	state            State
	prevState        State // last steady state before a transition
	failReason       string
	retries          int
	retriesExhausted bool
	gateway          net.IP
	installed        *firewall.RuleSet
	routes           []cidr.Block
}

// New creates an Enforcer in the Disabled state.
func New(opts Options, fw firewall.Backend, rt routing.Backend, backups *BackupStore) *Enforcer {
	return &Enforcer{
		opts:    opts,
		fw:      fw,
		rt:      rt,
		backups: backups,
		events:  make(chan Event, 16),
		state:   StateDisabled,
	}
}

// Submit queues an event for processing. Safe to call from any goroutine.
func (e *Enforcer) Submit(ev Event) {
	e.events <- ev
}

// Run processes events until the context is cancelled. Each event is
// handled synchronously; a disconnect queued during an apply interrupts it.
func (e *Enforcer) Run(ctx context.Context) {
	for {
		var ev Event
		if len(e.pending) > 0 {
			ev = e.pending[0]
			e.pending = e.pending[1:]
		} else {
			select {
			case <-ctx.Done():
				return
			case ev = <-e.events:
			}
		}

		switch ev.Type {
		case EventConnect:
			e.Apply(ev)
		case EventDisconnect:
			e.Teardown()
		}
	}
}

// Apply handles a connect event: it transitions Disabled→Applying→Active,
// applying the firewall layer first and the routing layer second.
// Re-applying while Active verifies the installed state and skips the
// work when nothing changed. Consecutive failures are counted and retries
// stop once the session budget is spent.
func (e *Enforcer) Apply(ev Event) {
	if ev.Interface != "" && ev.Interface != e.opts.Interface {
		log.Debugf("Ignoring connect event for foreign interface %s", ev.Interface)
		return
	}

	switch e.currentState() {
	case StateActive:
		if e.verifyInstalled(ev.Gateway) {
			log.Debugf("Enforcement already active and verified on %s, skipping re-apply", e.opts.Interface)
			return
		}
		log.Warnf("Installed enforcement on %s no longer matches, re-applying", e.opts.Interface)
	case StateFailed:
		if e.exhausted() {
			log.Debugf("Retry budget spent for this session on %s, waiting for reconnect", e.opts.Interface)
			return
		}
	}

	e.setState(StateApplying)
	log.Infof("Applying split-tunnel enforcement on %s (gateway %s)", e.opts.Interface, ev.Gateway)

	if err := e.apply(ev.Gateway); err != nil {
		if stderrors.Is(err, errInterrupted) {
			log.Warnf("Apply on %s interrupted by disconnect", e.opts.Interface)
			return
		}
		e.fail(err)
		return
	}

	e.mu.Lock()
	e.state = StateActive
	e.failReason = ""
	e.retries = 0
	e.retriesExhausted = false
	e.mu.Unlock()
	log.Infof("Split-tunnel enforcement active on %s", e.opts.Interface)
}

// apply performs the ordered two-layer apply. The firewall layer goes
// first; no route is touched unless it succeeded. A routing failure rolls
// the firewall layer back and restores the backed-up default route.
func (e *Enforcer) apply(gateway net.IP) error {
	backup, err := e.ensureBackup()
	if err != nil {
		return errors.Wrap(errors.ErrCodeApplyFailed, "failed to capture default route", err)
	}

	rs, err := firewall.Compile(e.opts.Policy, e.opts.Interface, gateway, e.opts.Exemptions)
	if err != nil {
		return errors.Wrap(errors.ErrCodeApplyFailed, "failed to compile rule set", err)
	}

	if err := e.call("firewall enable", func() error { return e.fw.Enable(e.opts.Interface) }); err != nil {
		return errors.NewApplyFailed("firewall", err)
	}
	if err := e.call("firewall apply", func() error { return e.fw.Apply(rs) }); err != nil {
		return errors.NewApplyFailed("firewall", err)
	}

	if e.disconnectQueued() {
		return errInterrupted
	}

	routes := firewall.CompileRoutes(e.opts.Policy)
	if err := e.applyRoutes(routes, gateway, backup); err != nil {
		if stderrors.Is(err, errInterrupted) {
			return err
		}
		// Routing failed after the firewall layer went in: roll the
		// firewall back and restore the original routing state.
		log.Errorf("Routing layer failed on %s, rolling back: %v", e.opts.Interface, err)
		e.rollback(backup, routes)
		return errors.NewApplyFailed("routing", err)
	}

	e.mu.Lock()
	e.installed = rs
	e.routes = routes
	e.gateway = gateway
	e.mu.Unlock()
	return nil
}

// applyRoutes installs the routing layer: drop any default route that
// moved onto the WiFi interface, make sure the original default route is
// still in place, then add one route per cutout block via the WiFi
// gateway.
func (e *Enforcer) applyRoutes(routes []cidr.Block, gateway net.IP, backup *RouteBackup) error {
	if err := e.call("delete default route", func() error {
		return e.rt.DeleteDefaultRoute(e.opts.Interface)
	}); err != nil {
		return err
	}

	if err := e.restoreDefault(backup); err != nil {
		return err
	}

	for _, dst := range routes {
		if e.disconnectQueued() {
			return errInterrupted
		}
		dst := dst
		if err := e.call("add route", func() error {
			return e.rt.AddRoute(dst, gateway, e.opts.Interface)
		}); err != nil {
			return err
		}
	}
	return nil
}

// restoreDefault re-asserts the backed-up default route when the current
// one is missing or different. A NoPriorDefault backup restores nothing.
func (e *Enforcer) restoreDefault(backup *RouteBackup) error {
	if backup == nil || backup.NoPriorDefault {
		return nil
	}

	current, err := callValue(e.opts.BackendTimeout, "get default route", e.rt.DefaultRoute)
	if err != nil {
		return err
	}
	if current != nil && backup.Matches(current.Gateway, current.Interface) {
		return nil
	}

	return e.call("add default route", func() error {
		return e.rt.AddDefaultRoute(backup.Gateway, backup.Interface)
	})
}

// rollback restores the pre-apply routing state and removes the firewall
// layer after a routing failure. The routes go first so the default-deny
// rules stay up until no cutout route remains. Best-effort: failures are
// logged, not returned.
func (e *Enforcer) rollback(backup *RouteBackup, routes []cidr.Block) {
	for _, dst := range routes {
		dst := dst
		if err := e.call("delete route", func() error { return e.rt.DeleteRoute(dst) }); err != nil {
			log.Warnf("Rollback: failed to delete route %s: %v", dst, err)
		}
	}
	if err := e.restoreDefault(backup); err != nil {
		log.Errorf("Rollback: failed to restore default route: %v", err)
	}
	if err := e.call("firewall flush", func() error { return e.fw.Flush(e.opts.Interface) }); err != nil {
		log.Errorf("Rollback: failed to remove firewall rules on %s: %v", e.opts.Interface, err)
	}
}

// Teardown handles a disconnect event. Every step is best-effort: errors
// are logged and the remaining steps still run, because a stuck
// TearingDown state is less safe than forcing a clean logical reset. The
// terminal state is always Disabled.
func (e *Enforcer) Teardown() {
	if e.currentState() == StateDisabled {
		e.resetSession()
		return
	}
	e.teardown()
}

// ForceTeardown runs the full teardown even from the Disabled state. Used
// by the one-shot undo command to clean up after a previous process that
// left rules behind.
func (e *Enforcer) ForceTeardown() {
	e.teardown()
}

func (e *Enforcer) teardown() {
	e.setState(StateTearingDown)
	log.Infof("Tearing down split-tunnel enforcement on %s", e.opts.Interface)

	routes := e.installedRoutes()
	if routes == nil {
		// Apply may have been interrupted mid-way; recompute the route
		// list so the removal covers whatever subset was installed.
		routes = firewall.CompileRoutes(e.opts.Policy)
	}
	for _, dst := range routes {
		dst := dst
		if err := e.call("delete route", func() error { return e.rt.DeleteRoute(dst) }); err != nil {
			log.Warnf("Teardown: failed to delete route %s: %v", dst, err)
		}
	}

	backup, err := e.backups.Load(e.opts.Interface)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeRouteBackupMissing) {
			log.Debugf("Teardown: no route backup for %s", e.opts.Interface)
		} else {
			log.Warnf("Teardown: failed to load route backup: %v", err)
		}
	} else if err := e.restoreDefault(backup); err != nil {
		log.Warnf("Teardown: failed to restore default route: %v", err)
	}

	if err := e.call("firewall flush", func() error { return e.fw.Flush(e.opts.Interface) }); err != nil {
		log.Warnf("Teardown: failed to remove firewall rules: %v", err)
	}

	if err := e.backups.Delete(e.opts.Interface); err != nil {
		log.Warnf("Teardown: failed to delete route backup: %v", err)
	}

	e.mu.Lock()
	e.state = StateDisabled
	e.failReason = ""
	e.installed = nil
	e.routes = nil
	e.gateway = nil
	e.retries = 0
	e.retriesExhausted = false
	e.mu.Unlock()
	log.Infof("Split-tunnel enforcement disabled on %s", e.opts.Interface)
}

// ensureBackup loads the persisted backup for this session, or captures
// the current default route into a new one. A retry within the same
// session reuses the original capture instead of re-capturing state the
// earlier attempt may have disturbed.
func (e *Enforcer) ensureBackup() (*RouteBackup, error) {
	if backup, err := e.backups.Load(e.opts.Interface); err == nil {
		return backup, nil
	}

	current, err := callValue(e.opts.BackendTimeout, "get default route", e.rt.DefaultRoute)
	if err != nil {
		return nil, err
	}

	backup := &RouteBackup{CapturedAt: time.Now()}
	if current == nil {
		log.Warnf("No default route present before apply, recording explicit marker")
		backup.NoPriorDefault = true
	} else {
		backup.Gateway = current.Gateway
		backup.Interface = current.Interface
	}

	if err := e.backups.Save(e.opts.Interface, backup); err != nil {
		return nil, err
	}
	return backup, nil
}

// verifyInstalled checks that the firewall still holds the compiled rule
// set for the current gateway. Used to detect the duplicate-connect no-op.
func (e *Enforcer) verifyInstalled(gateway net.IP) bool {
	e.mu.Lock()
	installed := e.installed
	prevGateway := e.gateway
	e.mu.Unlock()

	if installed == nil {
		return false
	}
	if gateway != nil && !gateway.Equal(prevGateway) {
		return false
	}

	ok, err := callValue(e.opts.BackendTimeout, "firewall verify", func() (bool, error) {
		return e.fw.Verify(installed)
	})
	if err != nil {
		log.Warnf("Firewall verification failed on %s: %v", e.opts.Interface, err)
		return false
	}
	return ok
}

// fail records a failed apply attempt and spends one retry from the
// session budget.
func (e *Enforcer) fail(reason error) {
	e.mu.Lock()
	e.state = StateFailed
	e.failReason = reason.Error()
	e.retries++
	if e.retries > e.opts.MaxRetries {
		e.retriesExhausted = true
	}
	retries, exhausted := e.retries, e.retriesExhausted
	e.mu.Unlock()

	log.Errorf("Enforcement on %s failed (attempt %d): %v", e.opts.Interface, retries, reason)
	if exhausted {
		log.Errorf("Retry budget (%d) spent on %s; waiting for the connection to cycle", e.opts.MaxRetries, e.opts.Interface)
	}
}

// disconnectQueued drains the event channel into the pending queue and
// reports whether a disconnect is waiting. Disconnects always win over an
// in-flight apply.
func (e *Enforcer) disconnectQueued() bool {
	for {
		select {
		case ev := <-e.events:
			e.pending = append(e.pending, ev)
		default:
			for _, ev := range e.pending {
				if ev.Type == EventDisconnect {
					return true
				}
			}
			return false
		}
	}
}

// call runs a backend operation bounded by the configured timeout.
func (e *Enforcer) call(name string, f func() error) error {
	_, err := callValue(e.opts.BackendTimeout, name, func() (struct{}, error) {
		return struct{}{}, f()
	})
	return err
}

// callValue runs a value-returning backend operation bounded by timeout.
// A zero timeout disables the bound. The underlying call is not killable;
// on timeout it is abandoned and its eventual result discarded.
func callValue[T any](timeout time.Duration, name string, f func() (T, error)) (T, error) {
	if timeout <= 0 {
		return f()
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := f()
		done <- result{value, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-time.After(timeout):
		var zero T
		return zero, errors.NewTimeout(name)
	}
}

func (e *Enforcer) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Enforcer) setState(s State) {
	e.mu.Lock()
	if s == StateApplying || s == StateTearingDown {
		switch e.state {
		case StateDisabled, StateActive, StateFailed:
			e.prevState = e.state
		}
	}
	e.state = s
	e.mu.Unlock()
}

func (e *Enforcer) exhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retriesExhausted
}

func (e *Enforcer) resetSession() {
	e.mu.Lock()
	e.retries = 0
	e.retriesExhausted = false
	e.mu.Unlock()
}

func (e *Enforcer) installedRoutes() []cidr.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.routes == nil {
		return nil
	}
	routes := make([]cidr.Block, len(e.routes))
	copy(routes, e.routes)
	return routes
}
