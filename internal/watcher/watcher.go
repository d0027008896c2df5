// Package watcher polls the WiFi interface and turns its link state into
// connect/disconnect events. Connect is re-emitted on every poll while the
// interface stays associated, so a failed apply is retried on the next
// tick without any separate timer.
package watcher

import (
	"context"
	"net"
	"time"

	"github.com/netfence/wifisplit/internal/enforcer"
	"github.com/netfence/wifisplit/internal/log"
)

// NetState is the slice of the routing backend the watcher needs.
// Implemented by routing.Netlink.
type NetState interface {
	LinkUp(iface string) (bool, error)
	InterfaceGateway(iface string) (net.IP, error)
}

// SSIDResolver reports the SSID the interface is currently associated
// with. Implementations may return an empty string when the interface is
// not associated or the SSID cannot be read.
type SSIDResolver interface {
	SSID(iface string) (string, error)
}

// Options configures a Watcher.
type Options struct {
	Interface string
	// SSID restricts enforcement to one network. Empty matches any SSID.
	SSID     string
	Interval time.Duration
}

// Watcher polls one interface and submits events to the enforcer.
type Watcher struct {
	opts     Options
	net      NetState
	resolver SSIDResolver
	submit   func(enforcer.Event)

	connected bool
}

// New creates a Watcher. resolver may be nil when SSID matching is not
// needed; submit receives every emitted event.
func New(opts Options, netState NetState, resolver SSIDResolver, submit func(enforcer.Event)) *Watcher {
	return &Watcher{
		opts:     opts,
		net:      netState,
		resolver: resolver,
		submit:   submit,
	}
}

// Run polls until the context is cancelled. The first poll happens
// immediately so a daemon started on an already-connected interface
// enforces without waiting a full interval.
func (w *Watcher) Run(ctx context.Context) {
	log.Infof("Watching %s (poll interval %s)", w.opts.Interface, w.opts.Interval)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll samples the interface state once and emits the resulting event.
func (w *Watcher) poll() {
	connected, ssid, gateway := w.sample()

	if connected {
		w.connected = true
		w.submit(enforcer.Event{
			Type:      enforcer.EventConnect,
			Interface: w.opts.Interface,
			SSID:      ssid,
			Gateway:   gateway,
		})
		return
	}

	if w.connected {
		log.Infof("Interface %s disconnected", w.opts.Interface)
		w.connected = false
		w.submit(enforcer.Event{
			Type:      enforcer.EventDisconnect,
			Interface: w.opts.Interface,
		})
	}
}

// sample reports whether the interface currently counts as connected for
// enforcement purposes: link up, associated with the configured SSID (when
// one is set) and holding a usable gateway.
func (w *Watcher) sample() (bool, string, net.IP) {
	up, err := w.net.LinkUp(w.opts.Interface)
	if err != nil {
		log.Warnf("Failed to read link state of %s: %v", w.opts.Interface, err)
		return false, "", nil
	}
	if !up {
		return false, "", nil
	}

	var ssid string
	if w.resolver != nil {
		ssid, err = w.resolver.SSID(w.opts.Interface)
		if err != nil {
			log.Debugf("Failed to read SSID of %s: %v", w.opts.Interface, err)
		}
	}
	if w.opts.SSID != "" && ssid != w.opts.SSID {
		log.Debugf("Interface %s associated with %q, not the enforced SSID %q", w.opts.Interface, ssid, w.opts.SSID)
		return false, ssid, nil
	}

	gateway, err := w.net.InterfaceGateway(w.opts.Interface)
	if err != nil {
		log.Warnf("Failed to read gateway of %s: %v", w.opts.Interface, err)
		return false, ssid, nil
	}
	if gateway == nil {
		// Link is up but DHCP has not finished yet.
		log.Debugf("Interface %s is up but has no gateway yet", w.opts.Interface)
		return false, ssid, nil
	}

	return true, ssid, gateway
}
