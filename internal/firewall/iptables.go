package firewall

import (
	"fmt"

	"github.com/coreos/go-iptables/iptables"

	"github.com/netfence/wifisplit/internal/errors"
	"github.com/netfence/wifisplit/internal/log"
)

const filterTable = "filter"

// parent chains the wifisplit chains are jumped from.
var parentChains = map[string]string{
	ChainIn:  "INPUT",
	ChainOut: "OUTPUT",
}

// IPTables is the production firewall backend, driving the system iptables
// through github.com/coreos/go-iptables.
type IPTables struct {
	ipt *iptables.IPTables
}

// NewIPTables creates the iptables-backed firewall backend.
func NewIPTables() (*IPTables, error) {
	ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, errors.NewBackendUnavailable("iptables is not available", err)
	}
	return &IPTables{ipt: ipt}, nil
}

// Enable creates the wifisplit chains and installs the interface-scoped
// jump rules from INPUT/OUTPUT. Idempotent.
func (f *IPTables) Enable(iface string) error {
	for chain, parent := range parentChains {
		exists, err := f.ipt.ChainExists(filterTable, chain)
		if err != nil {
			return fmt.Errorf("failed to check chain %s: %w", chain, err)
		}
		if !exists {
			log.Debugf("Creating iptables chain %s", chain)
			if err := f.ipt.NewChain(filterTable, chain); err != nil {
				return fmt.Errorf("failed to create chain %s: %w", chain, err)
			}
		}

		jump := jumpSpec(chain, iface)
		if err := f.ipt.AppendUnique(filterTable, parent, jump...); err != nil {
			return fmt.Errorf("failed to install jump %s -> %s: %w", parent, chain, err)
		}
	}
	return nil
}

// Apply installs the compiled rule set. When the chains already hold
// exactly the compiled rules the call is a no-op; otherwise the chains are
// cleared and refilled in order.
func (f *IPTables) Apply(rs *RuleSet) error {
	installed, err := f.Verify(rs)
	if err != nil {
		return err
	}
	if installed {
		log.Debugf("Firewall rule set already installed, skipping apply")
		return nil
	}

	for _, chain := range []string{ChainIn, ChainOut} {
		// ClearChain creates the chain when missing, so Apply also works
		// without a prior Enable.
		if err := f.ipt.ClearChain(filterTable, chain); err != nil {
			return fmt.Errorf("failed to clear chain %s: %w", chain, err)
		}
		for _, spec := range rs.ChainRules(chain) {
			if err := f.ipt.Append(filterTable, chain, spec...); err != nil {
				return fmt.Errorf("failed to append rule to %s: %w", chain, err)
			}
		}
	}

	log.Infof("Installed %d firewall rules for interface %s", len(rs.Rules), rs.Interface)
	return nil
}

// Verify reports whether the chains hold exactly the compiled rule set.
func (f *IPTables) Verify(rs *RuleSet) (bool, error) {
	for _, chain := range []string{ChainIn, ChainOut} {
		exists, err := f.ipt.ChainExists(filterTable, chain)
		if err != nil {
			return false, fmt.Errorf("failed to check chain %s: %w", chain, err)
		}
		if !exists {
			return false, nil
		}

		desired := rs.ChainRules(chain)

		// List returns the chain declaration line first, then one line
		// per rule.
		current, err := f.ipt.List(filterTable, chain)
		if err != nil {
			return false, fmt.Errorf("failed to list chain %s: %w", chain, err)
		}
		if len(current)-1 != len(desired) {
			return false, nil
		}

		for _, spec := range desired {
			found, err := f.ipt.Exists(filterTable, chain, spec...)
			if err != nil {
				return false, fmt.Errorf("failed to check rule in %s: %w", chain, err)
			}
			if !found {
				return false, nil
			}
		}
	}
	return true, nil
}

// Flush removes the jump rules and deletes the wifisplit chains. Safe to
// call when nothing is installed.
func (f *IPTables) Flush(iface string) error {
	for chain, parent := range parentChains {
		jump := jumpSpec(chain, iface)
		if err := f.ipt.DeleteIfExists(filterTable, parent, jump...); err != nil {
			return fmt.Errorf("failed to remove jump %s -> %s: %w", parent, chain, err)
		}

		exists, err := f.ipt.ChainExists(filterTable, chain)
		if err != nil {
			return fmt.Errorf("failed to check chain %s: %w", chain, err)
		}
		if !exists {
			continue
		}
		log.Debugf("Deleting iptables chain %s", chain)
		if err := f.ipt.ClearAndDeleteChain(filterTable, chain); err != nil {
			return fmt.Errorf("failed to delete chain %s: %w", chain, err)
		}
	}
	return nil
}

func jumpSpec(chain, iface string) []string {
	if chain == ChainIn {
		return []string{"-i", iface, "-j", chain}
	}
	return []string{"-o", iface, "-j", chain}
}
