package firewall

// Backend abstracts the OS packet filter for testability. Implementations
// must be idempotent: applying an already-installed rule set or flushing an
// empty one must succeed.
type Backend interface {
	// Enable prepares the packet filter for the interface: dedicated
	// chains plus the interface-scoped jumps that route traffic through
	// them. Safe to call repeatedly.
	Enable(iface string) error

	// Apply installs the compiled rule set, replacing whatever the
	// chains currently hold when it differs. A rule set that is already
	// installed is a no-op.
	Apply(rs *RuleSet) error

	// Verify reports whether the installed state matches the compiled
	// rule set exactly (same rules, same order, nothing extra).
	Verify(rs *RuleSet) (bool, error)

	// Flush removes the jumps, clears and deletes the chains. Safe to
	// call when nothing is installed.
	Flush(iface string) error
}
